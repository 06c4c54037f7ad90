package main

import (
	"testing"

	"github.com/fako1024/slimcast/capture"
	"github.com/fako1024/slimcast/config"
	"github.com/stretchr/testify/require"
)

func TestOpenSource(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Type = config.SourceTone
	cfg.Source.Paced = false

	src, closeFn, err := openSource(cfg)
	require.Nil(t, err)
	require.Equal(t, cfg.Audio.Format(), src.Format())

	buf := make([]byte, cfg.Audio.BlockSize)
	n, err := src.FillBlock(buf, capture.WaitForever)
	require.Nil(t, err)
	require.Equal(t, cfg.Audio.BlockSize, n)
	require.Nil(t, closeFn())

	cfg.Source.Type = config.SourceWAV
	cfg.Source.Path = "/this/file/does/not/exist.wav"
	_, _, err = openSource(cfg)
	require.NotNil(t, err)

	cfg.Source.Type = "i2s"
	_, _, err = openSource(cfg)
	require.NotNil(t, err)
}

func TestListenerHint(t *testing.T) {
	require.Equal(t,
		"slimlisten -listen :16500 | play -t s16 -r 96000 -c 1 - (or: netcat -u -l 16500 | play -t s16 -r 96000 -c 1 -)",
		listenerHint(config.Default().Audio.Format(), 16500),
	)
}
