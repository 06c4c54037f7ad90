package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fako1024/slimcast/capture/wav"
	"github.com/fako1024/slimcast/config"
	"github.com/stretchr/testify/require"
)

func TestOpenOutput(t *testing.T) {
	cfg := config.Default()

	out, closeFn, err := openOutput(cfg)
	require.Nil(t, err)
	require.Equal(t, os.Stdout, out)
	require.Nil(t, closeFn())

	segment := bytes.Repeat([]byte{0xAB}, cfg.Audio.SegmentSize())

	// Raw output
	cfg.Listener.Output = filepath.Join(t.TempDir(), "stream.raw")
	out, closeFn, err = openOutput(cfg)
	require.Nil(t, err)
	_, err = out.Write(segment)
	require.Nil(t, err)
	require.Nil(t, closeFn())

	data, err := os.ReadFile(cfg.Listener.Output)
	require.Nil(t, err)
	require.Equal(t, segment, data)

	// WAV output
	cfg.Listener.Format = config.OutputWAV
	cfg.Listener.Output = filepath.Join(t.TempDir(), "stream.wav")
	out, closeFn, err = openOutput(cfg)
	require.Nil(t, err)
	for i := 0; i < 2; i++ {
		_, err = out.Write(segment)
		require.Nil(t, err)
	}
	require.Nil(t, closeFn())

	f, err := os.Open(cfg.Listener.Output)
	require.Nil(t, err)
	defer f.Close()

	header, err := wav.ReadHeader(f)
	require.Nil(t, err)
	require.Equal(t, cfg.Audio.Format(), header.CaptureFormat())
	require.Equal(t, uint32(2*len(segment)), header.Subchunk2Size)

	// Invalid output location
	cfg.Listener.Output = filepath.Join(t.TempDir(), "does", "not", "exist.wav")
	_, _, err = openOutput(cfg)
	require.NotNil(t, err)
}
