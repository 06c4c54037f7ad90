package main

import (
	"fmt"

	"github.com/fako1024/slimcast/capture"
	"github.com/fako1024/slimcast/capture/mic"
	"github.com/fako1024/slimcast/capture/pcm"
	"github.com/fako1024/slimcast/capture/tone"
	"github.com/fako1024/slimcast/capture/wav"
	"github.com/fako1024/slimcast/config"
)

// openSource initializes the configured sample source and returns it along with a function
// releasing all its resources
func openSource(cfg config.Config) (capture.Source, func() error, error) {

	format := cfg.Audio.Format()

	switch cfg.Source.Type {
	case config.SourcePCM:
		src, err := pcm.NewSource(cfg.Source.Path, format)
		if err != nil {
			return nil, nil, err
		}
		return src, func() error {
			if err := src.Close(); err != nil {
				return err
			}
			return src.Free()
		}, nil
	case config.SourceTone:
		src, err := tone.NewSource(format,
			tone.Frequency(cfg.Source.ToneFrequency),
			tone.Amplitude(cfg.Source.ToneAmplitude),
			tone.Paced(cfg.Source.Paced),
		)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case config.SourceWAV:
		src, err := wav.NewSourceFromFile(cfg.Source.Path,
			wav.Paced(cfg.Source.Paced),
			wav.Loop(cfg.Source.Loop),
		)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case config.SourceMic:
		src, err := mic.NewSource(format,
			mic.FramesPerBuffer(cfg.Audio.BlockSize/format.FrameSize()),
		)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	}

	return nil, nil, fmt.Errorf("unsupported source type: %q", cfg.Source.Type)
}

// listenerHint returns a command line suitable to receive and play back the stream
func listenerHint(format capture.Format, port int) string {
	return fmt.Sprintf("slimlisten -listen :%d | play -t s%d -r %d -c %d - (or: netcat -u -l %d | play -t s%d -r %d -c %d -)",
		port, format.BitsPerSample, format.SampleRate, format.Channels,
		port, format.BitsPerSample, format.SampleRate, format.Channels)
}
