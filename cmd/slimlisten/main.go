package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/els0r/telemetry/logging"
	"github.com/fako1024/slimcast/capture/wav"
	"github.com/fako1024/slimcast/config"
	"github.com/fako1024/slimcast/receiver"
)

func main() {

	cfg, err := ParseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %s\n", err)
		os.Exit(1)
	}

	// STDOUT may carry the stream itself
	shutdown, err := logging.Init(logging.LevelFromString(cfg.Logging.Level), logging.Encoding(cfg.Logging.Encoding),
		logging.WithOutput(os.Stderr),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to instantiate logger: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = shutdown()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.FromContext(ctx).Errorf("critical error while receiving: %s", err)
		stop()
		_ = shutdown()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) (err error) {

	logger := logging.FromContext(ctx)

	l, err := receiver.Listen(cfg.Listener.Listen,
		receiver.SegmentSize(cfg.Audio.SegmentSize()),
		receiver.KernelFilter(cfg.Listener.KernelFilter),
	)
	if err != nil {
		return err
	}
	defer func() {
		stats := l.Stats()
		logger.With("segments", stats.Segments, "bytes", stats.Bytes, "rejected", stats.Rejected).Info("listener statistics")
		if cerr := l.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	out, closeOut, err := openOutput(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeOut(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	logger.Infof("receiving %s stream on %s", cfg.Audio.Format(), l.LocalAddr())

	return l.Pipe(ctx, out)
}

// openOutput opens the configured output and returns it along with a function finalizing it
func openOutput(cfg config.Config) (io.Writer, func() error, error) {

	if cfg.Listener.Output == "-" {
		return os.Stdout, func() error { return nil }, nil
	}

	f, err := os.Create(cfg.Listener.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}

	if cfg.Listener.Format != config.OutputWAV {
		return f, f.Close, nil
	}

	w, err := wav.NewWriter(f, cfg.Audio.Format())
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	// Closing the writer finalizes the header and closes the file
	return w, w.Close, nil
}
