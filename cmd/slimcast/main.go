package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/els0r/telemetry/logging"
	"github.com/fako1024/slimcast/config"
	"github.com/fako1024/slimcast/filter"
	"github.com/fako1024/slimcast/link"
	"github.com/fako1024/slimcast/metrics"
	"github.com/fako1024/slimcast/sink"
	"github.com/fako1024/slimcast/streamer"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {

	cfg, err := ParseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %s\n", err)
		os.Exit(1)
	}

	shutdown, err := logging.Init(logging.LevelFromString(cfg.Logging.Level), logging.Encoding(cfg.Logging.Encoding))
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
		var setupErr *setupError
		if errors.As(err, &setupErr) {
			streamer.Halt(ctx, setupErr.err)
		} else {
			logging.FromContext(ctx).Errorf("critical error during streaming: %s", err)
		}
		stop()
		_ = shutdown()
		os.Exit(1)
	}
}

type setupError struct {
	err error
}

func (e *setupError) Error() string {
	return e.err.Error()
}

func run(ctx context.Context, cfg config.Config) error {

	logger := logging.FromContext(ctx)

	manager := link.New(
		link.Interface(cfg.Network.Interface),
		link.SinkOptions(
			sink.DSCP(cfg.Network.DSCP),
			sink.Priority(cfg.Network.Priority),
			sink.WriteBuffer(cfg.Network.WriteBuffer),
		),
	)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warnf("failed to close link: %s", err)
		}
	}()

	logger.Info("configuring network")
	if err := manager.Associate(ctx, cfg.Network.AssociateTimeout); err != nil {
		return &setupError{fmt.Errorf("network association failed: %w", err)}
	}
	checkSegmentSize(ctx, cfg)

	logger.Infof("configuring %s sample source", cfg.Source.Type)
	src, closeSrc, err := openSource(cfg)
	if err != nil {
		return &setupError{fmt.Errorf("failed to initialize sample source: %w", err)}
	}
	defer func() {
		stats, err := src.Stats()
		if err == nil {
			logger.With("blocks", stats.BlocksRead, "bytes", stats.BytesRead, "short_reads", stats.ShortReads).Info("sample source statistics")
		}
		if err := closeSrc(); err != nil {
			logger.Warnf("failed to close sample source: %s", err)
		}
	}()
	logger.Infof("sample source ready (%s)", src.Format())

	s, err := streamer.New(src, manager, cfg.Network.RemoteAddress, cfg.Network.RemotePort,
		streamer.BlockSize(cfg.Audio.BlockSize),
		streamer.Timeout(cfg.Source.Timeout),
		streamer.Capacity(cfg.Audio.BufferCapacity),
		streamer.Margin(cfg.Audio.WrapMargin),
		streamer.OnLinkUp(func() {
			logger.Infof("connected to UDP listener at %s", net.JoinHostPort(cfg.Network.RemoteAddress, strconv.Itoa(cfg.Network.RemotePort)))
			logger.Infof("to receive the stream use: %s", listenerHint(src.Format(), cfg.Network.RemotePort))
		}),
	)
	if err != nil {
		return &setupError{err}
	}

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg, s.Totals); err != nil {
			return &setupError{err}
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, reg); err != nil {
				logger.Errorf("failed to serve metrics: %s", err)
			}
		}()
		logger.Infof("serving metrics on %s", cfg.Metrics.Listen)
	}

	return s.Run(ctx)
}

// checkSegmentSize warns if a segment does not fit into a single datagram on the configured
// interface (in which case it will be fragmented)
func checkSegmentSize(ctx context.Context, cfg config.Config) {
	if cfg.Network.Interface == "" {
		return
	}

	iface, err := net.InterfaceByName(cfg.Network.Interface)
	if err != nil {
		return
	}

	remoteIP := net.ParseIP(cfg.Network.RemoteAddress)
	isIPv6 := remoteIP != nil && remoteIP.To4() == nil
	if maxSize := filter.MaxSegmentSize(iface.MTU, isIPv6); cfg.Audio.SegmentSize() > maxSize {
		logging.FromContext(ctx).Warnf("segment size %d exceeds maximum unfragmented payload %d on %s",
			cfg.Audio.SegmentSize(), maxSize, cfg.Network.Interface)
	}
}
