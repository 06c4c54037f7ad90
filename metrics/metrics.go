/*
Package metrics exposes the counters of a streamer to Prometheus. All metrics are evaluated lazily
at scrape time from the atomic totals of the streamer, so the streaming path is never touched.
*/
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fako1024/slimcast/streamer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "slimcast"

	shutdownTimeout = 5 * time.Second
)

// Register registers all streamer metrics (reading from totals) with the provided registerer
func Register(reg prometheus.Registerer, totals func() streamer.Totals) error {

	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_read_total",
			Help:      "Total number of sample blocks read from the source",
		}, func() float64 { return float64(totals().Blocks) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Total number of sample bytes read from the source",
		}, func() float64 { return float64(totals().Bytes) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_errors_total",
			Help:      "Total number of (tolerated) errors while reading from the source",
		}, func() float64 { return float64(totals().SampleErrors) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_attempts_total",
			Help:      "Total number of attempts to establish the link to the listener",
		}, func() float64 { return float64(totals().LinkAttempts) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_sent_total",
			Help:      "Total number of half-buffer segments handed to the network sink",
		}, func() float64 { return float64(totals().Segments) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overruns_total",
			Help:      "Total number of buffer cycles overwritten before being sent",
		}, func() float64 { return float64(totals().Overruns) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_up",
			Help:      "Whether the link to the listener is established (1) or not (0)",
		}, func() float64 {
			if totals().LinkUp {
				return 1
			}
			return 0
		}),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return nil
}

// Handler returns the HTTP handler exposing the metrics gathered from g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes the metrics gathered from g on addr (under /metrics) until the context is done
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return serve(ctx, ln, g)
}

////////////////////////////////////////////////////////////////////////////////

func serve(ctx context.Context, ln net.Listener, g prometheus.Gatherer) error {

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}

	return nil
}
