/*
Package streamer implements the main loop of the audio streamer: every iteration pulls one block of
samples from the source into the ring buffer and subsequently either attempts to bring up the link
(as long as it is down) or advances the transmission state machine (once it is up).
*/
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/els0r/telemetry/logging"
	"github.com/fako1024/slimcast/capture"
	"github.com/fako1024/slimcast/ring"
	"github.com/fako1024/slimcast/transmit"
)

// Connector denotes the connection manager as seen by the main loop
type Connector interface {

	// TryLink attempts to establish the link to the remote endpoint (best-effort, repeatable)
	TryLink(remoteAddress string, remotePort int) bool

	// IsUp returns if the link has been established
	IsUp() bool

	// Sink returns the sink of the established link
	Sink() transmit.Sink
}

// Totals denotes the cumulative counters of a streamer
type Totals struct {
	Blocks       uint64
	Bytes        uint64
	SampleErrors uint64
	LinkAttempts uint64
	Segments     uint64
	Overruns     uint64
	LinkUp       bool
}

// Option denotes a functional option for the Streamer
type Option func(*Streamer)

// BlockSize sets the maximum number of bytes read from the source per iteration
func BlockSize(n int) Option {
	return func(s *Streamer) {
		s.blockSize = n
	}
}

// Timeout sets the timeout for reading a block from the source
func Timeout(timeout time.Duration) Option {
	return func(s *Streamer) {
		s.timeout = timeout
	}
}

// Capacity sets the capacity of the ring buffer
func Capacity(n int) Option {
	return func(s *Streamer) {
		s.capacity = n
	}
}

// Margin sets the wrap margin of the ring buffer
func Margin(n int) Option {
	return func(s *Streamer) {
		s.margin = n
	}
}

// WithMachineOptions sets options for the underlying transmission state machine
func WithMachineOptions(options ...transmit.Option) Option {
	return func(s *Streamer) {
		s.machineOptions = append(s.machineOptions, options...)
	}
}

// OnLinkUp registers a callback invoked once the link has been established
func OnLinkUp(fn func()) Option {
	return func(s *Streamer) {
		s.onLinkUp = fn
	}
}

// Streamer denotes an audio streamer
type Streamer struct {
	src           capture.Source
	conn          Connector
	remoteAddress string
	remotePort    int

	blockSize      int
	timeout        time.Duration
	capacity       int
	margin         int
	machineOptions []transmit.Option
	onLinkUp       func()

	buf     *ring.Buffer
	machine *transmit.Machine

	blocks       atomic.Uint64
	bytes        atomic.Uint64
	sampleErrors atomic.Uint64
	linkAttempts atomic.Uint64
}

// New instantiates a new streamer reading from src and sending to the remote endpoint via conn
func New(src capture.Source, conn Connector, remoteAddress string, remotePort int, options ...Option) (*Streamer, error) {

	if src == nil || conn == nil {
		return nil, errors.New("no sample source and / or connector provided")
	}
	if remoteAddress == "" || remotePort <= 0 || remotePort > 65535 {
		return nil, fmt.Errorf("invalid remote endpoint %s:%d", remoteAddress, remotePort)
	}

	s := &Streamer{
		src:           src,
		conn:          conn,
		remoteAddress: remoteAddress,
		remotePort:    remotePort,
		blockSize:     capture.DefaultBlockSize,
		timeout:       capture.WaitForever,
		capacity:      ring.DefaultCapacity,
		margin:        ring.DefaultMargin,
	}
	for _, opt := range options {
		opt(s)
	}

	var err error
	if s.buf, err = ring.New(s.capacity, ring.Margin(s.margin)); err != nil {
		return nil, err
	}
	if s.blockSize <= 0 || s.blockSize > s.buf.HalfSize() {
		return nil, fmt.Errorf("invalid block size %d (must be in (0, %d])", s.blockSize, s.buf.HalfSize())
	}

	// Frames must neither straddle two segments nor leave an unfillable tail in the buffer
	if frameSize := src.Format().FrameSize(); frameSize > 0 {
		if s.buf.HalfSize()%frameSize != 0 || s.blockSize%frameSize != 0 {
			return nil, fmt.Errorf("buffer half (%d) and block size (%d) must be multiples of the frame size (%d)",
				s.buf.HalfSize(), s.blockSize, frameSize)
		}
	}

	s.machine = transmit.New(s.buf, linkSink{conn: conn}, s.machineOptions...)

	return s, nil
}

// Iterate performs a single iteration of the main loop. Runtime errors of the source are
// tolerated (the data read so far is retained), only the end of the stream (ErrCaptureStopped)
// or an unblocking signal (ErrCaptureUnblock) are returned
func (s *Streamer) Iterate() error {

	n, err := s.src.FillBlock(s.buf.Next(s.blockSize), s.timeout)
	s.buf.Advance(n)
	if n > 0 {
		s.blocks.Add(1)
		s.bytes.Add(uint64(n))
	}
	if err != nil {
		if errors.Is(err, capture.ErrCaptureStopped) || errors.Is(err, capture.ErrCaptureUnblock) {
			return err
		}
		s.sampleErrors.Add(1)
	}

	// The state machine is gated off entirely as long as the link is down
	if !s.conn.IsUp() {
		s.linkAttempts.Add(1)
		if s.conn.TryLink(s.remoteAddress, s.remotePort) && s.onLinkUp != nil {
			s.onLinkUp()
		}
		return nil
	}

	s.machine.Step()

	return nil
}

// Run continuously performs main loop iterations until the source reaches the end of its stream
// or the context is done
func (s *Streamer) Run(ctx context.Context) error {

	logger := logging.FromContext(ctx)

	// Release a blocking source read as soon as the context is done
	stop := context.AfterFunc(ctx, func() {
		if err := s.src.Unblock(); err != nil {
			logger.Warnf("failed to unblock sample source: %s", err)
		}
	})
	defer stop()

	defer func() {
		totals := s.Totals()
		logger.With(
			"blocks", totals.Blocks,
			"bytes", totals.Bytes,
			"sample_errors", totals.SampleErrors,
			"segments", totals.Segments,
			"overruns", totals.Overruns,
			"link_up", totals.LinkUp,
		).Info("streamer stopped")
	}()

	for ctx.Err() == nil {
		if err := s.Iterate(); err != nil {
			if errors.Is(err, capture.ErrCaptureStopped) {
				return nil
			}
			if errors.Is(err, capture.ErrCaptureUnblock) {
				continue
			}
			return err
		}
	}

	return nil
}

// Totals returns the cumulative counters of the streamer. It may be called concurrently to Run()
func (s *Streamer) Totals() Totals {
	machineTotals := s.machine.Totals()

	return Totals{
		Blocks:       s.blocks.Load(),
		Bytes:        s.bytes.Load(),
		SampleErrors: s.sampleErrors.Load(),
		LinkAttempts: s.linkAttempts.Load(),
		Segments:     uint64(machineTotals.SegmentsSent),
		Overruns:     uint64(machineTotals.Overruns),
		LinkUp:       s.conn.IsUp(),
	}
}

// Buffer returns the ring buffer of the streamer
func (s *Streamer) Buffer() *ring.Buffer {
	return s.buf
}

// Machine returns the transmission state machine of the streamer
func (s *Streamer) Machine() *transmit.Machine {
	return s.machine
}

// Halt handles a fatal setup error: it emits a diagnostic log line and idles until the context
// is done (instead of retrying or degrading)
func Halt(ctx context.Context, err error) {
	logging.FromContext(ctx).Errorf("fatal setup error, halting: %s", err)
	<-ctx.Done()
}

////////////////////////////////////////////////////////////////////////////////

type linkSink struct {
	conn Connector
}

func (l linkSink) Send(p []byte) {
	if sink := l.conn.Sink(); sink != nil {
		sink.Send(p)
	}
}
