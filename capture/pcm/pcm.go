//go:build linux

/*
Package pcm implements a sample source reading raw PCM samples from a file descriptor, e.g. a
character device, a FIFO or a pipe fed by a recording tool (`arecord -t raw ...`). The descriptor
is operated in non-blocking mode, waiting for data is performed via PPOLL on both the descriptor
and an event file descriptor, allowing for timeouts and for releasing a blocked read at any time.
*/
package pcm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fako1024/slimcast/capture"
	"github.com/fako1024/slimcast/event"
	"golang.org/x/sys/unix"
)

// Source denotes a PCM sample source backed by a file descriptor
type Source struct {
	waiter *event.Waiter
	format capture.Format

	// file retains a reference to the *os.File (if any) the descriptor was obtained from,
	// preventing it from being closed by the finalizer
	file *os.File

	stats capture.Stats
	sync.Mutex
}

// NewSource instantiates a new PCM source reading from the device / file at the given path
func NewSource(path string, format capture.Format) (*Source, error) {
	fd, err := unix.Open(filepath.Clean(path), unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, capture.NewPeripheralError("open", fmt.Errorf("%s: %w", path, err))
	}

	src, err := newSource(fd, format)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return src, nil
}

// NewSourceFromFile instantiates a new PCM source reading from an existing file (e.g. os.Stdin)
func NewSourceFromFile(f *os.File, format capture.Format) (*Source, error) {
	if f == nil {
		return nil, errors.New("nil file provided")
	}

	// Note: Fd() switches the file to blocking mode, so non-blocking mode has to be set afterwards
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, capture.NewPeripheralError("set non-blocking mode", err)
	}

	src, err := newSource(fd, format)
	if err != nil {
		return nil, err
	}
	src.file = f

	return src, nil
}

func newSource(fd int, format capture.Format) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, capture.NewPeripheralError("configure", err)
	}

	efd, err := event.New()
	if err != nil {
		return nil, capture.NewPeripheralError("setup event file descriptor", err)
	}

	return &Source{
		waiter: &event.Waiter{
			Notify: efd,
			Data:   fd,
		},
		format: format,
	}, nil
}

// FillBlock reads the next block of samples into dst. The operation is blocking until at
// least some data is available or the timeout elapses (WaitForever: no timeout)
func (s *Source) FillBlock(dst []byte, timeout time.Duration) (int, error) {

	// If the descriptor is invalid the capture is obviously closed and we return the respective
	// error
	if s.waiter.Data < 0 {
		return 0, capture.ErrCaptureStopped
	}
	if len(dst) == 0 {
		return 0, nil
	}

	start := time.Now()
	for {
		n, err := unix.Read(s.waiter.Data, dst)
		if err == nil {

			// A zero-length read denotes the end of the stream (e.g. the writer went away)
			if n == 0 {
				return 0, capture.ErrCaptureStopped
			}

			s.Lock()
			s.stats.Add(n, len(dst))
			s.Unlock()

			return n, nil
		}

		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EBADF) && s.waiter.Data < 0:
			return 0, capture.ErrCaptureStopped
		case !errors.Is(err, unix.EAGAIN):
			return 0, capture.NewPeripheralError("read", err)
		}

		remaining := timeout
		if timeout >= 0 {
			if remaining = timeout - time.Since(start); remaining < 0 {
				remaining = 0
			}
		}

		efdHasEvent, timedOut, errno := s.waiter.Poll(unix.POLLIN|unix.POLLERR, remaining)

		// If an event was received, ensure that the respective error is returned
		// immediately
		if efdHasEvent {
			return 0, s.handleEvent()
		}

		// Handle errors, a hang-up is resolved by the next read attempt (which will either
		// report the end of the stream or the actual error)
		if errno != 0 {
			if errno == unix.EINTR || errno == unix.ECONNRESET {
				continue
			}
			return 0, capture.NewPeripheralError("poll", errno)
		}

		if timedOut {
			return 0, capture.ErrTimeout
		}
	}
}

// Format returns the sample format produced by the source
func (s *Source) Format() capture.Format {
	return s.format
}

// Stats returns (and clears) the counters of the source
func (s *Source) Stats() (capture.Stats, error) {
	s.Lock()
	defer s.Unlock()

	stats := s.stats
	s.stats = capture.Stats{}

	return stats, nil
}

// Unblock ensures that a potentially ongoing blocking FillBlock() is released (returning an
// ErrCaptureUnblock)
func (s *Source) Unblock() error {
	if s == nil || s.waiter.Notify < 0 || s.waiter.Data < 0 {
		return errors.New("cannot call Unblock() on nil / closed PCM source")
	}

	return s.waiter.Notify.Send(event.Unblock)
}

// Close stops / closes the PCM source
func (s *Source) Close() error {
	if s == nil || s.waiter.Notify < 0 || s.waiter.Data < 0 {
		return errors.New("cannot call Close() on nil / closed PCM source")
	}

	if err := s.waiter.Notify.Send(event.Stop); err != nil {
		return err
	}

	fd := s.waiter.Data
	s.waiter.Data = -1
	if s.file != nil {
		return s.file.Close()
	}

	return unix.Close(fd)
}

// Free releases any pending resources from the PCM source (must be called after Close())
func (s *Source) Free() error {
	if s == nil {
		return errors.New("cannot call Free() on nil PCM source")
	}
	if s.waiter.Data >= 0 {
		return errors.New("cannot call Free() on open PCM source, call Close() first")
	}
	if s.waiter.Notify < 0 {
		return nil
	}

	err := s.waiter.Notify.Close()
	s.waiter.Notify = -1

	return err
}

////////////////////////////////////////////////////////////////////////////////

func (s *Source) handleEvent() error {

	sig, err := s.waiter.Notify.Receive()
	if err != nil {
		return fmt.Errorf("error reading event: %w", err)
	}

	// A stop request wins over any unblock request raised before it
	switch {
	case sig.Stopped():
		return capture.ErrCaptureStopped
	case sig.Unblocked():
		return capture.ErrCaptureUnblock
	default:
		return fmt.Errorf("unknown event during poll for next block: %s", sig)
	}
}
