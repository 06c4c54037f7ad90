//go:build linux && !slimcast_nomock

package pcm

import (
	"errors"
	"fmt"

	"github.com/fako1024/slimcast/capture"
	"golang.org/x/sys/unix"
)

// MockSource denotes a mocked PCM source, behaving just like one (since it reads from the
// receiving end of an actual pipe using the regular Source logic). Since it wraps a regular
// Source, it can be used as a stand-in replacement without any further code modifications:
//
// src, err := pcm.NewSource("/dev/...", <format>)
// ==>
// src, err := pcm.NewMockSource(<format>)
type MockSource struct {
	*Source

	wfd int
}

// NewMockSource instantiates a new mock PCM source, wrapping a regular Source
func NewMockSource(format capture.Format) (*MockSource, error) {

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("failed to create mock pipe: %w", err)
	}

	// The writing end is operated in blocking mode, mimicking a peripheral that
	// stalls if its transfer buffer is full
	if err := unix.SetNonblock(fds[1], false); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, fmt.Errorf("failed to configure mock pipe: %w", err)
	}

	src, err := newSource(fds[0], format)
	if err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, err
	}

	return &MockSource{
		Source: src,
		wfd:    fds[1],
	}, nil
}

// AddBlock adds a new block of mock samples to the source
// This can happen prior to consumption or continuously while consuming data. If the
// underlying pipe is full this function may block
func (m *MockSource) AddBlock(p []byte) error {
	if m.wfd < 0 {
		return errors.New("cannot add block to finalized mock source")
	}

	for len(p) > 0 {
		n, err := unix.Write(m.wfd, p)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("failed to write mock block: %w", err)
		}
		p = p[n:]
	}

	return nil
}

// Done notifies the mock source that no more mock blocks will be added, causing the
// source to report the end of the stream once all blocks have been consumed
func (m *MockSource) Done() error {
	if m.wfd < 0 {
		return nil
	}

	err := unix.Close(m.wfd)
	m.wfd = -1

	return err
}

// Close stops / closes the mock source
func (m *MockSource) Close() error {
	if err := m.Done(); err != nil {
		return err
	}
	return m.Source.Close()
}
