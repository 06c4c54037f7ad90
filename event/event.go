//go:build linux

/*
Package event provides the wake-up primitive of the fd-backed PCM source. A blocked FillBlock()
polls the PCM file descriptor together with an eventfd(2) counter. Unblock() and Close() bump
that counter from any goroutine, which ends the poll without having to tear down the PCM
descriptor underneath the reader.
*/
package event

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// FD denotes an eventfd based notification descriptor
type FD int

// Signal denotes the value of the eventfd counter. The kernel sums up all values written until
// the next read, so an unblock and a stop request raised in between two reads arrive together
type Signal uint64

const (

	// Unblock releases a blocked read of the next sample block (reported like a timeout)
	Unblock Signal = 1

	// Stop ends the sample stream
	Stop Signal = 1 << 32
)

// Stopped returns if a stop request is pending
func (s Signal) Stopped() bool {
	return s >= Stop
}

// Unblocked returns if at least one unblock request is pending
func (s Signal) Unblocked() bool {
	return s&(Stop-1) != 0
}

// New creates a non-blocking eventfd (closed on exec)
func New() (FD, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("failed to create event file descriptor: %w", err)
	}

	return FD(efd), nil
}

// Send adds the signal to the counter, waking up any poll on the descriptor
func (e FD) Send(sig Signal) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], uint64(sig))

	if _, err := unix.Write(int(e), buf[:]); err != nil {
		return fmt.Errorf("failed to send %s: %w", sig, err)
	}

	return nil
}

// Receive consumes all pending signals (EAGAIN if there are none)
func (e FD) Receive() (Signal, error) {
	var buf [8]byte
	if _, err := unix.Read(int(e), buf[:]); err != nil {
		return 0, fmt.Errorf("failed to receive signal: %w", err)
	}

	return Signal(binary.NativeEndian.Uint64(buf[:])), nil
}

// Close closes the descriptor
func (e FD) Close() error {
	return unix.Close(int(e))
}

// String returns a human-readable representation of the signal (Stringer interface)
func (s Signal) String() string {
	switch {
	case s.Stopped() && s.Unblocked():
		return "stop+unblock signal"
	case s.Stopped():
		return "stop signal"
	case s.Unblocked():
		return "unblock signal"
	}
	return fmt.Sprintf("unknown signal (%d)", uint64(s))
}
