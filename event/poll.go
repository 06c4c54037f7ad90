//go:build linux

package event

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

const eventConnReset = unix.POLLHUP | unix.POLLERR

// Waiter pairs the PCM data descriptor with its notification descriptor
type Waiter struct {
	Notify FD
	Data   int
}

// Poll waits until samples are readable on the data descriptor or a signal is pending. A
// negative timeout blocks indefinitely. A hang-up or error condition on the data descriptor
// is reported as ECONNRESET.
func (p *Waiter) Poll(events int16, timeout time.Duration) (hasEvent, timedOut bool, errno unix.Errno) {
	pollEvents := [...]unix.PollFd{
		{
			Fd:     int32(p.Notify),
			Events: unix.POLLIN,
		},
		{
			Fd:     int32(p.Data),
			Events: events,
		},
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Ppoll(pollEvents[:], ts, nil)
	if err != nil {
		if !errors.As(err, &errno) {
			errno = unix.EINVAL
		}
		return
	}

	hasEvent = pollEvents[0].Revents&unix.POLLIN != 0
	if n == 0 {
		timedOut = true
		return
	}

	// Data that is still pending takes precedence over a hang-up (e.g. the writing end of a
	// pipe was closed after the last block was written)
	if pollEvents[1].Revents&unix.POLLIN == 0 && pollEvents[1].Revents&eventConnReset != 0 {
		errno = unix.ECONNRESET
	}

	return
}
