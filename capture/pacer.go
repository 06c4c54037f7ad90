package capture

import (
	"errors"
	"sync"
	"time"
)

// Pacer paces block production of software sources to real time (as if the blocks were
// produced by hardware) and provides the unblock / stop semantics of the Source interface
type Pacer struct {
	nextDue time.Time

	unblock  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewPacer instantiates a new Pacer
func NewPacer() *Pacer {
	return &Pacer{
		unblock: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Wait blocks until a block of the given duration is due. It returns ErrTimeout if the block
// is not due within the timeout (WaitForever: no timeout), ErrCaptureUnblock / ErrCaptureStopped
// if the wait was released via Unblock() / Stop()
func (p *Pacer) Wait(blockDuration, timeout time.Duration) error {
	if p.Stopped() {
		return ErrCaptureStopped
	}

	now := time.Now()
	if p.nextDue.IsZero() || p.nextDue.Before(now.Add(-blockDuration)) {
		p.nextDue = now
	}
	delay := p.nextDue.Add(blockDuration).Sub(now)

	var timedOut bool
	if timeout >= 0 && delay > timeout {
		delay, timedOut = timeout, true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		if timedOut {
			return ErrTimeout
		}
		p.nextDue = p.nextDue.Add(blockDuration)
		return nil
	case <-p.unblock:
		return ErrCaptureUnblock
	case <-p.stop:
		return ErrCaptureStopped
	}
}

// Unblock releases a (current or the next) blocking Wait()
func (p *Pacer) Unblock() error {
	if p.Stopped() {
		return errors.New("cannot unblock stopped source")
	}

	select {
	case p.unblock <- struct{}{}:
	default:
	}

	return nil
}

// Stop permanently releases all current and future calls to Wait()
func (p *Pacer) Stop() error {
	err := errors.New("source already stopped")
	p.stopOnce.Do(func() {
		close(p.stop)
		err = nil
	})

	return err
}

// Stopped returns if Stop() was called
func (p *Pacer) Stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}
