/*
Package capture defines the contract shared by all sample sources (peripherals producing fixed-size
blocks of PCM audio samples) along with the errors and statistics they report.
*/
package capture

import (
	"errors"
	"fmt"
	"time"
)

const (

	// WaitForever denotes an unbounded wait for the next block of samples
	WaitForever time.Duration = -1

	// DefaultBlockSize denotes the default number of bytes transferred per block (equivalent
	// to the DMA buffer length of a typical I2S peripheral)
	DefaultBlockSize = 128
)

var (

	// ErrCaptureStopped denotes that the capture was stopped
	ErrCaptureStopped = errors.New("capture was stopped")

	// ErrCaptureUnblock denotes that the capture received an unblocking signal
	ErrCaptureUnblock = errors.New("capture was released / unblocked")

	// ErrTimeout denotes that no samples became available within the requested timeout
	ErrTimeout = errors.New("timed out waiting for samples")
)

// PeripheralError denotes a fault of the underlying peripheral / device
type PeripheralError struct {
	Op  string
	Err error
}

// Error returns the error string (error interface)
func (e *PeripheralError) Error() string {
	return fmt.Sprintf("peripheral error during %s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *PeripheralError) Unwrap() error {
	return e.Err
}

// NewPeripheralError wraps an error raised by a peripheral during the given operation
func NewPeripheralError(op string, err error) *PeripheralError {
	return &PeripheralError{Op: op, Err: err}
}

// Stats denotes a sample capture stats structure providing basic counters
type Stats struct {
	BlocksRead int
	BytesRead  int
	ShortReads int
}

// Add accumulates the result of a single block transfer of n bytes (requested: want)
func (s *Stats) Add(n, want int) {
	s.BlocksRead++
	s.BytesRead += n
	if n < want {
		s.ShortReads++
	}
}

// Source denotes a generic sample source / peripheral
type Source interface {

	// FillBlock reads the next block of samples (at most len(dst) bytes) into dst, blocking until
	// data is available or the timeout (WaitForever: no timeout) elapses. It returns the number of
	// bytes actually transferred, which may legitimately be less than len(dst)
	FillBlock(dst []byte, timeout time.Duration) (int, error)

	// Format returns the sample format produced by the source
	Format() Format

	// Stats returns (and clears) the counters of the source
	Stats() (Stats, error)

	// Unblock ensures that a potentially ongoing blocking FillBlock() is released (returning
	// an ErrCaptureUnblock)
	Unblock() error

	// Close stops / closes the capture source
	Close() error
}
