/*
Package ring provides the fixed-size sample buffer shared between the sampling path (single
writer) and the transmission state machine (single reader). The buffer is logically split into
two equally sized halves that are transmitted alternately, while the write pointer sweeps the
whole buffer and wraps to zero once it enters the safety margin at the end of the buffer.
*/
package ring

import (
	"fmt"
	"sync/atomic"
)

const (

	// DefaultCapacity denotes the default size of the buffer in bytes
	DefaultCapacity = 2048

	// DefaultMargin denotes the default safety margin (in bytes) at the end of the buffer
	// which triggers a wrap of the write pointer
	DefaultMargin = 5
)

// Option denotes a functional option for the Buffer
type Option func(*Buffer)

// Margin sets the wrap safety margin
func Margin(n int) Option {
	return func(b *Buffer) {
		b.margin = n
	}
}

// Buffer denotes a double-buffered (ping-pong) sample ring
type Buffer struct {
	data   []byte
	margin int

	pos   atomic.Uint32
	epoch atomic.Uint32
}

// New instantiates a new buffer with the given capacity (in bytes)
func New(capacity int, options ...Option) (*Buffer, error) {

	if capacity <= 0 || capacity%2 != 0 {
		return nil, fmt.Errorf("invalid buffer capacity %d (must be positive and even)", capacity)
	}

	b := &Buffer{
		margin: DefaultMargin,
	}
	for _, opt := range options {
		opt(b)
	}

	// A pointer resting on the buffer end would leave no room to write and never wrap
	if b.margin < 1 || b.margin >= capacity/2 {
		return nil, fmt.Errorf("invalid wrap margin %d for buffer capacity %d", b.margin, capacity)
	}

	b.data = make([]byte, capacity)

	return b, nil
}

// Next returns the write window starting at the current write pointer, comprising at most
// maxBytes bytes. The window never extends beyond the end of the buffer
func (b *Buffer) Next(maxBytes int) []byte {
	pos := int(b.pos.Load())
	end := pos + maxBytes
	if end > len(b.data) {
		end = len(b.data)
	}

	return b.data[pos:end]
}

// Advance moves the write pointer forward by n bytes and returns its new value. Once the pointer
// exceeds the wrap threshold it is reset to zero
func (b *Buffer) Advance(n int) uint32 {
	if n <= 0 {
		return b.pos.Load()
	}

	pos := b.pos.Load() + uint32(n)
	if pos > uint32(b.WrapThreshold()) {
		pos = 0
		b.epoch.Add(1)
	}
	b.pos.Store(pos)

	return pos
}

// Position returns the current value of the write pointer
func (b *Buffer) Position() uint32 {
	return b.pos.Load()
}

// Epoch returns the number of times the write pointer has wrapped so far
func (b *Buffer) Epoch() uint32 {
	return b.epoch.Load()
}

// Half returns the i-th half (0: first, 1: second) of the buffer. The returned slice references
// the buffer memory directly
func (b *Buffer) Half(i int) []byte {
	if i < 0 || i > 1 {
		panic(fmt.Sprintf("invalid buffer half index %d", i))
	}
	half := b.HalfSize()

	return b.data[i*half : (i+1)*half]
}

// Capacity returns the size of the buffer
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// HalfSize returns the size of a single half of the buffer
func (b *Buffer) HalfSize() int {
	return len(b.data) / 2
}

// WrapThreshold returns the largest value the write pointer may assume
func (b *Buffer) WrapThreshold() int {
	return len(b.data) - b.margin
}

// Reset rewinds the write pointer to the start of the buffer (the epoch is retained)
func (b *Buffer) Reset() {
	b.pos.Store(0)
}
