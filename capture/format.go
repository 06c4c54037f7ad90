package capture

import (
	"fmt"
	"time"
)

// Format denotes the PCM layout of the samples produced by a source
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// FrameSize returns the number of bytes of a single frame (one sample for each channel)
func (f Format) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of bytes produced per second
func (f Format) ByteRate() int {
	return f.SampleRate * f.FrameSize()
}

// BlockDuration returns the amount of time it takes to produce a block of the given size
func (f Format) BlockDuration(blockSize int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(blockSize) * time.Second / time.Duration(rate)
}

// Validate checks if the format is supported
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	switch f.BitsPerSample {
	case 16, 32:
	default:
		return fmt.Errorf("unsupported number of bits per sample: %d", f.BitsPerSample)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("unsupported number of channels: %d", f.Channels)
	}

	return nil
}

// String returns a human-readable representation of the format (Stringer interface)
func (f Format) String() string {
	return fmt.Sprintf("%d Hz / %d bit / %d ch", f.SampleRate, f.BitsPerSample, f.Channels)
}
