// Package tone implements a synthetic sample source generating a sine test tone, paced in real
// time like an actual peripheral
package tone

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/fako1024/slimcast/capture"
)

const (

	// DefaultFrequency denotes the default frequency of the test tone (A4)
	DefaultFrequency = 440.0

	// DefaultAmplitude denotes the default amplitude relative to full scale
	DefaultAmplitude = 0.5
)

// Option denotes a functional option for the Source
type Option func(*Source)

// Frequency sets the frequency of the generated tone
func Frequency(hz float64) Option {
	return func(s *Source) {
		s.frequency = hz
	}
}

// Amplitude sets the amplitude of the generated tone (relative to full scale, 0..1)
func Amplitude(a float64) Option {
	return func(s *Source) {
		s.amplitude = a
	}
}

// Paced enables / disables real-time pacing of the generated blocks
func Paced(enable bool) Option {
	return func(s *Source) {
		s.paced = enable
	}
}

// Source denotes a test tone sample source
type Source struct {
	format    capture.Format
	frequency float64
	amplitude float64
	paced     bool

	frameIdx uint64
	pacer    *capture.Pacer

	stats capture.Stats
	sync.Mutex
}

// NewSource instantiates a new test tone source
func NewSource(format capture.Format, options ...Option) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, capture.NewPeripheralError("configure", err)
	}

	src := &Source{
		format:    format,
		frequency: DefaultFrequency,
		amplitude: DefaultAmplitude,
		paced:     true,
		pacer:     capture.NewPacer(),
	}

	for _, opt := range options {
		opt(src)
	}

	if src.frequency <= 0 || src.frequency >= float64(format.SampleRate)/2 {
		return nil, capture.NewPeripheralError("configure", errors.New("tone frequency out of range"))
	}
	if src.amplitude < 0 || src.amplitude > 1 {
		return nil, capture.NewPeripheralError("configure", errors.New("tone amplitude out of range"))
	}

	return src, nil
}

// FillBlock generates the next block of samples into dst (truncated to full frames). If pacing
// is enabled, the call blocks until the block would have been produced by real hardware
func (s *Source) FillBlock(dst []byte, timeout time.Duration) (int, error) {

	if s.pacer.Stopped() {
		return 0, capture.ErrCaptureStopped
	}

	frameSize := s.format.FrameSize()
	nFrames := len(dst) / frameSize
	if nFrames == 0 {
		return 0, nil
	}

	if s.paced {
		if err := s.pacer.Wait(s.format.BlockDuration(nFrames*frameSize), timeout); err != nil {
			return 0, err
		}
	}

	sampleSize := s.format.BitsPerSample / 8
	for i := 0; i < nFrames; i++ {
		v := s.amplitude * math.Sin(2*math.Pi*s.frequency*float64(s.frameIdx)/float64(s.format.SampleRate))
		for ch := 0; ch < s.format.Channels; ch++ {
			off := i*frameSize + ch*sampleSize
			if sampleSize == 2 {
				binary.NativeEndian.PutUint16(dst[off:], uint16(int16(v*math.MaxInt16)))
			} else {
				binary.NativeEndian.PutUint32(dst[off:], uint32(int32(v*math.MaxInt32)))
			}
		}
		s.frameIdx++
	}

	n := nFrames * frameSize
	s.Lock()
	s.stats.Add(n, len(dst))
	s.Unlock()

	return n, nil
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
	return s.pacer.Unblock()
}

// Close stops / closes the tone source
func (s *Source) Close() error {
	return s.pacer.Stop()
}
