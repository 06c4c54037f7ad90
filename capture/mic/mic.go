/*
Package mic implements a sample source capturing from the default audio input device (e.g. a
USB / I2S MEMS microphone exposed by the sound system) via PortAudio. Samples are delivered in
the native endianness of the host.
*/
package mic

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fako1024/slimcast/capture"
	"github.com/gordonklaus/portaudio"
)

// Option denotes a functional option for the Source
type Option func(*Source)

// FramesPerBuffer sets the number of frames transferred from the device per hardware block
func FramesPerBuffer(n int) Option {
	return func(s *Source) {
		s.framesPerBuffer = n
	}
}

// Source denotes a microphone sample source
type Source struct {
	format          capture.Format
	framesPerBuffer int

	stream  *portaudio.Stream
	buf16   []int16
	buf32   []int32
	raw     []byte
	pending []byte

	unblocked atomic.Bool
	stopped   atomic.Bool
	readMu    sync.Mutex

	stats capture.Stats
	sync.Mutex
}

// NewSource opens and starts a capture stream on the default input device. By default one
// hardware block corresponds to capture.DefaultBlockSize bytes
func NewSource(format capture.Format, options ...Option) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, capture.NewPeripheralError("configure", err)
	}

	src := &Source{
		format:          format,
		framesPerBuffer: capture.DefaultBlockSize / format.FrameSize(),
	}
	for _, opt := range options {
		opt(src)
	}
	if src.framesPerBuffer < 1 {
		return nil, capture.NewPeripheralError("configure", fmt.Errorf("invalid number of frames per buffer: %d", src.framesPerBuffer))
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, capture.NewPeripheralError("initialize", err)
	}

	var (
		nSamples = src.framesPerBuffer * format.Channels
		stream   *portaudio.Stream
		err      error
	)
	if format.BitsPerSample == 16 {
		src.buf16 = make([]int16, nSamples)
		stream, err = portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), src.framesPerBuffer, src.buf16)
	} else {
		src.buf32 = make([]int32, nSamples)
		stream, err = portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), src.framesPerBuffer, src.buf32)
	}
	if err != nil {
		_ = portaudio.Terminate()
		return nil, capture.NewPeripheralError("open stream", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, capture.NewPeripheralError("start stream", err)
	}

	src.stream = stream
	src.raw = make([]byte, nSamples*format.BitsPerSample/8)

	return src, nil
}

// FillBlock reads the next block of samples into dst. The operation blocks until the device
// has delivered a full hardware block. Since a PortAudio read cannot be interrupted, the timeout
// is not enforced (the device delivers blocks at a fixed cadence)
func (s *Source) FillBlock(dst []byte, _ time.Duration) (int, error) {

	if s.stopped.Load() {
		return 0, capture.ErrCaptureStopped
	}
	if s.unblocked.Swap(false) {
		return 0, capture.ErrCaptureUnblock
	}

	if len(s.pending) == 0 {
		if err := s.read(); err != nil {
			return 0, err
		}

		// Data read so far is retained for the next call
		if s.unblocked.Swap(false) {
			return 0, capture.ErrCaptureUnblock
		}
	}

	// Counters are maintained per hardware block in decode()
	n := copy(dst, s.pending)
	s.pending = s.pending[n:]

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

// Unblock causes the current (after the ongoing hardware block completes) or next call to
// FillBlock() to return ErrCaptureUnblock
func (s *Source) Unblock() error {
	if s.stopped.Load() {
		return errors.New("cannot call Unblock() on closed microphone source")
	}
	s.unblocked.Store(true)

	return nil
}

// Close stops / closes the capture stream and releases PortAudio
func (s *Source) Close() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return errors.New("cannot call Close() on closed microphone source")
	}

	// Wait for an ongoing read (at most one hardware block)
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := s.stream.Stop(); err != nil {
		return capture.NewPeripheralError("stop stream", err)
	}
	if err := s.stream.Close(); err != nil {
		return capture.NewPeripheralError("close stream", err)
	}

	return portaudio.Terminate()
}

////////////////////////////////////////////////////////////////////////////////

func (s *Source) read() error {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.stopped.Load() {
		return capture.ErrCaptureStopped
	}

	// Input overflows denote lost samples, which are tolerated just like short reads
	err := s.stream.Read()
	if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return capture.NewPeripheralError("read", err)
	}
	s.decode(err != nil)

	return nil
}

func (s *Source) decode(overflowed bool) {
	if s.buf16 != nil {
		for i, v := range s.buf16 {
			binary.NativeEndian.PutUint16(s.raw[i*2:], uint16(v))
		}
	} else {
		for i, v := range s.buf32 {
			binary.NativeEndian.PutUint32(s.raw[i*4:], uint32(v))
		}
	}
	s.pending = s.raw

	s.Lock()
	s.stats.BlocksRead++
	s.stats.BytesRead += len(s.raw)
	if overflowed {
		s.stats.ShortReads++
	}
	s.Unlock()
}
