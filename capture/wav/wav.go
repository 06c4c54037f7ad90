/*
Package wav implements a sample source replaying the PCM data of a RIFF / WAVE file and a writer
recording a PCM stream into one.
*/
package wav

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fako1024/slimcast/capture"
)

// Option denotes a functional option for the Source
type Option func(*Source)

// Paced enables / disables real-time pacing of the replayed blocks
func Paced(enable bool) Option {
	return func(s *Source) {
		s.paced = enable
	}
}

// Loop enables / disables infinite replay of the file (requires an io.Seeker)
func Loop(enable bool) Option {
	return func(s *Source) {
		s.loop = enable
	}
}

// Source denotes a WAV file sample source
type Source struct {
	io.Reader

	header    Header
	remaining int64
	paced     bool
	loop      bool
	pacer     *capture.Pacer

	stats capture.Stats
	sync.Mutex
}

// NewSource instantiates a new WAV sample source based on any io.Reader
func NewSource(r io.Reader, options ...Option) (*Source, error) {

	if r == nil {
		return nil, errors.New("nil io.Reader provided")
	}

	header, err := ReadHeader(r)
	if err != nil {
		return nil, capture.NewPeripheralError("read header", err)
	}
	if err := header.CaptureFormat().Validate(); err != nil {
		return nil, capture.NewPeripheralError("configure", err)
	}

	src := &Source{
		Reader:    r,
		header:    header,
		remaining: int64(header.Subchunk2Size),
		pacer:     capture.NewPacer(),
	}
	for _, opt := range options {
		opt(src)
	}

	if _, isSeeker := r.(io.Seeker); src.loop && !isSeeker {
		return nil, errors.New("looped replay requires a seekable reader")
	}

	return src, nil
}

// NewSourceFromFile instantiates a new WAV sample source based on a file name
func NewSourceFromFile(path string, options ...Option) (*Source, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, capture.NewPeripheralError("open", err)
	}

	src, err := NewSource(f, options...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return src, nil
}

// FillBlock reads the next block of samples into dst
func (s *Source) FillBlock(dst []byte, timeout time.Duration) (int, error) {

	if s.pacer.Stopped() {
		return 0, capture.ErrCaptureStopped
	}
	if len(dst) == 0 {
		return 0, nil
	}

	if s.remaining == 0 {
		if !s.loop {
			return 0, capture.ErrCaptureStopped
		}
		if err := s.rewind(); err != nil {
			return 0, err
		}
	}

	want := int64(len(dst))
	if want > s.remaining {
		want = s.remaining
	}

	if s.paced {
		if err := s.pacer.Wait(s.header.CaptureFormat().BlockDuration(int(want)), timeout); err != nil {
			return 0, err
		}
	}

	n, err := io.ReadFull(s.Reader, dst[:want])
	s.remaining -= int64(n)
	if err != nil {

		// A truncated data chunk ends the stream after the remaining samples
		if errors.Is(err, io.ErrUnexpectedEOF) {
			s.remaining = 0
		} else if errors.Is(err, io.EOF) {
			s.remaining = 0
			return 0, capture.ErrCaptureStopped
		} else {
			return n, capture.NewPeripheralError("read", err)
		}
	}

	s.Lock()
	s.stats.Add(n, len(dst))
	s.Unlock()

	return n, nil
}

// Format returns the sample format of the file
func (s *Source) Format() capture.Format {
	return s.header.CaptureFormat()
}

// Header returns the parsed header of the file
func (s *Source) Header() Header {
	return s.header
}

// Stats returns (and clears) the counters of the source
func (s *Source) Stats() (capture.Stats, error) {
	s.Lock()
	defer s.Unlock()

	stats := s.stats
	s.stats = capture.Stats{}

	return stats, nil
}

// Unblock ensures that a potentially ongoing blocking (paced) FillBlock() is released
func (s *Source) Unblock() error {
	return s.pacer.Unblock()
}

// Close stops / closes the WAV source (and the underlying reader, if applicable)
func (s *Source) Close() error {
	if err := s.pacer.Stop(); err != nil {
		return err
	}

	if closer, isCloser := s.Reader.(io.Closer); isCloser {
		return closer.Close()
	}

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (s *Source) rewind() error {
	seeker := s.Reader.(io.Seeker)
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return capture.NewPeripheralError("rewind", err)
	}

	header, err := ReadHeader(s.Reader)
	if err != nil {
		return capture.NewPeripheralError("rewind", err)
	}
	if header.Subchunk2Size == 0 {
		return capture.ErrCaptureStopped
	}
	s.remaining = int64(header.Subchunk2Size)

	return nil
}

// Writer denotes a WAV file writer recording a PCM stream
type Writer struct {
	w        io.WriteSeeker
	format   capture.Format
	dataSize uint32
}

// NewWriter instantiates a new WAV writer, writing a (preliminary) header
func NewWriter(w io.WriteSeeker, format capture.Format) (*Writer, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := NewHeader(format, 0).Write(w); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return &Writer{
		w:      w,
		format: format,
	}, nil
}

// Write appends PCM data to the file (io.Writer interface)
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.dataSize += uint32(n)
	return n, err
}

// Close finalizes the header with the actual data size (and closes the underlying writer,
// if applicable)
func (w *Writer) Close() error {
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind WAV file: %w", err)
	}
	if err := NewHeader(w.format, w.dataSize).Write(w.w); err != nil {
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}
	if _, err := w.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end of WAV file: %w", err)
	}

	if closer, isCloser := w.w.(io.Closer); isCloser {
		return closer.Close()
	}

	return nil
}
