package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fako1024/slimcast/capture"
)

const (
	HeaderSize = 44 // HeaderSize : Overall size of the canonical RIFF / WAVE PCM header

	formatPCM = 1
)

var (
	chunkRIFF = [4]byte{'R', 'I', 'F', 'F'}
	chunkWAVE = [4]byte{'W', 'A', 'V', 'E'}
	chunkFmt  = [4]byte{'f', 'm', 't', ' '}
	chunkData = [4]byte{'d', 'a', 't', 'a'}
)

// ErrInvalidHeader denotes a malformed or unsupported RIFF / WAVE header
var ErrInvalidHeader = errors.New("invalid WAV header")

// Header denotes the canonical RIFF / WAVE PCM header:
// http://soundfile.sapp.org/doc/WaveFormat/
type Header struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// NewHeader creates a header for the given format and number of data bytes
func NewHeader(format capture.Format, dataSize uint32) Header {
	return Header{
		ChunkID:       chunkRIFF,
		ChunkSize:     HeaderSize - 8 + dataSize,
		Format:        chunkWAVE,
		Subchunk1ID:   chunkFmt,
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.ByteRate()),
		BlockAlign:    uint16(format.FrameSize()),
		BitsPerSample: uint16(format.BitsPerSample),
		Subchunk2ID:   chunkData,
		Subchunk2Size: dataSize,
	}
}

// CaptureFormat returns the sample format described by the header
func (h Header) CaptureFormat() capture.Format {
	return capture.Format{
		SampleRate:    int(h.SampleRate),
		BitsPerSample: int(h.BitsPerSample),
		Channels:      int(h.NumChannels),
	}
}

// ReadHeader parses a RIFF / WAVE header from the reader, skipping any non-essential chunks
// between the format and the data chunk. Upon return the reader is positioned at the start of
// the sample data
func ReadHeader(r io.Reader) (Header, error) {
	var h Header

	var riff struct {
		ID     [4]byte
		Size   uint32
		Format [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return h, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if riff.ID != chunkRIFF || riff.Format != chunkWAVE {
		return h, fmt.Errorf("%w: missing RIFF / WAVE identifier", ErrInvalidHeader)
	}
	h.ChunkID, h.ChunkSize, h.Format = riff.ID, riff.Size, riff.Format

	var haveFmt bool
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			return h, fmt.Errorf("failed to read chunk header: %w", err)
		}

		switch chunk.ID {
		case chunkFmt:
			if chunk.Size < 16 {
				return h, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrInvalidHeader, chunk.Size)
			}
			var fmtChunk struct {
				AudioFormat   uint16
				NumChannels   uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(r, binary.LittleEndian, &fmtChunk); err != nil {
				return h, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if err := skip(r, int64(chunk.Size)-16); err != nil {
				return h, err
			}
			h.Subchunk1ID, h.Subchunk1Size = chunk.ID, chunk.Size
			h.AudioFormat, h.NumChannels = fmtChunk.AudioFormat, fmtChunk.NumChannels
			h.SampleRate, h.ByteRate = fmtChunk.SampleRate, fmtChunk.ByteRate
			h.BlockAlign, h.BitsPerSample = fmtChunk.BlockAlign, fmtChunk.BitsPerSample
			haveFmt = true

		case chunkData:
			if !haveFmt {
				return h, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidHeader)
			}
			h.Subchunk2ID, h.Subchunk2Size = chunk.ID, chunk.Size
			if h.AudioFormat != formatPCM {
				return h, fmt.Errorf("%w: unsupported audio format %d (only PCM is supported)", ErrInvalidHeader, h.AudioFormat)
			}
			return h, nil

		default:
			// Chunks are padded to an even number of bytes
			if err := skip(r, int64(chunk.Size+chunk.Size%2)); err != nil {
				return h, err
			}
		}
	}
}

// Write writes the header in its canonical form
func (h Header) Write(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, h)
}

////////////////////////////////////////////////////////////////////////////////

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("failed to skip %d bytes: %w", n, err)
	}
	return nil
}
