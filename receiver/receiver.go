//go:build linux
// +build linux

/*
Package receiver implements the listening end of a stream: it receives the segment datagrams
emitted by the streamer and reconstructs the sample stream by concatenating their payloads in
arrival order (segments carry no sequence information, hence no reordering takes place).
*/
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fako1024/slimcast/filter"
	"github.com/fako1024/slimcast/ring"
	"golang.org/x/sys/unix"
)

// DefaultSegmentSize denotes the default size of a segment (half of the default ring capacity)
const DefaultSegmentSize = ring.DefaultCapacity / 2

// Stats denotes the counters of the listener
type Stats struct {
	Segments uint64
	Bytes    uint64
	Rejected uint64
}

// Option denotes a functional option for the Listener
type Option func(*Listener)

// SegmentSize sets the expected size of a segment
func SegmentSize(n int) Option {
	return func(l *Listener) {
		l.segmentSize = n
	}
}

// KernelFilter enables / disables dropping datagrams of unexpected size in the kernel (via BPF)
func KernelFilter(enable bool) Option {
	return func(l *Listener) {
		l.kernelFilter = enable
	}
}

// Listener denotes a segment listener
type Listener struct {
	conn *net.UDPConn

	segmentSize  int
	kernelFilter bool
	buf          []byte

	segments atomic.Uint64
	bytes    atomic.Uint64
	rejected atomic.Uint64
}

// Listen opens a UDP socket on the given local address (e.g. ":16500")
func Listen(addr string, options ...Option) (*Listener, error) {

	l := &Listener{
		segmentSize: DefaultSegmentSize,
	}
	for _, opt := range options {
		opt(l)
	}

	if l.segmentSize <= 0 {
		return nil, fmt.Errorf("invalid segment size %d", l.segmentSize)
	}

	localAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address %s: %w", addr, err)
	}

	if l.conn, err = net.ListenUDP("udp", localAddr); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if l.kernelFilter {
		if err := l.attachFilter(); err != nil {
			_ = l.conn.Close()
			return nil, err
		}
	}

	// One extra byte to detect oversized datagrams
	l.buf = make([]byte, l.segmentSize+1)

	return l, nil
}

// Next receives the next segment into buf (which must be able to hold a full segment), discarding
// any datagram of unexpected size
func (l *Listener) Next(buf []byte) (int, error) {

	if len(buf) < l.segmentSize {
		return 0, fmt.Errorf("buffer too small to hold segment (%d < %d bytes)", len(buf), l.segmentSize)
	}

	for {
		n, err := l.conn.Read(l.buf)
		if err != nil {
			return 0, err
		}

		if n != l.segmentSize {
			l.rejected.Add(1)
			continue
		}

		l.segments.Add(1)
		l.bytes.Add(uint64(n))

		return copy(buf, l.buf[:n]), nil
	}
}

// Pipe continuously writes all received segments to w until the context is done (in which case
// nil is returned) or an error occurs
func (l *Listener) Pipe(ctx context.Context, w io.Writer) error {

	// Release a blocking read as soon as the context is done
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	segment := make([]byte, l.segmentSize)
	for {
		n, err := l.Next(segment)
		if err != nil {
			if ctx.Err() != nil && isTimeout(err) {
				return nil
			}
			return fmt.Errorf("failed to receive segment: %w", err)
		}

		if _, err := w.Write(segment[:n]); err != nil {
			return fmt.Errorf("failed to write segment: %w", err)
		}
	}
}

// Stats returns (and clears) the counters of the listener
func (l *Listener) Stats() Stats {
	return Stats{
		Segments: l.segments.Swap(0),
		Bytes:    l.bytes.Swap(0),
		Rejected: l.rejected.Swap(0),
	}
}

// LocalAddr returns the local address the listener is bound to
func (l *Listener) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Close closes the listener
func (l *Listener) Close() error {
	return l.conn.Close()
}

////////////////////////////////////////////////////////////////////////////////

func (l *Listener) attachFilter() error {

	instructions, err := filter.Assemble(l.segmentSize)
	if err != nil {
		return err
	}

	rawConn, err := l.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to access raw UDP socket: %w", err)
	}

	p := unix.SockFprog{
		Len: uint16(len(instructions)),
		// #nosec: G103
		Filter: (*unix.SockFilter)(unsafe.Pointer(&instructions[0])),
	}

	var serr error
	if err := rawConn.Control(func(fd uintptr) {
		serr = unix.SetsockoptSockFprog(int(fd), unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &p)
	}); err != nil {
		return err
	}
	if serr != nil {
		return fmt.Errorf("failed to set BPF filter: %w", serr)
	}

	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
