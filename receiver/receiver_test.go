//go:build linux
// +build linux

package receiver

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/slimcast/sink"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	buf bytes.Buffer
	sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.Lock()
	defer b.Unlock()
	return append([]byte{}, b.buf.Bytes()...)
}

func newTestSetup(t *testing.T, options ...Option) (*Listener, *sink.Datagram) {
	l, err := Listen("127.0.0.1:0", options...)
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, l.Close())
	})

	d, err := sink.Dial(l.LocalAddr())
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, d.Close())
	})

	return l, d
}

func segment(size int, marker byte) []byte {
	return bytes.Repeat([]byte{marker}, size)
}

func TestInvalidOptions(t *testing.T) {
	_, err := Listen("127.0.0.1:0", SegmentSize(0))
	require.NotNil(t, err)
	_, err = Listen("127.0.0.1:100000")
	require.NotNil(t, err)
}

func TestNext(t *testing.T) {
	l, d := newTestSetup(t, SegmentSize(128))

	d.Send(segment(128, 1))
	d.Send(segment(100, 2))
	d.Send(segment(129, 3))
	d.Send(segment(128, 4))

	require.Nil(t, l.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, err := l.Next(make([]byte, 127))
	require.NotNil(t, err)

	buf := make([]byte, 256)
	for _, marker := range []byte{1, 4} {
		n, err := l.Next(buf)
		require.Nil(t, err)
		require.Equal(t, segment(128, marker), buf[:n])
	}

	require.Equal(t, Stats{Segments: 2, Bytes: 256, Rejected: 2}, l.Stats())
	require.Equal(t, Stats{}, l.Stats())
}

func TestKernelFilter(t *testing.T) {
	l, d := newTestSetup(t, SegmentSize(128), KernelFilter(true))

	d.Send(segment(100, 1))
	d.Send(segment(129, 2))
	d.Send(segment(128, 3))

	require.Nil(t, l.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	buf := make([]byte, 128)
	n, err := l.Next(buf)
	require.Nil(t, err)
	require.Equal(t, segment(128, 3), buf[:n])

	// Datagrams of unexpected size never reach the socket
	require.Equal(t, Stats{Segments: 1, Bytes: 128}, l.Stats())
}

func TestPipe(t *testing.T) {
	l, d := newTestSetup(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	errs := make(chan error)
	go func() {
		errs <- l.Pipe(ctx, &out)
	}()

	var expected []byte
	for _, marker := range []byte{0xA, 0xB, 0xA, 0xB} {
		seg := segment(DefaultSegmentSize, marker)
		expected = append(expected, seg...)
		d.Send(seg)
	}

	require.Eventually(t, func() bool {
		return len(out.Bytes()) == len(expected)
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, expected, out.Bytes())

	cancel()
	select {
	case err := <-errs:
		require.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Pipe() did not return after context cancellation")
	}
}

func TestPipeClosed(t *testing.T) {
	l, err := Listen("127.0.0.1:0")
	require.Nil(t, err)
	require.Nil(t, l.Close())

	err = l.Pipe(context.Background(), &syncBuffer{})
	require.ErrorIs(t, err, net.ErrClosed)
}
