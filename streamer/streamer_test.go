//go:build linux && !slimcast_nomock

package streamer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/els0r/telemetry/logging"
	"github.com/fako1024/slimcast/capture"
	"github.com/fako1024/slimcast/capture/pcm"
	"github.com/fako1024/slimcast/capture/tone"
	"github.com/fako1024/slimcast/ring"
	"github.com/fako1024/slimcast/transmit"
	"github.com/stretchr/testify/require"
)

var testFormat = capture.Format{
	SampleRate:    96000,
	BitsPerSample: 16,
	Channels:      1,
}

type recordingSink struct {
	segments [][]byte
	sync.Mutex
}

func (s *recordingSink) Send(p []byte) {
	s.Lock()
	defer s.Unlock()
	s.segments = append(s.segments, append([]byte{}, p...))
}

func (s *recordingSink) Segments() [][]byte {
	s.Lock()
	defer s.Unlock()
	return s.segments
}

type mockConnector struct {
	upAfter  int
	attempts int
	sink     *recordingSink
	up       bool
	sync.Mutex
}

func (c *mockConnector) TryLink(remoteAddress string, remotePort int) bool {
	c.Lock()
	defer c.Unlock()

	c.attempts++
	if c.upAfter >= 0 && c.attempts >= c.upAfter {
		c.up = true
	}
	return c.up
}

func (c *mockConnector) IsUp() bool {
	c.Lock()
	defer c.Unlock()
	return c.up
}

func (c *mockConnector) Sink() transmit.Sink {
	if !c.IsUp() {
		return nil
	}
	return c.sink
}

type scriptedRead struct {
	n   int
	err error
}

type scriptedSource struct {
	reads []scriptedRead
}

func (s *scriptedSource) FillBlock(dst []byte, _ time.Duration) (int, error) {
	if len(s.reads) == 0 {
		return 0, capture.ErrCaptureStopped
	}
	read := s.reads[0]
	s.reads = s.reads[1:]
	return min(read.n, len(dst)), read.err
}

func (s *scriptedSource) Format() capture.Format { return testFormat }
func (s *scriptedSource) Stats() (capture.Stats, error) { return capture.Stats{}, nil }
func (s *scriptedSource) Unblock() error { return nil }
func (s *scriptedSource) Close() error { return nil }

func TestMain(m *testing.M) {
	if _, err := logging.Init(logging.LevelFromString("debug"), logging.Encoding("logfmt")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %s\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func newMockSource(t *testing.T) *pcm.MockSource {
	mockSrc, err := pcm.NewMockSource(testFormat)
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, mockSrc.Close())
		require.Nil(t, mockSrc.Free())
	})

	return mockSrc
}

func testStream(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + i/256)
	}
	return data
}

func TestNew(t *testing.T) {
	src, conn := &scriptedSource{}, &mockConnector{upAfter: -1}

	for _, tc := range []struct {
		name    string
		addr    string
		port    int
		options []Option
	}{
		{"empty address", "", 16500, nil},
		{"invalid port", "127.0.0.1", 0, nil},
		{"port out of range", "127.0.0.1", 65536, nil},
		{"odd capacity", "127.0.0.1", 16500, []Option{Capacity(2047)}},
		{"invalid margin", "127.0.0.1", 16500, []Option{Margin(1024)}},
		{"zero margin", "127.0.0.1", 16500, []Option{Margin(0)}},
		{"partial frame block size", "127.0.0.1", 16500, []Option{BlockSize(127)}},
		{"partial frame half", "127.0.0.1", 16500, []Option{Capacity(2046)}},
		{"zero block size", "127.0.0.1", 16500, []Option{BlockSize(0)}},
		{"block size exceeding half", "127.0.0.1", 16500, []Option{BlockSize(1025)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(src, conn, tc.addr, tc.port, tc.options...)
			require.NotNil(t, err)
		})
	}

	_, err := New(nil, conn, "127.0.0.1", 16500)
	require.NotNil(t, err)

	s, err := New(src, conn, "192.168.1.40", 16500)
	require.Nil(t, err)
	require.Equal(t, ring.DefaultCapacity, s.Buffer().Capacity())
	require.Equal(t, 2043, s.Buffer().WrapThreshold())
	require.Equal(t, transmit.AwaitFirstHalf, s.Machine().State())
}

func TestLinkDownNoSends(t *testing.T) {
	mockSrc := newMockSource(t)
	conn := &mockConnector{upAfter: -1, sink: &recordingSink{}}

	s, err := New(mockSrc, conn, "127.0.0.1", 16500)
	require.Nil(t, err)

	data := testStream(100 * capture.DefaultBlockSize)
	require.Nil(t, mockSrc.AddBlock(data))

	for i := 0; i < 100; i++ {
		require.Nil(t, s.Iterate())
		require.LessOrEqual(t, int(s.Buffer().Position()), s.Buffer().WrapThreshold())
	}

	require.Empty(t, conn.sink.Segments())
	require.Equal(t, 100, conn.attempts)
	require.Equal(t, transmit.AwaitFirstHalf, s.Machine().State())

	// The buffer kept filling and wrapping in the meantime
	require.Equal(t, uint32(6), s.Buffer().Epoch())

	totals := s.Totals()
	require.Equal(t, uint64(100), totals.Blocks)
	require.Equal(t, uint64(len(data)), totals.Bytes)
	require.Equal(t, uint64(100), totals.LinkAttempts)
	require.Zero(t, totals.Segments)
	require.False(t, totals.LinkUp)
}

func TestStreamReconstruction(t *testing.T) {
	mockSrc := newMockSource(t)
	conn := &mockConnector{upAfter: 3, sink: &recordingSink{}}

	var linkUps int
	s, err := New(mockSrc, conn, "127.0.0.1", 16500, OnLinkUp(func() {
		linkUps++
	}))
	require.Nil(t, err)

	// Four full buffer cycles (16 blocks of 128 bytes each fill the buffer until it wraps)
	data := testStream(4 * ring.DefaultCapacity)
	require.Nil(t, mockSrc.AddBlock(data))
	for i := 0; i < 4*16; i++ {
		require.Nil(t, s.Iterate())
	}

	segments := conn.sink.Segments()
	require.Len(t, segments, 8)

	var reconstructed []byte
	for _, segment := range segments {
		require.Len(t, segment, 1024)
		reconstructed = append(reconstructed, segment...)
	}
	require.Equal(t, data, reconstructed)

	stats := s.Machine().Stats()
	require.Equal(t, [2]int{4, 4}, stats.HalvesSent)
	require.Zero(t, stats.Overruns)
	require.Equal(t, 3, conn.attempts)
	require.Equal(t, 1, linkUps)
	require.True(t, s.Totals().LinkUp)
}

func TestWrapAtBufferEnd(t *testing.T) {
	src, err := tone.NewSource(capture.Format{SampleRate: 48000, BitsPerSample: 32, Channels: 2}, tone.Paced(false))
	require.Nil(t, err)
	conn := &mockConnector{upAfter: 1, sink: &recordingSink{}}

	// 17 blocks of 120 bytes end at 2040, the remaining 8 bytes hit the end of the buffer
	s, err := New(src, conn, "127.0.0.1", 16500, BlockSize(120), Margin(1))
	require.Nil(t, err)

	for i := 0; i < 200; i++ {
		require.Nil(t, s.Iterate())
		require.Less(t, int(s.Buffer().Position()), s.Buffer().Capacity())
	}
	require.GreaterOrEqual(t, s.Buffer().Epoch(), uint32(11))

	stats := s.Machine().Stats()
	require.GreaterOrEqual(t, stats.HalvesSent[0], 10)
	require.GreaterOrEqual(t, stats.HalvesSent[1], 10)
	require.LessOrEqual(t, stats.HalvesSent[0]-stats.HalvesSent[1], 1)
	require.Zero(t, stats.Overruns)
}

func TestRuntimeErrorsTolerated(t *testing.T) {
	src := &scriptedSource{reads: []scriptedRead{
		{64, capture.NewPeripheralError("read", os.ErrInvalid)},
		{128, nil},
		{0, capture.ErrTimeout},
		{100, nil},
	}}
	conn := &mockConnector{upAfter: 0, sink: &recordingSink{}}

	s, err := New(src, conn, "127.0.0.1", 16500)
	require.Nil(t, err)

	for i := 0; i < 4; i++ {
		require.Nil(t, s.Iterate())
	}
	require.Equal(t, uint32(64+128+100), s.Buffer().Position())
	require.ErrorIs(t, s.Iterate(), capture.ErrCaptureStopped)

	totals := s.Totals()
	require.Equal(t, uint64(2), totals.SampleErrors)
	require.Equal(t, uint64(3), totals.Blocks)
	require.Equal(t, uint64(292), totals.Bytes)
}

func TestRunEndOfStream(t *testing.T) {
	mockSrc := newMockSource(t)
	conn := &mockConnector{upAfter: 1, sink: &recordingSink{}}

	s, err := New(mockSrc, conn, "127.0.0.1", 16500)
	require.Nil(t, err)

	data := testStream(2 * ring.DefaultCapacity)
	require.Nil(t, mockSrc.AddBlock(data))
	require.Nil(t, mockSrc.Done())

	require.Nil(t, s.Run(context.Background()))
	require.Len(t, conn.sink.Segments(), 4)
	require.Equal(t, uint64(len(data)), s.Totals().Bytes)
}

func TestRunCancel(t *testing.T) {
	mockSrc := newMockSource(t)
	conn := &mockConnector{upAfter: 1, sink: &recordingSink{}}

	s, err := New(mockSrc, conn, "127.0.0.1", 16500)
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error)
	go func() {
		errs <- s.Run(ctx)
	}()

	require.Nil(t, mockSrc.AddBlock(testStream(ring.DefaultCapacity)))
	require.Eventually(t, func() bool {
		return len(conn.sink.Segments()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// The source is now blocked waiting for more samples
	cancel()
	select {
	case err := <-errs:
		require.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestHalt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	Halt(ctx, capture.NewPeripheralError("configure", os.ErrNotExist))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
