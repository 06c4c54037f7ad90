package link

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/els0r/telemetry/logging"
	"github.com/fako1024/slimcast/sink"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if _, err := logging.Init(logging.LevelFromString("debug"), logging.Encoding("logfmt")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %s\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestAssociateNoInterface(t *testing.T) {
	m := New()
	require.Nil(t, m.Associate(context.Background(), time.Millisecond))
	require.Nil(t, m.Link())
}

func TestAssociateLoopback(t *testing.T) {
	m := New(Interface("lo"))
	require.Nil(t, m.Associate(context.Background(), time.Second))
	require.NotNil(t, m.Link())
}

func TestAssociateTimeout(t *testing.T) {
	m := New(Interface("thisinterfacedoesnotexist"), PollInterval(10*time.Millisecond))

	start := time.Now()
	err := m.Associate(context.Background(), 100*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	require.Nil(t, m.Link())
}

func TestAssociateCancel(t *testing.T) {
	m := New(Interface("thisinterfacedoesnotexist"), PollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	require.ErrorIs(t, m.Associate(ctx, -1), context.Canceled)
}

func TestTryLink(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.Nil(t, err)
	defer func() {
		require.Nil(t, listener.Close())
	}()
	port := listener.LocalAddr().(*net.UDPAddr).Port

	m := New(SinkOptions(sink.DSCP(46)))
	require.False(t, m.IsUp())
	require.Nil(t, m.Sink())

	require.False(t, m.TryLink("127.0.0.1", 70000))
	require.False(t, m.IsUp())

	require.True(t, m.TryLink("127.0.0.1", port))
	require.True(t, m.IsUp())
	d := m.Datagram()
	require.NotNil(t, d)
	require.Equal(t, port, d.RemoteAddr().Port)

	// Subsequent attempts keep the established link
	require.True(t, m.TryLink("127.0.0.1", port))
	require.Same(t, d, m.Datagram())

	m.Sink().Send([]byte("segment"))
	buf := make([]byte, 64)
	require.Nil(t, listener.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, err := listener.Read(buf)
	require.Nil(t, err)
	require.Equal(t, "segment", string(buf[:n]))

	require.Nil(t, m.Close())
	require.False(t, m.IsUp())
	require.Nil(t, m.Sink())
	require.Nil(t, m.Close())
}
