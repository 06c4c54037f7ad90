//go:build linux
// +build linux

package sink

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

func newListener(t *testing.T) *net.UDPConn {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, conn.Close())
	})

	return conn
}

func TestInvalidOptions(t *testing.T) {
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 16500}

	_, err := Dial(nil)
	require.NotNil(t, err)
	_, err = Dial(remote, DSCP(64))
	require.NotNil(t, err)
	_, err = Dial(remote, DSCP(-1))
	require.NotNil(t, err)
	_, err = Dial(remote, Priority(7))
	require.NotNil(t, err)
}

func TestSend(t *testing.T) {
	listener := newListener(t)

	d, err := Dial(listener.LocalAddr().(*net.UDPAddr), WriteBuffer(64*1024))
	require.Nil(t, err)
	defer func() {
		require.Nil(t, d.Close())
	}()
	require.Equal(t, listener.LocalAddr().String(), d.RemoteAddr().String())

	segment := make([]byte, 1024)
	for i := range segment {
		segment[i] = byte(i)
	}
	for i := 0; i < 4; i++ {
		segment[0] = byte(i)
		d.Send(segment)
	}

	buf := make([]byte, 2048)
	require.Nil(t, listener.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 4; i++ {
		n, from, err := listener.ReadFromUDP(buf)
		require.Nil(t, err)
		require.Equal(t, 1024, n)
		require.Equal(t, byte(i), buf[0])
		require.Equal(t, segment[1:], buf[1:n])
		require.Equal(t, d.LocalAddr().Port, from.Port)
	}

	require.Equal(t, Stats{Sent: 4}, d.Stats())
	require.Equal(t, Stats{}, d.Stats())
}

func TestSendUnreachable(t *testing.T) {

	// Obtain a free port, then close the listener so nobody receives on it
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.Nil(t, err)
	remote := listener.LocalAddr().(*net.UDPAddr)
	require.Nil(t, listener.Close())

	d, err := Dial(remote)
	require.Nil(t, err)
	defer func() {
		require.Nil(t, d.Close())
	}()

	// Sending must neither block nor panic, irrespective of ICMP errors reported on the socket
	for i := 0; i < 100; i++ {
		d.Send(make([]byte, 16))
	}
	stats := d.Stats()
	require.Equal(t, uint64(100), stats.Sent+stats.Failed)
}

func TestSocketOptions(t *testing.T) {
	listener := newListener(t)

	d, err := Dial(listener.LocalAddr().(*net.UDPAddr), DSCP(46), Priority(5))
	require.Nil(t, err)
	defer func() {
		require.Nil(t, d.Close())
	}()

	tos, err := ipv4.NewConn(d.conn).TOS()
	require.Nil(t, err)
	require.Equal(t, 46<<2, tos)

	rawConn, err := d.conn.SyscallConn()
	require.Nil(t, err)

	var (
		prio int
		perr error
	)
	require.Nil(t, rawConn.Control(func(fd uintptr) {
		prio, perr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY)
	}))
	require.Nil(t, perr)
	require.Equal(t, 5, prio)
}
