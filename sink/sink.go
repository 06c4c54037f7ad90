//go:build linux
// +build linux

/*
Package sink implements the network sink transmitting segments as individual UDP datagrams to a
single fixed remote endpoint. Sends are fire-and-forget: they never block (MSG_DONTWAIT) and their
outcome is not reported to the caller (failures are merely counted).
*/
package sink

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

const (
	maxDSCP     = 63
	maxPriority = 6 // highest priority settable without CAP_NET_ADMIN
)

// Stats denotes the counters of the sink
type Stats struct {
	Sent   uint64
	Failed uint64
}

// Option denotes a functional option for the Datagram sink
type Option func(*Datagram)

// DSCP sets the DiffServ code point used to mark outgoing datagrams
func DSCP(v int) Option {
	return func(d *Datagram) {
		d.dscp = v
	}
}

// Priority sets the socket priority (SO_PRIORITY) of outgoing datagrams
func Priority(p int) Option {
	return func(d *Datagram) {
		d.priority = p
	}
}

// WriteBuffer sets the size of the socket send buffer
func WriteBuffer(n int) Option {
	return func(d *Datagram) {
		d.writeBuffer = n
	}
}

// Datagram denotes a connected UDP sink
type Datagram struct {
	conn    *net.UDPConn
	rawConn syscall.RawConn
	remote  *net.UDPAddr

	dscp        int
	priority    int
	writeBuffer int

	sent   atomic.Uint64
	failed atomic.Uint64
}

// Dial opens a UDP socket connected to the remote endpoint
func Dial(remote *net.UDPAddr, options ...Option) (*Datagram, error) {

	if remote == nil {
		return nil, errors.New("no remote endpoint provided")
	}

	d := &Datagram{
		remote: remote,
	}
	for _, opt := range options {
		opt(d)
	}

	if d.dscp < 0 || d.dscp > maxDSCP {
		return nil, fmt.Errorf("invalid DSCP value %d", d.dscp)
	}
	if d.priority < 0 || d.priority > maxPriority {
		return nil, fmt.Errorf("invalid socket priority %d", d.priority)
	}

	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket to %s: %w", remote, err)
	}
	d.conn = conn

	if err := d.setSocketOptions(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to access raw UDP socket: %w", err)
	}
	d.rawConn = rawConn

	return d, nil
}

// Send transmits p as a single datagram without blocking. Failures (e.g. a full send buffer or
// an unreachable remote) are counted, but not reported
func (d *Datagram) Send(p []byte) {
	var err error
	if rerr := d.rawConn.Write(func(fd uintptr) bool {
		err = unix.Sendto(int(fd), p, unix.MSG_DONTWAIT, nil)
		return true
	}); rerr != nil || err != nil {
		d.failed.Add(1)
		return
	}
	d.sent.Add(1)
}

// Stats returns (and clears) the counters of the sink
func (d *Datagram) Stats() Stats {
	return Stats{
		Sent:   d.sent.Swap(0),
		Failed: d.failed.Swap(0),
	}
}

// RemoteAddr returns the remote endpoint of the sink
func (d *Datagram) RemoteAddr() *net.UDPAddr {
	return d.remote
}

// LocalAddr returns the local address of the underlying socket
func (d *Datagram) LocalAddr() *net.UDPAddr {
	return d.conn.LocalAddr().(*net.UDPAddr)
}

// Close closes the underlying socket
func (d *Datagram) Close() error {
	return d.conn.Close()
}

////////////////////////////////////////////////////////////////////////////////

func (d *Datagram) setSocketOptions() error {

	if d.writeBuffer > 0 {
		if err := d.conn.SetWriteBuffer(d.writeBuffer); err != nil {
			return fmt.Errorf("failed to set socket send buffer size: %w", err)
		}
	}

	// Traffic class / TOS carry the DSCP in their upper six bits
	if d.dscp > 0 {
		if d.remote.IP.To4() != nil {
			if err := ipv4.NewConn(d.conn).SetTOS(d.dscp << 2); err != nil {
				return fmt.Errorf("failed to set IPv4 TOS: %w", err)
			}
		} else {
			if err := ipv6.NewConn(d.conn).SetTrafficClass(d.dscp << 2); err != nil {
				return fmt.Errorf("failed to set IPv6 traffic class: %w", err)
			}
		}
	}

	if d.priority > 0 {
		rawConn, err := d.conn.SyscallConn()
		if err != nil {
			return fmt.Errorf("failed to access raw UDP socket: %w", err)
		}

		var serr error
		if err := rawConn.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, d.priority)
		}); err != nil {
			return err
		}
		if serr != nil {
			return fmt.Errorf("failed to set socket priority: %w", serr)
		}
	}

	return nil
}
