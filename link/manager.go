/*
Package link implements the connection manager bringing up network connectivity for the streamer:
association with the local network (the configured interface being present and up) at setup time
and, repeatedly and best-effort, establishment of the datagram link to the remote endpoint.
*/
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/els0r/telemetry/logging"
	golink "github.com/fako1024/gotools/link"
	"github.com/fako1024/slimcast/sink"
	"github.com/fako1024/slimcast/transmit"
)

// DefaultPollInterval denotes the default interval between two interface state checks
const DefaultPollInterval = 250 * time.Millisecond

// ErrInterfaceDown denotes that the configured interface is present, but not up
var ErrInterfaceDown = errors.New("interface is not up")

// Option denotes a functional option for the Manager
type Option func(*Manager)

// Interface sets the local interface that has to be up for association to succeed
func Interface(name string) Option {
	return func(m *Manager) {
		m.iface = name
	}
}

// PollInterval sets the interval between two interface state checks during association
func PollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = interval
	}
}

// SinkOptions sets the options used when opening the datagram sink
func SinkOptions(options ...sink.Option) Option {
	return func(m *Manager) {
		m.sinkOptions = append(m.sinkOptions, options...)
	}
}

// Manager denotes a connection manager
type Manager struct {
	iface        string
	pollInterval time.Duration
	sinkOptions  []sink.Option

	link *golink.Link
	sink *sink.Datagram
	up   atomic.Bool

	sync.Mutex
}

// New instantiates a new connection manager
func New(options ...Option) *Manager {
	m := &Manager{
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range options {
		opt(m)
	}

	return m
}

// Associate waits until the configured interface exists and is up. Without a configured interface
// association trivially succeeds. A negative timeout waits until the context is done
func (m *Manager) Associate(ctx context.Context, timeout time.Duration) error {

	if m.iface == "" {
		return nil
	}

	logger := logging.FromContext(ctx).With("iface", m.iface)

	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		l, err := checkInterface(m.iface)
		if err == nil {
			m.Lock()
			m.link = l
			m.Unlock()

			logger.Infof("interface is up (link type %d)", l.Type)
			return nil
		}
		if !errors.Is(err, lastErr) {
			logger.Debugf("waiting for interface: %s", err)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to associate with interface %s: %w (last state: %w)", m.iface, ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

// TryLink attempts to establish the datagram link to the remote endpoint. Once successful, the
// link state is up and all subsequent calls return true immediately
func (m *Manager) TryLink(remoteAddress string, remotePort int) bool {
	if m.up.Load() {
		return true
	}

	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(remoteAddress, strconv.Itoa(remotePort)))
	if err != nil {
		return false
	}

	d, err := sink.Dial(remote, m.sinkOptions...)
	if err != nil {
		return false
	}

	m.Lock()
	m.sink = d
	m.Unlock()
	m.up.Store(true)

	return true
}

// IsUp returns if the datagram link has been established
func (m *Manager) IsUp() bool {
	return m.up.Load()
}

// Sink returns the datagram sink (nil as long as the link is down)
func (m *Manager) Sink() transmit.Sink {
	if d := m.Datagram(); d != nil {
		return d
	}

	return nil
}

// Datagram returns the underlying datagram sink (nil as long as the link is down)
func (m *Manager) Datagram() *sink.Datagram {
	m.Lock()
	defer m.Unlock()

	return m.sink
}

// Link returns the associated local interface (nil if none was configured / associated)
func (m *Manager) Link() *golink.Link {
	m.Lock()
	defer m.Unlock()

	return m.link
}

// Close tears down the datagram link (if established)
func (m *Manager) Close() error {
	m.Lock()
	defer m.Unlock()

	m.up.Store(false)
	if m.sink == nil {
		return nil
	}

	err := m.sink.Close()
	m.sink = nil

	return err
}

////////////////////////////////////////////////////////////////////////////////

func checkInterface(name string) (*golink.Link, error) {
	l, err := golink.New(name)
	if err != nil {
		return nil, err
	}

	isUp, err := l.IsUp()
	if err != nil {
		return nil, err
	}
	if !isUp {
		return nil, ErrInterfaceDown
	}

	return l, nil
}
