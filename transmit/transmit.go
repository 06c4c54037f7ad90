/*
Package transmit implements the transmission state machine deciding when each half of the sample
ring is complete and hands it to the network sink. The machine tracks the write pointer of the
ring: once the pointer has moved past the first half, the first half is sent; once the pointer
has wrapped back into the first half, the second half is sent. Sends therefore strictly alternate
between both halves.
*/
package transmit

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fako1024/slimcast/ring"
)

// State denotes a state of the transmission state machine
type State uint8

const (

	// AwaitFirstHalf denotes waiting for the write pointer to leave the first half (S0)
	AwaitFirstHalf State = iota

	// SendFirstHalf denotes the transmission of the first half (S1)
	SendFirstHalf

	// AwaitWrap denotes waiting for the write pointer to wrap back into the first half (S2)
	AwaitWrap

	// SendSecondHalf denotes the transmission of the second half (S3)
	SendSecondHalf
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case AwaitFirstHalf:
		return "S0 (await first half)"
	case SendFirstHalf:
		return "S1 (send first half)"
	case AwaitWrap:
		return "S2 (await wrap)"
	case SendSecondHalf:
		return "S3 (send second half)"
	}

	return fmt.Sprintf("invalid state (%d)", uint8(s))
}

// Sink denotes a fire-and-forget consumer of segments
type Sink interface {

	// Send transmits a segment. It must not block and must not retain p after returning
	Send(p []byte)
}

// Stats denotes the counters of the state machine
type Stats struct {
	SegmentsSent int
	HalvesSent   [2]int
	Overruns     int
}

// Option denotes a functional option for the Machine
type Option func(*Machine)

// OnTransition registers a callback invoked on every state change
func OnTransition(fn func(from, to State)) Option {
	return func(m *Machine) {
		m.onTransition = fn
	}
}

// Machine denotes a transmission state machine operating on a ring buffer
type Machine struct {
	buf  *ring.Buffer
	sink Sink

	state        State
	onTransition func(from, to State)

	lastEpoch     uint32
	haveLastEpoch bool

	halvesSent [2]atomic.Uint64
	overruns   atomic.Uint64

	lastStats Stats
	statsMu   sync.Mutex
}

// New instantiates a new state machine (starting in AwaitFirstHalf)
func New(buf *ring.Buffer, sink Sink, options ...Option) *Machine {
	m := &Machine{
		buf:   buf,
		sink:  sink,
		state: AwaitFirstHalf,
	}
	for _, opt := range options {
		opt(m)
	}

	return m
}

// Step samples the write pointer once and performs all transitions whose guards are satisfied by
// that sample. States without a guard are left within the same step, hence at most two
// transitions (and one send) happen per call. Step never blocks
func (m *Machine) Step() State {

	pos := m.buf.Position()
	boundary := uint32(m.buf.HalfSize() - 1)

	for {
		switch m.state {
		case AwaitFirstHalf:
			if pos <= boundary {
				return m.state
			}
			m.transition(SendFirstHalf)
		case SendFirstHalf:
			m.trackEpoch()
			m.send(0)
			m.transition(AwaitWrap)
		case AwaitWrap:
			if pos >= boundary {
				return m.state
			}
			m.transition(SendSecondHalf)
		case SendSecondHalf:
			m.send(1)
			m.transition(AwaitFirstHalf)
		default:
			panic(fmt.Sprintf("transmission state machine in %s", m.state))
		}
	}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Stats returns (and clears) the counters of the state machine
func (m *Machine) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	totals := m.Totals()
	stats := Stats{
		SegmentsSent: totals.SegmentsSent - m.lastStats.SegmentsSent,
		HalvesSent: [2]int{
			totals.HalvesSent[0] - m.lastStats.HalvesSent[0],
			totals.HalvesSent[1] - m.lastStats.HalvesSent[1],
		},
		Overruns: totals.Overruns - m.lastStats.Overruns,
	}
	m.lastStats = totals

	return stats
}

// Totals returns the cumulative counters of the state machine. It may be called concurrently
// to Step()
func (m *Machine) Totals() Stats {
	first, second := int(m.halvesSent[0].Load()), int(m.halvesSent[1].Load())

	return Stats{
		SegmentsSent: first + second,
		HalvesSent:   [2]int{first, second},
		Overruns:     int(m.overruns.Load()),
	}
}

// Reset returns the machine to its initial state (counters are retained)
func (m *Machine) Reset() {
	m.state = AwaitFirstHalf
	m.haveLastEpoch = false
}

////////////////////////////////////////////////////////////////////////////////

func (m *Machine) transition(to State) {
	from := m.state
	m.state = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
}

func (m *Machine) send(half int) {
	m.sink.Send(m.buf.Half(half))
	m.halvesSent[half].Add(1)
}

// A regular cycle wraps the ring exactly once between two sends of the first half
func (m *Machine) trackEpoch() {
	epoch := m.buf.Epoch()
	if m.haveLastEpoch && epoch-m.lastEpoch > 1 {
		m.overruns.Add(uint64(epoch - m.lastEpoch - 1))
	}
	m.lastEpoch, m.haveLastEpoch = epoch, true
}
