/*
Package filter provides classic BPF programs and size helpers for the segment datagrams exchanged
between streamer and listener.
*/
package filter

import (
	"fmt"

	"golang.org/x/net/bpf"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// UDPHeaderLen denotes the length of the UDP header, which is part of the data visible to a
// filter attached to a UDP socket
const UDPHeaderLen = 8

const acceptAll = 0xFFFFFFFF

// SegmentLength returns a BPF program accepting only datagrams carrying a payload of exactly size
// bytes (everything else is dropped)
func SegmentLength(size int) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadExtension{Num: bpf.ExtLen},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(UDPHeaderLen + size), SkipTrue: 1},
		bpf.RetConstant{Val: acceptAll},
		bpf.RetConstant{Val: 0},
	}
}

// Assemble returns the raw (assembled) segment length filter, ready to be attached to a socket
func Assemble(size int) ([]bpf.RawInstruction, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid segment size %d", size)
	}

	raw, err := bpf.Assemble(SegmentLength(size))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble segment filter: %w", err)
	}

	return raw, nil
}

// MaxSegmentSize returns the largest segment that can be transmitted in a single (unfragmented)
// datagram over a link with the given MTU
func MaxSegmentSize(mtu int, isIPv6 bool) int {
	if isIPv6 {
		return mtu - ipv6.HeaderLen - UDPHeaderLen
	}

	return mtu - ipv4.HeaderLen - UDPHeaderLen
}
