package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
)

func TestSegmentLength(t *testing.T) {
	for _, size := range []int{1, 128, 1024} {
		vm, err := bpf.NewVM(SegmentLength(size))
		require.Nil(t, err)

		for _, tc := range []struct {
			length   int
			accepted bool
		}{
			{UDPHeaderLen, false},
			{UDPHeaderLen + size - 1, false},
			{UDPHeaderLen + size, true},
			{UDPHeaderLen + size + 1, false},
			{2 * (UDPHeaderLen + size), false},
		} {
			n, err := vm.Run(make([]byte, tc.length))
			require.Nil(t, err)
			if tc.accepted {
				require.NotZero(t, n, "size %d, length %d", size, tc.length)
			} else {
				require.Zero(t, n, "size %d, length %d", size, tc.length)
			}
		}
	}
}

func TestAssemble(t *testing.T) {
	_, err := Assemble(0)
	require.NotNil(t, err)

	raw, err := Assemble(1024)
	require.Nil(t, err)
	require.Len(t, raw, 4)

	// Disassembling the raw program yields the original instructions
	insns, ok := bpf.Disassemble(raw)
	require.True(t, ok)
	require.Equal(t, SegmentLength(1024), insns)
}

func TestMaxSegmentSize(t *testing.T) {
	require.Equal(t, 1472, MaxSegmentSize(1500, false))
	require.Equal(t, 1452, MaxSegmentSize(1500, true))
	require.Greater(t, MaxSegmentSize(1500, false), 1024)
}
