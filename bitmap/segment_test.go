package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentWriteIncrementsToken(t *testing.T) {
	var s Segment
	tok0 := s.Token()
	s.Write(0b101, true)
	require.Equal(t, uint8(tok0+1), s.Token())
	require.Equal(t, uint64(0b101), s.Payload())
}

func TestSegmentTryUpdateBitTokenMismatch(t *testing.T) {
	var s Segment
	s.Write(0, true)
	badToken := s.Token() + 1
	require.False(t, s.TryUpdateBit(3, badToken, true))
	require.False(t, s.IsBitSet(3))

	goodToken := s.Token()
	require.True(t, s.TryUpdateBit(3, goodToken, true))
	require.True(t, s.IsBitSet(3))
}

func TestSegmentInsertBitAtShiftsUp(t *testing.T) {
	var s Segment
	s.Write(0b0110, true) // bits 1,2 set, capacity 4
	overflow := s.InsertBitAt(1, 4, true)
	require.False(t, overflow)
	// original: bit0=0 bit1=1 bit2=1 bit3=0
	// insert true at index1: bit0=0 bit1=1(new) bit2=1(old bit1) bit3=1(old bit2)
	require.Equal(t, uint64(0b1110), s.Payload())
}

func TestSegmentInsertBitAtOverflow(t *testing.T) {
	var s Segment
	s.Write(0b1000, true) // capacity 4, top bit set
	overflow := s.InsertBitAt(0, 4, false)
	require.True(t, overflow)
}

func TestSegmentRemoveBitAtShiftsDown(t *testing.T) {
	var s Segment
	s.Write(0b1110, true) // bit0=0 bit1=1 bit2=1 bit3=1
	removed := s.RemoveBitAt(1, 4, false)
	require.True(t, removed)
	// after removing index1: bit0=0(old bit0) bit1=1(old bit2) bit2=1(old bit3) bit3=carryIn(0)
	require.Equal(t, uint64(0b0110), s.Payload())
}

func TestSegmentRemoveBitAtCarryIn(t *testing.T) {
	var s Segment
	s.Write(0b0000, true)
	s.RemoveBitAt(0, 4, true)
	require.True(t, s.IsBitSet(3))
}

func TestSegmentPopCountAndEmptyFull(t *testing.T) {
	var s Segment
	require.True(t, s.IsEmptyUnsafe(8))
	require.False(t, s.IsFullUnsafe(8))

	s.Write(0xFF, true)
	require.True(t, s.IsFullUnsafe(8))
	require.Equal(t, 8, s.PopCount(8))
}
