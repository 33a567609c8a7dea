package vt

import (
	"encoding/binary"
	"math/bits"
)

const (
	lows  = 0x0101010101010101
	highs = 0x8080808080808080
	// belowSpace subtracts 0x20 from every byte lane.
	belowSpace = 0x20 * lows
)

// FindControl returns the index of the first byte below 0x20 (which
// includes ESC) or len(b) when the slice is all printable. It examines
// 16 bytes per iteration as two 64-bit words.
func FindControl(b []byte) int {
	i := 0
	for ; i+16 <= len(b); i += 16 {
		lo := binary.LittleEndian.Uint64(b[i:])
		hi := binary.LittleEndian.Uint64(b[i+8:])
		if m := controlMask(lo); m != 0 {
			return i + bits.TrailingZeros64(m)/8
		}
		if m := controlMask(hi); m != 0 {
			return i + 8 + bits.TrailingZeros64(m)/8
		}
	}
	for ; i < len(b); i++ {
		if b[i] < 0x20 {
			return i
		}
	}
	return len(b)
}

// controlMask sets the high bit of every lane holding a byte < 0x20.
// Borrows can flag lanes above the first hit, so only the lowest set bit
// is reliable.
func controlMask(w uint64) uint64 {
	return (w - belowSpace) &^w & highs
}

func findControlScalar(b []byte) int {
	for i, c := range b {
		if c < 0x20 {
			return i
		}
	}
	return len(b)
}
