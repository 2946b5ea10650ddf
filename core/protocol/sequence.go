// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wraparound-safe sequence arithmetic.

package protocol

// Distance returns the signed distance from-to between two sequence numbers
// that live in a widthBytes-wide space (1, 2, 4 or 8) and wrap around.
// Both values are shifted to the top of a 64-bit word, subtracted, and
// shifted back arithmetically so a wrap reads as a small step.
// Values exactly half the space apart have no sign: both directions
// return the most negative distance.
func Distance(from, to uint64, widthBytes int) int64 {
	shift := uint((8 - widthBytes) * 8)
	return (int64(from<<shift) - int64(to<<shift)) >> shift
}

// Distance16 is Distance for the 16-bit sequences used by channels.
func Distance16(from, to uint16) int {
	return int(Distance(uint64(from), uint64(to), 2))
}

// IsNewer16 reports whether seq is ahead of last.
func IsNewer16(seq, last uint16) bool {
	return Distance16(seq, last) > 0
}
