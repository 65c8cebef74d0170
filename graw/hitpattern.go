package graw

import "math/bits"

// HitPattern is the 72-bit per-AGET channel bitmap in wire order. The bytes
// form one big-endian number whose bit c flags channel c, so channel 0 is the
// lowest bit of the last byte.
type HitPattern [9]byte

// Has reports whether the bit for channel ch is set.
func (h HitPattern) Has(ch uint8) bool {
	if int(ch) >= 8*len(h) {
		return false
	}
	return h[8-ch/8]&(1<<(ch%8)) != 0
}

// Set sets the bit for channel ch.
func (h *HitPattern) Set(ch uint8) {
	if int(ch) >= 8*len(h) {
		return
	}
	h[8-ch/8] |= 1 << (ch % 8)
}

// Count returns the number of set bits.
func (h HitPattern) Count() int {
	n := 0
	for _, b := range h {
		n += bits.OnesCount8(b)
	}
	return n
}

// Compare returns the number of bits set in h but not in observed (missing),
// and set in observed but not in h (unexpected).
func (h HitPattern) Compare(observed HitPattern) (missing, unexpected int) {
	for i := range h {
		missing += bits.OnesCount8(h[i] &^ observed[i])
		unexpected += bits.OnesCount8(observed[i] &^ h[i])
	}
	return
}
