// Package hardware describes the addressing of the GET front-end electronics:
// CoBo boards carry up to 4 AsAd boards, each AsAd carries 4 AGET chips, and
// each AGET reads out 68 channels.
package hardware

import (
	"cmp"
	"fmt"
)

// Limits on each level of the electronics hierarchy. A valid address has every
// field strictly below its limit.
const (
	NumCobos    = 10
	NumAsads    = 4
	NumAgets    = 4
	NumChannels = 68

	// NumTimeBuckets is the depth of the AGET switched-capacitor array.
	NumTimeBuckets = 512

	// MaxPad is the largest pad number on the detector plane.
	MaxPad = 10239

	// MissingPad marks an address whose pad is unknown.
	MissingPad uint16 = 20000
)

// FPNChannels are the four channels of each AGET that are not connected to
// a pad and carry only the chip's fixed-pattern noise.
var FPNChannels = [4]uint8{11, 22, 45, 56}

// IsFPNChannel reports whether ch is one of the FPN channels.
func IsFPNChannel(ch uint8) bool {
	for _, f := range FPNChannels {
		if ch == f {
			return true
		}
	}
	return false
}

// Address identifies one physical channel. It is comparable and is used
// directly as a map key. The pad number is deliberately not part of it: the pad
// is looked up from the address and travels with the Trace.
type Address struct {
	Cobo    uint8
	Asad    uint8
	Aget    uint8
	Channel uint8
}

// NewAddress returns the address, or an error if any field is out of range.
func NewAddress(cobo, asad, aget, channel uint8) (Address, error) {
	a := Address{Cobo: cobo, Asad: asad, Aget: aget, Channel: channel}
	if !a.Valid() {
		return a, fmt.Errorf("address %v out of range", a)
	}
	return a, nil
}

// Valid reports whether every field is inside the electronics limits.
func (a Address) Valid() bool {
	return a.Cobo < NumCobos && a.Asad < NumAsads && a.Aget < NumAgets && a.Channel < NumChannels
}

// Chip returns the address with the channel cleared, which identifies the AGET.
func (a Address) Chip() Address {
	return Address{Cobo: a.Cobo, Asad: a.Asad, Aget: a.Aget}
}

// Compare orders addresses by cobo, then asad, aget and channel. It returns
// -1, 0 or +1 like cmp.Compare.
func (a Address) Compare(b Address) int {
	return cmp.Compare(a.key(), b.key())
}

func (a Address) key() uint32 {
	return uint32(a.Cobo)<<24 | uint32(a.Asad)<<16 | uint32(a.Aget)<<8 | uint32(a.Channel)
}

func (a Address) String() string {
	return fmt.Sprintf("cobo %d asad %d aget %d ch %d", a.Cobo, a.Asad, a.Aget, a.Channel)
}

// ValidPad reports whether pad is a real pad number rather than the missing sentinel.
func ValidPad(pad uint16) bool {
	return pad <= MaxPad
}
