package merger

// Layout of a packed sample: the time bucket in bits 23:15, the sign in
// bit 12, the magnitude in bits 11:0.
const (
	packedTBShift  = 15
	packedTBMask   = 0x1ff
	packedSignBit  = 1 << 12
	packedMaxValue = 0xfff

	// PackedSampleSize is the number of bytes a packed sample takes in a record.
	PackedSampleSize = 3
)

// PackSample encodes one sample as a 24-bit code. Magnitudes above 4095
// saturate at 4095.
func PackSample(tb uint16, v int16) uint32 {
	code := uint32(tb&packedTBMask) << packedTBShift
	mag := int32(v)
	if mag < 0 {
		code |= packedSignBit
		mag = -mag
	}
	return code | uint32(min(mag, packedMaxValue))
}

// UnpackSample decodes a code made by PackSample.
func UnpackSample(code uint32) (tb uint16, v int16) {
	tb = uint16(code>>packedTBShift) & packedTBMask
	v = int16(code & packedMaxValue)
	if code&packedSignBit != 0 {
		v = -v
	}
	return tb, v
}

func putPacked(b []byte, code uint32) {
	b[0] = byte(code)
	b[1] = byte(code >> 8)
	b[2] = byte(code >> 16)
}

func getPacked(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
