package graw

import (
	"encoding/binary"
	"fmt"
)

// RawFrame is one undecoded frame exactly as it was read from a file.
// It is never modified after it is created.
type RawFrame struct {
	data []byte
}

// NewRawFrame wraps data without copying it. The caller must not modify data afterwards.
func NewRawFrame(data []byte) RawFrame {
	return RawFrame{data: data}
}

// Bytes returns the frame contents.
func (r RawFrame) Bytes() []byte {
	return r.data
}

// Len returns the frame size in bytes.
func (r RawFrame) Len() int {
	return len(r.data)
}

// Metadata is the cheap part of a frame header: where the frame is, how big
// it is, and which event it belongs to.
type Metadata struct {
	Offset    int64 // position of the frame in its file
	Size      int   // frame length in bytes
	EventID   uint32
	EventTime uint64
	CoboID    uint8
	AsadID    uint8
}

// metadataLength is the number of header bytes PeekMetadata needs.
const metadataLength = 28

// PeekMetadata reads the size and event identity from the start of a frame
// header without decoding the rest.
func PeekMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if len(b) < metadataLength {
		return m, fmt.Errorf("%w: %d bytes is too short for a frame header", ErrFrameRead, len(b))
	}
	units := int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	m.Size = units * SizeUnit
	var t [6]byte
	copy(t[:], b[16:22])
	m.EventTime = uint48(t)
	m.EventID = binary.BigEndian.Uint32(b[22:26])
	m.CoboID = b[26]
	m.AsadID = b[27]
	return m, nil
}

// Metadata returns the header metadata of the frame.
func (r RawFrame) Metadata() (Metadata, error) {
	return PeekMetadata(r.data)
}
