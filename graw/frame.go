// Package graw reads and decodes the GRAW frames written by the GET
// data-acquisition electronics. Every frame carries the samples of one
// (CoBo, AsAd) pair for one event. All multi-byte fields are big-endian and
// sizes are counted in 256-byte units.
package graw

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/attpc/merger/hardware"
)

// FrameType says how the data items of a frame are encoded.
type FrameType uint16

// The two frame types written by the CoBo.
const (
	PartialReadout FrameType = 1 // 4-byte items carrying their own channel and time bucket
	FullReadout    FrameType = 2 // 2-byte items in raster order
)

func (t FrameType) String() string {
	switch t {
	case PartialReadout:
		return "partial"
	case FullReadout:
		return "full"
	}
	return fmt.Sprintf("FrameType(%d)", uint16(t))
}

// ItemSize returns the size in bytes of one data item for this frame type.
func (t FrameType) ItemSize() uint16 {
	if t == FullReadout {
		return 2
	}
	return 4
}

// Constants of the frame layout.
const (
	SizeUnit         = 256 // frame and header sizes are counted in this many bytes
	MetaType         = 8   // expected value of the first header byte
	HeaderUnits      = 1   // header size, in units
	RawHeaderLength  = 75  // bytes of the header that carry fields
	fullReadoutDepth = hardware.NumTimeBuckets * hardware.NumChannels
)

// wireHeader mirrors the first RawHeaderLength bytes of a frame.
type wireHeader struct {
	MetaType     uint8
	FrameSize    [3]byte
	DataSource   uint8
	FrameType    uint16
	Revision     uint8
	HeaderSize   uint16
	ItemSize     uint16
	NItems       uint32
	EventTime    [6]byte
	EventID      uint32
	CoboID       uint8
	AsadID       uint8
	ReadOffset   uint16
	Status       uint8
	HitPatterns  [hardware.NumAgets]HitPattern
	Multiplicity [hardware.NumAgets]uint16
}

// Header holds the decoded header fields of a frame, after self-correction.
type Header struct {
	MetaType     uint8
	FrameSize    uint32 // in units of SizeUnit
	DataSource   uint8
	FrameType    FrameType
	Revision     uint8
	HeaderSize   uint16 // in units of SizeUnit
	ItemSize     uint16 // in bytes
	NItems       uint32
	EventTime    uint64 // 48-bit timestamp
	EventID      uint32
	CoboID       uint8
	AsadID       uint8
	ReadOffset   uint16
	Status       uint8
	HitPatterns  [hardware.NumAgets]HitPattern
	Multiplicity [hardware.NumAgets]uint16
}

// Item is one decoded sample.
type Item struct {
	Aget       uint8
	Channel    uint8
	TimeBucket uint16
	Sample     uint16 // 12 bits as stored
}

// Diagnostics records the non-fatal problems found while decoding a frame.
type Diagnostics struct {
	Corrections      []string // header fields that were inconsistent and have been replaced
	MissingHits      int      // hit-pattern bits declared in the header without any data
	UnexpectedHits   int      // channels with data whose hit-pattern bit is clear
	ShortFullReadout bool     // a full-readout AGET carried fewer than 512*68 items
}

// Clean reports whether decoding found nothing to complain about.
func (d *Diagnostics) Clean() bool {
	return len(d.Corrections) == 0 && d.MissingHits == 0 && d.UnexpectedHits == 0 && !d.ShortFullReadout
}

func (d *Diagnostics) correct(format string, args ...any) {
	d.Corrections = append(d.Corrections, fmt.Sprintf(format, args...))
}

// Frame is a fully decoded GRAW frame.
type Frame struct {
	Header
	Items       []Item
	Diagnostics Diagnostics
}

// DecodeHeader parses and self-corrects the header of raw. Only a frame too
// short to hold a header or one of an unknown frame type is an error.
func DecodeHeader(raw []byte, diag *Diagnostics) (Header, error) {
	var h Header
	if len(raw) < HeaderUnits*SizeUnit {
		return h, fmt.Errorf("%w: frame of %d bytes is shorter than its %d-byte header",
			ErrFrameRead, len(raw), HeaderUnits*SizeUnit)
	}
	var w wireHeader
	if err := binary.Read(bytes.NewReader(raw[:RawHeaderLength]), binary.BigEndian, &w); err != nil {
		return h, fmt.Errorf("%w: %w", ErrFrameRead, err)
	}
	h = Header{
		MetaType:     w.MetaType,
		FrameSize:    uint32(w.FrameSize[0])<<16 | uint32(w.FrameSize[1])<<8 | uint32(w.FrameSize[2]),
		DataSource:   w.DataSource,
		FrameType:    FrameType(w.FrameType),
		Revision:     w.Revision,
		HeaderSize:   w.HeaderSize,
		ItemSize:     w.ItemSize,
		NItems:       w.NItems,
		EventTime:    uint48(w.EventTime),
		EventID:      w.EventID,
		CoboID:       w.CoboID,
		AsadID:       w.AsadID,
		ReadOffset:   w.ReadOffset,
		Status:       w.Status,
		HitPatterns:  w.HitPatterns,
		Multiplicity: w.Multiplicity,
	}

	if h.MetaType != MetaType {
		diag.correct("metaType is %d, want %d", h.MetaType, MetaType)
	}
	if h.FrameType != PartialReadout && h.FrameType != FullReadout {
		return h, fmt.Errorf("%w: frame type is %d, want %d or %d",
			ErrBadData, h.FrameType, PartialReadout, FullReadout)
	}
	if actual := uint32(len(raw) / SizeUnit); h.FrameSize != actual || len(raw)%SizeUnit != 0 {
		diag.correct("frameSize is %d units, frame holds %d bytes", h.FrameSize, len(raw))
		h.FrameSize = actual
	}
	if h.HeaderSize != HeaderUnits {
		diag.correct("headerSize is %d units, want %d", h.HeaderSize, HeaderUnits)
		h.HeaderSize = HeaderUnits
	}
	if want := h.FrameType.ItemSize(); h.ItemSize != want {
		diag.correct("itemSize is %d for a %v frame, want %d", h.ItemSize, h.FrameType, want)
		h.ItemSize = want
	}
	capacity := (h.FrameSize - uint32(h.HeaderSize)) * SizeUnit / uint32(h.ItemSize)
	if h.NItems > capacity {
		diag.correct("nItems is %d, payload holds only %d", h.NItems, capacity)
		h.NItems = capacity
	}
	return h, nil
}

// Decode parses a raw frame. Protocol problems that can be repaired are
// recorded in the frame's Diagnostics; an error means the frame is unusable.
func Decode(raw RawFrame) (*Frame, error) {
	f := new(Frame)
	data := raw.Bytes()
	h, err := DecodeHeader(data, &f.Diagnostics)
	if err != nil {
		return nil, err
	}
	f.Header = h
	if h.CoboID >= hardware.NumCobos || h.AsadID >= hardware.NumAsads {
		return nil, fmt.Errorf("%w: event %d comes from cobo %d asad %d",
			ErrBadData, h.EventID, h.CoboID, h.AsadID)
	}
	payload := data[int(h.HeaderSize)*SizeUnit:]
	payload = payload[:int(h.NItems)*int(h.ItemSize)]

	switch h.FrameType {
	case PartialReadout:
		err = f.decodePartial(payload)
	case FullReadout:
		err = f.decodeFull(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("event %d cobo %d asad %d: %w", h.EventID, h.CoboID, h.AsadID, err)
	}
	f.checkHitPatterns()
	return f, nil
}

func (f *Frame) decodePartial(payload []byte) error {
	f.Items = make([]Item, f.NItems)
	for i := range f.Items {
		w := binary.BigEndian.Uint32(payload[4*i:])
		item := Item{
			Aget:       uint8(w >> 30),
			Channel:    uint8((w >> 23) & 0x7f),
			TimeBucket: uint16((w >> 14) & 0x1ff),
			Sample:     uint16(w & 0xfff),
		}
		if item.Aget >= hardware.NumAgets || item.Channel >= hardware.NumChannels ||
			item.TimeBucket >= hardware.NumTimeBuckets {
			return fmt.Errorf("%w: item %d has aget %d channel %d time bucket %d",
				ErrBadData, i, item.Aget, item.Channel, item.TimeBucket)
		}
		f.Items[i] = item
	}
	return nil
}

// decodeFull assigns channel and time bucket from each AGET's own item count:
// the hardware sends every channel of time bucket 0, then of bucket 1, and so on.
func (f *Frame) decodeFull(payload []byte) error {
	var next [hardware.NumAgets]int
	f.Items = make([]Item, f.NItems)
	for i := range f.Items {
		w := binary.BigEndian.Uint16(payload[2*i:])
		aget := uint8(w >> 14)
		n := next[aget]
		if n >= fullReadoutDepth {
			return fmt.Errorf("%w: aget %d has more than %d full-readout items",
				ErrBadData, aget, fullReadoutDepth)
		}
		next[aget]++
		f.Items[i] = Item{
			Aget:       aget,
			Channel:    uint8(n % hardware.NumChannels),
			TimeBucket: uint16(n / hardware.NumChannels),
			Sample:     w & 0xfff,
		}
	}
	for _, n := range next {
		if n > 0 && n != fullReadoutDepth {
			f.Diagnostics.ShortFullReadout = true
		}
	}
	return nil
}

// checkHitPatterns rebuilds the hit patterns from the decoded items and
// compares them with what the header declared.
func (f *Frame) checkHitPatterns() {
	var seen [hardware.NumAgets]HitPattern
	for _, item := range f.Items {
		seen[item.Aget].Set(item.Channel)
	}
	for aget := range seen {
		missing, unexpected := f.HitPatterns[aget].Compare(seen[aget])
		f.Diagnostics.MissingHits += missing
		f.Diagnostics.UnexpectedHits += unexpected
	}
}

func uint48(b [6]byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
