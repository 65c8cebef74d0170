package graw

import (
	"bytes"
	"encoding/binary"

	"github.com/attpc/merger/hardware"
)

// FrameBuilder assembles the bytes of a well-formed frame. It is used to
// generate synthetic data and test input.
type FrameBuilder struct {
	Type       FrameType
	CoboID     uint8
	AsadID     uint8
	EventID    uint32
	EventTime  uint64
	DataSource uint8
	Revision   uint8

	items []Item
	full  [hardware.NumAgets][]uint16
}

// NewFrameBuilder starts an empty frame.
func NewFrameBuilder(t FrameType, cobo, asad uint8, eventID uint32, eventTime uint64) *FrameBuilder {
	return &FrameBuilder{Type: t, CoboID: cobo, AsadID: asad, EventID: eventID, EventTime: eventTime}
}

// AddSample adds one sample. Values are masked to the field widths, so callers
// wanting invalid items must write them by hand.
func (b *FrameBuilder) AddSample(aget, channel uint8, tb uint16, sample uint16) {
	if b.Type == FullReadout {
		aget &= 3
		if b.full[aget] == nil {
			b.full[aget] = make([]uint16, fullReadoutDepth)
		}
		if channel < hardware.NumChannels && tb < hardware.NumTimeBuckets {
			b.full[aget][int(tb)*hardware.NumChannels+int(channel)] = sample & 0xfff
		}
		return
	}
	b.items = append(b.items, Item{Aget: aget & 3, Channel: channel & 0x7f, TimeBucket: tb & 0x1ff, Sample: sample & 0xfff})
}

// NumItems returns the number of data items the frame will carry.
func (b *FrameBuilder) NumItems() int {
	if b.Type != FullReadout {
		return len(b.items)
	}
	n := 0
	for _, a := range b.full {
		n += len(a)
	}
	return n
}

// Bytes encodes the frame, with its size rounded up to whole units.
func (b *FrameBuilder) Bytes() []byte {
	nItems := b.NumItems()
	itemSize := int(b.Type.ItemSize())
	units := HeaderUnits + (nItems*itemSize+SizeUnit-1)/SizeUnit

	w := wireHeader{
		MetaType:   MetaType,
		FrameSize:  [3]byte{byte(units >> 16), byte(units >> 8), byte(units)},
		DataSource: b.DataSource,
		FrameType:  uint16(b.Type),
		Revision:   b.Revision,
		HeaderSize: HeaderUnits,
		ItemSize:   uint16(itemSize),
		NItems:     uint32(nItems),
		EventID:    b.EventID,
		CoboID:     b.CoboID,
		AsadID:     b.AsadID,
	}
	for i := range w.EventTime {
		w.EventTime[i] = byte(b.EventTime >> (8 * (5 - i)))
	}

	payload := new(bytes.Buffer)
	if b.Type == FullReadout {
		for aget, a := range b.full {
			if a == nil {
				continue
			}
			w.Multiplicity[aget] = uint16(len(a))
			for ch := uint8(0); ch < hardware.NumChannels; ch++ {
				w.HitPatterns[aget].Set(ch)
			}
		}
		// Interleave the AGETs, the way the CoBo does.
		for n := 0; n < fullReadoutDepth; n++ {
			for aget, a := range b.full {
				if a != nil {
					binary.Write(payload, binary.BigEndian, uint16(aget)<<14|a[n])
				}
			}
		}
	} else {
		for _, item := range b.items {
			w.HitPatterns[item.Aget].Set(item.Channel)
			w.Multiplicity[item.Aget]++
			word := uint32(item.Aget)<<30 | uint32(item.Channel)<<23 |
				uint32(item.TimeBucket)<<14 | uint32(item.Sample)
			binary.Write(payload, binary.BigEndian, word)
		}
	}

	out := bytes.NewBuffer(make([]byte, 0, units*SizeUnit))
	binary.Write(out, binary.BigEndian, &w)
	out.Write(make([]byte, HeaderUnits*SizeUnit-RawHeaderLength))
	out.Write(payload.Bytes())
	out.Write(make([]byte, units*SizeUnit-out.Len()))
	return out.Bytes()
}
