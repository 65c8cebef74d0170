package merger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/attpc/merger/hardware"
)

// Sizes and markers of the binary event record. All fields are little-endian.
const (
	RecordMagic           = 0xEE
	RecordHeaderSize      = 1 + 4 + 4 + 8 + 2 // magic, totalSize, eventId, eventTime, traceCount
	TraceRecordHeaderSize = 4 + 4 + 2         // size, cobo/asad/aget/channel, pad
	maxTracesPerRecord    = 0xffff
	maxTraceRecordSize    = TraceRecordHeaderSize + hardware.NumTimeBuckets*PackedSampleSize
)

// ErrBadRecord means bytes could not be decoded as an event record.
var ErrBadRecord = errors.New("malformed event record")

// RecordSize returns the number of bytes the event's record will take.
func (e *Event) RecordSize() int {
	n := RecordHeaderSize
	for _, tr := range e.traces {
		n += TraceRecordHeaderSize + tr.Len()*PackedSampleSize
	}
	return n
}

// AppendBinary appends the event record to b. Traces are written in address
// order and samples in time-bucket order.
func (e *Event) AppendBinary(b []byte) ([]byte, error) {
	if len(e.traces) > maxTracesPerRecord {
		return b, fmt.Errorf("event %d has %d traces, a record holds at most %d",
			e.ID, len(e.traces), maxTracesPerRecord)
	}
	b = append(b, RecordMagic)
	b = binary.LittleEndian.AppendUint32(b, uint32(e.RecordSize()))
	b = binary.LittleEndian.AppendUint32(b, e.ID)
	b = binary.LittleEndian.AppendUint64(b, e.Time)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(e.traces)))
	for tr := range e.Traces() {
		b = binary.LittleEndian.AppendUint32(b, uint32(TraceRecordHeaderSize+tr.Len()*PackedSampleSize))
		b = append(b, tr.Cobo, tr.Asad, tr.Aget, tr.Channel)
		b = binary.LittleEndian.AppendUint16(b, tr.Pad)
		var packed [PackedSampleSize]byte
		for tb, v := range tr.Samples() {
			putPacked(packed[:], PackSample(tb, v))
			b = append(b, packed[:]...)
		}
	}
	return b, nil
}

// MarshalBinary returns the event record.
func (e *Event) MarshalBinary() ([]byte, error) {
	return e.AppendBinary(make([]byte, 0, e.RecordSize()))
}

// UnmarshalBinary replaces the contents of e with the record in data, which
// must hold exactly one record. The event keeps its pad lookup, if any.
func (e *Event) UnmarshalBinary(data []byte) error {
	n, err := e.decodeRecord(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadRecord, len(data)-n)
	}
	return nil
}

// RecordLength returns the total size declared by the record starting at
// data, which must hold at least the first 5 bytes.
func RecordLength(data []byte) (int, error) {
	if len(data) < 5 {
		return 0, fmt.Errorf("%w: %d bytes cannot hold a record size", ErrBadRecord, len(data))
	}
	if data[0] != RecordMagic {
		return 0, fmt.Errorf("%w: magic is 0x%02x, want 0x%02x", ErrBadRecord, data[0], RecordMagic)
	}
	size := int(binary.LittleEndian.Uint32(data[1:]))
	if size < RecordHeaderSize {
		return 0, fmt.Errorf("%w: total size %d is less than the %d-byte header", ErrBadRecord, size, RecordHeaderSize)
	}
	return size, nil
}

func (e *Event) decodeRecord(data []byte) (int, error) {
	size, err := RecordLength(data)
	if err != nil {
		return 0, err
	}
	if size > len(data) {
		return 0, fmt.Errorf("%w: record of %d bytes, only %d available", ErrBadRecord, size, len(data))
	}
	data = data[:size]
	e.ID = binary.LittleEndian.Uint32(data[5:])
	e.Time = binary.LittleEndian.Uint64(data[9:])
	ntraces := int(binary.LittleEndian.Uint16(data[17:]))
	e.traces = make(map[hardware.Address]*Trace, ntraces)

	pos := RecordHeaderSize
	for i := range ntraces {
		if pos+TraceRecordHeaderSize > size {
			return 0, fmt.Errorf("%w: trace %d of %d starts past the end of the record", ErrBadRecord, i, ntraces)
		}
		tsize := int(binary.LittleEndian.Uint32(data[pos:]))
		if tsize < TraceRecordHeaderSize || tsize > maxTraceRecordSize || pos+tsize > size ||
			(tsize-TraceRecordHeaderSize)%PackedSampleSize != 0 {
			return 0, fmt.Errorf("%w: trace %d has size %d", ErrBadRecord, i, tsize)
		}
		a, err := hardware.NewAddress(data[pos+4], data[pos+5], data[pos+6], data[pos+7])
		if err != nil {
			return 0, fmt.Errorf("%w: trace %d: %w", ErrBadRecord, i, err)
		}
		tr := NewTrace(a, binary.LittleEndian.Uint16(data[pos+8:]))
		for p := pos + TraceRecordHeaderSize; p < pos+tsize; p += PackedSampleSize {
			tr.AppendSample(UnpackSample(getPacked(data[p:])))
		}
		e.traces[a] = tr
		pos += tsize
	}
	if pos != size {
		return 0, fmt.Errorf("%w: traces end at byte %d of a %d-byte record", ErrBadRecord, pos, size)
	}
	return size, nil
}

// DecodeRecord decodes the first record in data and returns the event and
// the number of bytes consumed.
func DecodeRecord(data []byte) (*Event, int, error) {
	e := &Event{}
	n, err := e.decodeRecord(data)
	if err != nil {
		return nil, 0, err
	}
	return e, n, nil
}
