package merger

import (
	"iter"
	"maps"
	"slices"

	"github.com/attpc/merger/graw"
	"github.com/attpc/merger/hardware"
	"github.com/attpc/merger/lookup"
)

// PadLookup maps a hardware address to its pad number, returning
// hardware.MissingPad for unmapped channels. *lookup.Table[uint16] is one.
type PadLookup interface {
	Find(hardware.Address) uint16
}

// noPads reports whether p cannot resolve pads, including a nil table
// stored in the interface.
func noPads(p PadLookup) bool {
	if p == nil {
		return true
	}
	t, ok := p.(*lookup.Table[uint16])
	return ok && t == nil
}

// Event is the set of traces recorded by all CoBos for one trigger.
type Event struct {
	ID   uint32
	Time uint64

	// Frames counts the frames merged into the event.
	Frames int
	// IDMismatches and TimeMismatches count frames whose header disagreed
	// with the ID or time latched from the event's first frame.
	IDMismatches   int
	TimeMismatches int

	traces map[hardware.Address]*Trace
	pads   PadLookup
}

// NewEvent returns an empty event that assigns pads through pads.
func NewEvent(pads PadLookup) *Event {
	return &Event{
		traces: make(map[hardware.Address]*Trace),
		pads:   pads,
	}
}

// AppendFrame merges every item of f into the event. The first frame fixes
// the event's ID and time; later frames that disagree are counted but still
// merged. Items for an address already holding a sample at the same time
// bucket overwrite it.
func (e *Event) AppendFrame(f *graw.Frame) error {
	if noPads(e.pads) {
		return ErrNotInit
	}
	if e.traces == nil {
		e.traces = make(map[hardware.Address]*Trace)
	}
	if e.Frames == 0 {
		e.ID = f.EventID
		e.Time = f.EventTime
	} else {
		if f.EventID != e.ID {
			e.IDMismatches++
		}
		if f.EventTime != e.Time {
			e.TimeMismatches++
		}
	}
	e.Frames++

	addr := hardware.Address{Cobo: f.CoboID, Asad: f.AsadID}
	var tr *Trace
	for _, item := range f.Items {
		addr.Aget, addr.Channel = item.Aget, item.Channel
		if tr == nil || tr.Aget != item.Aget || tr.Channel != item.Channel {
			tr = e.traces[addr]
			if tr == nil {
				tr = NewTrace(addr, e.pads.Find(addr))
				e.traces[addr] = tr
			}
		}
		if err := tr.AppendSample(item.TimeBucket, int16(item.Sample)); err != nil {
			return err
		}
	}
	return nil
}

// AddTrace inserts t, replacing any trace already at its address.
func (e *Event) AddTrace(t *Trace) {
	if e.traces == nil {
		e.traces = make(map[hardware.Address]*Trace)
	}
	e.traces[t.Address()] = t
}

// RemoveTrace deletes the trace at a, if any.
func (e *Event) RemoveTrace(a hardware.Address) {
	delete(e.traces, a)
}

// NumTraces returns the number of traces in the event.
func (e *Event) NumTraces() int {
	return len(e.traces)
}

// Trace returns the trace at a, or nil.
func (e *Event) Trace(a hardware.Address) *Trace {
	return e.traces[a]
}

// Traces iterates over the traces in address order.
func (e *Event) Traces() iter.Seq[*Trace] {
	return func(yield func(*Trace) bool) {
		for _, a := range slices.SortedFunc(maps.Keys(e.traces), hardware.Address.Compare) {
			if !yield(e.traces[a]) {
				return
			}
		}
	}
}
