package merger

import (
	"context"
	"errors"
	"math"

	"github.com/attpc/merger/graw"
	"github.com/attpc/merger/hardware"
	"github.com/attpc/merger/internal/syncqueue"
	"github.com/davecgh/go-spew/spew"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// builder assembles the events whose ids fall in its partition. It owns its
// cache of open events, so none of its state is shared.
//
// An open event is finished when it is pushed out of the cache by newer
// events, when every still-active input has moved past its id, or when the
// builder stops. Finishing cleans the event and hands it to the writer.
type builder struct {
	id    int
	m     *Merger
	in    *syncqueue.Queue[frameItem]
	out   *syncqueue.Queue[*Event]
	stats *Stats
	ctx   context.Context

	open *simplelru.LRU[uint32, *Event]

	// frontier[s] is the largest event id seen from source s; active[s] is
	// false once s has sent its last frame.
	frontier  []uint32
	active    []bool
	watermark uint32

	// completed holds the ids finished at or above floor; every id below
	// floor is finished too.
	completed map[uint32]struct{}
	floor     uint32

	finished int
	err      error // first error while finishing an event
}

func newBuilder(id int, m *Merger, in *syncqueue.Queue[frameItem], out *syncqueue.Queue[*Event],
	minimums []uint32, active []bool) *builder {
	b := &builder{
		id:        id,
		m:         m,
		in:        in,
		out:       out,
		stats:     &m.Stats,
		frontier:  append([]uint32(nil), minimums...),
		active:    append([]bool(nil), active...),
		completed: make(map[uint32]struct{}),
	}
	// NewLRU fails only for a non-positive size, which NewMerger rules out.
	b.open, _ = simplelru.NewLRU(m.opt.CacheSize, b.finish)
	b.watermark = b.lowWater()
	return b
}

func (b *builder) run(ctx context.Context) error {
	b.ctx = ctx
	for {
		item, err := b.in.Get(ctx)
		if errors.Is(err, syncqueue.ErrEndOfStream) {
			return b.flush()
		}
		if err != nil {
			return err
		}
		if item.done {
			b.active[item.source] = false
			b.advance()
		} else {
			b.handle(item)
		}
		if b.err != nil {
			return b.err
		}
	}
}

// handle decodes one frame and merges it into its event.
func (b *builder) handle(item frameItem) {
	name := b.m.files[item.source].Name()
	frame, err := graw.Decode(item.raw)
	if err != nil {
		b.stats.FramesSkipped.Add(1)
		ProblemLogger.Printf("%s: skipping frame at offset %d: %v", name, item.meta.Offset, err)
		if b.m.opt.Verbose {
			var diag graw.Diagnostics
			h, _ := graw.DecodeHeader(item.raw.Bytes(), &diag)
			DebugLogger.Printf("header of the skipped frame:\n%s", spew.Sdump(h))
		}
		return
	}
	b.report(name, item.meta.Offset, frame)

	id := frame.EventID
	if b.isFinished(id) {
		b.stats.LateFrames.Add(1)
		ProblemLogger.Printf("%s: frame at offset %d for event %d (cobo %d asad %d) arrived after the event was finished",
			name, item.meta.Offset, id, frame.CoboID, frame.AsadID)
		return
	}

	ev, ok := b.open.Get(id)
	if !ok {
		ev = NewEvent(b.m.pads)
		b.open.Add(id, ev)
		b.stats.EventsBuilt.Add(1)
	}
	timeMismatches := ev.TimeMismatches
	if err := ev.AppendFrame(frame); err != nil {
		b.err = err
		return
	}
	if ev.TimeMismatches > timeMismatches {
		b.stats.TimeMismatches.Add(1)
		ProblemLogger.Printf("%s: event %d has time %d in cobo %d asad %d, %d in its first frame",
			name, id, frame.EventTime, frame.CoboID, frame.AsadID, ev.Time)
	}

	if id > b.frontier[item.source] {
		b.frontier[item.source] = id
	}
	b.advance()
}

func (b *builder) report(name string, offset int64, f *graw.Frame) {
	d := &f.Diagnostics
	if d.Clean() {
		return
	}
	if len(d.Corrections) > 0 {
		b.stats.HeaderCorrections.Add(1)
		for _, c := range d.Corrections {
			ProblemLogger.Printf("%s: frame at offset %d: corrected %s", name, offset, c)
		}
	}
	if n := d.MissingHits + d.UnexpectedHits; n > 0 {
		b.stats.HitPatternMismatches.Add(int64(n))
		ProblemLogger.Printf("%s: event %d cobo %d asad %d: hit pattern has %d channels without data, %d data channels not flagged",
			name, f.EventID, f.CoboID, f.AsadID, d.MissingHits, d.UnexpectedHits)
	}
	if d.ShortFullReadout {
		ProblemLogger.Printf("%s: event %d cobo %d asad %d: full readout with fewer than %d samples per AGET",
			name, f.EventID, f.CoboID, f.AsadID, hardware.NumTimeBuckets*hardware.NumChannels)
	}
}

// lowWater returns the smallest frontier of the active sources. Every input
// has moved past the events below it.
func (b *builder) lowWater() uint32 {
	low := uint32(math.MaxUint32)
	found := false
	for s, f := range b.frontier {
		if b.active[s] && f < low {
			low = f
			found = true
		}
	}
	if !found {
		// No active input remains: nothing more can arrive.
		return math.MaxUint32
	}
	return low
}

// advance finishes the open events that fall below a raised watermark.
func (b *builder) advance() {
	w := b.lowWater()
	if w <= b.watermark {
		return
	}
	b.watermark = w
	for _, id := range b.open.Keys() {
		if id < w {
			b.open.Remove(id)
		}
	}
	b.prune()
}

// prune forgets finished ids below the watermark once there are many of them.
func (b *builder) prune() {
	if len(b.completed) < 4*b.m.opt.CacheSize || b.watermark == math.MaxUint32 {
		return
	}
	for id := range b.completed {
		if id < b.watermark {
			delete(b.completed, id)
		}
	}
	b.floor = max(b.floor, b.watermark)
}

func (b *builder) isFinished(id uint32) bool {
	if id < b.floor {
		return true
	}
	_, ok := b.completed[id]
	return ok
}

// finish is the eviction callback of the open-event cache.
func (b *builder) finish(id uint32, ev *Event) {
	b.completed[id] = struct{}{}
	b.finished++
	if b.err != nil {
		return
	}
	if err := ev.Clean(b.m.opt.Clean); err != nil {
		b.stats.EventsDropped.Add(1)
		ProblemLogger.Printf("dropping event %d: %v", id, err)
		return
	}
	if err := b.out.Put(b.ctx, ev); err != nil {
		if errors.Is(err, syncqueue.ErrFinished) && b.ctx.Err() != nil {
			err = b.ctx.Err()
		}
		b.err = err
	}
}

// flush finishes every open event, oldest first.
func (b *builder) flush() error {
	for b.err == nil {
		if _, _, ok := b.open.RemoveOldest(); !ok {
			break
		}
	}
	DebugLogger.Printf("builder %d done, %d events finished", b.id, b.finished)
	return b.err
}
