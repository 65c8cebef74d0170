// Package merger builds detector events out of the GRAW frames recorded by
// many CoBo boards, each in its own file. Frames are read from every file in
// parallel, grouped into events by event id, cleaned of electronic noise and
// written to a single event file.
//
// The work is split between three kinds of goroutines connected by bounded
// queues: one reader per input file, a pool of event builders, and a single
// writer. Readers route each frame to the builder owning its event id, so a
// given event is only ever assembled by one builder.
package merger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/attpc/merger/graw"
	"github.com/attpc/merger/internal/syncqueue"
	"golang.org/x/sync/errgroup"
)

// EventSink receives finished events, one call per event, in the order they
// were finished.
type EventSink interface {
	WriteEvent(*Event) error
}

// Options controls the pipeline of a Merger.
type Options struct {
	Builders    int // number of event builders (at least 1)
	QueueSize   int // capacity of every queue
	CacheSize   int // open events each builder may hold
	IndexFrames int // frames scanned per input by the FileIndex
	MaxEvents   int // stop after this many events are written; 0 means no limit
	Verbose     bool
	Clean       CleanOptions
}

// DefaultOptions returns the options used by DefaultConfig.
func DefaultOptions() Options {
	cfg := DefaultConfig()
	return cfg.Options(nil)
}

// Merger merges the frames of several GRAW files into events.
type Merger struct {
	files []*graw.File
	pads  PadLookup
	sink  EventSink
	opt   Options
	index *FileIndex

	sourceFrames []atomic.Int64

	// Stats is updated while Run works.
	Stats Stats
}

// errMaxEvents stops the pipeline once enough events are written.
var errMaxEvents = errors.New("event limit reached")

// NewMerger prepares a merge of files into sink, assigning pads through pads.
// The files are indexed here, so NewMerger reads the start of each one.
func NewMerger(files []*graw.File, pads PadLookup, sink EventSink, opt Options) (*Merger, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files: %w", ErrNoData)
	}
	if noPads(pads) {
		return nil, ErrNotInit
	}
	if sink == nil {
		return nil, errors.New("merger needs an event sink")
	}
	opt.Builders = max(opt.Builders, 1)
	opt.QueueSize = max(opt.QueueSize, 1)
	opt.CacheSize = max(opt.CacheSize, 1)
	m := &Merger{
		files: files,
		pads:  pads,
		sink:  sink,
		opt:   opt,
		index: BuildFileIndex(files, opt.IndexFrames),

		sourceFrames: make([]atomic.Int64, len(files)),
	}
	if first, ok := m.index.Min(); ok {
		UpdateLogger.Printf("Indexed %d inputs, first event id %d", len(files), first)
	} else {
		ProblemLogger.Printf("None of the %d inputs holds a readable frame", len(files))
	}
	return m, nil
}

// Index returns the FileIndex of the inputs.
func (m *Merger) Index() *FileIndex {
	return m.index
}

// SourceFrames returns the number of frames read so far from the i-th input.
func (m *Merger) SourceFrames(i int) int64 {
	return m.sourceFrames[i].Load()
}

// Run merges all inputs. It returns once every frame is read and every event
// is written, or at the first fatal error. Cancelling ctx stops all goroutines.
// Frame-level problems are logged and counted in Stats but are not errors.
func (m *Merger) Run(ctx context.Context) error {
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)

	frameQueues := make([]*syncqueue.Queue[frameItem], m.opt.Builders)
	for i := range frameQueues {
		frameQueues[i] = syncqueue.New[frameItem](m.opt.QueueSize)
	}
	eventQueue := syncqueue.New[*Event](m.opt.QueueSize)

	// An aborted run must not leave any goroutine blocked on a queue.
	stop := context.AfterFunc(ctx, func() {
		for _, q := range frameQueues {
			q.Finish()
		}
		eventQueue.Finish()
	})
	defer stop()

	var readers sync.WaitGroup
	for i, f := range m.files {
		r := &reader{source: i, file: f, queues: frameQueues, stats: &m.Stats, frames: &m.sourceFrames[i]}
		readers.Add(1)
		g.Go(func() error {
			defer readers.Done()
			return r.run(ctx)
		})
	}
	g.Go(func() error {
		readers.Wait()
		for _, q := range frameQueues {
			q.Finish()
		}
		return nil
	})

	minimums, active := m.index.Frontier()
	var builders sync.WaitGroup
	for i, q := range frameQueues {
		b := newBuilder(i, m, q, eventQueue, minimums, active)
		builders.Add(1)
		g.Go(func() error {
			defer builders.Done()
			return b.run(ctx)
		})
	}
	g.Go(func() error {
		builders.Wait()
		eventQueue.Finish()
		return nil
	})

	w := &writer{sink: m.sink, queue: eventQueue, stats: &m.Stats, maxEvents: m.opt.MaxEvents}
	g.Go(func() error {
		return w.run(ctx)
	})

	err := g.Wait()
	if errors.Is(err, errMaxEvents) {
		UpdateLogger.Printf("Stopped after %d events", m.opt.MaxEvents)
		err = nil
	}
	UpdateLogger.Printf("Merge finished in %v: %v", time.Since(start).Round(time.Millisecond), m.Stats.Snapshot())
	return err
}
