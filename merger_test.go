package merger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/attpc/merger/graw"
	"github.com/attpc/merger/hardware"
	"github.com/attpc/merger/lookup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink keeps every event written to it.
type memorySink struct {
	sync.Mutex
	events    map[uint32]*Event
	order     []uint32
	failAfter int // fail on write number failAfter+1, if positive
}

func newMemorySink() *memorySink {
	return &memorySink{events: make(map[uint32]*Event)}
}

var errSinkFull = errors.New("sink is full")

func (s *memorySink) WriteEvent(e *Event) error {
	s.Lock()
	defer s.Unlock()
	if s.failAfter > 0 && len(s.order) >= s.failAfter {
		return errSinkFull
	}
	s.events[e.ID] = e
	s.order = append(s.order, e.ID)
	return nil
}

func frameBytes(cobo, asad uint8, id uint32, samples ...[4]uint16) []byte {
	b := graw.NewFrameBuilder(graw.PartialReadout, cobo, asad, id, uint64(id)*10)
	for _, s := range samples {
		b.AddSample(uint8(s[0]), uint8(s[1]), s[2], s[3])
	}
	return b.Bytes()
}

func memoryFile(name string, frames ...[]byte) *graw.File {
	data := bytes.Join(frames, nil)
	return graw.NewFile(name, bytes.NewReader(data), int64(len(data)))
}

// coboFile holds one frame per event in [first, last) from the given cobo.
// Each frame has one sample whose value encodes the cobo and event id.
func coboFile(cobo uint8, first, last uint32) *graw.File {
	var frames [][]byte
	for id := first; id < last; id++ {
		frames = append(frames, frameBytes(cobo, 0, id, [4]uint16{0, 5, 10, uint16(100*int(cobo) + int(id%100))}))
	}
	return memoryFile(fmt.Sprintf("cobo%d.graw", cobo), frames...)
}

func testOptions() Options {
	opt := DefaultOptions()
	opt.Builders = 3
	opt.CacheSize = 200
	return opt
}

func runMerge(t *testing.T, files []*graw.File, opt Options) (*Merger, *memorySink) {
	t.Helper()
	sink := newMemorySink()
	m, err := NewMerger(files, testPads(), sink, opt)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))
	return m, sink
}

func TestMergeTwoFiles(t *testing.T) {
	m, sink := runMerge(t, []*graw.File{coboFile(0, 0, 100), coboFile(1, 0, 100)}, testOptions())

	require.Len(t, sink.events, 100)
	for id, e := range sink.events {
		assert.Equal(t, 2, e.NumTraces(), "event %d", id)
		assert.Equal(t, uint64(id)*10, e.Time)
		for cobo := range uint8(2) {
			tr := e.Trace(hardware.Address{Cobo: cobo, Channel: 5})
			require.NotNil(t, tr)
			v, ok := tr.GetSample(10)
			assert.True(t, ok)
			assert.Equal(t, int16(100*int(cobo)+int(id%100)), v)
		}
	}
	s := m.Stats.Snapshot()
	assert.Equal(t, int64(200), s.FramesRead)
	assert.Equal(t, int64(0), s.FramesSkipped)
	assert.Equal(t, int64(0), s.LateFrames)
	assert.Equal(t, int64(100), s.EventsBuilt)
	assert.Equal(t, int64(100), s.EventsWritten)
	assert.Equal(t, int64(200), s.TracesWritten)
	assert.Equal(t, int64(100), m.SourceFrames(0))
	assert.Equal(t, int64(100), m.SourceFrames(1))
}

func TestMergeOverlappingFiles(t *testing.T) {
	m, sink := runMerge(t, []*graw.File{coboFile(2, 25, 75), coboFile(0, 0, 50)}, testOptions())

	require.Len(t, sink.events, 75)
	for id, e := range sink.events {
		want := 1
		if id >= 25 && id < 50 {
			want = 2
		}
		assert.Equal(t, want, e.NumTraces(), "event %d", id)
	}
	entries := m.Index().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, uint32(0), entries[0].MinEventID)
	assert.Equal(t, 1, entries[0].Source)
	assert.Equal(t, uint32(25), entries[1].MinEventID)
}

func TestMergeSkipsBadFrames(t *testing.T) {
	bad := frameBytes(0, 0, 3, [4]uint16{0, 1, 1, 1})
	bad[5], bad[6] = 0, 7 // unknown frame type
	f := memoryFile("bad.graw",
		frameBytes(0, 0, 1, [4]uint16{0, 1, 1, 1}),
		frameBytes(0, 0, 2, [4]uint16{0, 1, 1, 1}),
		bad,
		frameBytes(0, 0, 4, [4]uint16{0, 1, 1, 1}),
	)
	m, sink := runMerge(t, []*graw.File{f}, testOptions())
	assert.Len(t, sink.events, 3)
	assert.NotContains(t, sink.events, uint32(3))
	assert.Equal(t, int64(1), m.Stats.FramesSkipped.Load())
}

func TestMergeTruncatedInput(t *testing.T) {
	good := coboFile(1, 0, 10)
	whole := frameBytes(0, 0, 0, [4]uint16{0, 1, 1, 1})
	cut := frameBytes(0, 0, 1, [4]uint16{0, 1, 1, 1})
	truncated := memoryFile("cut.graw", whole, cut[:100])

	m, sink := runMerge(t, []*graw.File{good, truncated}, testOptions())
	assert.Len(t, sink.events, 10)
	assert.Equal(t, 2, sink.events[0].NumTraces())
	assert.Equal(t, 1, sink.events[1].NumTraces())
	assert.Equal(t, int64(1), m.Stats.InputsFailed.Load())
}

func TestMergeLateFrame(t *testing.T) {
	// One source in event order, then a straggler for event 1.
	f := memoryFile("late.graw",
		frameBytes(0, 0, 1, [4]uint16{0, 1, 1, 1}),
		frameBytes(0, 0, 2, [4]uint16{0, 1, 1, 1}),
		frameBytes(0, 0, 3, [4]uint16{0, 1, 1, 1}),
		frameBytes(0, 1, 1, [4]uint16{0, 1, 1, 1}),
	)
	opt := testOptions()
	opt.Builders = 1
	m, sink := runMerge(t, []*graw.File{f}, opt)
	assert.Len(t, sink.events, 3)
	assert.Equal(t, 1, sink.events[1].NumTraces(), "late frame is not merged")
	assert.Equal(t, int64(1), m.Stats.LateFrames.Load())
	assert.Equal(t, []uint32{1, 2, 3}, sink.order)
}

func TestMergeCleaning(t *testing.T) {
	var samples [][4]uint16
	for _, ch := range hardware.FPNChannels {
		samples = append(samples, [4]uint16{1, uint16(ch), 0, 10}, [4]uint16{1, uint16(ch), 1, 20})
	}
	samples = append(samples, [4]uint16{1, 30, 0, 100}, [4]uint16{1, 30, 1, 100}, [4]uint16{1, 31, 0, 3})
	f := memoryFile("fpn.graw", frameBytes(0, 0, 8, samples...))

	opt := testOptions()
	opt.Clean = CleanOptions{UseThreshold: true, Threshold: 50, ZeroSuppress: true}
	_, sink := runMerge(t, []*graw.File{f}, opt)
	require.Len(t, sink.events, 1)
	e := sink.events[8]
	// Noise is 15 +- 5: channel 30 becomes 105 and 95; channel 31 is thresholded away.
	assert.Equal(t, 1, e.NumTraces())
	tr := e.Trace(hardware.Address{Aget: 1, Channel: 30})
	require.NotNil(t, tr)
	v0, _ := tr.GetSample(0)
	v1, _ := tr.GetSample(1)
	assert.Equal(t, []int16{105, 95}, []int16{v0, v1})
}

func TestMergeMaxEvents(t *testing.T) {
	opt := testOptions()
	opt.MaxEvents = 10
	opt.QueueSize = 2
	m, sink := runMerge(t, []*graw.File{coboFile(0, 0, 500), coboFile(1, 0, 500)}, opt)
	assert.Len(t, sink.order, 10)
	assert.Equal(t, int64(10), m.Stats.EventsWritten.Load())
}

func TestMergeSinkError(t *testing.T) {
	sink := newMemorySink()
	sink.failAfter = 5
	m, err := NewMerger([]*graw.File{coboFile(0, 0, 100)}, testPads(), sink, testOptions())
	require.NoError(t, err)
	err = m.Run(context.Background())
	assert.ErrorIs(t, err, errSinkFull)
	assert.Len(t, sink.order, 5)
}

func TestMergeCancel(t *testing.T) {
	// A sink that never returns until the run is cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	sink := &blockingSink{release: ctx.Done()}
	m, err := NewMerger([]*graw.File{coboFile(0, 0, 1000), coboFile(1, 0, 1000)}, testPads(), sink, testOptions())
	require.NoError(t, err)

	done := make(chan error)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type blockingSink struct {
	release <-chan struct{}
}

func (s *blockingSink) WriteEvent(*Event) error {
	<-s.release
	return context.Canceled
}

func TestNewMergerErrors(t *testing.T) {
	sink := newMemorySink()
	_, err := NewMerger(nil, testPads(), sink, testOptions())
	assert.ErrorIs(t, err, ErrNoData)
	_, err = NewMerger([]*graw.File{coboFile(0, 0, 1)}, nil, sink, testOptions())
	assert.ErrorIs(t, err, ErrNotInit)
	var nilTable *lookup.Table[uint16]
	_, err = NewMerger([]*graw.File{coboFile(0, 0, 1)}, nilTable, sink, testOptions())
	assert.ErrorIs(t, err, ErrNotInit)
	_, err = NewMerger([]*graw.File{coboFile(0, 0, 1)}, testPads(), nil, testOptions())
	assert.Error(t, err)
}
