package merger

import (
	"fmt"
	"sync/atomic"
)

// Stats counts what happened during a merge. All fields may be read while
// the merge is running.
type Stats struct {
	FramesRead           atomic.Int64
	BytesRead            atomic.Int64
	FramesSkipped        atomic.Int64 // frames that could not be decoded
	HeaderCorrections    atomic.Int64 // frames whose header needed self-correction
	HitPatternMismatches atomic.Int64 // hit-pattern bits that disagree with the data
	LateFrames           atomic.Int64 // frames arriving after their event was finished
	TimeMismatches       atomic.Int64
	EventsBuilt          atomic.Int64
	EventsDropped        atomic.Int64 // events that failed noise correction
	EventsWritten        atomic.Int64
	TracesWritten        atomic.Int64
	InputsFailed         atomic.Int64 // inputs that ended on a read error
}

// StatsSnapshot is a plain copy of Stats.
type StatsSnapshot struct {
	FramesRead           int64
	BytesRead            int64
	FramesSkipped        int64
	HeaderCorrections    int64
	HitPatternMismatches int64
	LateFrames           int64
	TimeMismatches       int64
	EventsBuilt          int64
	EventsDropped        int64
	EventsWritten        int64
	TracesWritten        int64
	InputsFailed         int64
}

// Snapshot copies the current counts.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesRead:           s.FramesRead.Load(),
		BytesRead:            s.BytesRead.Load(),
		FramesSkipped:        s.FramesSkipped.Load(),
		HeaderCorrections:    s.HeaderCorrections.Load(),
		HitPatternMismatches: s.HitPatternMismatches.Load(),
		LateFrames:           s.LateFrames.Load(),
		TimeMismatches:       s.TimeMismatches.Load(),
		EventsBuilt:          s.EventsBuilt.Load(),
		EventsDropped:        s.EventsDropped.Load(),
		EventsWritten:        s.EventsWritten.Load(),
		TracesWritten:        s.TracesWritten.Load(),
		InputsFailed:         s.InputsFailed.Load(),
	}
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("%d frames (%.1f MB) read, %d skipped, %d late; %d events built, %d dropped, %d written with %d traces",
		s.FramesRead, float64(s.BytesRead)/1e6, s.FramesSkipped, s.LateFrames,
		s.EventsBuilt, s.EventsDropped, s.EventsWritten, s.TracesWritten)
}
