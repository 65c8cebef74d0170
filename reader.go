package merger

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/attpc/merger/graw"
	"github.com/attpc/merger/internal/syncqueue"
)

// frameItem is what readers send to builders: either one frame, or the
// notice that a source has no more frames.
type frameItem struct {
	source int
	raw    graw.RawFrame
	meta   graw.Metadata
	done   bool
}

// reader streams the frames of one file, in file order, to the builders.
type reader struct {
	source int
	file   *graw.File
	queues []*syncqueue.Queue[frameItem]
	stats  *Stats
	frames *atomic.Int64 // frames read from this file
}

func (r *reader) run(ctx context.Context) error {
	r.file.Rewind()
	n := 0
	for {
		offset := r.file.Position()
		raw, err := r.file.ReadNextRawFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A damaged frame ends this input; the others carry on.
			ProblemLogger.Printf("%s: stopped reading after %d frames: %v", r.file.Name(), n, err)
			r.stats.InputsFailed.Add(1)
			break
		}
		meta, err := raw.Metadata()
		if err != nil {
			ProblemLogger.Printf("%s: stopped reading after %d frames: %v", r.file.Name(), n, err)
			r.stats.InputsFailed.Add(1)
			break
		}
		meta.Offset = offset
		n++
		r.frames.Add(1)
		r.stats.FramesRead.Add(1)
		r.stats.BytesRead.Add(int64(raw.Len()))

		q := r.queues[int(meta.EventID%uint32(len(r.queues)))]
		if err := q.Put(ctx, frameItem{source: r.source, raw: raw, meta: meta}); err != nil {
			return r.abort(ctx, err)
		}
	}
	DebugLogger.Printf("%s: %d frames read", r.file.Name(), n)

	for _, q := range r.queues {
		if err := q.Put(ctx, frameItem{source: r.source, done: true}); err != nil {
			return r.abort(ctx, err)
		}
	}
	return nil
}

// abort explains why a Put failed. A queue can only be finished early when
// the run is being cancelled, so the context holds the real reason.
func (r *reader) abort(ctx context.Context, err error) error {
	if errors.Is(err, syncqueue.ErrFinished) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
