package merger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attpc/merger/internal/syncqueue"
)

// progressInterval is how often the writer reports progress to UpdateLogger.
const progressInterval = 10 * time.Second

// writer drains the queue of finished events into the sink.
type writer struct {
	sink      EventSink
	queue     *syncqueue.Queue[*Event]
	stats     *Stats
	maxEvents int
}

func (w *writer) run(ctx context.Context) error {
	lastReport := time.Now()
	written := 0
	for {
		ev, err := w.queue.Get(ctx)
		if errors.Is(err, syncqueue.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}
		ntraces := ev.NumTraces()
		if err := w.sink.WriteEvent(ev); err != nil {
			return fmt.Errorf("writing event %d: %w", ev.ID, err)
		}
		written++
		w.stats.EventsWritten.Add(1)
		w.stats.TracesWritten.Add(int64(ntraces))

		if time.Since(lastReport) > progressInterval {
			UpdateLogger.Printf("%d events written, last id %d", written, ev.ID)
			lastReport = time.Now()
		}
		if w.maxEvents > 0 && written >= w.maxEvents {
			return errMaxEvents
		}
	}
}
