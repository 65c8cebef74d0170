// Package syncqueue provides a bounded multi-producer, multi-consumer queue
// with a "finished" state that ends the stream for consumers.
package syncqueue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrFinished is returned by Put on a queue that has been finished.
	ErrFinished = errors.New("put on a finished queue")
	// ErrEndOfStream is returned by Get once the queue is finished and empty.
	// It is the normal way for a consumer to learn it is done.
	ErrEndOfStream = errors.New("end of stream")
)

// Queue is a bounded FIFO. Put blocks while the queue is full and Get blocks
// while it is empty. After Finish, Get returns the items still queued and then
// ErrEndOfStream. Beware! As with channels, you want T to be small: use
// pointers for large objects.
type Queue[T any] struct {
	items    chan T
	finished chan struct{}
	once     sync.Once
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:    make(chan T, capacity),
		finished: make(chan struct{}),
	}
}

// Put adds v, waiting for space if needed. It fails with ErrFinished if the
// queue is finished before v is accepted, or with the context's error.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case <-q.finished:
		return ErrFinished
	default:
	}
	select {
	case q.items <- v:
		return nil
	case <-q.finished:
		return ErrFinished
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes and returns the oldest item, waiting for one if needed.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-q.items:
		return v, nil
	case <-q.finished:
		// Finished, but items put before Finish still belong to the stream.
		select {
		case v := <-q.items:
			return v, nil
		default:
			return zero, ErrEndOfStream
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Finish marks the end of the stream. Producers should have returned from
// their last Put first; a Put still blocked on a full queue fails with
// ErrFinished. Finish may be called any number of times.
func (q *Queue[T]) Finish() {
	q.once.Do(func() { close(q.finished) })
}

// Finished reports whether Finish has been called.
func (q *Queue[T]) Finished() bool {
	select {
	case <-q.finished:
		return true
	default:
		return false
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}
