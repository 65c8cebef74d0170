// Package asyncbufio moves buffered writes to an io.Writer onto a separate
// goroutine, so the caller only waits when the queue of pending writes is full.
package asyncbufio

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a closed Writer.
var ErrClosed = errors.New("asyncbufio: writer is closed")

// Writer provides asynchronous writing to an underlying io.Writer using buffered channels.
// Unlike a bufio.Writer, Write does not fail when the queue is full: it blocks until
// the write loop catches up. The first error from the underlying writer is kept and
// returned by every later call. Write, Flush and Close are meant for a single
// goroutine.
type Writer struct {
	writer        *bufio.Writer // Buffered writer: this does the writing
	flushNow      chan struct{} // Channel to signal the underlying writer to flush itself
	flushComplete chan struct{} // Channel to signal underlying writer flush is complete
	datachannel   chan []byte   // Channel to hold data before writing it
	flushInterval time.Duration // Interval for flushing the writer periodically

	mu     sync.Mutex
	err    error // first error of the underlying writer
	closed bool
}

// NewWriter creates a new Writer that queues up to channelDepth writes and
// flushes at least every flushInterval.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	aw := &Writer{
		writer:        bufio.NewWriter(w),
		datachannel:   make(chan []byte, channelDepth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan struct{}),
		flushInterval: flushInterval,
	}

	go aw.writeLoop()
	return aw
}

// Write queues a copy of p for writing, waiting if the queue is full.
func (aw *Writer) Write(p []byte) (int, error) {
	if err := aw.state(); err != nil {
		return 0, err
	}
	aw.datachannel <- append([]byte(nil), p...)
	return len(p), nil
}

// WriteString queues s for later writing.
func (aw *Writer) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

// Flush writes all queued data to the underlying writer and waits until
// that is complete.
func (aw *Writer) Flush() error {
	if err := aw.state(); err != nil {
		return err
	}
	aw.flushNow <- struct{}{}
	<-aw.flushComplete
	return aw.Err()
}

// Close flushes remaining data and stops the write loop. It does not close
// the underlying writer. Later calls return ErrClosed.
func (aw *Writer) Close() error {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return ErrClosed
	}
	aw.closed = true
	aw.mu.Unlock()

	close(aw.flushNow) // Closing the flushNow channel signals the writeLoop to exit
	<-aw.flushComplete // Wait until writing is complete
	return aw.Err()
}

// Err returns the first error of the underlying writer, if any.
func (aw *Writer) Err() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	return aw.err
}

func (aw *Writer) state() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		return ErrClosed
	}
	return aw.err
}

func (aw *Writer) setErr(err error) {
	if err == nil {
		return
	}
	aw.mu.Lock()
	if aw.err == nil {
		aw.err = err
	}
	aw.mu.Unlock()
}

// writeLoop is a goroutine that continuously moves data from the channel to the writer.
func (aw *Writer) writeLoop() {
	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.datachannel:
			_, err := aw.writer.Write(data)
			aw.setErr(err)

		case _, ok := <-aw.flushNow:
			aw.flush()
			// Signal whoever requested this that flushing is done
			aw.flushComplete <- struct{}{}
			if !ok {
				return
			}

		case <-ticker.C:
			aw.flush()
		}
	}
}

func (aw *Writer) flush() {
	// Empty the data channel before calling the underlying writer's Flush()
	for {
		select {
		case data := <-aw.datachannel:
			_, err := aw.writer.Write(data)
			aw.setErr(err)
		default:
			aw.setErr(aw.writer.Flush())
			return
		}
	}
}
