// Package eventfile writes and reads merged event files.
// An event file is nothing but event records back to back, each little endian:
// bytes    type      meaning
// 0        uint8     magic 0xEE
// 1-4      uint32    total record size in bytes, this header included
// 5-8      uint32    event id
// 9-16     uint64    event time
// 17-18    uint16    number of traces
// 19-      traces, each:
//
//	0-3      uint32    trace size in bytes, these 4 included
//	4-7      uint8×4   cobo, asad, aget, channel
//	8-9      uint16    pad
//	10-      3 bytes per sample: time bucket in bits 23-15, sign in bit 12, |value| in bits 11-0
package eventfile

import (
	"os"
	"time"

	"github.com/attpc/merger"
	"github.com/attpc/merger/asyncbufio"
)

// Writer appends event records to a file. It is a merger.EventSink.
type Writer struct {
	fileName      string
	file          *os.File
	writer        *asyncbufio.Writer
	buf           []byte
	eventsWritten int
	bytesWritten  int64
}

// Size of the asynchronous write queue and the longest time data may wait
// in it before reaching the file.
const (
	writeQueueDepth    = 1000
	writeFlushInterval = time.Second
)

// Create creates (or truncates) fileName and returns a Writer for it.
func Create(fileName string) (*Writer, error) {
	file, err := os.Create(fileName)
	if err != nil {
		return nil, &merger.OpenError{Filename: fileName, Err: err}
	}
	return &Writer{
		fileName: fileName,
		file:     file,
		writer:   asyncbufio.NewWriter(file, writeQueueDepth, writeFlushInterval),
	}, nil
}

// WriteEvent appends the record of e.
func (w *Writer) WriteEvent(e *merger.Event) error {
	var err error
	w.buf, err = e.AppendBinary(w.buf[:0])
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(w.buf); err != nil {
		return err
	}
	w.eventsWritten++
	w.bytesWritten += int64(len(w.buf))
	return nil
}

// Name returns the file name.
func (w *Writer) Name() string {
	return w.fileName
}

// EventsWritten returns the number of records written.
func (w *Writer) EventsWritten() int {
	return w.eventsWritten
}

// BytesWritten returns the size of the records written.
func (w *Writer) BytesWritten() int64 {
	return w.bytesWritten
}

// Flush writes out all buffered records.
func (w *Writer) Flush() error {
	return w.writer.Flush()
}

// Close flushes all records and closes the file.
func (w *Writer) Close() error {
	err := w.writer.Close()
	if err2 := w.file.Close(); err == nil {
		err = err2
	}
	return err
}
