package eventfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/attpc/merger"
)

// Reader reads the records of an event file in order.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	offset int64
	buf    []byte
}

// Open opens an event file for reading.
func Open(fileName string) (*Reader, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, &merger.OpenError{Filename: fileName, Err: err}
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 1<<16)}
}

// Offset returns the position of the next record.
func (r *Reader) Offset() int64 {
	return r.offset
}

// ReadEvent returns the next event, or io.EOF after the last one. A file
// that ends in the middle of a record gives io.ErrUnexpectedEOF.
func (r *Reader) ReadEvent() (*merger.Event, error) {
	head, err := r.r.Peek(5)
	if len(head) == 0 && errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("record at offset %d: %w", r.offset, io.ErrUnexpectedEOF)
	}
	size, err := merger.RecordLength(head)
	if err != nil {
		return nil, fmt.Errorf("record at offset %d: %w", r.offset, err)
	}
	if cap(r.buf) < size {
		r.buf = make([]byte, size)
	}
	r.buf = r.buf[:size]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return nil, fmt.Errorf("record at offset %d: %w", r.offset, io.ErrUnexpectedEOF)
	}
	e, _, err := merger.DecodeRecord(r.buf)
	if err != nil {
		return nil, fmt.Errorf("record at offset %d: %w", r.offset, err)
	}
	r.offset += int64(size)
	return e, nil
}

// All iterates over the remaining events. Iteration stops after the first
// error, which is yielded with a nil event; a clean end of file is not an error.
func (r *Reader) All() iter.Seq2[*merger.Event, error] {
	return func(yield func(*merger.Event, error) bool) {
		for {
			e, err := r.ReadEvent()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the file, if the Reader opened it.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
