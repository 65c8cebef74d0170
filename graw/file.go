package graw

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extension is the file-name extension of GRAW files.
const Extension = ".graw"

// File reads frames sequentially from one GRAW file. A GRAW file is nothing
// but frames back to back, each announcing its own size.
type File struct {
	name   string
	r      io.ReaderAt
	closer io.Closer
	size   int64
	pos    int64
}

// Open opens a GRAW file for reading. Files without the .graw extension are refused.
func Open(fileName string) (*File, error) {
	if !strings.EqualFold(filepath.Ext(fileName), Extension) {
		return nil, fmt.Errorf("%w: %q", ErrWrongFileType, fileName)
	}
	fp, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	info, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, err
	}
	if info.IsDir() {
		fp.Close()
		return nil, fmt.Errorf("%w: %q is a directory", ErrWrongFileType, fileName)
	}
	f := NewFile(fileName, fp, info.Size())
	f.closer = fp
	return f, nil
}

// NewFile reads frames from the first size bytes of r.
func NewFile(name string, r io.ReaderAt, size int64) *File {
	return &File{name: name, r: r, size: size}
}

// Name returns the file name.
func (f *File) Name() string {
	return f.name
}

// Size returns the file size in bytes.
func (f *File) Size() int64 {
	return f.size
}

// Position returns the offset of the next frame.
func (f *File) Position() int64 {
	return f.pos
}

// Close closes the underlying file, if this File opened it.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Rewind moves back to the first frame.
func (f *File) Rewind() {
	f.pos = 0
}

// ReadFrameMetadata peeks at the header of the next frame without moving past
// it. At the end of the file, or at a zero-size frame, it returns io.EOF.
// A header cut short by the end of the file gives ErrTruncated.
func (f *File) ReadFrameMetadata() (Metadata, error) {
	var m Metadata
	if f.pos >= f.size {
		return m, io.EOF
	}
	b := make([]byte, metadataLength)
	n, err := f.r.ReadAt(b, f.pos)
	if n < len(b) {
		if err == nil || errors.Is(err, io.EOF) {
			return m, fmt.Errorf("%s at offset %d: %w", f.name, f.pos, ErrTruncated)
		}
		return m, err
	}
	m, err = PeekMetadata(b)
	if err != nil {
		return m, err
	}
	m.Offset = f.pos
	if m.Size == 0 {
		return m, io.EOF
	}
	if f.pos+int64(m.Size) > f.size {
		return m, fmt.Errorf("%s at offset %d: frame of %d bytes, %d remain: %w",
			f.name, f.pos, m.Size, f.size-f.pos, ErrTruncated)
	}
	return m, nil
}

// Skip moves past the next frame without reading its body.
func (f *File) Skip() error {
	m, err := f.ReadFrameMetadata()
	if err != nil {
		return err
	}
	f.pos += int64(m.Size)
	return nil
}

// ReadNextRawFrame reads the next whole frame. It returns io.EOF at the end of
// the stream.
func (f *File) ReadNextRawFrame() (RawFrame, error) {
	m, err := f.ReadFrameMetadata()
	if err != nil {
		return RawFrame{}, err
	}
	data := make([]byte, m.Size)
	n, err := f.r.ReadAt(data, f.pos)
	if n < len(data) {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrTruncated
		}
		return RawFrame{}, fmt.Errorf("%s at offset %d: %w", f.name, f.pos, err)
	}
	f.pos += int64(m.Size)
	return NewRawFrame(data), nil
}
