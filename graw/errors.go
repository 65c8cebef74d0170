package graw

import (
	"errors"
	"fmt"
	"io"
)

// Errors returned while reading and decoding frames. Both ErrBadData and
// ErrFrameRead are fatal for one frame only.
var (
	ErrBadData       = errors.New("bad data")
	ErrFrameRead     = errors.New("frame read error")
	ErrWrongFileType = errors.New("not a GRAW file")

	// ErrTruncated reports a final frame cut short by the end of the file.
	// It matches io.ErrUnexpectedEOF under errors.Is.
	ErrTruncated = fmt.Errorf("%w: %w", ErrFrameRead, io.ErrUnexpectedEOF)
)
