package merger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInit means an Event was used before a pad lookup table was attached.
	ErrNotInit = errors.New("event has no pad lookup table")
	// ErrNoData means a computation needed at least one sample and found none.
	ErrNoData = errors.New("no data")
)

// OpenError is returned when an input or output file cannot be opened.
type OpenError struct {
	Filename string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("could not open %s: %v", e.Filename, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
