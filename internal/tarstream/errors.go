package tarstream

import (
	"errors"
	"fmt"
)

// ErrStaleEntry is returned when reading from an entry the reader has
// already moved past.
var ErrStaleEntry = errors.New("archive entry is no longer current")

// FormatError indicates the byte stream is not a well-formed archive:
// the gzip container is missing at the expected offset, or a tar header
// is malformed.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed archive: %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// DecompressionError indicates the compressed payload could not be
// inflated.
type DecompressionError struct {
	Err error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("decompression failed: %v", e.Err)
}

func (e *DecompressionError) Unwrap() error {
	return e.Err
}
