package index

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated means the archive ended inside a header or payload.
	ErrTruncated = errors.New("archive truncated")
	// ErrMalformedHeader means a record header failed to decode.
	ErrMalformedHeader = errors.New("malformed record header")
	// ErrUnsupportedRecord means the record type cannot be represented in the tree.
	ErrUnsupportedRecord = errors.New("unsupported record")
	// ErrInvalidPath means the record path is empty or escapes the archive root.
	ErrInvalidPath = errors.New("invalid record path")
	// ErrPathConflict means the record cannot be placed in the tree as it stands,
	// e.g. its parent path is a regular file.
	ErrPathConflict = errors.New("path conflict")
)

// RecordError describes why index construction stopped at a record.
type RecordError struct {
	Record int    // zero-based record number in archive order
	Path   string // path as stored in the archive, empty if the header was unreadable
	Err    error
}

func (e *RecordError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("tar record %d: %v", e.Record, e.Err)
	}
	return fmt.Sprintf("tar record %d (%s): %v", e.Record, e.Path, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
