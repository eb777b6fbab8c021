package bulksync

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch reports that the supplied records do not share the
	// shape derived from the first record.
	ErrTypeMismatch = errors.New("records are not homogeneous")

	// ErrConfig reports an invalid key/field specification. It is returned
	// before any statement reaches the database.
	ErrConfig = errors.New("invalid sync configuration")
)

// StoreError wraps a failure reported by the database during staging or
// reconciliation. The surrounding transaction must be rolled back; no partial
// counts are returned alongside it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
