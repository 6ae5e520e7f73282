package store

import (
	"errors"
	"fmt"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// ErrNotFound is returned when no claim exists for the given id.
var ErrNotFound = errors.New("claim not found")

// ConflictError is returned by Transition when the claim is not in the
// expected prior status. Nothing was written.
type ConflictError struct {
	ClaimID  string
	Expected model.Status
	Actual   model.Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("claim %s: expected status %s, found %s", e.ClaimID, e.Expected, e.Actual)
}

// WriteError wraps a persistence failure. The pipeline step that produced it
// must be treated as not yet complete.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a compare-and-set conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
