package reconcile

import (
	"errors"
	"fmt"
)

// ErrReverted is wrapped by ConfirmError when the transaction was mined but failed.
var ErrReverted = errors.New("reconcile transaction reverted")

// SubmitError means the reconcile transaction could not be broadcast.
type SubmitError struct {
	ClaimID string
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("reconcile %s: submit: %v", e.ClaimID, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// ConfirmError means a broadcast transaction was not confirmed: it timed out,
// reverted, or its receipt could not be read.
type ConfirmError struct {
	ClaimID string
	TxHash  string
	Err     error
}

func (e *ConfirmError) Error() string {
	return fmt.Sprintf("reconcile %s: confirm %s: %v", e.ClaimID, e.TxHash, e.Err)
}

func (e *ConfirmError) Unwrap() error { return e.Err }
