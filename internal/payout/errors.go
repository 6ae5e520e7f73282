package payout

import "fmt"

// RegistryLookupError is returned when the employee has no registered
// destination. The claim stays pending until an operator fixes the registry.
type RegistryLookupError struct {
	Employee string
}

func (e *RegistryLookupError) Error() string {
	return fmt.Sprintf("no payout destination registered for %s", e.Employee)
}

// RailError is returned when the payment rail rejects or fails a transfer.
// The claim moves to failed.
type RailError struct {
	ClaimID string
	Code    string
	Err     error
}

func (e *RailError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payout %s: rail error %s: %v", e.ClaimID, e.Code, e.Err)
	}
	return fmt.Sprintf("payout %s: %v", e.ClaimID, e.Err)
}

func (e *RailError) Unwrap() error { return e.Err }
