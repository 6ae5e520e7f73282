package model

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a claim.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
	StatusReconciled Status = "reconciled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusReconciled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is reachable without
// operator intervention.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusReconciled
}

// transitions lists every allowed status edge. A paid claim whose
// reconciliation fails stays paid, which is not an edge.
var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusFailed},
	StatusPaid:    {StatusReconciled},
}

// CanTransition reports whether from -> to is an edge of the claim state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Claim is the aggregate root: one row per observed claim transaction.
type Claim struct {
	ID                   string          `json:"id"`
	Employee             string          `json:"employee"`
	Amount               *big.Int        `json:"amount"`
	AmountUSD            decimal.Decimal `json:"amount_usd"`
	Status               Status          `json:"status"`
	PayoutReference      string          `json:"payout_reference,omitempty"`
	PayoutMode           string          `json:"payout_mode,omitempty"`
	ReconcileTxID        string          `json:"reconcile_tx_id,omitempty"`
	ReconcileSubmittedTx string          `json:"reconcile_submitted_tx,omitempty"`
	LastError            string          `json:"last_error,omitempty"`
	BlockNumber          uint64          `json:"block_number"`
	ClaimedAt            time.Time       `json:"claimed_at"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ClaimID derives the claim identifier from the originating transaction hash.
func ClaimID(txHash string) string {
	id := strings.ToLower(strings.TrimSpace(txHash))
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	return id
}

// Transition is a compare-and-set status change for one claim. Only the
// fields meaningful for To are written.
type Transition struct {
	ClaimID         string
	From            Status
	To              Status
	PayoutReference string // set when To is paid
	PayoutMode      string // set when To is paid
	ReconcileTxID   string // set when To is reconciled
	LastError       string
}

// EmployeeStatus is the latest claim outcome for one employee.
type EmployeeStatus struct {
	Employee   string          `json:"address"`
	LastPayout decimal.Decimal `json:"last_payout"`
	Status     Status          `json:"status"`
	Mode       string          `json:"mode,omitempty"`
	ClaimID    string          `json:"claim_id"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
