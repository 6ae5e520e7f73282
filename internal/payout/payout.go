// Package payout converts a detected claim into a fiat transfer on the
// payment rail.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// Currency is the only currency the rail is asked to move.
const Currency = "usd"

// Lookup resolves a ledger address to a rail destination.
type Lookup interface {
	Lookup(addr string) (string, bool)
}

// Rail dispatches a transfer. Implementations must honour IdempotencyKey so a
// retried request never moves money twice.
type Rail interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// TransferRequest is the rail-agnostic transfer instruction.
type TransferRequest struct {
	Destination    string
	Cents          int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// TransferResult identifies a completed transfer.
type TransferResult struct {
	Reference string
	Mode      string // "live" or "test"
}

// IdempotencyKey derives the rail idempotency key for a claim. It depends only
// on the claim id.
func IdempotencyKey(claimID string) string {
	return "paybridge-claim-" + claimID
}

// Processor pays out a single claim.
type Processor struct {
	registry Lookup
	rail     Rail
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProcessor creates a Processor. A zero timeout disables the per-call deadline.
func NewProcessor(registry Lookup, rail Rail, timeout time.Duration, logger *slog.Logger) *Processor {
	return &Processor{registry: registry, rail: rail, timeout: timeout, logger: logger}
}

// Pay dispatches the transfer for c. It returns *RegistryLookupError when the
// employee is unknown and *RailError for any rail failure, including the
// per-call timeout.
func (p *Processor) Pay(ctx context.Context, c *model.Claim) (*TransferResult, error) {
	dest, ok := p.registry.Lookup(c.Employee)
	if !ok {
		return nil, &RegistryLookupError{Employee: c.Employee}
	}

	cents := model.Cents(c.AmountUSD)
	if cents <= 0 {
		return nil, &RailError{ClaimID: c.ID, Code: "amount_too_small", Err: fmt.Errorf("amount %s rounds to zero cents", c.AmountUSD.StringFixed(2))}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	amount := "0"
	if c.Amount != nil {
		amount = c.Amount.String()
	}
	req := TransferRequest{
		Destination:    dest,
		Cents:          cents,
		Currency:       Currency,
		IdempotencyKey: IdempotencyKey(c.ID),
		Metadata: map[string]string{
			"claim_id":         c.ID,
			"employee_address": c.Employee,
			"amount_wei":       amount,
		},
	}

	p.logger.Info("dispatching payout", "claim_id", c.ID, "employee", c.Employee, "amount_usd", c.AmountUSD.StringFixed(2), "cents", cents)
	res, err := p.rail.Transfer(ctx, req)
	if err != nil {
		var re *RailError
		if errors.As(err, &re) {
			if re.ClaimID == "" {
				re.ClaimID = c.ID
			}
			return nil, re
		}
		return nil, &RailError{ClaimID: c.ID, Err: err}
	}
	if res == nil || res.Reference == "" {
		return nil, &RailError{ClaimID: c.ID, Err: errors.New("rail returned no transfer reference")}
	}
	return res, nil
}
