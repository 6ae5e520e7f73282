// Package reconcile writes the on-ledger record for a paid claim and waits
// for it to be confirmed.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alfredjeanlab/paybridge/internal/chain"
	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// Ledger submits reconcile transactions and reports their receipts.
// *chain.Submitter implements it.
type Ledger interface {
	SubmitReconcile(ctx context.Context, employee string, amount *big.Int) (string, error)
	Receipt(ctx context.Context, txHash string) (*types.Receipt, error)
	WaitMined(ctx context.Context, txHash string) (*types.Receipt, error)
}

// SubmissionRecorder persists the hash of a broadcast transaction before the
// confirmation wait begins.
type SubmissionRecorder interface {
	SetReconcileSubmission(ctx context.Context, id, txHash string) error
}

// Compile-time check that the chain submitter is a Ledger.
var _ Ledger = (*chain.Submitter)(nil)

// Reconciler drives one claim from paid to a confirmed ledger record.
type Reconciler struct {
	ledger         Ledger
	recorder       SubmissionRecorder
	submitTimeout  time.Duration
	confirmTimeout time.Duration
	retry          store.RetryPolicy
	logger         *slog.Logger
}

// New creates a Reconciler. submitTimeout bounds the broadcast of the record
// transaction and confirmTimeout the wait for its receipt. A zero timeout
// leaves that step bounded only by the caller's context.
func New(ledger Ledger, recorder SubmissionRecorder, submitTimeout, confirmTimeout time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:         ledger,
		recorder:       recorder,
		submitTimeout:  submitTimeout,
		confirmTimeout: confirmTimeout,
		retry:          store.DefaultRetryPolicy,
		logger:         logger,
	}
}

// Reconcile returns the hash of the confirmed reconcile transaction for c.
//
// If c already carries a submitted transaction, its receipt is checked first:
// a successful receipt is returned as is, a pending one is waited on, and
// only a reverted one leads to a fresh submission. This keeps an operator
// retry from writing a second record for a late inclusion.
func (r *Reconciler) Reconcile(ctx context.Context, c *model.Claim) (string, error) {
	if prev := c.ReconcileSubmittedTx; prev != "" {
		rec, err := r.ledger.Receipt(ctx, prev)
		switch {
		case err == nil && rec.Status == types.ReceiptStatusSuccessful:
			r.logger.Info("previous reconcile already confirmed", "claim_id", c.ID, "tx", prev)
			return prev, nil
		case err == nil:
			r.logger.Warn("previous reconcile reverted, resubmitting", "claim_id", c.ID, "tx", prev)
		case errors.Is(err, chain.ErrNotMined):
			r.logger.Info("resuming wait for pending reconcile", "claim_id", c.ID, "tx", prev)
			return r.confirm(ctx, c, prev)
		default:
			return "", &ConfirmError{ClaimID: c.ID, TxHash: prev, Err: err}
		}
	}

	submitCtx := ctx
	if r.submitTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, r.submitTimeout)
		defer cancel()
	}
	hash, err := r.ledger.SubmitReconcile(submitCtx, c.Employee, c.Amount)
	if err != nil {
		return "", &SubmitError{ClaimID: c.ID, Err: err}
	}
	r.logger.Info("reconcile submitted", "claim_id", c.ID, "tx", hash)

	// The transaction is out; record it even if the caller is shutting down.
	persistCtx := context.WithoutCancel(ctx)
	if err := store.WithRetry(persistCtx, r.retry, func() error {
		return r.recorder.SetReconcileSubmission(persistCtx, c.ID, hash)
	}); err != nil {
		r.logger.Error("failed to record reconcile submission", "claim_id", c.ID, "tx", hash, "err", err)
	}

	return r.confirm(ctx, c, hash)
}

func (r *Reconciler) confirm(ctx context.Context, c *model.Claim, hash string) (string, error) {
	if r.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.confirmTimeout)
		defer cancel()
	}
	rec, err := r.ledger.WaitMined(ctx, hash)
	if err != nil {
		return "", &ConfirmError{ClaimID: c.ID, TxHash: hash, Err: err}
	}
	if rec.Status != types.ReceiptStatusSuccessful {
		return "", &ConfirmError{ClaimID: c.ID, TxHash: hash, Err: ErrReverted}
	}
	return hash, nil
}
