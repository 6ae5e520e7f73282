package pipeline

import (
	"errors"

	"github.com/alfredjeanlab/paybridge/internal/events"
	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/payout"
	"github.com/alfredjeanlab/paybridge/internal/reconcile"
)

const (
	topicDetected   = events.TopicClaimDetected
	topicPaid       = events.TopicClaimPaid
	topicFailed     = events.TopicClaimFailed
	topicReconciled = events.TopicClaimReconciled
	topicStuck      = events.TopicClaimStuck
	topicRetry      = events.TopicRetryRequested
)

func newAudit(topic, claimID string, payload any) (*model.Event, error) {
	return events.NewAuditEvent(topic, claimID, payload)
}

func detectedPayload(c *model.Claim) events.ClaimDetected {
	return events.ClaimDetected{
		Employee:    c.Employee,
		Amount:      c.Amount.String(),
		AmountUSD:   c.AmountUSD.StringFixed(2),
		BlockNumber: c.BlockNumber,
	}
}

func paidPayload(res *payout.TransferResult) events.ClaimPaid {
	return events.ClaimPaid{PayoutReference: res.Reference, Mode: res.Mode}
}

func failedPayload(err error) events.ClaimFailed {
	return events.ClaimFailed{Reason: truncate(err.Error())}
}

func reconciledPayload(hash string) events.ClaimReconciled {
	return events.ClaimReconciled{TxID: hash}
}

func stuckPayload(status model.Status, step string, cause error, txHash string) events.ClaimStuck {
	return events.ClaimStuck{Status: status, Step: step, Reason: truncate(cause.Error()), TxHash: txHash}
}

func retryPayload(step string) events.RetryRequested {
	return events.RetryRequested{Step: step}
}

// submittedTx returns the ledger tx a reconcile failure was waiting on, if any.
func submittedTx(err error) string {
	var ce *reconcile.ConfirmError
	if errors.As(err, &ce) {
		return ce.TxHash
	}
	return ""
}
