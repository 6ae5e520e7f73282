// Package events defines the claim audit topics, the broadcast envelope
// exchanged between nodes, and the NATS bus that carries it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// Audit topics, persisted alongside each claim transition.
const (
	TopicClaimDetected   = "payroll.claim.detected"
	TopicClaimPaid       = "payroll.claim.paid"
	TopicClaimFailed     = "payroll.claim.failed"
	TopicClaimReconciled = "payroll.claim.reconciled"
	TopicClaimStuck      = "payroll.claim.stuck"
	TopicRetryRequested  = "payroll.claim.retry"
)

// BroadcastWildcard matches every broadcast subject.
const BroadcastWildcard = "payroll.claim.>"

// BroadcastSubject returns the bus subject for a message type,
// e.g. "payroll.claim.payout".
func BroadcastSubject(t model.MessageType) string {
	return "payroll.claim." + strings.ToLower(string(t))
}

// Audit payloads

type ClaimDetected struct {
	Employee    string `json:"employee"`
	Amount      string `json:"amount"`
	AmountUSD   string `json:"amount_usd"`
	BlockNumber uint64 `json:"block_number"`
}

type ClaimPaid struct {
	PayoutReference string `json:"payout_reference"`
	Mode            string `json:"mode"`
}

type ClaimFailed struct {
	Reason string `json:"reason"`
}

type ClaimReconciled struct {
	TxID string `json:"tx_id"`
}

// ClaimStuck is recorded when a claim needs operator action.
type ClaimStuck struct {
	Status model.Status `json:"status"`
	Step   string       `json:"step"`
	Reason string       `json:"reason"`
	TxHash string       `json:"tx_hash,omitempty"`
}

type RetryRequested struct {
	Step string `json:"step"`
}

// NewAuditEvent marshals payload into a model.Event ready for the store.
func NewAuditEvent(topic, claimID string, payload any) (*model.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	return &model.Event{Topic: topic, ClaimID: claimID, Payload: data}, nil
}

// Envelope wraps a broadcast message with the id of the node that sent it.
type Envelope struct {
	Origin  string         `json:"origin"`
	Message *model.Message `json:"message"`
}

// MalformedMessageError is returned for bus payloads that cannot be decoded
// or fail validation.
type MalformedMessageError struct {
	Subject string
	Err     error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message on %s: %v", e.Subject, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// DecodeEnvelope parses and validates a bus payload.
func DecodeEnvelope(subject string, data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedMessageError{Subject: subject, Err: err}
	}
	if env.Origin == "" {
		return nil, &MalformedMessageError{Subject: subject, Err: fmt.Errorf("missing origin")}
	}
	if env.Message == nil {
		return nil, &MalformedMessageError{Subject: subject, Err: fmt.Errorf("missing message")}
	}
	if err := env.Message.Validate(); err != nil {
		return nil, &MalformedMessageError{Subject: subject, Err: err}
	}
	return &env, nil
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the bus.
type Subscriber interface {
	// Subscribe delivers raw payloads for topic on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
