package model

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MessageType names the pipeline step a broadcast message reports on.
type MessageType string

const (
	MessageClaimDetected MessageType = "ClaimDetected"
	MessagePayout        MessageType = "Payout"
	MessageReconcile     MessageType = "Reconcile"
)

// MessageStatus is the outcome carried by a broadcast message.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSuccess MessageStatus = "success"
	MessageFail    MessageStatus = "fail"
)

// Message is a best-effort state-transition notification for observers.
type Message struct {
	ID              string        `json:"id"`
	Type            MessageType   `json:"type"`
	Status          MessageStatus `json:"status"`
	Employee        string        `json:"employee"`
	AmountUSD       json.Number   `json:"amountUsd"`
	PayoutReference string        `json:"payoutReference,omitempty"`
	Mode            string        `json:"mode,omitempty"`
	TxID            string        `json:"txId,omitempty"`
	Error           string        `json:"error,omitempty"`
	Timestamp       int64         `json:"timestamp"`
}

// NewMessage builds a message for c stamped with now.
func NewMessage(c *Claim, typ MessageType, status MessageStatus, now time.Time) *Message {
	return &Message{
		ID:        c.ID,
		Type:      typ,
		Status:    status,
		Employee:  c.Employee,
		AmountUSD: USDNumber(c.AmountUSD),
		Timestamp: now.UnixMilli(),
	}
}

// USDNumber renders a dollar amount as a JSON number with two decimals.
func USDNumber(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// Validate checks that a message received from another node is well formed.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("missing id")
	}
	switch m.Type {
	case MessageClaimDetected, MessagePayout, MessageReconcile:
	default:
		return errors.New("unknown type " + string(m.Type))
	}
	switch m.Status {
	case MessagePending, MessageSuccess, MessageFail:
	default:
		return errors.New("unknown status " + string(m.Status))
	}
	if m.Employee == "" {
		return errors.New("missing employee")
	}
	if _, err := m.AmountUSD.Float64(); err != nil {
		return errors.New("invalid amountUsd")
	}
	return nil
}
