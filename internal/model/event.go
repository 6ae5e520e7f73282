package model

import (
	"encoding/json"
	"math/big"
	"time"
)

// Event is a persisted audit record, written in the same transaction as the
// claim transition it describes.
type Event struct {
	ID        int64           `json:"id"`
	Topic     string          `json:"topic"`
	ClaimID   string          `json:"claim_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ClaimEvent is a decoded SalaryClaimed log from the ledger.
type ClaimEvent struct {
	Employee    string
	Amount      *big.Int
	Timestamp   *big.Int
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
}

// ClaimedAt returns the on-ledger timestamp of the claim.
func (e ClaimEvent) ClaimedAt() time.Time {
	if e.Timestamp == nil || !e.Timestamp.IsInt64() {
		return time.Time{}
	}
	return time.Unix(e.Timestamp.Int64(), 0).UTC()
}

// Proof is a sealed output artifact, keyed by file name.
type Proof struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
