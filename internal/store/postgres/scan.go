package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanClaim scans a single row into a model.Claim.
// The row must contain columns in the order defined by claimColumns.
func scanClaim(row scannable) (*model.Claim, error) {
	var c model.Claim
	var (
		amount          string
		payoutReference sql.NullString
		payoutMode      sql.NullString
		reconcileTxID   sql.NullString
		submittedTx     sql.NullString
		lastError       sql.NullString
		blockNumber     int64
		claimedAt       sql.NullTime
	)

	err := row.Scan(
		&c.ID,
		&c.Employee,
		&amount,
		&c.AmountUSD,
		&c.Status,
		&payoutReference,
		&payoutMode,
		&reconcileTxID,
		&submittedTx,
		&lastError,
		&blockNumber,
		&claimedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("claim %s: invalid amount %q", c.ID, amount)
	}
	c.Amount = v
	c.PayoutReference = payoutReference.String
	c.PayoutMode = payoutMode.String
	c.ReconcileTxID = reconcileTxID.String
	c.ReconcileSubmittedTx = submittedTx.String
	c.LastError = lastError.String
	c.BlockNumber = uint64(blockNumber)
	if claimedAt.Valid {
		c.ClaimedAt = claimedAt.Time
	}
	return &c, nil
}

// scanClaims scans multiple rows into a slice of model.Claim pointers.
func scanClaims(rows *sql.Rows) ([]*model.Claim, error) {
	var claims []*model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return claims, nil
}

// scanEvent scans a single row into a model.Event.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var payload []byte
	err := row.Scan(&e.ID, &e.Topic, &e.ClaimID, &payload, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

// scanEvents scans multiple rows into a slice of model.Event pointers.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// nullTime converts a time.Time to a sql.NullTime; the zero time is null.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
