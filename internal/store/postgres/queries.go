package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// claimColumns is the column list used for SELECT statements on the claims table.
const claimColumns = `id, employee, amount, amount_usd, status,
	payout_reference, payout_mode, reconcile_tx_id, reconcile_submitted_tx,
	last_error, block_number, claimed_at, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryInsertClaim inserts a pending claim. A second insert for the same id
// is a no-op and reports inserted=false.
func queryInsertClaim(ctx context.Context, db executor, c *model.Claim) (bool, error) {
	if c.Amount == nil {
		return false, fmt.Errorf("claim %s: amount is required", c.ID)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO claims (
			id, employee, amount, amount_usd, status, block_number, claimed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		c.ID,
		c.Employee,
		c.Amount.String(),
		c.AmountUSD,
		string(model.StatusPending),
		int64(c.BlockNumber),
		nullTime(c.ClaimedAt),
	)
	if err != nil {
		return false, &store.WriteError{Op: "insert claim", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &store.WriteError{Op: "insert claim", Err: err}
	}
	return n == 1, nil
}

func queryGetClaim(ctx context.Context, db executor, id string) (*model.Claim, error) {
	row := db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get claim %s: %w", id, err)
	}
	return c, nil
}

func queryListClaims(ctx context.Context, db executor) ([]*model.Claim, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+claimColumns+` FROM claims ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

// queryTransition applies a compare-and-set status change. The UPDATE only
// matches when the row is still in t.From; otherwise the current status is
// read back to distinguish a missing claim from a conflict.
func queryTransition(ctx context.Context, db executor, t model.Transition) (*model.Claim, error) {
	if !model.CanTransition(t.From, t.To) {
		return nil, fmt.Errorf("claim %s: illegal transition %s -> %s", t.ClaimID, t.From, t.To)
	}

	row := db.QueryRowContext(ctx, `
		UPDATE claims SET
			status = $3,
			payout_reference = COALESCE(NULLIF($4, ''), payout_reference),
			payout_mode = COALESCE(NULLIF($5, ''), payout_mode),
			reconcile_tx_id = COALESCE(NULLIF($6, ''), reconcile_tx_id),
			last_error = NULLIF($7, ''),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+claimColumns,
		t.ClaimID,
		string(t.From),
		string(t.To),
		t.PayoutReference,
		t.PayoutMode,
		t.ReconcileTxID,
		t.LastError,
	)
	c, err := scanClaim(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, &store.WriteError{Op: "transition claim", Err: err}
	}

	var actual string
	err = db.QueryRowContext(ctx, `SELECT status FROM claims WHERE id = $1`, t.ClaimID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.WriteError{Op: "transition claim", Err: err}
	}
	return nil, &store.ConflictError{ClaimID: t.ClaimID, Expected: t.From, Actual: model.Status(actual)}
}

// querySetReconcileSubmission records the hash of a submitted but not yet
// confirmed reconcile transaction. Only paid claims accept it.
func querySetReconcileSubmission(ctx context.Context, db executor, id, txHash string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE claims SET reconcile_submitted_tx = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, txHash, string(model.StatusPaid))
	if err != nil {
		return &store.WriteError{Op: "set reconcile submission", Err: err}
	}
	return requireRow(ctx, db, res, id, model.StatusPaid)
}

func querySetLastError(ctx context.Context, db executor, id, message string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE claims SET last_error = NULLIF($2, ''), updated_at = NOW() WHERE id = $1`,
		id, message)
	if err != nil {
		return &store.WriteError{Op: "set last error", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &store.WriteError{Op: "set last error", Err: err}
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func queryLatestClaimBlock(ctx context.Context, db executor) (uint64, error) {
	var block int64
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(block_number), 0) FROM claims`).Scan(&block); err != nil {
		return 0, fmt.Errorf("latest claim block: %w", err)
	}
	return uint64(block), nil
}

// requireRow maps a zero-row conditional update to ErrNotFound or a conflict.
func requireRow(ctx context.Context, db executor, res sql.Result, id string, expected model.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &store.WriteError{Op: "rows affected", Err: err}
	}
	if n > 0 {
		return nil
	}
	var actual string
	err = db.QueryRowContext(ctx, `SELECT status FROM claims WHERE id = $1`, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read claim status: %w", err)
	}
	return &store.ConflictError{ClaimID: id, Expected: expected, Actual: model.Status(actual)}
}

// queryListEmployeeStatus returns the most recent claim per employee.
func queryListEmployeeStatus(ctx context.Context, db executor) ([]*model.EmployeeStatus, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT ON (employee)
			employee, amount_usd, status, payout_mode, id, updated_at
		FROM claims
		ORDER BY employee, created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list employee status: %w", err)
	}
	defer rows.Close()

	var result []*model.EmployeeStatus
	for rows.Next() {
		var (
			es   model.EmployeeStatus
			mode sql.NullString
		)
		if err := rows.Scan(&es.Employee, &es.LastPayout, &es.Status, &mode, &es.ClaimID, &es.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan employee status: %w", err)
		}
		es.Mode = mode.String
		result = append(result, &es)
	}
	return result, rows.Err()
}

// queryListUnresolved returns every claim not yet reconciled, newest first.
func queryListUnresolved(ctx context.Context, db executor) ([]*model.Claim, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE status <> $1
		ORDER BY created_at DESC, id DESC`,
		string(model.StatusReconciled))
	if err != nil {
		return nil, fmt.Errorf("list unresolved claims: %w", err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

func queryRecordEvent(ctx context.Context, db executor, e *model.Event) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO claim_events (topic, claim_id, payload) VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		e.Topic, e.ClaimID, jsonbBytes(e.Payload),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return &store.WriteError{Op: "record event", Err: err}
	}
	return nil
}

func queryGetEvents(ctx context.Context, db executor, claimID string) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, topic, claim_id, payload, created_at
		FROM claim_events WHERE claim_id = $1 ORDER BY created_at ASC, id ASC`, claimID)
	if err != nil {
		return nil, fmt.Errorf("get events for %s: %w", claimID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func queryInsertProof(ctx context.Context, db executor, name string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO proofs (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return false, &store.WriteError{Op: "insert proof", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &store.WriteError{Op: "insert proof", Err: err}
	}
	return n == 1, nil
}

func queryListProofs(ctx context.Context, db executor) ([]*model.Proof, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, created_at FROM proofs ORDER BY created_at DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	defer rows.Close()

	var result []*model.Proof
	for rows.Next() {
		var p model.Proof
		if err := rows.Scan(&p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan proof: %w", err)
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}
