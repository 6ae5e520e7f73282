package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// claimRowColumns is the column list for scanClaim results.
var claimRowColumns = []string{
	"id", "employee", "amount", "amount_usd", "status",
	"payout_reference", "payout_mode", "reconcile_tx_id", "reconcile_submitted_tx",
	"last_error", "block_number", "claimed_at", "created_at", "updated_at",
}

// addClaimRow adds a claim row with no optional columns set.
func addClaimRow(rows *sqlmock.Rows, id, employee, amount, usd, status string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, employee, amount, usd, status,
		nil, nil, nil, nil,
		nil, int64(7), nil, now, now,
	)
}

func TestInsertClaim(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	claim := &model.Claim{
		ID:          "0xabc",
		Employee:    "0xe1",
		Amount:      big.NewInt(100),
		AmountUSD:   decimal.RequireFromString("100"),
		BlockNumber: 42,
	}

	mock.ExpectExec("INSERT INTO claims").
		WithArgs("0xabc", "0xe1", "100", sqlmock.AnyArg(), "pending", int64(42), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := s.InsertClaim(context.Background(), claim)
	if err != nil {
		t.Fatalf("InsertClaim: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true for a new claim")
	}
}

func TestInsertClaim_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("INSERT INTO claims .+ ON CONFLICT \\(id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := s.InsertClaim(context.Background(), &model.Claim{ID: "0xabc", Amount: big.NewInt(1)})
	if err != nil {
		t.Fatalf("InsertClaim: %v", err)
	}
	if inserted {
		t.Error("expected inserted=false for a duplicate claim")
	}
}

func TestInsertClaim_WriteError(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("INSERT INTO claims").WillReturnError(errors.New("connection reset"))

	_, err := s.InsertClaim(context.Background(), &model.Claim{ID: "0xabc", Amount: big.NewInt(1)})
	var we *store.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected *store.WriteError, got %v", err)
	}
}

func TestGetClaim(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM claims WHERE id = \\$1").WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows(claimRowColumns).AddRow(
			"0xabc", "0xe1", "50000000000000000000", "50.00", "paid",
			"tr_1", "test", nil, nil,
			nil, int64(7), now, now, now,
		))

	c, err := s.GetClaim(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}
	if c.Status != model.StatusPaid {
		t.Errorf("status = %s, want paid", c.Status)
	}
	want, _ := new(big.Int).SetString("50000000000000000000", 10)
	if c.Amount.Cmp(want) != 0 {
		t.Errorf("amount = %s, want %s", c.Amount, want)
	}
	if c.AmountUSD.StringFixed(2) != "50.00" {
		t.Errorf("amount_usd = %s", c.AmountUSD)
	}
	if c.PayoutReference != "tr_1" || c.PayoutMode != "test" {
		t.Errorf("payout = %q/%q", c.PayoutReference, c.PayoutMode)
	}
	if c.BlockNumber != 7 {
		t.Errorf("block = %d", c.BlockNumber)
	}
}

func TestGetClaim_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectQuery("SELECT .+ FROM claims WHERE id = \\$1").WithArgs("0xmissing").
		WillReturnRows(sqlmock.NewRows(claimRowColumns))

	if _, err := s.GetClaim(context.Background(), "0xmissing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransition_Applied(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE claims SET .+ WHERE id = \\$1 AND status = \\$2 RETURNING").
		WithArgs("0xabc", "pending", "paid", "tr_1", "test", "", "").
		WillReturnRows(sqlmock.NewRows(claimRowColumns).AddRow(
			"0xabc", "0xe1", "100", "100.00", "paid",
			"tr_1", "test", nil, nil,
			nil, int64(7), nil, now, now,
		))

	c, err := s.Transition(context.Background(), model.Transition{
		ClaimID: "0xabc", From: model.StatusPending, To: model.StatusPaid,
		PayoutReference: "tr_1", PayoutMode: "test",
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if c.Status != model.StatusPaid || c.PayoutReference != "tr_1" {
		t.Errorf("got %s/%s", c.Status, c.PayoutReference)
	}
}

func TestTransition_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectQuery("UPDATE claims SET").
		WillReturnRows(sqlmock.NewRows(claimRowColumns))
	mock.ExpectQuery("SELECT status FROM claims WHERE id = \\$1").WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))

	_, err := s.Transition(context.Background(), model.Transition{
		ClaimID: "0xabc", From: model.StatusPending, To: model.StatusPaid,
	})
	var ce *store.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *store.ConflictError, got %v", err)
	}
	if ce.Actual != model.StatusFailed || ce.Expected != model.StatusPending {
		t.Errorf("conflict = %+v", ce)
	}
	if !store.IsConflict(err) {
		t.Error("IsConflict should report true")
	}
}

func TestTransition_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectQuery("UPDATE claims SET").
		WillReturnRows(sqlmock.NewRows(claimRowColumns))
	mock.ExpectQuery("SELECT status FROM claims WHERE id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	_, err := s.Transition(context.Background(), model.Transition{
		ClaimID: "0xabc", From: model.StatusPaid, To: model.StatusReconciled,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransition_IllegalEdgeNeverQueries(t *testing.T) {
	db, _ := newMockDB(t)
	s := &PostgresStore{db: db}

	for _, tr := range []model.Transition{
		{ClaimID: "0x1", From: model.StatusPending, To: model.StatusReconciled},
		{ClaimID: "0x1", From: model.StatusFailed, To: model.StatusPaid},
		{ClaimID: "0x1", From: model.StatusReconciled, To: model.StatusPaid},
	} {
		if _, err := s.Transition(context.Background(), tr); err == nil {
			t.Errorf("%s -> %s should be rejected", tr.From, tr.To)
		}
	}
}

func TestSetReconcileSubmission(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("UPDATE claims SET reconcile_submitted_tx").
		WithArgs("0xabc", "0xdef", "paid").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetReconcileSubmission(context.Background(), "0xabc", "0xdef"); err != nil {
		t.Fatalf("SetReconcileSubmission: %v", err)
	}
}

func TestSetReconcileSubmission_NotPaid(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("UPDATE claims SET reconcile_submitted_tx").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM claims").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("reconciled"))

	err := s.SetReconcileSubmission(context.Background(), "0xabc", "0xdef")
	if !store.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestListEmployeeStatus(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT DISTINCT ON \\(employee\\)").
		WillReturnRows(sqlmock.NewRows([]string{"employee", "amount_usd", "status", "payout_mode", "id", "updated_at"}).
			AddRow("0xe1", "50.00", "reconciled", "test", "0xabc", now).
			AddRow("0xe2", "12.34", "failed", nil, "0x123", now))

	list, err := s.ListEmployeeStatus(context.Background())
	if err != nil {
		t.Fatalf("ListEmployeeStatus: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].LastPayout.StringFixed(2) != "50.00" || list[0].Mode != "test" {
		t.Errorf("row 0 = %+v", list[0])
	}
	if list[1].Status != model.StatusFailed || list[1].Mode != "" {
		t.Errorf("row 1 = %+v", list[1])
	}
}

func TestListUnresolved(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	rows := sqlmock.NewRows(claimRowColumns)
	addClaimRow(rows, "0x2", "0xe1", "1", "0.00", "paid", now)
	addClaimRow(rows, "0x1", "0xe2", "2", "0.00", "pending", now.Add(-time.Minute))
	mock.ExpectQuery("SELECT .+ FROM claims\\s+WHERE status <> \\$1").
		WithArgs("reconciled").
		WillReturnRows(rows)

	list, err := s.ListUnresolved(context.Background())
	if err != nil {
		t.Fatalf("ListUnresolved: %v", err)
	}
	if len(list) != 2 || list[0].ID != "0x2" || list[1].ID != "0x1" {
		t.Fatalf("unexpected result %+v", list)
	}
}

func TestRecordAndGetEvents(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	payload := json.RawMessage(`{"payoutReference":"tr_1"}`)
	mock.ExpectQuery("INSERT INTO claim_events").
		WithArgs("payroll.claim.paid", "0xabc", []byte(payload)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(9), now))

	e := &model.Event{Topic: "payroll.claim.paid", ClaimID: "0xabc", Payload: payload}
	if err := s.RecordEvent(context.Background(), e); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if e.ID != 9 {
		t.Errorf("event id = %d, want 9", e.ID)
	}

	mock.ExpectQuery("SELECT .+ FROM claim_events WHERE claim_id = \\$1").WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic", "claim_id", "payload", "created_at"}).
			AddRow(int64(9), "payroll.claim.paid", "0xabc", []byte(payload), now))

	events, err := s.GetEvents(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || string(events[0].Payload) != string(payload) {
		t.Errorf("events = %+v", events)
	}
}

func TestInsertProof(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("INSERT INTO proofs").WithArgs("run1.encrypted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO proofs").WithArgs("run1.encrypted").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := s.InsertProof(context.Background(), "run1.encrypted")
	if err != nil || !first {
		t.Fatalf("first insert = %v, %v", first, err)
	}
	second, err := s.InsertProof(context.Background(), "run1.encrypted")
	if err != nil || second {
		t.Fatalf("second insert = %v, %v", second, err)
	}
}

func TestRunInTransaction_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO proofs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		_, err := tx.InsertProof(context.Background(), "a.encrypted")
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO proofs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		if _, err := tx.InsertProof(context.Background(), "a.encrypted"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestLatestClaimBlock(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(block_number\), 0\) FROM claims`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(1234)))

	block, err := s.LatestClaimBlock(context.Background())
	if err != nil {
		t.Fatalf("LatestClaimBlock: %v", err)
	}
	if block != 1234 {
		t.Errorf("block = %d, want 1234", block)
	}
}

func TestLatestClaimBlock_Error(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectQuery("SELECT COALESCE").WillReturnError(sql.ErrConnDone)

	if _, err := s.LatestClaimBlock(context.Background()); !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("err = %v, want wrapped ErrConnDone", err)
	}
}
