// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db      *sql.DB
	version uint // schema version after migrations
}

var _ store.Store = (*PostgresStore)(nil)

// Pool limits for the shared *sql.DB. The pipeline's worker count is far
// below maxOpenConns, leaving room for HTTP readers.
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// connectRetry covers a database that is still starting alongside the daemon.
var connectRetry = store.RetryPolicy{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	MaxRetries:      8,
}

// New connects to databaseURL, waiting for the server to accept
// connections, and applies pending migrations.
func New(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := store.WithRetry(ctx, connectRetry, func() error { return db.PingContext(ctx) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := migrateUp(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, version: version}, nil
}

// SchemaVersion is the migration version the database is at.
func (s *PostgresStore) SchemaVersion() uint { return s.version }

func migrateUp(db *sql.DB) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "paybridge_schema_migrations"})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) InsertClaim(ctx context.Context, claim *model.Claim) (bool, error) {
	return queryInsertClaim(ctx, s.db, claim)
}

func (s *PostgresStore) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	return queryGetClaim(ctx, s.db, id)
}

func (s *PostgresStore) ListClaims(ctx context.Context) ([]*model.Claim, error) {
	return queryListClaims(ctx, s.db)
}

func (s *PostgresStore) Transition(ctx context.Context, t model.Transition) (*model.Claim, error) {
	return queryTransition(ctx, s.db, t)
}

func (s *PostgresStore) SetReconcileSubmission(ctx context.Context, id, txHash string) error {
	return querySetReconcileSubmission(ctx, s.db, id, txHash)
}

func (s *PostgresStore) SetLastError(ctx context.Context, id, message string) error {
	return querySetLastError(ctx, s.db, id, message)
}

func (s *PostgresStore) LatestClaimBlock(ctx context.Context) (uint64, error) {
	return queryLatestClaimBlock(ctx, s.db)
}

func (s *PostgresStore) ListEmployeeStatus(ctx context.Context) ([]*model.EmployeeStatus, error) {
	return queryListEmployeeStatus(ctx, s.db)
}

func (s *PostgresStore) ListUnresolved(ctx context.Context) ([]*model.Claim, error) {
	return queryListUnresolved(ctx, s.db)
}

func (s *PostgresStore) RecordEvent(ctx context.Context, event *model.Event) error {
	return queryRecordEvent(ctx, s.db, event)
}

func (s *PostgresStore) GetEvents(ctx context.Context, claimID string) ([]*model.Event, error) {
	return queryGetEvents(ctx, s.db, claimID)
}

func (s *PostgresStore) InsertProof(ctx context.Context, name string) (bool, error) {
	return queryInsertProof(ctx, s.db, name)
}

func (s *PostgresStore) ListProofs(ctx context.Context) ([]*model.Proof, error) {
	return queryListProofs(ctx, s.db)
}

// RunInTransaction calls fn with a store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &store.WriteError{Op: "begin transaction", Err: err}
	}
	if err := fn(&txStore{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &store.WriteError{Op: "commit transaction", Err: err}
	}
	return nil
}

// txStore runs the same queries against an open transaction.
type txStore struct {
	tx *sql.Tx
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) InsertClaim(ctx context.Context, claim *model.Claim) (bool, error) {
	return queryInsertClaim(ctx, s.tx, claim)
}

func (s *txStore) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	return queryGetClaim(ctx, s.tx, id)
}

func (s *txStore) ListClaims(ctx context.Context) ([]*model.Claim, error) {
	return queryListClaims(ctx, s.tx)
}

func (s *txStore) Transition(ctx context.Context, t model.Transition) (*model.Claim, error) {
	return queryTransition(ctx, s.tx, t)
}

func (s *txStore) SetReconcileSubmission(ctx context.Context, id, txHash string) error {
	return querySetReconcileSubmission(ctx, s.tx, id, txHash)
}

func (s *txStore) SetLastError(ctx context.Context, id, message string) error {
	return querySetLastError(ctx, s.tx, id, message)
}

func (s *txStore) LatestClaimBlock(ctx context.Context) (uint64, error) {
	return queryLatestClaimBlock(ctx, s.tx)
}

func (s *txStore) ListEmployeeStatus(ctx context.Context) ([]*model.EmployeeStatus, error) {
	return queryListEmployeeStatus(ctx, s.tx)
}

func (s *txStore) ListUnresolved(ctx context.Context) ([]*model.Claim, error) {
	return queryListUnresolved(ctx, s.tx)
}

func (s *txStore) RecordEvent(ctx context.Context, event *model.Event) error {
	return queryRecordEvent(ctx, s.tx, event)
}

func (s *txStore) GetEvents(ctx context.Context, claimID string) ([]*model.Event, error) {
	return queryGetEvents(ctx, s.tx, claimID)
}

func (s *txStore) InsertProof(ctx context.Context, name string) (bool, error) {
	return queryInsertProof(ctx, s.tx, name)
}

func (s *txStore) ListProofs(ctx context.Context) ([]*model.Proof, error) {
	return queryListProofs(ctx, s.tx)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
