package store

import (
	"context"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// Store defines the persistence interface for claims. It is the single source
// of truth for claim status.
type Store interface {
	// Claims
	InsertClaim(ctx context.Context, claim *model.Claim) (inserted bool, err error)
	GetClaim(ctx context.Context, id string) (*model.Claim, error)
	ListClaims(ctx context.Context) ([]*model.Claim, error)
	Transition(ctx context.Context, t model.Transition) (*model.Claim, error)
	SetReconcileSubmission(ctx context.Context, id, txHash string) error
	SetLastError(ctx context.Context, id, message string) error
	// LatestClaimBlock is the highest ledger block of any recorded claim, or
	// 0 when there are none.
	LatestClaimBlock(ctx context.Context) (uint64, error)

	// Projections
	ListEmployeeStatus(ctx context.Context) ([]*model.EmployeeStatus, error)
	ListUnresolved(ctx context.Context) ([]*model.Claim, error)

	// Events
	RecordEvent(ctx context.Context, event *model.Event) error
	GetEvents(ctx context.Context, claimID string) ([]*model.Event, error)

	// Proofs
	InsertProof(ctx context.Context, name string) (inserted bool, err error)
	ListProofs(ctx context.Context) ([]*model.Proof, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
