// Package client provides a transport-agnostic interface for the paybridge
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// Client is the interface the paybridge CLI commands use to talk to a
// running daemon. It is implemented by HTTPClient.
type Client interface {
	// Claims
	ListUnresolved(ctx context.Context) ([]*model.Claim, error)
	GetClaim(ctx context.Context, id string) (*model.Claim, error)
	GetEvents(ctx context.Context, claimID string) ([]*model.Event, error)

	// Operator actions
	RetryPayout(ctx context.Context, id string) (*RetryResponse, error)
	RetryReconcile(ctx context.Context, id string) (*RetryResponse, error)

	// Projections
	ListEmployees(ctx context.Context) ([]*model.EmployeeStatus, error)
	ListProofs(ctx context.Context) ([]*model.Proof, error)

	// Stream delivers broadcast messages to fn until ctx is done, the server
	// closes the stream, or fn returns an error.
	Stream(ctx context.Context, f StreamFilter, fn func(*model.Message) error) error

	// Health
	Health(ctx context.Context) (*Health, error)

	// Lifecycle
	Close() error
}

// Health is the response from GET /v1/health.
type Health struct {
	Status     string `json:"status"`
	Watcher    string `json:"watcher"`
	QueueDepth int    `json:"queue_depth"`
	SSEClients int    `json:"sse_clients"`
}

// RetryResponse is returned when an operator retry is queued.
type RetryResponse struct {
	ID     string `json:"id"`
	Step   string `json:"step"`
	Status string `json:"status"`
}

// listClaimsResponse is the envelope of GET /v1/claims/unresolved.
type listClaimsResponse struct {
	Claims []*model.Claim `json:"claims"`
	Total  int            `json:"total"`
}

// StreamFilter narrows a Stream. Topics are subject globs such as
// payroll.claim.*; Claim restricts the stream to one claim id.
type StreamFilter struct {
	Topics []string
	Claim  string
}
