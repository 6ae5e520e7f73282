// Package server exposes the claim store and pipeline over HTTP and gRPC,
// and fans broadcast messages out to SSE clients and the NATS bus.
package server

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/paybridge/internal/events"
	"github.com/alfredjeanlab/paybridge/internal/metrics"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// Pipeline is the subset of the claim pipeline the server drives.
type Pipeline interface {
	RetryPayout(ctx context.Context, id string) error
	RetryReconcile(ctx context.Context, id string) error
	QueueDepth() int
}

// Options configures a Server.
type Options struct {
	// Halted reports the kill switch: the watcher is detached and operator
	// retries are refused.
	Halted       bool
	ArtifactsDir string
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Server holds the state shared by the HTTP handlers, the broadcaster and
// the relay.
type Server struct {
	store    store.Store
	pipeline Pipeline
	sseHub   *sseHub
	metrics  *metrics.Metrics
	logger   *slog.Logger

	halted       bool
	artifactsDir string
}

// New returns a Server. pipeline may be nil, in which case retries are refused.
func New(st store.Store, pipeline Pipeline, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:        st,
		pipeline:     pipeline,
		sseHub:       newSSEHub(),
		metrics:      opts.Metrics,
		logger:       logger,
		halted:       opts.Halted,
		artifactsDir: opts.ArtifactsDir,
	}
}

// SetPipeline attaches the pipeline after construction. The pipeline needs
// the server's broadcaster, so the daemon builds the server first. Call it
// before serving.
func (s *Server) SetPipeline(p Pipeline) {
	s.pipeline = p
}

// NewBroadcaster returns the pipeline's outbound fan-out. pub may be nil
// when no bus is configured.
func (s *Server) NewBroadcaster(pub events.Publisher, nodeID string) *Broadcaster {
	return &Broadcaster{
		hub:     s.sseHub,
		pub:     pub,
		nodeID:  nodeID,
		metrics: s.metrics,
		logger:  s.logger,
	}
}

// NewRelay returns the inbound side of the bus, delivering other nodes'
// messages to local SSE clients.
func (s *Server) NewRelay(sub events.Subscriber, nodeID string) *Relay {
	return &Relay{
		sub:     sub,
		hub:     s.sseHub,
		nodeID:  nodeID,
		metrics: s.metrics,
		logger:  s.logger,
	}
}
