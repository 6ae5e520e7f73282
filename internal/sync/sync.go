// Package sync periodically exports the claim ledger as JSONL to off-box
// destinations and picks up newly sealed proof artifacts.
package sync

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/paybridge/internal/proofs"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// destinationTimeout bounds a single destination write.
const destinationTimeout = 2 * time.Minute

// Destination is an export target such as an S3 object or a git repo.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports the ledger on a fixed interval.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	artifactsDir string
	logger       *slog.Logger
}

// NewScheduler creates a scheduler. When artifactsDir is non-empty each pass
// also records proof artifacts that appeared there.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, artifactsDir string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		artifactsDir: artifactsDir,
		logger:       logger,
	}
}

// Run syncs immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.SyncOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Report summarizes one sync pass.
type Report struct {
	Proofs int // newly recorded proof artifacts
	Bytes  int // size of the export
	Failed int // destinations whose write failed
}

// SyncOnce records new proofs, then writes one export to every destination
// concurrently. A failing destination does not affect the others.
func (s *Scheduler) SyncOnce(ctx context.Context) Report {
	var rep Report
	if s.artifactsDir != "" {
		n, err := proofs.Sync(ctx, s.store, s.artifactsDir, s.logger)
		if err != nil {
			s.logger.Error("proof sync failed", "dir", s.artifactsDir, "err", err)
		} else if n > 0 {
			s.logger.Info("proofs recorded", "count", n)
		}
		rep.Proofs = n
	}
	if len(s.destinations) == 0 {
		return rep
	}

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf); err != nil {
		s.logger.Error("sync export failed", "err", err)
		rep.Failed = len(s.destinations)
		return rep
	}
	data := buf.Bytes()
	rep.Bytes = len(data)

	var failed atomic.Int64
	var g errgroup.Group
	for _, dest := range s.destinations {
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(ctx, destinationTimeout)
			defer cancel()
			if err := dest.Write(wctx, data); err != nil {
				failed.Add(1)
				s.logger.Error("sync destination write failed", "destination", dest.Name(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	rep.Failed = int(failed.Load())

	s.logger.Info("sync completed", "destinations", len(s.destinations), "failed", rep.Failed, "bytes", rep.Bytes, "proofs", rep.Proofs)
	return rep
}
