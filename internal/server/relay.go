package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/paybridge/internal/events"
	"github.com/alfredjeanlab/paybridge/internal/metrics"
)

// Relay forwards broadcast messages published by other nodes to local SSE
// clients. It never touches the store.
type Relay struct {
	sub     events.Subscriber
	hub     *sseHub
	nodeID  string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Run subscribes to every broadcast subject and relays until ctx is done or
// the subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel, err := r.sub.Subscribe(events.BroadcastWildcard)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", events.BroadcastWildcard, err)
	}
	defer cancel()
	r.logger.Info("relay subscribed", "subject", events.BroadcastWildcard)

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.relay(data); err != nil {
				var me *events.MalformedMessageError
				if errors.As(err, &me) {
					r.logger.Warn("discarding malformed bus message", "error", err)
					continue
				}
				r.logger.Warn("relay failed", "error", err)
			}
		}
	}
}

func (r *Relay) relay(data []byte) error {
	env, err := events.DecodeEnvelope(events.BroadcastWildcard, data)
	if err != nil {
		return err
	}
	if env.Origin == r.nodeID {
		return nil
	}
	// Re-encode so SSE clients see the bare message, as for local broadcasts.
	payload, err := json.Marshal(env.Message)
	if err != nil {
		return err
	}
	if dropped := r.hub.broadcast(events.BroadcastSubject(env.Message.Type), env.Message.ID, payload); dropped > 0 {
		r.metrics.IncDropped("sse")
	}
	return nil
}
