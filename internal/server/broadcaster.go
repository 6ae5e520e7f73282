package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/paybridge/internal/events"
	"github.com/alfredjeanlab/paybridge/internal/metrics"
	"github.com/alfredjeanlab/paybridge/internal/model"
)

const publishTimeout = 2 * time.Second

// Broadcaster delivers pipeline messages to local SSE clients and, when a
// bus is configured, to other nodes. Delivery is best-effort: failures are
// logged and counted, never returned.
type Broadcaster struct {
	hub     *sseHub
	pub     events.Publisher
	nodeID  string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Broadcast implements pipeline.Broadcaster.
func (b *Broadcaster) Broadcast(msg *model.Message) {
	subject := events.BroadcastSubject(msg.Type)

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("failed to marshal broadcast message", "claim_id", msg.ID, "error", err)
		return
	}
	if dropped := b.hub.broadcast(subject, msg.ID, data); dropped > 0 {
		b.metrics.IncDropped("sse")
		b.logger.Debug("sse clients too slow, message dropped", "subject", subject, "clients", dropped)
	}

	if b.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	env := events.Envelope{Origin: b.nodeID, Message: msg}
	if err := b.pub.Publish(ctx, subject, env); err != nil {
		b.metrics.IncDropped("nats")
		b.logger.Warn("failed to publish broadcast message", "subject", subject, "claim_id", msg.ID, "error", err)
	}
}
