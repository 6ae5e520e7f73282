package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

const (
	// sseClientBuffer is the per-client backlog before messages are dropped.
	sseClientBuffer = 64

	// sseKeepaliveInterval is how often keepalive comments are sent to
	// prevent connection timeouts.
	sseKeepaliveInterval = 15 * time.Second
)

// sseEvent is one broadcast message on its way to SSE clients.
type sseEvent struct {
	ID      uint64 // per-hub sequence number
	Topic   string // bus subject, e.g. payroll.claim.payout
	ClaimID string
	Data    []byte // JSON-encoded model.Message
}

// sseHub fans broadcast messages out to connected SSE clients. There is no
// replay: a client sees only what is broadcast while it is connected.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	nextID  atomic.Uint64
}

// sseFilter selects what a client receives. The zero value matches everything.
type sseFilter struct {
	topics  []string // subject globs; any match passes
	claimID string   // when set, only messages for this claim pass
}

// sseClient represents a single connected SSE consumer.
type sseClient struct {
	filter sseFilter
	ch     chan *sseEvent
}

func newSSEHub() *sseHub {
	return &sseHub{
		clients: make(map[*sseClient]struct{}),
	}
}

// broadcast sends an event to all connected clients whose filter matches,
// and returns how many slow clients missed it.
func (h *sseHub) broadcast(topic, claimID string, payload []byte) (dropped int) {
	evt := &sseEvent{
		ID:      h.nextID.Add(1),
		Topic:   topic,
		ClaimID: claimID,
		Data:    payload,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.filter.matches(evt) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			dropped++
		}
	}
	return dropped
}

// subscribe registers a new SSE client and returns it. Call unsubscribe when done.
func (h *sseHub) subscribe(f sseFilter) *sseClient {
	c := &sseClient{
		filter: f,
		ch:     make(chan *sseEvent, sseClientBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *sseHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (f sseFilter) matches(evt *sseEvent) bool {
	if f.claimID != "" && f.claimID != evt.ClaimID {
		return false
	}
	if len(f.topics) == 0 {
		return true
	}
	for _, pattern := range f.topics {
		if matchTopicPattern(pattern, evt.Topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern.
// Supports "*" as a single-segment wildcard and ">" as a multi-segment
// suffix wildcard (NATS-style).
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}

	return len(patParts) == len(topParts)
}

// handleEventStream handles GET /v1/events/stream.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var f sseFilter
	q := r.URL.Query()
	for _, t := range strings.Split(q.Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.topics = append(f.topics, t)
		}
	}
	if id := q.Get("claim"); id != "" {
		f.claimID = model.ClaimID(id)
	}

	client := s.sseHub.subscribe(f)
	defer s.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
