package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alfredjeanlab/paybridge/internal/events"
	"github.com/alfredjeanlab/paybridge/internal/metrics"
	"github.com/alfredjeanlab/paybridge/internal/model"
)

type published struct {
	subject string
	event   any
}

type fakeBus struct {
	mu   sync.Mutex
	sent []published
	err  error
	ch   chan []byte
}

func (f *fakeBus) Publish(_ context.Context, subject string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{subject, event})
	return nil
}

func (f *fakeBus) Subscribe(string) (<-chan []byte, func(), error) {
	return f.ch, func() {}, nil
}

func (f *fakeBus) Close() error { return nil }

func testMessage(typ model.MessageType) *model.Message {
	return &model.Message{
		ID:        "0xabc",
		Type:      typ,
		Status:    model.MessageSuccess,
		Employee:  "0xe1",
		AmountUSD: "50.00",
		Timestamp: 1700000000000,
	}
}

func TestBroadcaster_FansOutToSSEAndBus(t *testing.T) {
	srv, _, _, _ := newTestServer()
	bus := &fakeBus{}
	b := srv.NewBroadcaster(bus, "node-a")

	client := srv.sseHub.subscribe(sseFilter{})
	defer srv.sseHub.unsubscribe(client)

	b.Broadcast(testMessage(model.MessagePayout))

	select {
	case evt := <-client.ch:
		if evt.Topic != "payroll.claim.payout" {
			t.Errorf("topic = %q", evt.Topic)
		}
		var msg model.Message
		if err := json.Unmarshal(evt.Data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.ID != "0xabc" || msg.AmountUSD != "50.00" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SSE event")
	}

	if len(bus.sent) != 1 {
		t.Fatalf("published %d, want 1", len(bus.sent))
	}
	env, ok := bus.sent[0].event.(events.Envelope)
	if !ok || env.Origin != "node-a" || bus.sent[0].subject != "payroll.claim.payout" {
		t.Errorf("published = %+v", bus.sent[0])
	}
}

func TestBroadcaster_PublishFailureCounted(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	srv, _, _, _ := newTestServerWith(Options{Metrics: m})
	b := srv.NewBroadcaster(&fakeBus{err: errors.New("nats: connection closed")}, "node-a")

	b.Broadcast(testMessage(model.MessageReconcile))

	if got := testutil.ToFloat64(m.Dropped.WithLabelValues("nats")); got != 1 {
		t.Errorf("nats drops = %v, want 1", got)
	}
}

func TestBroadcaster_NoBus(t *testing.T) {
	srv, _, _, _ := newTestServer()
	b := srv.NewBroadcaster(nil, "node-a")
	b.Broadcast(testMessage(model.MessageClaimDetected))
}

func TestRelay_ForwardsForeignMessages(t *testing.T) {
	srv, _, _, _ := newTestServer()
	bus := &fakeBus{ch: make(chan []byte, 4)}
	relay := srv.NewRelay(bus, "node-a")

	client := srv.sseHub.subscribe(sseFilter{})
	defer srv.sseHub.unsubscribe(client)

	own, _ := json.Marshal(events.Envelope{Origin: "node-a", Message: testMessage(model.MessagePayout)})
	foreign, _ := json.Marshal(events.Envelope{Origin: "node-b", Message: testMessage(model.MessageReconcile)})
	bus.ch <- []byte("{garbage")
	bus.ch <- own
	bus.ch <- foreign

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	select {
	case evt := <-client.ch:
		if evt.Topic != "payroll.claim.reconcile" {
			t.Fatalf("relayed topic = %q, want payroll.claim.reconcile", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed message")
	}

	select {
	case evt := <-client.ch:
		t.Fatalf("unexpected relayed event: %q", evt.Topic)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRelay_MalformedIsReported(t *testing.T) {
	srv, _, _, _ := newTestServer()
	relay := srv.NewRelay(&fakeBus{}, "node-a")

	err := relay.relay([]byte(`{"origin":"node-b","message":{"id":"0x1","type":"Mint"}}`))
	var me *events.MalformedMessageError
	if !errors.As(err, &me) {
		t.Fatalf("expected *MalformedMessageError, got %v", err)
	}
}

func TestRelay_StopsWhenSubscriptionCloses(t *testing.T) {
	srv, _, _, _ := newTestServer()
	bus := &fakeBus{ch: make(chan []byte)}
	close(bus.ch)

	if err := srv.NewRelay(bus, "node-a").Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
