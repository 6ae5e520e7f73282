package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func testMessage() *model.Message {
	return &model.Message{
		ID:        "0xabc",
		Type:      model.MessagePayout,
		Status:    model.MessageSuccess,
		Employee:  "0xe1",
		AmountUSD: "50.00",
		Timestamp: 1700000000000,
	}
}

func TestBroadcastSubject(t *testing.T) {
	for _, tc := range []struct {
		typ  model.MessageType
		want string
	}{
		{model.MessageClaimDetected, "payroll.claim.claimdetected"},
		{model.MessagePayout, "payroll.claim.payout"},
		{model.MessageReconcile, "payroll.claim.reconcile"},
	} {
		if got := BroadcastSubject(tc.typ); got != tc.want {
			t.Errorf("BroadcastSubject(%s) = %q, want %q", tc.typ, got, tc.want)
		}
	}
}

func TestNewAuditEvent(t *testing.T) {
	e, err := NewAuditEvent(TopicClaimStuck, "0xabc", ClaimStuck{Status: model.StatusPaid, Step: "reconcile", Reason: "timeout", TxHash: "0xdef"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Topic != TopicClaimStuck || e.ClaimID != "0xabc" {
		t.Errorf("event = %+v", e)
	}
	var got ClaimStuck
	if err := json.Unmarshal(e.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.TxHash != "0xdef" || got.Status != model.StatusPaid {
		t.Errorf("payload = %+v", got)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	data, _ := json.Marshal(Envelope{Origin: "node-a", Message: testMessage()})
	env, err := DecodeEnvelope("payroll.claim.payout", data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Origin != "node-a" || env.Message.ID != "0xabc" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	bad := testMessage()
	bad.Type = "Mint"
	badData, _ := json.Marshal(Envelope{Origin: "node-a", Message: bad})
	noOrigin, _ := json.Marshal(Envelope{Message: testMessage()})

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"NotJSON", []byte("{nope")},
		{"MissingMessage", []byte(`{"origin":"node-a"}`)},
		{"MissingOrigin", noOrigin},
		{"InvalidMessage", badData},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEnvelope("payroll.claim.x", tc.data)
			var me *MalformedMessageError
			if !errors.As(err, &me) {
				t.Fatalf("expected *MalformedMessageError, got %v", err)
			}
			if me.Subject != "payroll.claim.x" {
				t.Errorf("subject = %q", me.Subject)
			}
		})
	}
}

func TestNATSBus_PublishSubscribe(t *testing.T) {
	url := startTestNATS(t)

	bus, err := NewNATSBus(url)
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	defer bus.Close()

	ch, cancel, err := bus.Subscribe(BroadcastWildcard)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	env := Envelope{Origin: "node-a", Message: testMessage()}
	if err := bus.Publish(context.Background(), BroadcastSubject(model.MessagePayout), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	bus.Flush()

	select {
	case data := <-ch:
		got, err := DecodeEnvelope("payroll.claim.payout", data)
		if err != nil {
			t.Fatalf("DecodeEnvelope: %v", err)
		}
		if got.Message.Type != model.MessagePayout || string(got.Message.AmountUSD) != "50.00" {
			t.Errorf("message = %+v", got.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestNATSBus_WildcardAcrossConnections(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSBus(url)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()
	sub, err := NewNATSBus(url)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(BroadcastWildcard)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	types := []model.MessageType{model.MessageClaimDetected, model.MessagePayout, model.MessageReconcile}
	for _, typ := range types {
		if err := pub.Publish(context.Background(), BroadcastSubject(typ), map[string]string{"t": string(typ)}); err != nil {
			t.Fatal(err)
		}
	}
	pub.Flush()

	for i := range len(types) {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestNATSBus_CancelClosesChannel(t *testing.T) {
	url := startTestNATS(t)

	bus, err := NewNATSBus(url)
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Close()

	ch, cancel, err := bus.Subscribe(BroadcastWildcard)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = bus.Publish(context.Background(), "payroll.claim.payout", map[string]int{"n": i})
		}
	}()

	// Cancel while messages are in flight must not panic, and twice is fine.
	cancel()
	cancel()
	<-done

	for range ch {
	}
}

func TestNATSBus_ReconnectHandler(t *testing.T) {
	url := startTestNATS(t)

	bus, err := NewNATSBus(url, nats.ReconnectHandler(func(*nats.Conn) {}))
	if err != nil {
		t.Fatal(err)
	}
	if !bus.Connected() {
		t.Error("expected connected bus")
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if bus.Connected() {
		t.Error("expected disconnected after Close")
	}
	if err := bus.Publish(context.Background(), "payroll.claim.payout", map[string]string{}); err == nil {
		t.Error("expected error publishing after close")
	}
}
