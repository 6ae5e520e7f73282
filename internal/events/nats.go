package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes and subscribes over a single NATS connection that
// reconnects indefinitely.
type NATSBus struct {
	conn *nats.Conn
}

// Compile-time checks.
var (
	_ Publisher  = (*NATSBus)(nil)
	_ Subscriber = (*NATSBus)(nil)
)

// NewNATSBus connects to url. Extra options (e.g. disconnect/reconnect
// handlers) are appended to the defaults.
func NewNATSBus(url string, opts ...nats.Option) (*NATSBus, error) {
	defaults := []nats.Option{
		nats.Name("paybridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSBus{conn: nc}, nil
}

// Publish JSON-encodes event onto topic. It does not wait for the server.
func (b *NATSBus) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return b.conn.Publish(topic, data)
}

// Subscribe returns a channel of raw payloads for topic (wildcards allowed).
// Messages are dropped when the channel is full so the NATS client never blocks.
func (b *NATSBus) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- msg.Data:
		default:
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// Make sure the server has the interest before returning.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Connected reports whether the connection is currently up.
func (b *NATSBus) Connected() bool {
	return b.conn.IsConnected()
}

// Flush waits for the server to process everything published so far.
func (b *NATSBus) Flush() error {
	return b.conn.Flush()
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
