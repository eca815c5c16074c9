package live

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSBus adapts a core NATS connection to the Messaging contract.
// Plain NATS (not JetStream) is the right fit here: live previews want
// the latest rows with minimal latency, and a subscriber that was away
// re-primes through the poll path rather than replaying history.
type NATSBus struct {
	nc *nats.Conn
}

// NewNATSBus wraps an established connection.
func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc}
}

func (b *NATSBus) Publish(_ context.Context, subject string, data []byte) error {
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}
