// Package live maintains push subscriptions for output views. Each
// view has one owner goroutine holding the single upstream feed;
// subscribers attach and detach against a reference count, and the
// feed tears down when the last subscriber leaves.
package live

import (
	"context"
	"sync"
)

// Messaging is the fan-out transport. Subjects are tenant-qualified, so
// transport-level subscriptions can never observe another tenant's
// traffic.
type Messaging interface {
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for a subject and returns an
	// unsubscribe function. Handlers are invoked in publish order.
	Subscribe(subject string, handler func(data []byte)) (func() error, error)
}

// MemoryBus is an in-process Messaging implementation for tests and
// single-process deployments.
type MemoryBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]func([]byte)
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string]map[int]func([]byte))}
}

// Publish delivers data to every handler on the subject, synchronously
// and in subscription order.
func (b *MemoryBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	subs := make([]func([]byte), 0, len(b.handlers[subject]))
	for id := 0; id < b.nextID; id++ {
		if h, ok := b.handlers[subject][id]; ok {
			subs = append(subs, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range subs {
		h(data)
	}
	return nil
}

// Subscribe registers a handler for the subject.
func (b *MemoryBus) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.handlers[subject] == nil {
		b.handlers[subject] = make(map[int]func([]byte))
	}
	b.handlers[subject][id] = handler
	b.mu.Unlock()

	return func() error {
		b.mu.Lock()
		delete(b.handlers[subject], id)
		b.mu.Unlock()
		return nil
	}, nil
}
