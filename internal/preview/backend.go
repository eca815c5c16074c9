package preview

import (
	"context"
	"sync"
	"time"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// Backend is the cache storage contract. Get returns core.ErrNotFound
// (wrapped) for a missing or expired key; any other error marks the
// backend unhealthy for that request and the caller degrades to direct
// execution.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is an in-process TTL cache. Expired entries are dropped
// lazily on read and swept by a background janitor.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryBackend creates a memory backend whose janitor sweeps at the
// given interval (default 1m when zero).
func NewMemoryBackend(sweep time.Duration) *MemoryBackend {
	if sweep <= 0 {
		sweep = time.Minute
	}
	b := &MemoryBackend{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go b.janitor(sweep)
	return b
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return nil, core.ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		return nil, core.ErrNotFound
	}
	return entry.value, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	b.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	b.mu.Unlock()
	return nil
}

// Size returns the current entry count, expired entries included until
// swept.
func (b *MemoryBackend) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Close stops the janitor.
func (b *MemoryBackend) Close() {
	b.once.Do(func() { close(b.stop) })
}

func (b *MemoryBackend) janitor(sweep time.Duration) {
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for key, entry := range b.entries {
				if now.After(entry.expiresAt) {
					delete(b.entries, key)
				}
			}
			b.mu.Unlock()
		}
	}
}
