// Package natskv provides the NATS JetStream key-value client for
// low-latency point lookups.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/flowstack-labs/flowsql/pkg/core"
	"github.com/flowstack-labs/flowsql/pkg/store"
)

// Store implements point lookups over JetStream KV buckets. It
// deliberately does not execute SQL; routing a compiled statement here
// is a misconfiguration and reported as such.
type Store struct {
	logger *slog.Logger

	mu      sync.Mutex
	nc      *nats.Conn
	js      jetstream.JetStream
	buckets map[string]jetstream.KeyValue
	cfg     store.Config
}

// New creates a new NATS KV store instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger, buckets: make(map[string]jetstream.KeyValue)}
}

// Connect dials the NATS server named by DSN (nats://host:port).
func (s *Store) Connect(ctx context.Context, cfg store.Config) error {
	url := cfg.DSN
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, nats.Name("flowsql-"+cfg.Name))
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to open jetstream context: %w", err)
	}

	s.mu.Lock()
	s.nc = nc
	s.js = js
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Close drains the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	return nil
}

// Ping verifies the connection is up and the server responds.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	nc := s.nc
	s.mu.Unlock()
	if nc == nil || !nc.IsConnected() {
		return fmt.Errorf("nats connection not established")
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush failed: %w", err)
	}
	return nil
}

// Query is not supported: the keyvalue family serves point lookups.
func (s *Store) Query(_ context.Context, _ store.Query) (*core.ResultSet, error) {
	return nil, &core.ExecutionError{
		Kind:    core.ExecRejected,
		Store:   s.cfg.Name,
		Message: "keyvalue store does not execute SQL statements",
	}
}

// Lookup fetches one value from a KV bucket. Bucket handles are cached
// per name after first use.
func (s *Store) Lookup(ctx context.Context, bucket, key string) ([]byte, error) {
	kv, err := s.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	entry, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("key %s/%s: %w", bucket, key, core.ErrNotFound)
		}
		return nil, fmt.Errorf("kv get %s/%s: %w", bucket, key, err)
	}
	return entry.Value(), nil
}

func (s *Store) bucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.js == nil {
		return nil, fmt.Errorf("nats connection not established")
	}
	if kv, ok := s.buckets[name]; ok {
		return kv, nil
	}
	kv, err := s.js.KeyValue(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("opening kv bucket %s: %w", name, err)
	}
	s.buckets[name] = kv
	return kv, nil
}
