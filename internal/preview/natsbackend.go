package preview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// NATSBackend stores preview results in a JetStream KV bucket. The TTL
// is bucket-level, fixed at bucket creation; the per-call ttl argument
// is ignored.
type NATSBackend struct {
	bucket jetstream.KeyValue
}

// NewNATSBackend opens (or creates) the named KV bucket with the given
// TTL.
func NewNATSBackend(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*NATSBackend, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "flowsql preview result cache",
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("opening preview cache bucket %s: %w", bucket, err)
	}
	return &NATSBackend{bucket: kv}, nil
}

func (b *NATSBackend) Name() string { return "natskv" }

func (b *NATSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := b.bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("preview cache get: %w", err)
	}
	return entry.Value(), nil
}

func (b *NATSBackend) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := b.bucket.Put(ctx, key, value); err != nil {
		return fmt.Errorf("preview cache put: %w", err)
	}
	return nil
}
