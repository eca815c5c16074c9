package preview

import (
	"context"
	"errors"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/flowstack-labs/flowsql/internal/metric"
	"github.com/flowstack-labs/flowsql/pkg/core"
)

// Compute executes a preview when the cache cannot serve it.
type Compute func(ctx context.Context) (*core.ResultSet, error)

// Config configures the preview cache service.
type Config struct {
	// Backend is the cache storage. Nil disables caching entirely;
	// every request computes directly.
	Backend Backend

	// TTL for cached results (default 30s).
	TTL time.Duration

	// Metrics defaults to a fresh isolated bundle when nil.
	Metrics *metric.Metrics

	// Logger defaults to a discard logger when nil.
	Logger *slog.Logger
}

// Service is the content-addressed preview cache. Concurrent requests
// for the same key share one execution; backend failures are logged and
// bypassed, never surfaced to the caller.
type Service struct {
	backend Backend
	ttl     time.Duration
	metrics *metric.Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewService creates the preview cache service.
func NewService(cfg Config) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = metric.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{backend: cfg.Backend, ttl: ttl, metrics: metrics, logger: logger}
}

// GetOrCompute returns the cached result for key, or computes it
// exactly once per key under concurrency and stores the outcome.
func (s *Service) GetOrCompute(ctx context.Context, key string, compute Compute) (*core.ResultSet, error) {
	cacheable := s.backend != nil
	if cacheable {
		data, err := s.backend.Get(ctx, key)
		switch {
		case err == nil:
			var rs core.ResultSet
			if decErr := json.Unmarshal(data, &rs); decErr == nil {
				s.metrics.CacheHits.Inc()
				return &rs, nil
			}
			// A corrupt entry is recomputed and overwritten.
			s.logger.Warn("discarding undecodable cache entry", slog.String("key", key))
		case errors.Is(err, core.ErrNotFound):
			s.metrics.CacheMisses.Inc()
		default:
			// Backend down: compute directly, skip the write-back.
			s.metrics.CacheBypass.Inc()
			s.logger.Warn("cache backend unavailable, executing directly",
				slog.String("backend", s.backend.Name()), slog.Any("error", err))
			cacheable = false
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		rs, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if cacheable {
			s.store(ctx, key, rs)
		}
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.ResultSet), nil
}

func (s *Service) store(ctx context.Context, key string, rs *core.ResultSet) {
	data, err := json.Marshal(rs)
	if err != nil {
		s.logger.Warn("encoding preview result for cache", slog.Any("error", err))
		return
	}
	if err := s.backend.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Warn("cache write failed",
			slog.String("backend", s.backend.Name()), slog.Any("error", err))
		return
	}
	s.metrics.CacheStores.Inc()
}
