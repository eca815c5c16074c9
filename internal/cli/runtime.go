package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/flowstack-labs/flowsql/internal/catalog"
	"github.com/flowstack-labs/flowsql/internal/cli/commands"
	"github.com/flowstack-labs/flowsql/internal/compile"
	"github.com/flowstack-labs/flowsql/internal/config"
	"github.com/flowstack-labs/flowsql/internal/engine"
	"github.com/flowstack-labs/flowsql/internal/live"
	"github.com/flowstack-labs/flowsql/internal/metric"
	"github.com/flowstack-labs/flowsql/internal/preview"
	"github.com/flowstack-labs/flowsql/internal/router"
)

// NewRuntime assembles the full service stack from the loaded
// configuration. It is handed to commands as a factory so each command
// builds the stack only when it runs.
func NewRuntime(ctx context.Context) (*commands.Runtime, error) {
	cfg := GetConfig(ctx)
	logger := GetLogger(ctx)
	metrics := metric.New()

	var closers []func() error

	sources := make([]catalog.Source, 0, len(cfg.Catalog.Sources))
	for _, sc := range cfg.Catalog.Sources {
		if sc.Manifest == "" {
			return nil, fmt.Errorf("catalog source %q has no manifest path", sc.Name)
		}
		sources = append(sources, catalog.NewFileSource(sc.Name, sc.Manifest))
	}
	registry := catalog.NewRegistry(catalog.Config{
		Sources:         sources,
		Entitlements:    catalog.StaticEntitlements{},
		RefreshInterval: cfg.Catalog.RefreshInterval,
		Logger:          logger,
	})

	rt, err := router.New(router.Config{
		Stores:   cfg.Stores,
		Profiles: cfg.SafetyProfiles(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	closers = append(closers, rt.Close)

	previews, closer, err := buildPreviews(ctx, cfg.Cache, metrics, logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	lv, closer, err := buildLive(cfg.Live, rt, metrics, logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	eng, err := engine.New(engine.Config{
		Registry: registry,
		Router:   rt,
		Previews: previews,
		Live:     lv,
		Compile: compile.Options{
			MaxOffset:     cfg.Compile.MaxOffset,
			DefaultRowCap: cfg.Compile.DefaultRowCap,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return &commands.Runtime{
		Engine:   eng,
		Router:   rt,
		Registry: registry,
		Metrics:  metrics,
		Config:   cfg,
		Logger:   logger,
		Closers:  closers,
	}, nil
}

// buildPreviews constructs the preview cache service for the
// configured backend.
func buildPreviews(ctx context.Context, cfg config.CacheConfig, metrics *metric.Metrics, logger *slog.Logger) (*preview.Service, func() error, error) {
	switch cfg.Backend {
	case "none":
		return preview.NewService(preview.Config{Metrics: metrics, Logger: logger}), nil, nil

	case "nats":
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		nc, err := nats.Connect(url, nats.Name("flowsql-cache"))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting cache nats server: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("opening jetstream: %w", err)
		}
		backend, err := preview.NewNATSBackend(ctx, js, cfg.Bucket, cfg.TTL)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		svc := preview.NewService(preview.Config{
			Backend: backend,
			TTL:     cfg.TTL,
			Metrics: metrics,
			Logger:  logger,
		})
		return svc, func() error { nc.Close(); return nil }, nil

	default:
		backend := preview.NewMemoryBackend(time.Minute)
		svc := preview.NewService(preview.Config{
			Backend: backend,
			TTL:     cfg.TTL,
			Metrics: metrics,
			Logger:  logger,
		})
		return svc, func() error { backend.Close(); return nil }, nil
	}
}

// buildLive constructs the live delivery service. Store health probes
// go through the router so mode transitions track real connectivity.
func buildLive(cfg config.LiveConfig, rt *router.Router, metrics *metric.Metrics, logger *slog.Logger) (*live.Service, func() error, error) {
	var bus live.Messaging
	var closer func() error

	if cfg.Bus == "nats" {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		nc, err := nats.Connect(url, nats.Name("flowsql-live"))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting live nats server: %w", err)
		}
		bus = live.NewNATSBus(nc)
		closer = func() error { nc.Close(); return nil }
	} else {
		bus = live.NewMemoryBus()
	}

	svc, err := live.NewService(live.Config{
		Bus:            bus,
		Health:         rt.Healthy,
		PollInterval:   cfg.PollInterval,
		HealthInterval: cfg.HealthInterval,
		BufferSize:     cfg.BufferSize,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, nil, err
	}
	return svc, closer, nil
}
