// Package commands implements the flowsql subcommands.
package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/flowstack-labs/flowsql/internal/catalog"
	"github.com/flowstack-labs/flowsql/internal/config"
	"github.com/flowstack-labs/flowsql/internal/engine"
	"github.com/flowstack-labs/flowsql/internal/metric"
	"github.com/flowstack-labs/flowsql/internal/router"
)

// Runtime is the assembled service stack a command operates on.
type Runtime struct {
	Engine   *engine.Engine
	Router   *router.Router
	Registry *catalog.Registry
	Metrics  *metric.Metrics
	Config   *config.Config
	Logger   *slog.Logger
	Closers  []func() error
}

// Close releases everything the runtime holds, in reverse order of
// construction.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.Closers) - 1; i >= 0; i-- {
		if err := r.Closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RuntimeFactory builds a runtime from the command context. Injected
// by the root command so this package stays free of wiring concerns.
type RuntimeFactory func(ctx context.Context) (*Runtime, error)
