// Package config loads and validates the flowsql server configuration.
// It is decoupled from CLI concerns so embedded setups and tests can
// construct configs directly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowstack-labs/flowsql/pkg/core"
	"github.com/flowstack-labs/flowsql/pkg/store"
)

// CatalogSourceConfig describes one external catalog endpoint the
// registry pulls table metadata from.
type CatalogSourceConfig struct {
	// Name identifies the source for logging.
	Name string `koanf:"name"`

	// Store names the backing store whose catalog this source lists.
	Store string `koanf:"store"`

	// Manifest is the path to a JSON schema manifest served by this
	// source.
	Manifest string `koanf:"manifest"`
}

// CatalogConfig configures the schema registry.
type CatalogConfig struct {
	Sources []CatalogSourceConfig `koanf:"sources"`

	// RefreshInterval between background catalog refreshes.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// ProfileConfig overrides one freshness class's safety profile.
type ProfileConfig struct {
	RowCap           int           `koanf:"row_cap"`
	Timeout          time.Duration `koanf:"timeout"`
	MemoryCeilingMiB int64         `koanf:"memory_ceiling_mib"`
}

// CacheConfig configures the preview result cache.
type CacheConfig struct {
	// Backend is "memory", "nats", or "none".
	Backend string `koanf:"backend"`

	// TTL for cached preview results.
	TTL time.Duration `koanf:"ttl"`

	// URL of the NATS server (nats backend only).
	URL string `koanf:"url"`

	// Bucket is the JetStream key-value bucket name (nats backend only).
	Bucket string `koanf:"bucket"`
}

// LiveConfig configures live row delivery.
type LiveConfig struct {
	// Bus is "memory" or "nats".
	Bus string `koanf:"bus"`

	// URL of the NATS server (nats bus only).
	URL string `koanf:"url"`

	PollInterval   time.Duration `koanf:"poll_interval"`
	HealthInterval time.Duration `koanf:"health_interval"`
	BufferSize     int           `koanf:"buffer_size"`
}

// CompileConfig tunes compilation limits.
type CompileConfig struct {
	// MaxOffset is the highest accepted pagination offset.
	MaxOffset int `koanf:"max_offset"`

	// DefaultRowCap is the row limit applied when a query carries none.
	DefaultRowCap int `koanf:"default_row_cap"`
}

// Config is the full server configuration.
type Config struct {
	// Environment is the deployment environment (dev, staging, prod).
	Environment string `koanf:"environment"`

	// Listen is the HTTP listen address.
	Listen string `koanf:"listen"`

	Verbose bool   `koanf:"verbose"`
	Output  string `koanf:"output"`

	Stores   []store.Config           `koanf:"stores"`
	Catalog  CatalogConfig            `koanf:"catalog"`
	Profiles map[string]ProfileConfig `koanf:"profiles"`
	Cache    CacheConfig              `koanf:"cache"`
	Live     LiveConfig               `koanf:"live"`
	Compile  CompileConfig            `koanf:"compile"`
}

// SafetyProfiles converts profile overrides to the router's profile
// map, keyed by freshness class. Unknown keys are rejected by Validate.
func (c *Config) SafetyProfiles() map[core.Freshness]core.SafetyProfile {
	out := make(map[core.Freshness]core.SafetyProfile, len(c.Profiles))
	for name, p := range c.Profiles {
		out[core.Freshness(name)] = core.SafetyProfile{
			RowCap:        p.RowCap,
			Timeout:       p.Timeout,
			MemoryCeiling: p.MemoryCeilingMiB << 20,
		}
	}
	return out
}

// Validate checks the configuration for mistakes that would otherwise
// surface as confusing runtime failures.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Stores))
	for i, sc := range c.Stores {
		if sc.Name == "" {
			return fmt.Errorf("stores[%d]: name is required", i)
		}
		if seen[sc.Name] {
			return fmt.Errorf("stores[%d]: duplicate store name %q", i, sc.Name)
		}
		seen[sc.Name] = true
		if !store.IsRegistered(strings.ToLower(sc.Driver)) {
			return &store.UnknownDriverError{Driver: sc.Driver, Available: store.List()}
		}
	}

	for _, src := range c.Catalog.Sources {
		if src.Store != "" && !seen[src.Store] {
			return fmt.Errorf("catalog source %q references unknown store %q", src.Name, src.Store)
		}
	}

	for name := range c.Profiles {
		switch core.Freshness(name) {
		case core.FreshnessHot, core.FreshnessWarm, core.FreshnessCool, core.FreshnessCold:
		default:
			return fmt.Errorf("profiles: unknown freshness class %q", name)
		}
	}

	switch c.Cache.Backend {
	case "", "memory", "nats", "none":
	default:
		return fmt.Errorf("cache.backend must be memory, nats, or none, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "nats" && c.Cache.Bucket == "" {
		return fmt.Errorf("cache.bucket is required for the nats backend")
	}

	switch c.Live.Bus {
	case "", "memory", "nats":
	default:
		return fmt.Errorf("live.bus must be memory or nats, got %q", c.Live.Bus)
	}

	if c.Compile.MaxOffset < 0 {
		return fmt.Errorf("compile.max_offset must not be negative")
	}
	return nil
}
