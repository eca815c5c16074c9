package config

import "time"

// Default configuration values.
const (
	DefaultListen          = ":8080"
	DefaultEnv             = "dev"
	DefaultOutput          = "text"
	DefaultRefreshInterval = 30 * time.Second
	DefaultCacheBackend    = "memory"
	DefaultCacheTTL        = 30 * time.Second
	DefaultLiveBus         = "memory"
)

// ApplyDefaults fills unset fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Environment == "" {
		c.Environment = DefaultEnv
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Catalog.RefreshInterval <= 0 {
		c.Catalog.RefreshInterval = DefaultRefreshInterval
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Live.Bus == "" {
		c.Live.Bus = DefaultLiveBus
	}
}
