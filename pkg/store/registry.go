package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Store)
)

// Register adds a store factory to the registry.
// Called by store implementations in their init() functions.
func Register(driver string, factory func(*slog.Logger) Store) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[driver] = factory
}

// Get retrieves a store factory by driver name.
func Get(driver string) (func(*slog.Logger) Store, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[driver]
	return f, ok
}

// New creates a store instance for the config's driver.
// A nil logger uses a discard logger.
func New(cfg Config, logger *slog.Logger) (Store, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("store driver not specified for %q", cfg.Name)
	}
	factory, ok := Get(cfg.Driver)
	if !ok {
		return nil, &UnknownDriverError{Driver: cfg.Driver, Available: List()}
	}
	return factory(logger), nil
}

// List returns all registered driver names (sorted).
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a driver name is registered.
func IsRegistered(driver string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[driver]
	return ok
}

// UnknownDriverError is returned when an unregistered driver is requested.
type UnknownDriverError struct {
	Driver    string
	Available []string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown store driver %q\nAvailable drivers: %v\nHint: check stores[].driver in flowsql.yaml", e.Driver, e.Available)
}
