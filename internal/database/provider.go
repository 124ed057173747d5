package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/photo-dedup/internal/config"
)

// OpenFunc opens and migrates a repository for the given config.
type OpenFunc func(ctx context.Context, cfg *config.DatabaseConfig) (Repository, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]OpenFunc)
)

// RegisterBackend registers a repository constructor under a driver name.
// Backends register themselves from init, so callers only need a blank import.
func RegisterBackend(driver string, open OpenFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, dup := backends[driver]; dup {
		panic("database: backend registered twice: " + driver)
	}
	backends[driver] = open
}

// Backends returns the registered driver names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the repository for cfg.Driver.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Repository, error) {
	backendsMu.RLock()
	open, ok := backends[cfg.Driver]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (available: %v)", cfg.Driver, Backends())
	}

	repo, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s repository: %w", cfg.Driver, err)
	}
	return repo, nil
}
