package store

import (
	"fmt"
	"log/slog"

	"github.com/kittclouds/genekit/internal/config"
)

// SQLitePath is where the SQLite cache lives below the cache root.
func SQLitePath(cfg config.Config) string {
	return cfg.Path("dictyExpress", "database.sq3")
}

// BadgerPath is where the Badger cache lives below the cache root.
func BadgerPath(cfg config.Config) string {
	return cfg.Path("cache.badger")
}

// OpenBackend selects and opens the backend named by cfg.CacheBackend.
func OpenBackend(cfg config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.CacheBackend {
	case config.BackendSQLite, "":
		return NewSQLiteBackend(SQLitePath(cfg), cfg.BusyTimeout)
	case config.BackendBadger:
		return NewBadgerBackend(BadgerPath(cfg), logger)
	case config.BackendMemory:
		return NewMemBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
}

// Open builds the session cache described by cfg.
func Open(cfg config.Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b, err := OpenBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("cache opened", "backend", b.Name(), "compress", cfg.Compress)
	return New(b, WithCompression(cfg.Compress), WithLogger(logger)), nil
}
