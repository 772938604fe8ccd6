package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/genekit/internal/config"
	"github.com/kittclouds/genekit/internal/logging"
)

func TestOpenSelectsBackend(t *testing.T) {
	for _, tc := range []struct {
		backend string
		want    string
	}{
		{config.BackendSQLite, "sqlite"},
		{config.BackendBadger, "badger"},
		{config.BackendMemory, "memory"},
	} {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.CacheDir = t.TempDir()
			cfg.CacheBackend = tc.backend

			c, err := Open(cfg, logging.Discard())
			require.NoError(t, err)
			defer c.Close()
			assert.Equal(t, tc.want, c.Backend().Name())
		})
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	cfg.CacheBackend = "etcd"
	_, err := Open(cfg, nil)
	assert.Error(t, err)
}
