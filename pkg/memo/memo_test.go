package memo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/genekit/internal/store"
)

func TestFingerprint(t *testing.T) {
	k1, ok := Fingerprint("joined", "ncbi@2024", "go@2024")
	require.True(t, ok)
	k2, _ := Fingerprint("joined", "ncbi@2024", "go@2024")
	k3, _ := Fingerprint("joined", "ncbi@2025", "go@2024")
	k4, _ := Fingerprint("joined", "ncbi@2024go@2024")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3, "any version change moves the key")
	assert.NotEqual(t, k1, k4, "boundaries between versions matter")

	_, ok = Fingerprint("joined", "ncbi@2024", "")
	assert.False(t, ok)
}

func TestMemoizeComputesOnce(t *testing.T) {
	cache := store.NewMemCache()
	defer cache.Close()
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) ([]string, error) {
		calls++
		return []string{"TP53", "BRCA1"}, nil
	}

	v1, err := Memoize(ctx, cache, "groups", []string{"v1"}, compute)
	require.NoError(t, err)
	v2, err := Memoize(ctx, cache, "groups", []string{"v1"}, compute)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)

	_, err = Memoize(ctx, cache, "groups", []string{"v2"}, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestMemoizeUnstableNotPersisted(t *testing.T) {
	cache := store.NewMemCache()
	defer cache.Close()
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (int, error) { calls++; return 42, nil }
	for i := 0; i < 2; i++ {
		v, err := Memoize(ctx, cache, "x", []string{""}, compute)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 2, calls)

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoizeErrorNotCached(t *testing.T) {
	cache := store.NewMemCache()
	defer cache.Close()
	boom := errors.New("boom")

	_, err := MemoizeKey(context.Background(), cache, "k", "v", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Pending())
	_, ok := cache.Contains("k")
	assert.False(t, ok)
}

func TestMemoizeNilCache(t *testing.T) {
	v, err := MemoizeKey(context.Background(), nil, "k", "v", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
