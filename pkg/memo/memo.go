// Package memo binds expensive intermediate results to the persistent cache
// under keys derived from the versions of every input they depend on.
package memo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/kittclouds/genekit/internal/store"
)

// Fingerprint derives a cache key for name computed from inputs tagged with
// versions. The result is unstable when any version is empty: such results
// must not be persisted because a later release could reuse the key.
func Fingerprint(name string, versions ...string) (key string, stable bool) {
	d := xxhash.New()
	_, _ = d.WriteString(name)
	stable = true
	for _, v := range versions {
		if v == "" {
			stable = false
		}
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(v)
	}
	return name + "/" + strconv.FormatUint(d.Sum64(), 16), stable
}

// Memoize returns the cached result for (name, versions) or computes and
// persists it. Unstable fingerprints and a nil cache compute every time.
func Memoize[T any](ctx context.Context, cache *store.Cache, name string, versions []string, compute func(context.Context) (T, error)) (T, error) {
	key, stable := Fingerprint(name, versions...)
	if !stable {
		return compute(ctx)
	}
	return MemoizeKey(ctx, cache, key, key, compute)
}

// MemoizeKey is Memoize with an explicit key and version. An empty version
// disables persistence.
func MemoizeKey[T any](ctx context.Context, cache *store.Cache, key, version string, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	if cache == nil || version == "" {
		return compute(ctx)
	}

	var cached T
	if cache.GetJSON(key, version, &cached) {
		return cached, nil
	}

	v, err := compute(ctx)
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := cache.PutJSON(key, v, version); err != nil {
		return zero, fmt.Errorf("memoize %s: %w", key, err)
	}
	if err := cache.Commit(ctx); err != nil {
		return zero, fmt.Errorf("memoize %s: %w", key, err)
	}
	return v, nil
}
