package alias

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittclouds/genekit/internal/store"
	"github.com/kittclouds/genekit/pkg/memo"
)

// Loader produces the alias groups of one source for one organism.
type Loader interface {
	// Filename is the stable cache key of this source/organism pair.
	Filename() string
	// Version is the source release tag. Empty means unknown, which
	// disables persistence of anything derived from this loader.
	Version() string
	Load(ctx context.Context) ([]Group, error)
}

// CacheKey is where CachedLoad persists a loader's groups.
func CacheKey(l Loader) string {
	return "gene_matcher/" + l.Filename()
}

// CachedLoad returns the loader's groups, served from cache when the stored
// version matches. Loaders without a version are loaded every time.
func CachedLoad(ctx context.Context, cache *store.Cache, l Loader) ([]Group, error) {
	groups, err := memo.MemoizeKey(ctx, cache, CacheKey(l), l.Version(), func(ctx context.Context) ([]Group, error) {
		g, err := l.Load(ctx)
		if err != nil {
			return nil, err
		}
		return normalizeAll(g), nil
	})
	if err != nil {
		return nil, fmt.Errorf("load aliases %s@%s: %w", l.Filename(), l.Version(), err)
	}
	return groups, nil
}

// JoinedKey derives the cache key and version of the index joining
// loaders. It is unstable when any loader lacks a version.
func JoinedKey(ignoreCase bool, loaders ...Loader) (key string, stable bool) {
	parts := make([]string, 0, len(loaders)+1)
	parts = append(parts, fmt.Sprintf("ignore_case=%t", ignoreCase))
	stable = true
	names := make([]string, 0, len(loaders))
	for _, l := range loaders {
		if l.Version() == "" {
			stable = false
		}
		names = append(names, l.Filename())
		parts = append(parts, l.Filename()+"@"+l.Version())
	}
	fp, _ := memo.Fingerprint("gene_matcher/joined/"+strings.Join(names, "+"), parts...)
	return fp, stable
}

// StaticLoader serves fixed groups, for user lists and tests.
type StaticLoader struct {
	Name    string
	Release string
	Groups  []Group
}

func (s StaticLoader) Filename() string { return s.Name }
func (s StaticLoader) Version() string  { return s.Release }

func (s StaticLoader) Load(ctx context.Context) ([]Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Group, len(s.Groups))
	for i, g := range s.Groups {
		out[i] = append(Group(nil), g...)
	}
	return out, nil
}

// FailingLoader always fails with Err.
type FailingLoader struct {
	Name string
	Err  error
}

func (f FailingLoader) Filename() string                      { return f.Name }
func (f FailingLoader) Version() string                       { return "" }
func (f FailingLoader) Load(context.Context) ([]Group, error) { return nil, f.Err }
