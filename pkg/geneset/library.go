package geneset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kittclouds/genekit/internal/store"
)

// CacheKey is where a collection is persisted.
func CacheKey(hierarchy []string, organism string) string {
	if organism == "" {
		organism = "any"
	}
	return fmt.Sprintf("genesets/%s/%s", HierarchyKey(hierarchy), organism)
}

// Save persists c under its hierarchy and organism, version-tagged with
// c.Version, and commits.
func Save(ctx context.Context, cache *store.Cache, c Collection) error {
	if err := cache.PutJSON(CacheKey(c.Hierarchy, c.Organism), c, c.Version); err != nil {
		return err
	}
	return cache.Commit(ctx)
}

// Load returns the collection stored for (hierarchy, organism) at version.
func Load(cache *store.Cache, hierarchy []string, organism, version string) (Collection, bool) {
	var c Collection
	if !cache.GetJSON(CacheKey(hierarchy, organism), version, &c) {
		return Collection{}, false
	}
	return c, true
}

// Library indexes the collections available in a session.
type Library struct {
	mu          sync.RWMutex
	tree        *Tree
	collections map[Identity]Collection
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{tree: NewTree(), collections: make(map[Identity]Collection)}
}

// Add registers c, replacing a collection with the same identity.
func (l *Library) Add(c Collection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.collections[c.Identity()] = c
	l.tree.Insert(c.Hierarchy)
}

// Find returns collections whose hierarchy starts with prefix and whose
// organism is organism or organism-independent.
func (l *Library) Find(prefix []string, organism string) []Collection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Collection
	for _, c := range l.collections {
		if c.Organism != "" && organism != "" && c.Organism != organism {
			continue
		}
		if len(c.Hierarchy) < len(prefix) {
			continue
		}
		match := true
		for i := range prefix {
			if c.Hierarchy[i] != prefix[i] {
				match = false
				break
			}
		}
		if match {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Identity(), out[j].Identity()
		if a.Hierarchy != b.Hierarchy {
			return a.Hierarchy < b.Hierarchy
		}
		if a.Organism != b.Organism {
			return a.Organism < b.Organism
		}
		return a.Version < b.Version
	})
	return out
}

// Children lists the hierarchy components below path.
func (l *Library) Children(path []string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Children(path)
}
