package alias

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

// Index is an inverted index alias → group ids. It is immutable after
// construction apart from Invalidate, and safe for concurrent use.
type Index struct {
	groups     []Group
	ignoreCase bool
	postings   map[string]*roaring.Bitmap
	invalid    atomic.Bool
}

// NewIndex normalizes groups and indexes them. With ignoreCase, keys are
// lowercased and so are queries.
func NewIndex(groups []Group, ignoreCase bool) *Index {
	idx := &Index{
		groups:     normalizeAll(groups),
		ignoreCase: ignoreCase,
	}
	idx.postings = buildPostings(idx.groups, idx.fold)
	return idx
}

func buildPostings(groups []Group, fold func(string) string) map[string]*roaring.Bitmap {
	postings := make(map[string]*roaring.Bitmap)
	for gi, g := range groups {
		for _, a := range g {
			k := fold(a)
			bm, ok := postings[k]
			if !ok {
				bm = roaring.New()
				postings[k] = bm
			}
			bm.Add(uint32(gi))
		}
	}
	for _, bm := range postings {
		bm.RunOptimize()
	}
	return postings
}

func foldCase(s string) string { return strings.ToLower(s) }
func identity(s string) string { return s }

func (x *Index) fold(s string) string {
	if x.ignoreCase {
		return foldCase(s)
	}
	return s
}

// IgnoreCase reports whether the index folds case.
func (x *Index) IgnoreCase() bool { return x.ignoreCase }

// Len returns the number of groups.
func (x *Index) Len() int { return len(x.groups) }

// Group returns group i.
func (x *Index) Group(i int) Group { return x.groups[i] }

// Groups returns every group.
func (x *Index) Groups() []Group {
	return append([]Group(nil), x.groups...)
}

// Lookup returns the ids of groups containing alias in ascending order,
// or nil for an unknown alias.
func (x *Index) Lookup(alias string) []int {
	bm, ok := x.postings[x.fold(strings.TrimSpace(alias))]
	if !ok {
		return nil
	}
	ids := bm.ToArray()
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

// Aliases returns every indexed key (lowercased when folding), sorted.
func (x *Index) Aliases() []string {
	keys := make([]string, 0, len(x.postings))
	for k := range x.postings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Conflicts returns aliases that appear in more than one group, sorted.
func (x *Index) Conflicts() []string {
	var out []string
	for k, bm := range x.postings {
		if bm.GetCardinality() > 1 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Invalidate marks the index unusable. Matchers built on it report
// ErrIndexInvalidated from then on.
func (x *Index) Invalidate() { x.invalid.Store(true) }

// Valid reports whether Invalidate has not been called.
func (x *Index) Valid() bool { return !x.invalid.Load() }

// =============================================================================
// Joining
// =============================================================================

// Join merges the groups of every index: two groups end up together when
// they share any alias, compared case-insensitively when ignoreCase is set
// regardless of how the inputs were built. Groups are ordered by their
// first member's position across inputs, aliases by first appearance.
// The grouping does not depend on input order.
func Join(ignoreCase bool, indexes ...*Index) *Index {
	var all []Group
	for _, x := range indexes {
		all = append(all, x.groups...)
	}
	fold := identity
	if ignoreCase {
		fold = foldCase
	}

	uf := newUnionFind(len(all))
	for _, bm := range buildPostings(all, fold) {
		it := bm.Iterator()
		if !it.HasNext() {
			continue
		}
		first := int(it.Next())
		for it.HasNext() {
			uf.union(first, int(it.Next()))
		}
	}

	pos := make(map[int]int) // component root -> output position
	var merged []Group
	for gi, g := range all {
		r := uf.find(gi)
		p, ok := pos[r]
		if !ok {
			p = len(merged)
			pos[r] = p
			merged = append(merged, nil)
		}
		merged[p] = append(merged[p], g...)
	}
	return NewIndex(merged, ignoreCase)
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
