// Package alias loads synonym groups from gene-identifier sources and
// indexes them for lookup.
//
// A Group holds names known to denote one entity within one source. An
// Index maps every alias to the groups containing it; conflicting aliases
// stay in every group that lists them.
package alias

import "strings"

// Group is a set of interchangeable names for one entity.
type Group []string

// Normalize trims names, drops empties and duplicates, and keeps first-seen
// order. The result may be empty.
func (g Group) Normalize() Group {
	seen := make(map[string]struct{}, len(g))
	out := make(Group, 0, len(g))
	for _, a := range g {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// normalizeAll normalizes each group and drops the empty ones.
func normalizeAll(groups []Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		if n := g.Normalize(); len(n) > 0 {
			out = append(out, n)
		}
	}
	return out
}
