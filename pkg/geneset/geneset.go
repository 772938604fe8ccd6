// Package geneset models curated gene-set collections (GO slims, KEGG
// pathways, MSigDB-style GMT files) and the hierarchy users browse them by.
package geneset

import (
	"strings"
)

// GeneSet is a named set of entity ids.
type GeneSet struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Genes       []string `json:"genes"`
	Hierarchy   []string `json:"hierarchy,omitempty"`
	Organism    string   `json:"organism,omitempty"`
	Link        string   `json:"link,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Contains reports whether gene is a member.
func (g GeneSet) Contains(gene string) bool {
	for _, x := range g.Genes {
		if x == gene {
			return true
		}
	}
	return false
}

// Collection groups gene sets sharing (Hierarchy, Organism, Version).
// Organism is empty for organism-independent collections.
type Collection struct {
	Hierarchy []string  `json:"hierarchy"`
	Organism  string    `json:"organism,omitempty"`
	Version   string    `json:"version"`
	Sets      []GeneSet `json:"sets"`
}

// Identity is the (hierarchy, organism, version) triple.
type Identity struct {
	Hierarchy string
	Organism  string
	Version   string
}

// HierarchyKey joins a hierarchy path into a stable string.
func HierarchyKey(path []string) string {
	return strings.Join(path, "/")
}

// Identity returns the collection's identity triple.
func (c Collection) Identity() Identity {
	return Identity{Hierarchy: HierarchyKey(c.Hierarchy), Organism: c.Organism, Version: c.Version}
}

// Genes returns the union of every member in first-seen order.
func (c Collection) Genes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range c.Sets {
		for _, g := range s.Genes {
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}

// Map returns a copy of c whose genes are passed through fn. Genes fn
// cannot map (ok=false) are dropped; duplicates collapse.
func (c Collection) Map(fn func(string) (string, bool)) Collection {
	out := c
	out.Sets = make([]GeneSet, len(c.Sets))
	for i, s := range c.Sets {
		mapped := s
		mapped.Genes = nil
		seen := make(map[string]struct{}, len(s.Genes))
		for _, g := range s.Genes {
			m, ok := fn(g)
			if !ok {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			mapped.Genes = append(mapped.Genes, m)
		}
		out.Sets[i] = mapped
	}
	return out
}
