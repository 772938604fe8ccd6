package geneset

import (
	"strings"

	"github.com/kittclouds/genekit/pkg/graph"
)

// pathSep separates hierarchy components inside node ids.
const pathSep = "\x1f"

// Tree is the user-facing browse tree of collection hierarchies.
type Tree struct {
	g *graph.Graph
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{g: graph.New()}
}

func nodeID(path []string) string { return strings.Join(path, pathSep) }

func splitID(id string) []string { return strings.Split(id, pathSep) }

// Insert adds path and all its prefixes.
func (t *Tree) Insert(path []string) {
	for i := 1; i <= len(path); i++ {
		id := nodeID(path[:i])
		t.g.AddNode(id)
		if i > 1 {
			t.g.AddEdge(nodeID(path[:i-1]), id)
		}
	}
}

// Find reports whether path was inserted (directly or as a prefix).
func (t *Tree) Find(path []string) bool {
	return len(path) > 0 && t.g.Has(nodeID(path))
}

// Children returns the next components below path; nil path lists the top
// level.
func (t *Tree) Children(path []string) []string {
	var ids []string
	if len(path) == 0 {
		ids = t.g.Roots()
	} else {
		ids = t.g.Successors(nodeID(path))
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		parts := splitID(id)
		out[i] = parts[len(parts)-1]
	}
	return out
}

// Walk visits every path depth-first in insertion order. Returning false
// from fn skips that node's subtree.
func (t *Tree) Walk(fn func(path []string) bool) {
	var visit func(id string)
	visit = func(id string) {
		if !fn(splitID(id)) {
			return
		}
		for _, c := range t.g.Successors(id) {
			visit(c)
		}
	}
	for _, r := range t.g.Roots() {
		visit(r)
	}
}

// Leaves returns every path with no children.
func (t *Tree) Leaves() [][]string {
	var out [][]string
	t.Walk(func(path []string) bool {
		if len(t.g.Successors(nodeID(path))) == 0 {
			out = append(out, path)
		}
		return true
	})
	return out
}
