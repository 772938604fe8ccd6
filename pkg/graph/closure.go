package graph

import (
	"errors"
	"fmt"
	"sort"

	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// ErrCycle is returned when an operation requires a DAG and the graph has a
// cycle or a self loop.
var ErrCycle = errors.New("graph: cycle detected")

// =============================================================================
// Topological order
// =============================================================================

// TopologicalSort returns the nodes of g so that every parent precedes its
// children. Ties are broken by insertion order.
func TopologicalSort(g *Graph) ([]string, error) {
	dg := simple.NewDirectedGraph()
	for i := range g.order {
		dg.AddNode(simple.Node(int64(i)))
	}
	for _, e := range g.Edges() {
		if e.From == e.To {
			// simple.DirectedGraph panics on self edges.
			return nil, fmt.Errorf("%w: self loop on %s", ErrCycle, e.From)
		}
		dg.SetEdge(dg.NewEdge(simple.Node(int64(g.index[e.From])), simple.Node(int64(g.index[e.To]))))
	}

	sorted, err := topo.SortStabilized(dg, byID)
	if err != nil {
		var cyc topo.Unorderable
		if errors.As(err, &cyc) && len(cyc) > 0 && len(cyc[0]) > 0 {
			return nil, fmt.Errorf("%w: involving %s", ErrCycle, g.order[cyc[0][0].ID()])
		}
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	out := make([]string, len(sorted))
	for i, n := range sorted {
		out[i] = g.order[n.ID()]
	}
	return out, nil
}

func byID(nodes []gonum.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
}

// =============================================================================
// Closure and propagation
// =============================================================================

// descendants lists every node reachable from id in depth-first preorder,
// excluding id unless a cycle leads back to it.
func (g *Graph) descendants(id string) []string {
	var out []string
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(n string) {
		for _, c := range g.outbound[n] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			visit(c)
		}
	}
	visit(id)
	return out
}

// Closure returns the transitive successor relation of g: an edge u → v for
// every directed path from u to v. descendants never repeats a node, so the
// edges are linked without a duplicate check.
func Closure(g *Graph) *Graph {
	out := New()
	for _, id := range g.order {
		out.AddNode(id)
	}
	for _, id := range g.order {
		for _, d := range g.descendants(id) {
			out.link(id, d)
		}
	}
	return out
}

// AnnotateClosure lifts annotations to every ancestor: a node's result is
// its own annotations unioned with the results of its children, each list
// in first-seen order. Annotated ids that are not nodes of g are copied
// unchanged.
func AnnotateClosure(g *Graph, annotations map[string][]string) (map[string][]string, error) {
	order, err := TopologicalSort(g)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]string, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		seen := make(map[string]struct{})
		var merged []string
		add := func(items []string) {
			for _, a := range items {
				if _, dup := seen[a]; dup {
					continue
				}
				seen[a] = struct{}{}
				merged = append(merged, a)
			}
		}
		add(annotations[n])
		for _, c := range g.outbound[n] {
			add(result[c])
		}
		result[n] = merged
	}

	for id, items := range annotations {
		if !g.Has(id) {
			result[id] = append([]string(nil), items...)
		}
	}
	return result, nil
}

// =============================================================================
// Subgraphs
// =============================================================================

// Subgraph removes every node not in keep while preserving reachability: a
// path a → b → c with b removed becomes a → c.
func Subgraph(g *Graph, keep []string) *Graph {
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		if g.Has(k) {
			kept[k] = true
		}
	}

	out := New()
	for _, id := range g.order {
		if kept[id] {
			out.AddNode(id)
		}
	}
	for _, id := range g.order {
		if !kept[id] {
			continue
		}
		seen := make(map[string]bool)
		var walk func(string)
		walk = func(n string) {
			for _, c := range g.outbound[n] {
				if seen[c] {
					continue
				}
				seen[c] = true
				if kept[c] {
					out.link(id, c)
					continue
				}
				walk(c)
			}
		}
		walk(id)
	}
	return out
}

// SelectClosure returns the subgraph induced by seeds and everything
// reachable from them. Seeds that are not nodes of g are ignored.
func SelectClosure(g *Graph, seeds []string) *Graph {
	reach := make(map[string]bool)
	for _, s := range seeds {
		if !g.Has(s) || reach[s] {
			continue
		}
		reach[s] = true
		for _, d := range g.descendants(s) {
			reach[d] = true
		}
	}

	out := New()
	for _, id := range g.order {
		if reach[id] {
			out.AddNode(id)
		}
	}
	for _, id := range g.order {
		if !reach[id] {
			continue
		}
		for _, c := range g.outbound[id] {
			out.link(id, c)
		}
	}
	return out
}
