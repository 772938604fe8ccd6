// Package graph provides the directed acyclic graphs the ontology and
// enrichment code walks. Edges point from parent to child; successors of a
// node are its children.
package graph

// Edge is a directed parent → child pair.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a directed graph with insertion-ordered nodes and adjacency
// lists. Every query method returns nodes in a deterministic order.
// A Graph is not safe for concurrent mutation; once built it may be shared.
type Graph struct {
	order []string
	index map[string]int

	// Adjacency lists: NodeID -> ordered neighbor IDs
	outbound map[string][]string
	inbound  map[string][]string
	edges    int
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		index:    make(map[string]int),
		outbound: make(map[string][]string),
		inbound:  make(map[string][]string),
	}
}

// FromEdges builds a graph from a successor multimap. Node order follows
// nodes first, then any endpoint not listed there.
func FromEdges(nodes []string, succ map[string][]string) *Graph {
	g := New()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for _, n := range nodes {
		for _, c := range succ[n] {
			g.AddEdge(n, c)
		}
	}
	return g
}

// AddNode adds id if it doesn't exist
func (g *Graph) AddNode(id string) {
	if _, ok := g.index[id]; ok {
		return
	}
	g.index[id] = len(g.order)
	g.order = append(g.order, id)
}

// AddEdge creates a directed edge from parent to child, adding missing
// endpoints. Duplicate edges are ignored; the check scans parent's
// successors, so bulk builders with unique edges use link instead.
func (g *Graph) AddEdge(parent, child string) {
	g.AddNode(parent)
	g.AddNode(child)
	if g.HasEdge(parent, child) {
		return
	}
	g.link(parent, child)
}

// link appends parent → child without the duplicate check. Both endpoints
// must already be nodes and the edge must be new.
func (g *Graph) link(parent, child string) {
	g.outbound[parent] = append(g.outbound[parent], child)
	g.inbound[child] = append(g.inbound[child], parent)
	g.edges++
}

// Has reports whether id is a node
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// HasEdge reports whether parent → child exists
func (g *Graph) HasEdge(parent, child string) bool {
	for _, c := range g.outbound[parent] {
		if c == child {
			return true
		}
	}
	return false
}

// Nodes returns every node in insertion order
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Successors returns the children of id
func (g *Graph) Successors(id string) []string {
	return append([]string(nil), g.outbound[id]...)
}

// Predecessors returns the parents of id
func (g *Graph) Predecessors(id string) []string {
	return append([]string(nil), g.inbound[id]...)
}

// Roots returns nodes with no incoming edge
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.inbound[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Edges returns all edges grouped by parent in node order
func (g *Graph) Edges() []Edge {
	result := make([]Edge, 0, g.edges)
	for _, from := range g.order {
		for _, to := range g.outbound[from] {
			result = append(result, Edge{From: from, To: to})
		}
	}
	return result
}

// Len returns the number of nodes
func (g *Graph) Len() int { return len(g.order) }

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int { return g.edges }

// SuccessorMap returns the graph as a node → children multimap.
func (g *Graph) SuccessorMap() map[string][]string {
	m := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		m[id] = g.Successors(id)
	}
	return m
}

// Equal reports whether g and other hold the same nodes and, per node, the
// same set of successors. Order is ignored.
func (g *Graph) Equal(other *Graph) bool {
	if g.Len() != other.Len() || g.edges != other.edges {
		return false
	}
	for _, id := range g.order {
		if !other.Has(id) {
			return false
		}
		a, b := g.outbound[id], other.outbound[id]
		if len(a) != len(b) {
			return false
		}
		children := make(map[string]struct{}, len(b))
		for _, c := range b {
			children[c] = struct{}{}
		}
		for _, c := range a {
			if _, ok := children[c]; !ok {
				return false
			}
		}
	}
	return true
}

// OrphanNodes returns nodes with no connections
func (g *Graph) OrphanNodes() []string {
	var orphans []string
	for _, id := range g.order {
		if len(g.outbound[id]) == 0 && len(g.inbound[id]) == 0 {
			orphans = append(orphans, id)
		}
	}
	return orphans
}
