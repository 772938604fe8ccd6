// Package ontology holds controlled-vocabulary DAGs such as GO and MapMan.
//
// An Ontology is immutable after construction and may be shared across
// goroutines. External ids are passed through the alt_id rewrite map on
// every lookup.
package ontology

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kittclouds/genekit/pkg/graph"
	"github.com/kittclouds/genekit/pkg/obo"
)

// IsA is the subsumption relation.
const IsA = "is_a"

var (
	ErrDuplicateID    = errors.New("ontology: duplicate term id")
	ErrDuplicateAltID = errors.New("ontology: duplicate alt_id")
)

// Link is a typed edge to a parent term.
type Link struct {
	Relation string `json:"relation"`
	ID       string `json:"id"`
}

// Term is one ontology node.
type Term struct {
	ID         string
	Name       string
	Definition string
	Namespace  string
	Synonyms   []string
	AltIDs     []string
	Subsets    []string
	Xrefs      []string
	IsObsolete bool
	// Parents lists parent links in file order, targets already canonical.
	Parents []Link
}

// ParentIDs returns the parents reached through relation.
func (t *Term) ParentIDs(relation string) []string {
	var out []string
	for _, l := range t.Parents {
		if l.Relation == relation {
			out = append(out, l.ID)
		}
	}
	return out
}

// Edge pairs a relation with the term at the other end.
type Edge struct {
	Relation string
	Term     *Term
}

// Ontology is a loaded term DAG.
type Ontology struct {
	Name        string
	DataVersion string

	terms    map[string]*Term
	order    []string
	alt      map[string]string
	children map[string][]Link // parent -> (relation, child)
}

// Option configures New.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger receives warnings about dropped dangling edges.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New builds an Ontology from a parsed document. Term ids and alt_ids must
// be unique; references to an alt_id are rewritten to the canonical id and
// references to unknown terms are dropped with a warning.
func New(doc *obo.Document, opts ...Option) (*Ontology, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	ont := &Ontology{
		Name:        doc.Ontology,
		DataVersion: doc.DataVersion,
		terms:       make(map[string]*Term, len(doc.Terms)),
		order:       make([]string, 0, len(doc.Terms)),
		alt:         make(map[string]string),
		children:    make(map[string][]Link),
	}

	for i := range doc.Terms {
		src := &doc.Terms[i]
		if _, dup := ont.terms[src.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, src.ID)
		}
		t := &Term{
			ID:         src.ID,
			Name:       src.Name,
			Definition: src.Definition,
			Namespace:  src.Namespace,
			AltIDs:     append([]string(nil), src.AltIDs...),
			Subsets:    append([]string(nil), src.Subsets...),
			Xrefs:      append([]string(nil), src.Xrefs...),
			IsObsolete: src.IsObsolete,
		}
		for _, s := range src.Synonyms {
			t.Synonyms = append(t.Synonyms, s.Text)
		}
		ont.terms[t.ID] = t
		ont.order = append(ont.order, t.ID)
	}

	for _, id := range ont.order {
		for _, a := range ont.terms[id].AltIDs {
			if _, clash := ont.terms[a]; clash {
				return nil, fmt.Errorf("%w: %s of %s is also a term id", ErrDuplicateAltID, a, id)
			}
			if prev, dup := ont.alt[a]; dup {
				return nil, fmt.Errorf("%w: %s claimed by %s and %s", ErrDuplicateAltID, a, prev, id)
			}
			ont.alt[a] = id
		}
	}

	for i := range doc.Terms {
		src := &doc.Terms[i]
		t := ont.terms[src.ID]
		for _, rel := range src.Relationships {
			target, ok := ont.Canonical(rel.TargetID)
			if !ok {
				o.logger.Warn("dropping edge to unknown term",
					"term", t.ID, "relation", rel.Type, "target", rel.TargetID)
				continue
			}
			link := Link{Relation: rel.Type, ID: target}
			t.Parents = append(t.Parents, link)
			ont.children[target] = append(ont.children[target], Link{Relation: rel.Type, ID: t.ID})
		}
	}
	return ont, nil
}

// Len returns the number of terms.
func (o *Ontology) Len() int { return len(o.order) }

// Canonical maps id (or one of its alt_ids) to the canonical term id.
func (o *Ontology) Canonical(id string) (string, bool) {
	if _, ok := o.terms[id]; ok {
		return id, true
	}
	c, ok := o.alt[id]
	return c, ok
}

// Term returns the term for id or one of its alt_ids.
func (o *Ontology) Term(id string) (*Term, bool) {
	c, ok := o.Canonical(id)
	if !ok {
		return nil, false
	}
	return o.terms[c], true
}

// Terms returns every term in file order.
func (o *Ontology) Terms() []*Term {
	out := make([]*Term, len(o.order))
	for i, id := range o.order {
		out[i] = o.terms[id]
	}
	return out
}

// ChildEdges returns (relation, child) pairs pointing at id.
func (o *Ontology) ChildEdges(id string) []Edge {
	c, ok := o.Canonical(id)
	if !ok {
		return nil
	}
	links := o.children[c]
	out := make([]Edge, len(links))
	for i, l := range links {
		out[i] = Edge{Relation: l.Relation, Term: o.terms[l.ID]}
	}
	return out
}

// ParentEdges returns (relation, parent) pairs of id.
func (o *Ontology) ParentEdges(id string) []Edge {
	t, ok := o.Term(id)
	if !ok {
		return nil
	}
	out := make([]Edge, len(t.Parents))
	for i, l := range t.Parents {
		out[i] = Edge{Relation: l.Relation, Term: o.terms[l.ID]}
	}
	return out
}

func relationSet(relations []string) map[string]bool {
	if len(relations) == 0 {
		relations = []string{IsA}
	}
	set := make(map[string]bool, len(relations))
	for _, r := range relations {
		set[r] = true
	}
	return set
}

// RootTerms returns non-obsolete terms without a parent under relations
// (is_a when none are given).
func (o *Ontology) RootTerms(relations ...string) []*Term {
	rels := relationSet(relations)
	var roots []*Term
	for _, id := range o.order {
		t := o.terms[id]
		if t.IsObsolete {
			continue
		}
		root := true
		for _, l := range t.Parents {
			if rels[l.Relation] {
				root = false
				break
			}
		}
		if root {
			roots = append(roots, t)
		}
	}
	return roots
}

// Graph returns the parent → child DAG over relations (is_a when none are
// given). A cycle yields graph.ErrCycle.
func (o *Ontology) Graph(relations ...string) (*graph.Graph, error) {
	rels := relationSet(relations)
	g := graph.New()
	for _, id := range o.order {
		g.AddNode(id)
	}
	for _, id := range o.order {
		for _, l := range o.terms[id].Parents {
			if rels[l.Relation] {
				g.AddEdge(l.ID, id)
			}
		}
	}
	if _, err := graph.TopologicalSort(g); err != nil {
		return nil, fmt.Errorf("ontology %s: %w", o.Name, err)
	}
	return g, nil
}

// Slim collapses the ontology to keep (ids or alt_ids), preserving
// ancestry through removed terms.
func Slim(o *Ontology, keep []string, relations ...string) (*graph.Graph, error) {
	g, err := o.Graph(relations...)
	if err != nil {
		return nil, err
	}
	canonical := make([]string, 0, len(keep))
	for _, k := range keep {
		if c, ok := o.Canonical(k); ok {
			canonical = append(canonical, c)
		}
	}
	return graph.Subgraph(g, canonical), nil
}
