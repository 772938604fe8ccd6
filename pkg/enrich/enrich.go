package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/kittclouds/genekit/internal/metrics"
	"github.com/kittclouds/genekit/pkg/geneset"
	"github.com/kittclouds/genekit/pkg/graph"
)

// ErrCanceled wraps context cancellation of a scoring batch.
var ErrCanceled = errors.New("enrich: canceled")

// Result is the score of one node or gene set.
type Result struct {
	Node            string   `json:"node"`
	QueryMapped     []string `json:"queryMapped"`
	ReferenceMapped []string `json:"referenceMapped"`
	PValue          float64  `json:"pValue"`
	FDR             float64  `json:"fdr"`
	Enrichment      float64  `json:"enrichment"`
}

// SetResult pairs a Result with the gene set it scores.
type SetResult struct {
	Result
	Set geneset.GeneSet `json:"set"`
}

// Option configures a scoring run.
type Option func(*config)

type config struct {
	model    ProbabilityModel
	logger   *slog.Logger
	minCount int
}

func WithModel(m ProbabilityModel) Option { return func(c *config) { c.model = m } }

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMinCount omits nodes with fewer than n mapped query entities.
func WithMinCount(n int) Option { return func(c *config) { c.minCount = max(n, 1) } }

func newConfig(opts []Option) config {
	c := config{model: Hypergeometric{}, logger: slog.Default(), minCount: 1}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// =============================================================================
// DAG enrichment
// =============================================================================

// DAGEnrichment scores every node of g against query and reference
// annotation multimaps (entity → nodes). Annotations propagate to every
// ancestor. The reference universe is the union of reference and query
// entities. Results come in reverse topological order and only for nodes
// with at least one mapped query entity; empty universes yield no results.
func DAGEnrichment(ctx context.Context, g *graph.Graph, query, reference map[string][]string, opts ...Option) ([]Result, error) {
	cfg := newConfig(opts)

	queryUniverse := sortedKeys(query)
	refUniverse := unionKeys(reference, query)
	if len(queryUniverse) == 0 || len(refUniverse) == 0 {
		return nil, nil
	}

	qNodes, err := graph.AnnotateClosure(g, invert(queryUniverse, query))
	if err != nil {
		return nil, err
	}
	rNodes, err := graph.AnnotateClosure(g, invert(refUniverse, reference, query))
	if err != nil {
		return nil, err
	}
	order, err := graph.TopologicalSort(g)
	if err != nil {
		return nil, err
	}

	nQ, nR := len(queryUniverse), len(refUniverse)
	var results []Result
	for i := len(order) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		node := order[i]
		qm := qNodes[node]
		if len(qm) < cfg.minCount {
			continue
		}
		results = append(results, score(cfg, node, qm, rNodes[node], nQ, nR))
	}

	adjust(results)
	metrics.EnrichmentRuns.Inc()
	metrics.EnrichmentNodes.Add(float64(len(results)))
	return results, nil
}

// =============================================================================
// Flat gene-set enrichment
// =============================================================================

// SetEnrichment scores each gene set against the query list. Cancellation
// is checked per gene set; a canceled run returns no results.
func SetEnrichment(ctx context.Context, sets []geneset.GeneSet, query, reference []string, opts ...Option) ([]SetResult, error) {
	cfg := newConfig(opts)

	q := dedup(query)
	r := dedup(append(append([]string(nil), reference...), query...))
	if len(q) == 0 || len(r) == 0 {
		return nil, nil
	}
	inQ := toSet(q)
	inR := toSet(r)

	var results []SetResult
	for _, s := range sets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		var qm, rm []string
		for _, gene := range dedup(s.Genes) {
			if _, ok := inR[gene]; ok {
				rm = append(rm, gene)
			}
			if _, ok := inQ[gene]; ok {
				qm = append(qm, gene)
			}
		}
		if len(qm) < cfg.minCount {
			continue
		}
		results = append(results, SetResult{Result: score(cfg, s.ID, qm, rm, len(q), len(r)), Set: s})
	}

	ps := make([]float64, len(results))
	for i := range results {
		ps[i] = results[i].PValue
	}
	for i, f := range BenjaminiHochberg(ps) {
		results[i].FDR = f
	}
	metrics.EnrichmentRuns.Inc()
	metrics.EnrichmentNodes.Add(float64(len(results)))
	return results, nil
}

// =============================================================================
// Helpers
// =============================================================================

func score(cfg config, node string, qm, rm []string, nQ, nR int) Result {
	res := Result{
		Node:            node,
		QueryMapped:     qm,
		ReferenceMapped: rm,
		PValue:          clamp01(cfg.model.PValue(len(qm), nR, len(rm), nQ)),
		Enrichment:      math.NaN(),
	}
	if nQ > 0 && nR > 0 && len(rm) > 0 {
		res.Enrichment = (float64(len(qm)) / float64(nQ)) / (float64(len(rm)) / float64(nR))
	}
	if math.IsNaN(res.Enrichment) || math.IsInf(res.Enrichment, 0) {
		cfg.logger.Warn("non-finite enrichment", "node", node,
			"query_mapped", len(qm), "reference_mapped", len(rm))
	}
	return res
}

func adjust(results []Result) {
	ps := make([]float64, len(results))
	for i := range results {
		ps[i] = results[i].PValue
	}
	for i, f := range BenjaminiHochberg(ps) {
		results[i].FDR = f
	}
}

// SortByPValue orders results by raw p-value, keeping input order on ties.
func SortByPValue(results []Result) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].PValue < results[j].PValue })
}

// invert turns entity → nodes multimaps into node → entities, visiting
// entities in the given order.
func invert(entities []string, maps ...map[string][]string) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[[2]string]struct{})
	for _, e := range entities {
		for _, m := range maps {
			for _, node := range m[e] {
				k := [2]string{node, e}
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				out[node] = append(out[node], e)
			}
		}
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionKeys(maps ...map[string][]string) []string {
	set := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			set[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedup(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}
