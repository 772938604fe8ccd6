// Package metrics holds the prometheus collectors shared by genekit components.
// Collectors live in their own registry so embedding programs decide whether
// and where to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry contains every genekit collector.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	CacheHits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genekit",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache lookups answered from a stored or staged entry.",
	}, []string{"backend"})

	CacheMisses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genekit",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache lookups that found no usable entry (absent, stale or corrupt).",
	}, []string{"backend"})

	CacheCorrupt = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genekit",
		Subsystem: "cache",
		Name:      "corrupt_total",
		Help:      "Entries that failed to decode and were treated as misses.",
	}, []string{"backend"})

	CacheCommits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genekit",
		Subsystem: "cache",
		Name:      "commits_total",
		Help:      "Cache commits by outcome.",
	}, []string{"backend", "outcome"})

	FetchDownloads = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genekit",
		Subsystem: "fetch",
		Name:      "downloads_total",
		Help:      "Resource downloads by outcome.",
	}, []string{"home", "outcome"})

	FetchRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genekit",
		Subsystem: "fetch",
		Name:      "retries_total",
		Help:      "Transient download failures that were retried.",
	}, []string{"home"})

	EnrichmentRuns = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "genekit",
		Subsystem: "enrich",
		Name:      "runs_total",
		Help:      "Completed enrichment batches.",
	})

	EnrichmentNodes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "genekit",
		Subsystem: "enrich",
		Name:      "scored_nodes_total",
		Help:      "Nodes or gene sets that produced an enrichment result.",
	})
)
