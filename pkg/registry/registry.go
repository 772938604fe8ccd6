// Package registry is the catalog of upstream data sources. It is the only
// place upstream URLs live; fetchers and loaders parameterize from it.
package registry

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/kittclouds/genekit/pkg/fetch"
)

var (
	ErrUnknownSource = errors.New("registry: unknown source")
	ErrDuplicate     = errors.New("registry: duplicate source")
	// ErrUnsupportedOrganism is returned when a per-organism source is
	// asked for an organism it does not cover.
	ErrUnsupportedOrganism = errors.New("registry: organism not covered by source")
)

// Format names the parser a source's file needs.
type Format string

const (
	FormatGeneInfo   Format = "ncbi-gene-info"
	FormatGAF        Format = "gaf"
	FormatKEGGList   Format = "kegg-list"
	FormatDictyBase  Format = "dictybase"
	FormatEnsembl    Format = "ensembl-biomart"
	FormatAffymetrix Format = "affymetrix"
	FormatOBO        Format = "obo"
	FormatMapMan     Format = "mapman"
	FormatHomoloGene Format = "homologene"
	FormatInParanoid Format = "inparanoid"
)

// Source is one catalog record. Templates may use the placeholders
// {taxid}, {version}, {orgcode} and {idtag}.
type Source struct {
	ID       string `json:"id" yaml:"id"`
	Home     string `json:"home" yaml:"home"`
	Title    string `json:"title" yaml:"title"`
	Format   Format `json:"format" yaml:"format"`
	IDTag    string `json:"idTag,omitempty" yaml:"id_tag"`
	Version  string `json:"version" yaml:"version"`
	License  string `json:"license" yaml:"license"`

	// Organisms lists covered taxids. Empty means organism-independent.
	Organisms         []string `json:"organisms,omitempty" yaml:"organisms"`
	URLTemplate       string   `json:"urlTemplate" yaml:"url_template"`
	CachePathTemplate string   `json:"cachePathTemplate" yaml:"cache_path_template"`
	FilenameTemplate  string   `json:"filenameTemplate" yaml:"filename_template"`
}

// PerOrganism reports whether the source needs a taxid.
func (s Source) PerOrganism() bool { return len(s.Organisms) > 0 }

// Covers reports whether the source serves taxid exactly.
func (s Source) Covers(taxid string) bool {
	if !s.PerOrganism() {
		return true
	}
	for _, t := range s.Organisms {
		if t == taxid {
			return true
		}
	}
	return false
}

// Registry is a concurrency-safe source catalog.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
}

func New() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Add appends a record. IDs are unique.
func (r *Registry) Add(s Source) error {
	if s.ID == "" {
		return fmt.Errorf("registry: source without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sources[s.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
	}
	r.sources[s.ID] = s
	r.order = append(r.order, s.ID)
	return nil
}

func (r *Registry) Lookup(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	return s, ok
}

// Sources returns every record in insertion order.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.order))
	for i, id := range r.order {
		out[i] = r.sources[id]
	}
	return out
}

// ForOrganism returns the per-organism sources covering taxid or its
// species.
func (r *Registry) ForOrganism(taxid string) []Source {
	species := SpeciesTaxid(taxid)
	var out []Source
	for _, s := range r.Sources() {
		if s.PerOrganism() && (s.Covers(taxid) || s.Covers(species)) {
			out = append(out, s)
		}
	}
	return out
}

// Resource expands the templates of source id for taxid, which is ignored
// by organism-independent sources.
func (r *Registry) Resource(id, taxid string) (fetch.Resource, error) {
	s, ok := r.Lookup(id)
	if !ok {
		return fetch.Resource{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return s.Resource(taxid)
}

// Resolve is Resource with one fallback: when the source does not cover
// taxid but covers its species-level taxon, the species is used. It
// returns the taxid the resource was expanded for.
func (r *Registry) Resolve(id, taxid string) (fetch.Resource, string, error) {
	res, err := r.Resource(id, taxid)
	if err == nil || !errors.Is(err, ErrUnsupportedOrganism) {
		return res, taxid, err
	}
	species := SpeciesTaxid(taxid)
	if species == taxid {
		return res, taxid, err
	}
	res, err = r.Resource(id, species)
	return res, species, err
}

// Resource expands the source templates for taxid.
func (s Source) Resource(taxid string) (fetch.Resource, error) {
	vars := map[string]string{
		"version": s.Version,
		"idtag":   s.IDTag,
	}
	if s.PerOrganism() {
		taxid = strings.TrimSpace(taxid)
		if taxid == "" {
			return fetch.Resource{}, fmt.Errorf("%w: source %s needs a taxid", ErrUnknownSpecies, s.ID)
		}
		if !s.Covers(taxid) {
			return fetch.Resource{}, fmt.Errorf("%w: %s does not cover %s", ErrUnsupportedOrganism, s.ID, taxid)
		}
		vars["taxid"] = taxid
		if code, ok := KEGGCode(taxid); ok {
			vars["orgcode"] = code
		}
	}

	expand := func(tmpl string) (string, error) {
		return expandTemplate(tmpl, vars)
	}
	url, err := expand(s.URLTemplate)
	if err != nil {
		return fetch.Resource{}, fmt.Errorf("source %s: %w", s.ID, err)
	}
	dir, err := expand(s.CachePathTemplate)
	if err != nil {
		return fetch.Resource{}, fmt.Errorf("source %s: %w", s.ID, err)
	}
	name, err := expand(s.FilenameTemplate)
	if err != nil {
		return fetch.Resource{}, fmt.Errorf("source %s: %w", s.ID, err)
	}
	if name == "" {
		name = path.Base(url)
	}
	return fetch.Resource{
		Home:      s.Home,
		Version:   s.Version,
		Filename:  name,
		URL:       url,
		License:   s.License,
		CachePath: dir,
	}, nil
}

// expandTemplate replaces {name} placeholders from vars. An unknown or
// unset placeholder is an error.
func expandTemplate(tmpl string, vars map[string]string) (string, error) {
	var b strings.Builder
	rest := tmpl
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("unclosed placeholder in %q", tmpl)
		}
		name := rest[open+1 : open+end]
		v, ok := vars[name]
		if !ok || v == "" {
			return "", fmt.Errorf("placeholder {%s} has no value in %q", name, tmpl)
		}
		b.WriteString(rest[:open])
		b.WriteString(v)
		rest = rest[open+end+1:]
	}
}

// Taxids returns the sorted union of organisms covered by any source.
func (r *Registry) Taxids() []string {
	seen := make(map[string]struct{})
	for _, s := range r.Sources() {
		for _, t := range s.Organisms {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
