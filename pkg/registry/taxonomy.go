package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownSpecies  = errors.New("registry: unknown species")
	ErrMultipleSpecies = errors.New("registry: multiple species match")
)

// Organism describes a supported NCBI taxon.
type Organism struct {
	Taxid      string   `json:"taxid"`
	Name       string   `json:"name"`
	CommonName string   `json:"commonName,omitempty"`
	KEGGCode   string   `json:"keggCode,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
}

var organisms = []Organism{
	{Taxid: "9606", Name: "Homo sapiens", CommonName: "human", KEGGCode: "hsa"},
	{Taxid: "10090", Name: "Mus musculus", CommonName: "mouse", KEGGCode: "mmu"},
	{Taxid: "10116", Name: "Rattus norvegicus", CommonName: "rat", KEGGCode: "rno"},
	{Taxid: "7955", Name: "Danio rerio", CommonName: "zebrafish", KEGGCode: "dre"},
	{Taxid: "7227", Name: "Drosophila melanogaster", CommonName: "fruit fly", KEGGCode: "dme", Aliases: []string{"fly"}},
	{Taxid: "6239", Name: "Caenorhabditis elegans", CommonName: "nematode", KEGGCode: "cel", Aliases: []string{"worm"}},
	{Taxid: "4932", Name: "Saccharomyces cerevisiae", CommonName: "budding yeast", KEGGCode: "sce", Aliases: []string{"yeast"}},
	{Taxid: "3702", Name: "Arabidopsis thaliana", CommonName: "thale cress", KEGGCode: "ath"},
	{Taxid: "4113", Name: "Solanum tuberosum", CommonName: "potato", KEGGCode: "sot"},
	{Taxid: "44689", Name: "Dictyostelium discoideum", CommonName: "slime mold", KEGGCode: "ddi", Aliases: []string{"dicty"}},
	{Taxid: "9031", Name: "Gallus gallus", CommonName: "chicken", KEGGCode: "gga"},
	{Taxid: "9913", Name: "Bos taurus", CommonName: "cattle", KEGGCode: "bta"},
}

// TaxidAlias maps strain-level taxa used by some sources to the species
// taxon the catalog knows.
var TaxidAlias = map[string]string{
	"352472": "44689", // Dictyostelium discoideum AX4
	"559292": "4932",  // S. cerevisiae S288C
	"39947":  "4530",  // Oryza sativa japonica
	"511145": "562",   // E. coli K-12 MG1655
}

var byTaxid = func() map[string]Organism {
	m := make(map[string]Organism, len(organisms))
	for _, o := range organisms {
		m[o.Taxid] = o
	}
	return m
}()

// Organisms returns the catalog of supported organisms ordered by taxid.
func Organisms() []Organism {
	out := append([]Organism(nil), organisms...)
	sort.Slice(out, func(i, j int) bool { return out[i].Taxid < out[j].Taxid })
	return out
}

// SpeciesTaxid returns the species-level taxon of taxid, or taxid itself.
func SpeciesTaxid(taxid string) string {
	taxid = strings.TrimSpace(taxid)
	if sp, ok := TaxidAlias[taxid]; ok {
		return sp
	}
	return taxid
}

// LookupOrganism returns the organism of taxid after strain folding.
func LookupOrganism(taxid string) (Organism, bool) {
	o, ok := byTaxid[SpeciesTaxid(taxid)]
	return o, ok
}

// KEGGCode returns the KEGG organism code of taxid.
func KEGGCode(taxid string) (string, bool) {
	o, ok := LookupOrganism(taxid)
	if !ok || o.KEGGCode == "" {
		return "", false
	}
	return o.KEGGCode, true
}

// SearchTaxid resolves a taxid, scientific name, common name, KEGG code or
// alias (case-insensitive, substring of the scientific name allowed) to
// exactly one taxid.
func SearchTaxid(name string) (string, error) {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnknownSpecies)
	}
	if o, ok := LookupOrganism(q); ok {
		return o.Taxid, nil
	}

	var exact, partial []string
	for _, o := range organisms {
		names := append([]string{o.Name, o.CommonName, o.KEGGCode}, o.Aliases...)
		matched := false
		for _, n := range names {
			if n != "" && strings.ToLower(n) == q {
				exact = append(exact, o.Taxid)
				matched = true
				break
			}
		}
		if !matched && strings.Contains(strings.ToLower(o.Name), q) {
			partial = append(partial, o.Taxid)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = partial
	}
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("%w: %q", ErrUnknownSpecies, name)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %s", ErrMultipleSpecies, name, strings.Join(candidates, ", "))
	}
}
