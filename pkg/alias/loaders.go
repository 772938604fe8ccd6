package alias

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Opener returns a fresh reader over a source file.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Field selects the aliases contributed by one column.
type Field struct {
	Index int
	// Split separates multi-valued cells ("|", ", ", " /// ").
	Split string
	// Until cuts the cell at its first occurrence before splitting.
	Until string
	// TrimPrefix is removed from every value.
	TrimPrefix string
	// StripDB drops a leading "DB:" qualifier ("Ensembl:ENSG01" → "ENSG01").
	StripDB bool
}

// ColumnSpec describes a delimited alias file.
type ColumnSpec struct {
	Delimiter  string // default tab
	Comment    string // lines starting with it are skipped
	SkipHeader bool
	Fields     []Field
	// AllColumns uses every column verbatim, ignoring Fields.
	AllColumns bool
	// Filter keeps a row when it returns true.
	Filter func(cells []string) bool
	// Empty lists placeholder cell values, default "-".
	Empty []string
}

// ColumnLoader turns each row of a delimited file into one alias group.
type ColumnLoader struct {
	Name    string
	Release string
	Open    Opener
	Spec    ColumnSpec
}

func (c *ColumnLoader) Filename() string { return c.Name }
func (c *ColumnLoader) Version() string  { return c.Release }

func (c *ColumnLoader) Load(ctx context.Context) ([]Group, error) {
	rc, err := c.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return c.Spec.Parse(ctx, rc)
}

// Parse reads groups from r. Cancellation is checked every 4096 rows.
func (s ColumnSpec) Parse(ctx context.Context, r io.Reader) ([]Group, error) {
	delim := s.Delimiter
	if delim == "" {
		delim = "\t"
	}
	empty := s.Empty
	if empty == nil {
		empty = []string{"-"}
	}
	isEmpty := func(v string) bool {
		if v == "" {
			return true
		}
		for _, e := range empty {
			if v == e {
				return true
			}
		}
		return false
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	var groups []Group
	row := 0
	header := s.SkipHeader
	for scanner.Scan() {
		row++
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || (s.Comment != "" && strings.HasPrefix(line, s.Comment)) {
			continue
		}
		if header {
			header = false
			continue
		}
		cells := strings.Split(line, delim)
		if s.Filter != nil && !s.Filter(cells) {
			continue
		}

		var g Group
		if s.AllColumns {
			for _, v := range cells {
				if v = strings.TrimSpace(v); !isEmpty(v) {
					g = append(g, v)
				}
			}
		} else {
			for _, f := range s.Fields {
				if f.Index >= len(cells) {
					continue
				}
				for _, v := range f.values(cells[f.Index]) {
					if !isEmpty(v) {
						g = append(g, v)
					}
				}
			}
		}
		if g = g.Normalize(); len(g) > 0 {
			groups = append(groups, g)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	return groups, nil
}

func (f Field) values(cell string) []string {
	if f.Until != "" {
		cell, _, _ = strings.Cut(cell, f.Until)
	}
	parts := []string{cell}
	if f.Split != "" {
		parts = strings.Split(cell, f.Split)
	}
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, f.TrimPrefix)
		if f.StripDB {
			if _, rest, ok := strings.Cut(p, ":"); ok {
				p = rest
			}
		}
		out = append(out, p)
	}
	return out
}

// =============================================================================
// Source presets
// =============================================================================

func column(i int) func(cells []string) string {
	return func(cells []string) string {
		if i < len(cells) {
			return cells[i]
		}
		return ""
	}
}

// NCBIGeneInfo reads an NCBI gene_info file: GeneID, Symbol, LocusTag,
// Synonyms, dbXrefs and the nomenclature symbol, restricted to taxid.
func NCBIGeneInfo(open Opener, release, taxid string) *ColumnLoader {
	tax := column(0)
	return &ColumnLoader{
		Name:    "ncbi_" + taxid,
		Release: release,
		Open:    open,
		Spec: ColumnSpec{
			Comment: "#",
			Fields: []Field{
				{Index: 1}, {Index: 2}, {Index: 3},
				{Index: 4, Split: "|"},
				{Index: 5, Split: "|", StripDB: true},
				{Index: 10},
			},
			Filter: func(cells []string) bool { return taxid == "" || tax(cells) == taxid },
		},
	}
}

// GAF reads a GO annotation file: DB object id, symbol and synonyms,
// restricted to taxid (column 13, "taxon:<id>").
func GAF(open Opener, release, taxid, name string) *ColumnLoader {
	taxon := column(12)
	return &ColumnLoader{
		Name:    "go_" + name,
		Release: release,
		Open:    open,
		Spec: ColumnSpec{
			Comment: "!",
			Fields: []Field{
				{Index: 1}, {Index: 2},
				{Index: 10, Split: "|"},
			},
			Filter: func(cells []string) bool {
				if taxid == "" {
					return true
				}
				first, _, _ := strings.Cut(taxon(cells), "|")
				return strings.TrimPrefix(first, "taxon:") == taxid
			},
		},
	}
}

// KEGGList reads a KEGG /list/<org> dump: "hsa:7157<TAB>TP53, P53; tumor protein".
func KEGGList(open Opener, release, org string) *ColumnLoader {
	return &ColumnLoader{
		Name:    "kegg_" + org,
		Release: release,
		Open:    open,
		Spec: ColumnSpec{
			Fields: []Field{
				{Index: 0},
				{Index: 0, TrimPrefix: org + ":"},
				{Index: 1, Until: ";", Split: ","},
			},
		},
	}
}

// DictyBase reads the dictyBase gene_information file: DDB_G id, name,
// synonyms.
func DictyBase(open Opener, release string) *ColumnLoader {
	return &ColumnLoader{
		Name:    "dictybase",
		Release: release,
		Open:    open,
		Spec: ColumnSpec{
			SkipHeader: true,
			Fields: []Field{
				{Index: 0}, {Index: 1},
				{Index: 2, Split: ","},
			},
		},
	}
}

// Ensembl reads a BioMart export with a header row; every column of a row
// names the same gene.
func Ensembl(open Opener, release, dataset string) *ColumnLoader {
	return &ColumnLoader{
		Name:    "ensembl_" + dataset,
		Release: release,
		Open:    open,
		Spec:    ColumnSpec{SkipHeader: true, AllColumns: true},
	}
}

// Affymetrix reads probe annotations: probe set id and gene symbols
// separated by " /// ".
func Affymetrix(open Opener, release, platform string) *ColumnLoader {
	return &ColumnLoader{
		Name:    "affy_" + platform,
		Release: release,
		Open:    open,
		Spec: ColumnSpec{
			Comment:    "#",
			SkipHeader: true,
			Fields: []Field{
				{Index: 0},
				{Index: 1, Split: "///"},
			},
			Empty: []string{"-", "---"},
		},
	}
}

// FlatFile reads a user file in which every row is one group.
func FlatFile(open Opener, name, release, delimiter string) *ColumnLoader {
	return &ColumnLoader{
		Name:    "file_" + name,
		Release: release,
		Open:    open,
		Spec:    ColumnSpec{Delimiter: delimiter, Comment: "#", AllColumns: true},
	}
}
