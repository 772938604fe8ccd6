package obo

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	initialTermCapacity = 1 << 14
	scannerBufferSize   = 1 << 20 // 1 MB
)

// internPool avoids duplicate string allocations for repeated values.
type internPool struct {
	m map[string]string
}

func newInternPool() *internPool {
	return &internPool{m: make(map[string]string, 64)}
}

func (p *internPool) get(s string) string {
	if v, ok := p.m[s]; ok {
		return v
	}
	p.m[s] = s
	return s
}

// Parse reads an OBO document. Unknown tags and stanza types are skipped.
// A [Term] without an id is an error.
func Parse(r io.Reader) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scannerBufferSize)

	doc := &Document{Terms: make([]Term, 0, initialTermCapacity)}
	pool := newInternPool()

	var (
		stanza string
		term   *Term
		td     *TypeDef
		line   int
	)
	flush := func() error {
		switch {
		case term != nil:
			if term.ID == "" {
				return fmt.Errorf("obo: line %d: [Term] without id", line)
			}
			if term.Namespace == "" {
				term.Namespace = doc.DefaultNamespace
			}
			doc.Terms = append(doc.Terms, *term)
		case td != nil && td.ID != "":
			doc.TypeDefs = append(doc.TypeDefs, *td)
		}
		term, td = nil, nil
		return nil
	}

	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text[0] == '!' {
			continue
		}
		if text[0] == '[' && text[len(text)-1] == ']' {
			if err := flush(); err != nil {
				return nil, err
			}
			stanza = text
			switch stanza {
			case "[Term]":
				term = &Term{}
			case "[Typedef]":
				td = &TypeDef{}
			}
			continue
		}

		key, val, ok := strings.Cut(text, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)

		switch {
		case stanza == "":
			parseHeaderLine(doc, key, val)
		case term != nil:
			parseTermLine(term, key, val, pool)
		case td != nil:
			parseTypeDefLine(td, key, val, pool)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("obo: read: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return doc, nil
}

func parseHeaderLine(doc *Document, key, val string) {
	switch key {
	case "format-version":
		doc.FormatVersion = val
	case "data-version":
		doc.DataVersion = val
	case "ontology":
		doc.Ontology = val
	case "default-namespace":
		doc.DefaultNamespace = val
	}
}

func parseTermLine(t *Term, key, val string, pool *internPool) {
	switch key {
	case "id":
		t.ID = stripComment(val)
	case "name":
		t.Name = val
	case "namespace":
		t.Namespace = pool.get(val)
	case "def":
		t.Definition = parseQuoted(val)
	case "comment":
		t.Comment = val
	case "subset":
		t.Subsets = append(t.Subsets, pool.get(stripComment(val)))
	case "synonym", "exact_synonym", "narrow_synonym", "broad_synonym", "related_synonym":
		t.Synonyms = append(t.Synonyms, parseSynonym(key, val, pool))
	case "xref", "xref_analog":
		t.Xrefs = append(t.Xrefs, stripComment(val))
	case "alt_id":
		t.AltIDs = append(t.AltIDs, stripComment(val))
	case "replaced_by":
		t.ReplacedBy = append(t.ReplacedBy, stripComment(val))
	case "consider":
		t.Consider = append(t.Consider, stripComment(val))
	case "is_a":
		t.Relationships = append(t.Relationships, Relationship{
			Type:     pool.get("is_a"),
			TargetID: stripComment(val),
		})
	case "relationship":
		if rel, ok := parseRelationship(val, pool); ok {
			t.Relationships = append(t.Relationships, rel)
		}
	case "is_obsolete":
		t.IsObsolete = val == "true"
	}
}

func parseTypeDefLine(td *TypeDef, key, val string, pool *internPool) {
	switch key {
	case "id":
		td.ID = pool.get(stripComment(val))
	case "name":
		td.Name = val
	case "is_transitive":
		td.IsTransitive = val == "true"
	}
}

// stripComment removes trailing "! comment" and "{qualifiers}".
func stripComment(s string) string {
	if i := strings.Index(s, " !"); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '{'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// parseQuoted extracts text between the first pair of unescaped double
// quotes.
func parseQuoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return s
	}
	var b strings.Builder
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			return b.String()
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// parseSynonym parses: "text" SCOPE [xrefs]
func parseSynonym(key, val string, pool *internPool) Synonym {
	syn := Synonym{Text: parseQuoted(val), Scope: "RELATED"}
	switch key {
	case "exact_synonym":
		syn.Scope = "EXACT"
	case "narrow_synonym":
		syn.Scope = "NARROW"
	case "broad_synonym":
		syn.Scope = "BROAD"
	case "synonym":
		if end := strings.LastIndexByte(val, '"'); end >= 0 {
			if fields := strings.Fields(val[end+1:]); len(fields) > 0 && !strings.HasPrefix(fields[0], "[") {
				syn.Scope = pool.get(fields[0])
			}
		}
	}
	return syn
}

// parseRelationship parses: "part_of GO:0000001 ! name"
func parseRelationship(val string, pool *internPool) (Relationship, bool) {
	fields := strings.Fields(stripComment(val))
	if len(fields) < 2 {
		return Relationship{}, false
	}
	return Relationship{Type: pool.get(fields[0]), TargetID: fields[1]}, true
}
