// Package obo reads ontologies in the OBO 1.2/1.4 flat-file format.
package obo

import "io"

// Document is a parsed OBO file.
type Document struct {
	FormatVersion    string    `json:"format_version,omitempty"`
	DataVersion      string    `json:"data_version,omitempty"`
	Ontology         string    `json:"ontology,omitempty"`
	DefaultNamespace string    `json:"default_namespace,omitempty"`
	Terms            []Term    `json:"terms"`
	TypeDefs         []TypeDef `json:"typedefs,omitempty"`
}

// TypeDef represents an OBO Typedef stanza (relation type).
type TypeDef struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	IsTransitive bool   `json:"is_transitive,omitempty"`
}

// Term represents a single [Term] stanza.
type Term struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Namespace     string         `json:"namespace,omitempty"`
	Definition    string         `json:"definition,omitempty"`
	Comment       string         `json:"comment,omitempty"`
	IsObsolete    bool           `json:"is_obsolete,omitempty"`
	Subsets       []string       `json:"subsets,omitempty"`
	Synonyms      []Synonym      `json:"synonyms,omitempty"`
	Xrefs         []string       `json:"xrefs,omitempty"`
	AltIDs        []string       `json:"alt_ids,omitempty"`
	ReplacedBy    []string       `json:"replaced_by,omitempty"`
	Consider      []string       `json:"consider,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Synonym represents a term synonym with its scope type.
type Synonym struct {
	Text  string `json:"text"`
	Scope string `json:"scope"` // EXACT, BROAD, NARROW, RELATED
}

// Relationship represents a typed relationship to another term.
type Relationship struct {
	Type     string `json:"type"` // is_a, part_of, regulates, ...
	TargetID string `json:"target_id"`
}

// Parser turns an OBO stream into a Document.
type Parser interface {
	Parse(r io.Reader) (*Document, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(r io.Reader) (*Document, error)

func (f ParserFunc) Parse(r io.Reader) (*Document, error) { return f(r) }

// Default is the package parser.
var Default Parser = ParserFunc(Parse)
