package obo

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `format-version: 1.2
data-version: releases/2024-01-17
default-namespace: gene_ontology
ontology: go

[Term]
id: GO:0008150
name: biological_process
namespace: biological_process
alt_id: GO:0000004
def: "A biological process is the execution of a \"genetically\" encoded program." [GOC:pdt]
synonym: "physiological process" EXACT []
subset: goslim_generic

[Term]
id: GO:0009987 ! cellular process
name: cellular process
is_a: GO:0008150 ! biological_process
relationship: part_of GO:0008150 {source="x"} ! biological_process
exact_synonym: "cell physiology" []
xref: Wikipedia:Cell

[Term]
id: GO:0000005
name: obsolete thing
is_obsolete: true
replaced_by: GO:0009987

[Typedef]
id: part_of
name: part of
is_transitive: true

[Instance]
id: ignored
`

func TestParse(t *testing.T) {
	doc, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "1.2", doc.FormatVersion)
	assert.Equal(t, "releases/2024-01-17", doc.DataVersion)
	assert.Equal(t, "go", doc.Ontology)
	require.Len(t, doc.Terms, 3)

	bp := doc.Terms[0]
	assert.Equal(t, "GO:0008150", bp.ID)
	assert.Equal(t, []string{"GO:0000004"}, bp.AltIDs)
	assert.Equal(t, `A biological process is the execution of a "genetically" encoded program.`, bp.Definition)
	require.Len(t, bp.Synonyms, 1)
	assert.Equal(t, Synonym{Text: "physiological process", Scope: "EXACT"}, bp.Synonyms[0])
	assert.Equal(t, []string{"goslim_generic"}, bp.Subsets)

	cp := doc.Terms[1]
	assert.Equal(t, "GO:0009987", cp.ID)
	assert.Equal(t, "gene_ontology", cp.Namespace, "default namespace applies")
	assert.Equal(t, []Relationship{
		{Type: "is_a", TargetID: "GO:0008150"},
		{Type: "part_of", TargetID: "GO:0008150"},
	}, cp.Relationships)
	assert.Equal(t, "EXACT", cp.Synonyms[0].Scope)
	assert.Equal(t, []string{"Wikipedia:Cell"}, cp.Xrefs)

	obs := doc.Terms[2]
	assert.True(t, obs.IsObsolete)
	assert.Equal(t, []string{"GO:0009987"}, obs.ReplacedBy)

	require.Len(t, doc.TypeDefs, 1)
	assert.Equal(t, TypeDef{ID: "part_of", Name: "part of", IsTransitive: true}, doc.TypeDefs[0])
}

func TestParseRejectsTermWithoutID(t *testing.T) {
	_, err := Parse(strings.NewReader("[Term]\nname: nameless\n"))
	assert.Error(t, err)
}

func TestParserFunc(t *testing.T) {
	calls := 0
	p := ParserFunc(func(io.Reader) (*Document, error) {
		calls++
		return &Document{}, nil
	})
	_, err := p.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
