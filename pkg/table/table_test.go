package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/genekit/pkg/alias"
	"github.com/kittclouds/genekit/pkg/matcher"
)

func testMatcher(t *testing.T) matcher.Matcher {
	t.Helper()
	m := matcher.NewAlias("x", alias.NewIndex([]alias.Group{
		{"7157", "TP53", "p53"},
		{"672", "BRCA1"},
		{"1", "shared"},
		{"2", "shared"},
	}, true))
	require.NoError(t, m.SetTargets([]string{"7157", "672", "1", "2"}))
	return m
}

func TestColumnValuesAndMatch(t *testing.T) {
	tbl := &Table{
		Columns: []Column{{Name: "gene"}, {Name: "score"}},
		Rows:    [][]string{{"TP53", "1.0"}, {"brca1", "2.0"}, {"", "3"}, {"shared", "4"}, {"nope", "5"}},
	}
	vals, err := tbl.ColumnValues("gene")
	require.NoError(t, err)
	assert.Equal(t, []string{"TP53", "brca1", "shared", "nope"}, vals)

	col, ids, err := MatchColumn(tbl, "gene", "ncbi", testMatcher(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"7157", "672", "", "", ""}, ids)
	v, ok := col.Attr(AttrTargetNamespace)
	require.True(t, ok)
	assert.Equal(t, "ncbi", v)
	assert.Nil(t, tbl.Columns[0].Attributes, "source descriptor untouched")

	_, _, err = MatchColumn(tbl, "missing", "ncbi", testMatcher(t))
	assert.ErrorIs(t, err, ErrNoColumn)
	_, err = tbl.ColumnValues("missing")
	assert.ErrorIs(t, err, ErrNoColumn)
}

func TestAttributeValuesAndMatch(t *testing.T) {
	tbl := &Table{Columns: []Column{
		{Name: "c1", Attributes: map[string]string{"gene": "p53", AttrTaxid: "9606"}},
		{Name: "c2", Attributes: map[string]string{"gene": "unknown"}},
		{Name: "c3"},
	}}
	assert.Equal(t, []string{"p53", "unknown"}, tbl.AttributeValues("gene"))

	cols, unmatched, err := MatchAttributes(tbl, "gene", "ncbi", testMatcher(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, unmatched)
	assert.Equal(t, "7157", cols[0].Attributes["gene"])
	assert.Equal(t, "9606", cols[0].Attributes[AttrTaxid])
	assert.Equal(t, "p53", tbl.Columns[0].Attributes["gene"])
	assert.Equal(t, "unknown", cols[1].Attributes["gene"])
}
