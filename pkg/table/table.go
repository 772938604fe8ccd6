// Package table adapts tabular data to the matcher. Gene ids come either
// from a string column (one id per row) or from column attributes (one id
// per column); per-column metadata travels in an explicit attribute map.
package table

import (
	"errors"
	"fmt"
	"maps"

	"github.com/kittclouds/genekit/pkg/matcher"
)

// Attribute keys written by MatchColumn.
const (
	AttrTargetNamespace = "genekit.target"
	AttrTaxid           = "taxid"
)

var ErrNoColumn = errors.New("table: no such column")

// Column describes one column.
type Column struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attr returns the value of attribute key.
func (c Column) Attr(key string) (string, bool) {
	v, ok := c.Attributes[key]
	return v, ok
}

// WithAttr returns a copy of c with key set to value.
func (c Column) WithAttr(key, value string) Column {
	attrs := make(map[string]string, len(c.Attributes)+1)
	maps.Copy(attrs, c.Attributes)
	attrs[key] = value
	c.Attributes = attrs
	return c
}

// Table is a string table; every row has len(Columns) cells.
type Table struct {
	Columns []Column   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Index returns the position of the named column.
func (t *Table) Index(name string) (int, bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

// ColumnValues returns the non-empty cells of the named column.
func (t *Table) ColumnValues(name string) ([]string, error) {
	i, ok := t.Index(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoColumn, name)
	}
	var out []string
	for _, row := range t.Rows {
		if i < len(row) && row[i] != "" {
			out = append(out, row[i])
		}
	}
	return out, nil
}

// AttributeValues returns attribute key of every column that has it, in
// column order. This is the gene-per-column layout.
func (t *Table) AttributeValues(key string) []string {
	var out []string
	for _, c := range t.Columns {
		if v, ok := c.Attributes[key]; ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

// MatchColumn matches every cell of the named column with m, whose targets
// must already be set, and returns the column descriptor annotated with
// namespace plus the unique match of each row ("" when unknown or
// ambiguous).
func MatchColumn(t *Table, column, namespace string, m matcher.Matcher) (Column, []string, error) {
	i, ok := t.Index(column)
	if !ok {
		return Column{}, nil, fmt.Errorf("%w: %s", ErrNoColumn, column)
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		if i >= len(row) || row[i] == "" {
			continue
		}
		u, ok, err := m.UMatch(row[i])
		if err != nil {
			return Column{}, nil, fmt.Errorf("match row %d: %w", r, err)
		}
		if ok {
			out[r] = u
		}
	}
	return t.Columns[i].WithAttr(AttrTargetNamespace, namespace), out, nil
}

// MatchAttributes matches attribute key of every column and returns
// copies of the columns with key replaced by the unique match; columns that
// do not match uniquely keep their value and are reported in unmatched.
func MatchAttributes(t *Table, key, namespace string, m matcher.Matcher) (cols []Column, unmatched []string, err error) {
	cols = make([]Column, len(t.Columns))
	for i, c := range t.Columns {
		v, ok := c.Attributes[key]
		if !ok || v == "" {
			cols[i] = c
			continue
		}
		u, found, err := m.UMatch(v)
		if err != nil {
			return nil, nil, fmt.Errorf("match column %s: %w", c.Name, err)
		}
		if !found {
			unmatched = append(unmatched, c.Name)
			cols[i] = c
			continue
		}
		cols[i] = c.WithAttr(key, u).WithAttr(AttrTargetNamespace, namespace)
	}
	return cols, unmatched, nil
}
