// Package homology maps genes across organisms through HomoloGene groups
// and InParanoid ortholog clusters kept in a local SQLite database.
package homology

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kittclouds/genekit/pkg/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS homologene (
    group_id INTEGER NOT NULL,
    taxid TEXT NOT NULL,
    gene_id TEXT NOT NULL,
    symbol TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS homologene_symbol ON homologene (symbol, taxid);
CREATE INDEX IF NOT EXISTS homologene_gene ON homologene (gene_id, taxid);
CREATE INDEX IF NOT EXISTS homologene_group ON homologene (group_id);

CREATE TABLE IF NOT EXISTS inparanoid (
    cluster_id INTEGER NOT NULL,
    taxid TEXT NOT NULL,
    gene_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS inparanoid_gene ON inparanoid (gene_id, taxid);
CREATE INDEX IF NOT EXISTS inparanoid_cluster ON inparanoid (cluster_id);

CREATE TABLE IF NOT EXISTS imports (
    name TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    row_count INTEGER NOT NULL
);
`

// Gene is an organism-qualified gene.
type Gene struct {
	Taxid string `json:"taxid"`
	Gene  string `json:"gene"`
}

// Store holds both homology relations.
type Store struct {
	db *sql.DB
}

// Open opens (creating when needed) the database at path. "" or ":memory:"
// gives a private in-memory database.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	memory := path == "" || path == ":memory:"
	dsn := ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create homology dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_txlock=immediate",
			filepath.ToSlash(path), busyTimeout.Milliseconds())
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open homology db: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create homology schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Counts returns the number of HomoloGene and InParanoid rows.
func (s *Store) Counts(ctx context.Context) (homologene, inparanoid int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM homologene`).Scan(&homologene); err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inparanoid`).Scan(&inparanoid)
	return homologene, inparanoid, err
}

// =============================================================================
// Import
// =============================================================================

// Version returns the source version recorded by the last import of table
// ("homologene" or "inparanoid"), or "" when it was never imported.
func (s *Store) Version(ctx context.Context, table string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT version FROM imports WHERE name = ?`, table).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// ImportHomoloGene replaces the HomoloGene relation with the rows of a
// homologene.data file: group, taxid, gene id, symbol, then ignored
// protein columns.
func (s *Store) ImportHomoloGene(ctx context.Context, r io.Reader, version string) (int, error) {
	return s.replace(ctx, r, "homologene", version,
		`INSERT INTO homologene (group_id, taxid, gene_id, symbol) VALUES (?, ?, ?, ?)`, 4,
		func(cells []string) ([]any, error) {
			group, err := strconv.ParseInt(cells[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad group id %q", cells[0])
			}
			return []any{group, registry.SpeciesTaxid(cells[1]), cells[2], cells[3]}, nil
		})
}

// ImportInParanoid replaces the InParanoid relation with rows of cluster
// id, taxid and gene id.
func (s *Store) ImportInParanoid(ctx context.Context, r io.Reader, version string) (int, error) {
	return s.replace(ctx, r, "inparanoid", version,
		`INSERT INTO inparanoid (cluster_id, taxid, gene_id) VALUES (?, ?, ?)`, 3,
		func(cells []string) ([]any, error) {
			cluster, err := strconv.ParseInt(cells[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad cluster id %q", cells[0])
			}
			return []any{cluster, registry.SpeciesTaxid(cells[1]), cells[2]}, nil
		})
}

// replace loads a tab-separated file into table in one transaction. A
// malformed row aborts the import and leaves the previous rows in place.
func (s *Store) replace(ctx context.Context, r io.Reader, table, version, insert string, minCols int, row func([]string) ([]any, error)) (n int, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin %s import: %w", table, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return 0, fmt.Errorf("clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("prepare %s insert: %w", table, err)
	}
	defer stmt.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		cells := strings.Split(text, "\t")
		if len(cells) < minCols {
			return 0, fmt.Errorf("%s line %d: want %d columns, got %d", table, line, minCols, len(cells))
		}
		args, err := row(cells)
		if err != nil {
			return 0, fmt.Errorf("%s line %d: %w", table, line, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("%s line %d: %w", table, line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO imports (name, version, row_count) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET version = excluded.version, row_count = excluded.row_count`,
		table, version, n); err != nil {
		return 0, fmt.Errorf("record %s import: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s import: %w", table, err)
	}
	return n, nil
}

// =============================================================================
// Queries
// =============================================================================

// Homologs returns every other member of the HomoloGene group of gene
// (symbol or gene id) in taxid, ordered by taxid then symbol.
func (s *Store) Homologs(ctx context.Context, gene, taxid string) ([]Gene, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m.taxid, m.symbol
		FROM homologene q JOIN homologene m ON m.group_id = q.group_id
		WHERE q.taxid = ?1 AND (q.symbol = ?2 OR q.gene_id = ?2)
		  AND NOT (m.taxid = q.taxid AND m.gene_id = q.gene_id)
		ORDER BY m.taxid, m.symbol`,
		registry.SpeciesTaxid(taxid), gene)
	if err != nil {
		return nil, fmt.Errorf("homologs of %s: %w", gene, err)
	}
	return scanGenes(rows)
}

// Homolog returns the single homolog of gene in toTaxid. It reports false
// when there is none or more than one.
func (s *Store) Homolog(ctx context.Context, gene, fromTaxid, toTaxid string) (string, bool, error) {
	all, err := s.Homologs(ctx, gene, fromTaxid)
	if err != nil {
		return "", false, err
	}
	to := registry.SpeciesTaxid(toTaxid)
	var match []string
	for _, h := range all {
		if h.Taxid == to {
			match = append(match, h.Gene)
		}
	}
	if len(match) != 1 {
		return "", false, nil
	}
	return match[0], true, nil
}

// Orthologs returns the other members of the InParanoid clusters of gene,
// restricted to toTaxid unless it is empty.
func (s *Store) Orthologs(ctx context.Context, gene, fromTaxid, toTaxid string) ([]Gene, error) {
	to := ""
	if toTaxid != "" {
		to = registry.SpeciesTaxid(toTaxid)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m.taxid, m.gene_id
		FROM inparanoid q JOIN inparanoid m ON m.cluster_id = q.cluster_id
		WHERE q.gene_id = ?1 AND q.taxid = ?2
		  AND NOT (m.taxid = q.taxid AND m.gene_id = q.gene_id)
		  AND (?3 = '' OR m.taxid = ?3)
		ORDER BY m.taxid, m.gene_id`,
		gene, registry.SpeciesTaxid(fromTaxid), to)
	if err != nil {
		return nil, fmt.Errorf("orthologs of %s: %w", gene, err)
	}
	return scanGenes(rows)
}

func scanGenes(rows *sql.Rows) ([]Gene, error) {
	defer rows.Close()
	var out []Gene
	for rows.Next() {
		var g Gene
		if err := rows.Scan(&g.Taxid, &g.Gene); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
