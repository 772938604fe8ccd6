// Command storetest is a smoke run of the persistent cache and the
// reconciliation and enrichment pipeline on built-in toy data. It touches
// no network.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kittclouds/genekit/internal/config"
	"github.com/kittclouds/genekit/internal/logging"
	"github.com/kittclouds/genekit/internal/store"
	"github.com/kittclouds/genekit/pkg/alias"
	"github.com/kittclouds/genekit/pkg/enrich"
	"github.com/kittclouds/genekit/pkg/graph"
	"github.com/kittclouds/genekit/pkg/homology"
	"github.com/kittclouds/genekit/pkg/matcher"
)

var (
	configPath string
	workDir    string

	rootCmd = &cobra.Command{
		Use:   "storetest",
		Short: "Smoke-test the genekit cache and pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, step := range []func(context.Context, config.Config) error{runCache, runPipeline, runHomology} {
				if err := step(cmd.Context(), cfg); err != nil {
					return err
				}
			}
			fmt.Println("\n✅ All checks passed!")
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if workDir != "" {
				c.CacheDir = workDir
			} else {
				dir, err := os.MkdirTemp("", "genekit-smoke-")
				if err != nil {
					return err
				}
				c.CacheDir = dir
			}
			cfg = c
			return nil
		},
	}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Round-trip, version and reopen checks against the configured backend",
		RunE:  func(cmd *cobra.Command, args []string) error { return runCache(cmd.Context(), cfg) },
	}

	pipelineCmd = &cobra.Command{
		Use:   "pipeline",
		Short: "Match toy identifiers and score a toy ontology",
		RunE:  func(cmd *cobra.Command, args []string) error { return runPipeline(cmd.Context(), cfg) },
	}

	homologyCmd = &cobra.Command{
		Use:   "homology",
		Short: "Import a toy HomoloGene table and query it",
		RunE:  func(cmd *cobra.Command, args []string) error { return runHomology(cmd.Context(), cfg) },
	}

	cfg config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", "", "cache root (default: a fresh temp dir)")
	rootCmd.AddCommand(cacheCmd, pipelineCmd, homologyCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("storetest: %v", err)
	}
}

func check(ok bool, format string, args ...any) error {
	if !ok {
		return fmt.Errorf(format, args...)
	}
	fmt.Printf("  ✓ "+format+"\n", args...)
	return nil
}

func runCache(ctx context.Context, cfg config.Config) error {
	fmt.Printf("Testing %s cache in %s...\n", cfg.CacheBackend, cfg.CacheDir)
	logger := logging.Discard()

	c, err := store.Open(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Put("smoke/key", []byte("payload"), "1"); err != nil {
		return err
	}
	if err := check(c.ContainsVersion("smoke/key", "1"), "staged put visible"); err != nil {
		return err
	}
	if err := c.Commit(ctx); err != nil {
		return err
	}
	got, ok := c.GetVersion("smoke/key", "1")
	if err := check(ok && string(got) == "payload", "committed entry round-trips"); err != nil {
		return err
	}
	if err := check(!c.ContainsVersion("smoke/key", "2"), "version mismatch is a miss"); err != nil {
		return err
	}
	if err := c.Close(); err != nil {
		return err
	}

	if cfg.CacheBackend == config.BackendMemory {
		return nil
	}
	reopened, err := store.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer reopened.Close()
	v, ok := reopened.Contains("smoke/key")
	return check(ok && v == "1", "entry survives reopen")
}

func runPipeline(ctx context.Context, cfg config.Config) error {
	fmt.Println("\nTesting pipeline...")
	cache := store.NewMemCache(store.WithLogger(logging.Discard()))
	defer cache.Close()

	kegg := alias.KEGGList(textOpener("hsa:7157\tTP53, P53; tumor protein\nhsa:672\tBRCA1; BRCA1\nhsa:1\tA1BG; alpha-1-B\n"), "smoke", "hsa")
	user := alias.StaticLoader{Name: "user", Release: "smoke", Groups: []alias.Group{{"7157", "LFS1"}}}
	m, err := matcher.Build(ctx, matcher.Spec{matcher.Source(kegg), matcher.JoinOf(kegg, user)},
		matcher.WithCache(cache), matcher.WithLogger(logging.Discard()))
	if err != nil {
		return err
	}
	if err := m.SetTargets([]string{"7157", "672", "1"}); err != nil {
		return err
	}
	ids, err := matcher.MatchAll(m, []string{"p53", "LFS1", "BRCA1"})
	if err != nil {
		return err
	}
	if err := check(strings.Join(flatten(ids), ",") == "7157,7157,672", "matched %v", ids); err != nil {
		return err
	}

	g := graph.New()
	for _, e := range [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "E"}} {
		g.AddEdge(e[0], e[1])
	}
	query := map[string][]string{"7157": {"D"}, "672": {"D"}}
	reference := map[string][]string{"7157": {"D"}, "672": {"D"}, "1": {"E"}}
	res, err := enrich.DAGEnrichment(ctx, g, query, reference, enrich.WithLogger(logging.Discard()))
	if err != nil {
		return err
	}
	for _, r := range res {
		fmt.Printf("    %-2s p=%.4f fdr=%.4f enrichment=%.3f\n", r.Node, r.PValue, r.FDR, r.Enrichment)
	}
	return check(len(res) == 3, "scored %d nodes", len(res))
}

func runHomology(ctx context.Context, cfg config.Config) error {
	fmt.Println("\nTesting homology...")
	hs, err := homology.Open(filepath.Join(cfg.CacheDir, "HomoloGene", "smoke.sqlite"), cfg.BusyTimeout)
	if err != nil {
		return err
	}
	defer hs.Close()
	if _, err := hs.ImportHomoloGene(ctx, strings.NewReader("1\t9606\t100\tABC\n1\t10090\t200\tAbc\n"), "smoke"); err != nil {
		return err
	}
	g, ok, err := hs.Homolog(ctx, "ABC", "9606", "10090")
	if err != nil {
		return err
	}
	return check(ok && g == "Abc", "homolog ABC → %s", g)
}

func flatten(xs [][]string) []string {
	var out []string
	for _, x := range xs {
		out = append(out, x...)
	}
	return out
}

func textOpener(s string) alias.Opener {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}
