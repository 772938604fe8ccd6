package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/genekit/internal/config"
	"github.com/kittclouds/genekit/internal/logging"
	"github.com/kittclouds/genekit/internal/store"
	"github.com/kittclouds/genekit/pkg/enrich"
	"github.com/kittclouds/genekit/pkg/fetch"
	"github.com/kittclouds/genekit/pkg/matcher"
	"github.com/kittclouds/genekit/pkg/registry"
)

const toyOBO = `format-version: 1.2
data-version: toy/2024

[Term]
id: T:A
name: root

[Term]
id: T:B
name: b
is_a: T:A

[Term]
id: T:C
name: c
alt_id: T:C2
is_a: T:A

[Term]
id: T:D
name: d
is_a: T:B
`

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fakeTransport struct {
	mu    sync.Mutex
	files map[string][]byte
	calls map[string]int
	// hold, when set, runs before each download and can stall it.
	hold func(ctx context.Context, url string) error
}

func (f *fakeTransport) Download(ctx context.Context, url string, dst io.Writer, _ fetch.ProgressFunc) error {
	if f.hold != nil {
		if err := f.hold(ctx, url); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.calls[url]++
	data, ok := f.files[url]
	f.mu.Unlock()
	if !ok {
		return &fetch.StatusError{Scheme: "http", Code: 404, URL: url}
	}
	_, err := dst.Write(data)
	return err
}

func (f *fakeTransport) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	for _, s := range []registry.Source{
		{ID: "kegg", Home: "KEGG", Format: registry.FormatKEGGList, Version: "1", Organisms: []string{"9606"},
			URLTemplate: "http://test/kegg/{orgcode}", CachePathTemplate: "KEGG/{version}", FilenameTemplate: "genes_{orgcode}.tsv"},
		{ID: "ncbi", Home: "NCBI_geneinfo", Format: registry.FormatGeneInfo, Version: "2", Organisms: []string{"9606", "44689"},
			URLTemplate: "http://test/gene_info.gz", CachePathTemplate: "NCBI_geneinfo", FilenameTemplate: "gene_info.{taxid}.gz"},
		{ID: "go", Home: "geneontology", Format: registry.FormatOBO, Version: "2024",
			URLTemplate: "http://test/go.obo", CachePathTemplate: "geneontology/{version}", FilenameTemplate: "go.obo"},
		{ID: "homologene", Home: "HomoloGene", Format: registry.FormatHomoloGene, Version: "68",
			URLTemplate: "http://test/homologene.data", CachePathTemplate: "HomoloGene", FilenameTemplate: "homologene.data"},
		{ID: "inparanoid", Home: "HomoloGene", Format: registry.FormatInParanoid, Version: "8",
			URLTemplate: "http://test/inparanoid.tsv", CachePathTemplate: "HomoloGene", FilenameTemplate: "InParanoid.tsv"},
	} {
		require.NoError(t, r.Add(s))
	}
	return r
}

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{
		calls: make(map[string]int),
		files: map[string][]byte{
			"http://test/kegg/hsa": []byte("hsa:7157\tTP53, P53; tumor protein p53\nhsa:672\tBRCA1; BRCA1 DNA repair\n"),
			"http://test/gene_info.gz": gz(t, "#tax_id\tGeneID\tSymbol\tLocusTag\tSynonyms\n"+
				"9606\t7157\tTP53\t-\tLFS1\n"+
				"9606\t672\tBRCA1\t-\tRNF53\n"+
				"44689\t8615\tdscA\tDDB_G01\t-\n"),
			"http://test/go.obo":          []byte(toyOBO),
			"http://test/homologene.data": []byte("1\t9606\t7157\tTP53\n1\t10090\t22059\tTrp53\n"),
			"http://test/inparanoid.tsv":  []byte("1\t9606\tENSP1\n1\t10090\tENSMUSP1\n"),
		},
	}
	fsys, err := mem.NewFS()
	require.NoError(t, err)
	f := fetch.New(fsys, "cache",
		fetch.WithTransport(tr),
		fetch.WithLogger(logging.Discard()),
		fetch.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)

	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	cfg.CacheBackend = config.BackendMemory

	cache := store.NewMemCache(store.WithLogger(logging.Discard()))
	t.Cleanup(func() { cache.Close() })

	s, err := Open(context.Background(), cfg,
		WithLogger(logging.Discard()),
		WithCache(cache),
		WithFetcher(f),
		WithRegistry(testRegistry(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, tr
}

func TestSessionMatcher(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestSession(t)

	m, err := s.Matcher(ctx, "kegg, ncbi", "9606")
	require.NoError(t, err)
	require.NoError(t, m.SetTargets([]string{"7157", "672"}))

	got, err := matcher.MatchAll(m, []string{"LFS1", "rnf53", "P53", "unknown", "7157"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"7157"}, {"672"}, {"7157"}, nil, {"7157"}}, got)

	// Rebuilding hits the cached groups and the downloaded files.
	_, err = s.Matcher(ctx, "kegg, ncbi", "9606")
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Calls("http://test/kegg/hsa"))
	assert.Equal(t, 1, tr.Calls("http://test/gene_info.gz"))

	_, ok := s.Cache().Contains("gene_matcher/kegg_hsa")
	assert.True(t, ok)
}

func TestSessionAliasLoaderSpeciesFallback(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	l, err := s.AliasLoader(ctx, "ncbi", "352472")
	require.NoError(t, err)
	assert.Equal(t, "ncbi_44689", l.Filename())
	groups, err := l.Load(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "8615", groups[0][0])

	_, err = s.AliasLoader(ctx, "kegg", "10090")
	assert.ErrorIs(t, err, registry.ErrUnsupportedOrganism)
	_, err = s.AliasLoader(ctx, "go", "9606")
	assert.ErrorIs(t, err, ErrNotAliasSource)
	_, err = s.AliasLoader(ctx, "nope", "9606")
	assert.ErrorIs(t, err, registry.ErrUnknownSource)
}

func TestSessionMatcherTaintedByDownloadFailure(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestSession(t)
	tr.mu.Lock()
	delete(tr.files, "http://test/kegg/hsa")
	tr.mu.Unlock()

	m, err := s.Matcher(ctx, "kegg", "9606")
	require.ErrorIs(t, err, fetch.ErrPermanent)
	var rerr *fetch.RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "KEGG", rerr.Source)
	assert.Equal(t, "1", rerr.Version)

	_, err = m.Match("TP53")
	assert.ErrorIs(t, err, fetch.ErrPermanent)

	// The negative cache answers the second build without the network.
	_, err = s.Matcher(ctx, "kegg", "9606")
	assert.ErrorIs(t, err, fetch.ErrPermanent)
	assert.Equal(t, 1, tr.Calls("http://test/kegg/hsa"))
}

func TestSessionOntologyAndEnrichment(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Ontology(ctx, "go")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, tr.Calls("http://test/go.obo"))

	o, err := s.Ontology(ctx, "go")
	require.NoError(t, err)
	c, ok := o.Term("T:C2")
	require.True(t, ok)
	assert.Equal(t, "T:C", c.ID)

	g, err := o.Graph()
	require.NoError(t, err)
	query := map[string][]string{"g1": {"T:D"}, "g2": {"T:D"}}
	reference := map[string][]string{"g1": {"T:D"}, "g2": {"T:D"}, "g3": {"T:C"}, "g4": {"T:C"}}
	res, err := enrich.DAGEnrichment(ctx, g, query, reference, enrich.WithLogger(logging.Discard()))
	require.NoError(t, err)
	nodes := make([]string, len(res))
	for i, r := range res {
		nodes[i] = r.Node
	}
	assert.ElementsMatch(t, []string{"T:A", "T:B", "T:D"}, nodes)

	_, err = s.Ontology(ctx, "kegg")
	assert.Error(t, err)
}

func TestSessionOntologyCancelIsPerCaller(t *testing.T) {
	s, tr := newTestSession(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	tr.hold = func(ctx context.Context, url string) error {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := s.Ontology(ctxA, "go")
		errA <- err
	}()
	<-started

	resB := make(chan error, 1)
	go func() {
		o, err := s.Ontology(context.Background(), "go")
		if err == nil {
			_, ok := o.Term("T:D")
			assert.True(t, ok)
		}
		resB <- err
	}()
	require.Eventually(t, func() bool { return s.group.Waiters("ontology/go") == 2 }, time.Second, time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	require.NoError(t, <-resB)
	assert.Equal(t, 1, tr.Calls("http://test/go.obo"))
}

func TestSessionHomology(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestSession(t)

	hs, err := s.Homology(ctx)
	require.NoError(t, err)
	g, ok, err := hs.Homolog(ctx, "TP53", "9606", "10090")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Trp53", g)

	orth, err := hs.Orthologs(ctx, "ENSP1", "9606", "")
	require.NoError(t, err)
	require.Len(t, orth, 1)

	again, err := s.Homology(ctx)
	require.NoError(t, err)
	assert.Same(t, hs, again)
	assert.Equal(t, 1, tr.Calls("http://test/homologene.data"))
}

func TestSessionClosed(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := s.Ontology(context.Background(), "go")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0
	_, err := Open(context.Background(), cfg, WithLogger(logging.Discard()))
	assert.Error(t, err)
}

func TestPoolBounded(t *testing.T) {
	ctx := context.Background()
	p := NewPool(2)
	var running, peak atomic.Int32
	var jobs []*Job
	for i := 0; i < 8; i++ {
		jobs = append(jobs, p.Go(ctx, func(context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}
	for _, j := range jobs {
		require.NoError(t, j.Wait(ctx))
	}
	p.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolCanceledWhileQueued(t *testing.T) {
	p := NewPool(1)
	started, release := make(chan struct{}), make(chan struct{})
	blocker := p.Go(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	queued := p.Go(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	cancel()
	<-queued.Done()
	close(release)
	require.NoError(t, blocker.Wait(context.Background()))
	assert.False(t, ran)
	assert.ErrorIs(t, queued.Wait(context.Background()), context.Canceled)
}

func TestRun(t *testing.T) {
	p := NewPool(1)
	v, err := Run(context.Background(), p, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = Run(context.Background(), p, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}
