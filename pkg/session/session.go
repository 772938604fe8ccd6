// Package session threads the shared, expensive objects of a query
// pipeline (configuration, cache, fetcher, registry, worker pool, loaded
// ontologies and the homology database) through one explicit value.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kittclouds/genekit/internal/config"
	"github.com/kittclouds/genekit/internal/flight"
	"github.com/kittclouds/genekit/internal/logging"
	"github.com/kittclouds/genekit/internal/store"
	"github.com/kittclouds/genekit/pkg/alias"
	"github.com/kittclouds/genekit/pkg/fetch"
	"github.com/kittclouds/genekit/pkg/homology"
	"github.com/kittclouds/genekit/pkg/matcher"
	"github.com/kittclouds/genekit/pkg/ontology"
	"github.com/kittclouds/genekit/pkg/registry"
)

// ErrNotAliasSource is returned when a source's format carries no gene
// aliases.
var ErrNotAliasSource = errors.New("session: source has no alias loader")

// ErrClosed is returned by a closed session.
var ErrClosed = errors.New("session: closed")

// Session owns everything one pipeline shares. Safe for concurrent use.
type Session struct {
	cfg      config.Config
	logger   *slog.Logger
	cache    *store.Cache
	fetcher  *fetch.Fetcher
	registry *registry.Registry
	pool     *Pool
	onto     *ontology.Loader

	transport fetch.Transport
	logFile   *logging.Logger
	ownCache  bool

	group flight.Group

	mu       sync.Mutex
	homology *homology.Store
	closed   bool
}

// Option configures Open.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// WithCache uses cache instead of opening the configured backend. The
// session does not close it.
func WithCache(c *store.Cache) Option { return func(s *Session) { s.cache = c } }

// WithFetcher uses f instead of a fetcher over the cache directory.
func WithFetcher(f *fetch.Fetcher) Option { return func(s *Session) { s.fetcher = f } }

func WithRegistry(r *registry.Registry) Option { return func(s *Session) { s.registry = r } }

// WithTransport sets the transport of the default fetcher.
func WithTransport(t fetch.Transport) Option { return func(s *Session) { s.transport = t } }

// Open validates cfg and assembles a session.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Session{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		lg, err := logging.New(logging.Config{Level: level, JSON: cfg.LogFormat == "json", Service: "genekit"})
		if err != nil {
			return nil, err
		}
		s.logFile, s.logger = lg, lg.Logger
	}
	if s.registry == nil {
		s.registry = registry.Default()
	}
	if s.cache == nil {
		c, err := store.Open(cfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		s.cache, s.ownCache = c, true
	}
	if s.fetcher == nil {
		f, err := s.defaultFetcher(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.fetcher = f
	}
	s.onto = ontology.NewLoader(s.fetcher.FS(), ontology.WithLoaderLogger(s.logger))
	s.pool = NewPool(cfg.Workers)

	s.logger.Debug("session opened", "cache_dir", cfg.CacheDir, "backend", cfg.CacheBackend, "workers", cfg.Workers)
	return s, nil
}

func (s *Session) defaultFetcher(ctx context.Context) (*fetch.Fetcher, error) {
	t := s.transport
	if t == nil {
		http := fetch.NewHTTPTransport(s.cfg.HTTPTimeout)
		mux := fetch.MuxTransport{"http": http, "https": http}
		if s.cfg.S3Region != "" || s.cfg.S3Endpoint != "" {
			s3, err := fetch.NewS3Transport(ctx, fetch.S3Config{
				Region:    s.cfg.S3Region,
				Endpoint:  s.cfg.S3Endpoint,
				PathStyle: s.cfg.S3Endpoint != "",
			})
			if err != nil {
				return nil, fmt.Errorf("s3 transport: %w", err)
			}
			mux["s3"] = s3
		}
		t = mux
	}
	return fetch.NewOS(s.cfg.CacheDir,
		fetch.WithTransport(t),
		fetch.WithRetries(s.cfg.Retries),
		fetch.WithLogger(s.logger),
	)
}

// Close waits for running jobs and releases what the session opened.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	hs := s.homology
	s.mu.Unlock()

	if s.pool != nil {
		s.pool.Wait()
	}
	var errs []error
	if hs != nil {
		errs = append(errs, hs.Close())
	}
	if s.ownCache && s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.logFile != nil {
		errs = append(errs, s.logFile.Close())
	}
	return errors.Join(errs...)
}

func (s *Session) Config() config.Config        { return s.cfg }
func (s *Session) Logger() *slog.Logger         { return s.logger }
func (s *Session) Cache() *store.Cache          { return s.cache }
func (s *Session) Fetcher() *fetch.Fetcher      { return s.fetcher }
func (s *Session) Registry() *registry.Registry { return s.registry }
func (s *Session) Pool() *Pool                  { return s.pool }

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// opener downloads res on first use and opens it, decompressing ".gz".
// Errors carry the source and version.
func (s *Session) opener(res fetch.Resource) alias.Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		p, err := s.fetcher.Ensure(ctx, res)
		if err != nil {
			return nil, err
		}
		rc, err := fetch.OpenMaybeGzip(s.fetcher.FS(), p)
		if err != nil {
			return nil, fmt.Errorf("open %s@%s: %w", res.Home, res.Version, err)
		}
		return rc, nil
	}
}

// AliasLoader returns the loader of source id for taxid. A strain-level
// taxid falls back once to its species when the source lacks the strain.
// Nothing is downloaded until the loader runs.
func (s *Session) AliasLoader(ctx context.Context, id, taxid string) (alias.Loader, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	src, ok := s.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownSource, id)
	}
	res, taxid, err := s.registry.Resolve(id, taxid)
	if err != nil {
		return nil, err
	}
	if taxid != "" {
		s.logger.Debug("alias source resolved", "source", id, "taxid", taxid, "version", src.Version)
	}
	open := s.opener(res)
	orgcode, _ := registry.KEGGCode(taxid)

	switch src.Format {
	case registry.FormatGeneInfo:
		return alias.NCBIGeneInfo(open, src.Version, taxid), nil
	case registry.FormatGAF:
		return alias.GAF(open, src.Version, taxid, orgcode), nil
	case registry.FormatKEGGList:
		return alias.KEGGList(open, src.Version, orgcode), nil
	case registry.FormatDictyBase:
		return alias.DictyBase(open, src.Version), nil
	case registry.FormatEnsembl:
		return alias.Ensembl(open, src.Version, taxid), nil
	case registry.FormatAffymetrix:
		return alias.Affymetrix(open, src.Version, orgcode), nil
	default:
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotAliasSource, id, src.Format)
	}
}

// Matcher builds a matcher for taxid from a spec string such as
// "kegg, [go_annotations ncbi], direct". Loaded and joined alias groups
// are persisted in the session cache.
func (s *Session) Matcher(ctx context.Context, spec, taxid string, opts ...matcher.Option) (matcher.Matcher, error) {
	parsed, err := matcher.ParseSpec(spec, func(name string) (alias.Loader, error) {
		return s.AliasLoader(ctx, name, taxid)
	})
	if err != nil {
		return nil, err
	}
	base := []matcher.Option{
		matcher.WithCache(s.cache),
		matcher.WithLogger(s.logger),
		matcher.WithParallelism(s.cfg.Workers),
	}
	return matcher.Build(ctx, parsed, append(base, opts...)...)
}

// Ontology loads the ontology of source id. The parse runs on the worker
// pool; concurrent calls for one source share it.
func (s *Session) Ontology(ctx context.Context, id string) (*ontology.Ontology, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	src, ok := s.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownSource, id)
	}
	if src.Format != registry.FormatOBO {
		return nil, fmt.Errorf("session: source %s is not an ontology", id)
	}
	res, err := src.Resource("")
	if err != nil {
		return nil, err
	}

	v, err := s.group.Do(ctx, "ontology/"+id, func(ctx context.Context) (any, error) {
		return Run(ctx, s.pool, func(ctx context.Context) (*ontology.Ontology, error) {
			p, err := s.fetcher.Ensure(ctx, res)
			if err != nil {
				return nil, err
			}
			o, err := s.onto.Load(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("%s@%s: %w", res.Home, res.Version, err)
			}
			return o, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return v.(*ontology.Ontology), nil
}

// homologyPath is where the homology database lives.
func (s *Session) homologyPath() string {
	if s.cfg.CacheBackend == config.BackendMemory {
		return ":memory:"
	}
	return s.cfg.Path("HomoloGene", "homology.sqlite")
}

// Homology opens the homology database, importing HomoloGene and
// InParanoid when the stored versions differ from the registry's.
func (s *Session) Homology(ctx context.Context) (*homology.Store, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	v, err := s.group.Do(ctx, "homology", func(ctx context.Context) (any, error) {
		s.mu.Lock()
		hs := s.homology
		s.mu.Unlock()
		if hs != nil {
			return hs, nil
		}

		hs, err := homology.Open(s.homologyPath(), s.cfg.BusyTimeout)
		if err != nil {
			return nil, err
		}
		imports := []struct {
			id, table string
			load      func(context.Context, io.Reader, string) (int, error)
		}{
			{"homologene", "homologene", hs.ImportHomoloGene},
			{"inparanoid", "inparanoid", hs.ImportInParanoid},
		}
		for _, imp := range imports {
			if err := s.importHomology(ctx, hs, imp.id, imp.table, imp.load); err != nil {
				hs.Close()
				return nil, err
			}
		}

		s.mu.Lock()
		s.homology = hs
		s.mu.Unlock()
		return hs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*homology.Store), nil
}

func (s *Session) importHomology(ctx context.Context, hs *homology.Store, id, table string, load func(context.Context, io.Reader, string) (int, error)) error {
	src, ok := s.registry.Lookup(id)
	if !ok {
		return nil
	}
	have, err := hs.Version(ctx, table)
	if err != nil {
		return err
	}
	if have == src.Version {
		return nil
	}
	res, err := src.Resource("")
	if err != nil {
		return err
	}
	return s.pool.Go(ctx, func(ctx context.Context) error {
		rc, err := s.opener(res)(ctx)
		if err != nil {
			return err
		}
		defer rc.Close()
		n, err := load(ctx, rc, src.Version)
		if err != nil {
			return fmt.Errorf("%s@%s: %w", res.Home, res.Version, err)
		}
		s.logger.Info("homology imported", "table", table, "version", src.Version, "rows", n)
		return nil
	}).Wait(ctx)
}
