package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kittclouds/genekit/internal/store"
	"github.com/kittclouds/genekit/pkg/alias"
	"github.com/kittclouds/genekit/pkg/memo"
)

// Step is one stage of a Spec: a single source, a join of several sources,
// or the direct matcher.
type Step struct {
	Direct  bool
	Loaders []alias.Loader
}

// Source is a step matching through one loader.
func Source(l alias.Loader) Step { return Step{Loaders: []alias.Loader{l}} }

// JoinOf is a step matching through the joined groups of loaders.
func JoinOf(ls ...alias.Loader) Step { return Step{Loaders: ls} }

// DirectStep is a step matching targets verbatim.
func DirectStep() Step { return Step{Direct: true} }

func (s Step) String() string {
	if s.Direct {
		return "direct"
	}
	names := make([]string, len(s.Loaders))
	for i, l := range s.Loaders {
		names[i] = l.Filename()
	}
	if len(names) == 1 {
		return names[0]
	}
	return "[" + strings.Join(names, " ") + "]"
}

// Spec lists the steps tried in order.
type Spec []Step

func (s Spec) String() string {
	parts := make([]string, len(s))
	for i, st := range s {
		parts[i] = st.String()
	}
	return strings.Join(parts, ", ")
}

// Resolver maps a source name used in a spec string to its loader.
type Resolver func(name string) (alias.Loader, error)

// ParseSpec reads a spec string such as "kegg, [go ncbi], direct". Steps
// are separated by commas; a bracketed list of names separated by spaces
// or commas is a join.
func ParseSpec(text string, resolve Resolver) (Spec, error) {
	var spec Spec
	rest := strings.TrimSpace(text)
	for rest != "" {
		var tok string
		if strings.HasPrefix(rest, "[") {
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("matcher spec %q: unclosed '['", text)
			}
			tok, rest = rest[:end+1], rest[end+1:]
		} else {
			tok, rest, _ = strings.Cut(rest, ",")
		}
		rest = strings.TrimLeft(strings.TrimSpace(rest), ",")
		rest = strings.TrimSpace(rest)

		tok = strings.TrimSpace(tok)
		switch {
		case tok == "":
			continue
		case strings.EqualFold(tok, "direct"):
			spec = append(spec, DirectStep())
		case strings.HasPrefix(tok, "["):
			names := strings.FieldsFunc(tok[1:len(tok)-1], func(r rune) bool {
				return r == ' ' || r == ',' || r == '\t'
			})
			if len(names) == 0 {
				return nil, fmt.Errorf("matcher spec %q: empty join", text)
			}
			var ls []alias.Loader
			for _, n := range names {
				l, err := resolve(n)
				if err != nil {
					return nil, fmt.Errorf("matcher spec %q: %w", text, err)
				}
				ls = append(ls, l)
			}
			spec = append(spec, JoinOf(ls...))
		default:
			if strings.ContainsAny(tok, "] ") {
				return nil, fmt.Errorf("matcher spec %q: bad step %q", text, tok)
			}
			l, err := resolve(tok)
			if err != nil {
				return nil, fmt.Errorf("matcher spec %q: %w", text, err)
			}
			spec = append(spec, Source(l))
		}
	}
	if len(spec) == 0 {
		return nil, fmt.Errorf("matcher spec %q: no steps", text)
	}
	return spec, nil
}

// =============================================================================
// Build
// =============================================================================

// Option configures Build.
type Option func(*buildConfig)

type buildConfig struct {
	direct     bool
	ignoreCase bool
	cache      *store.Cache
	logger     *slog.Logger
	parallel   int
}

// WithDirect controls the direct matcher placed in front of the spec.
// It is on by default.
func WithDirect(on bool) Option { return func(c *buildConfig) { c.direct = on } }

// WithIgnoreCase folds case in every index and query. On by default.
func WithIgnoreCase(on bool) Option { return func(c *buildConfig) { c.ignoreCase = on } }

// WithCache persists loaded and joined groups.
func WithCache(cache *store.Cache) Option { return func(c *buildConfig) { c.cache = cache } }

func WithLogger(l *slog.Logger) Option {
	return func(c *buildConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithParallelism bounds concurrent loader runs.
func WithParallelism(n int) Option { return func(c *buildConfig) { c.parallel = max(n, 1) } }

// Build assembles the matcher described by spec. When any loader fails,
// Build returns the error together with a matcher that reports the same
// error from every call.
func Build(ctx context.Context, spec Spec, opts ...Option) (Matcher, error) {
	cfg := buildConfig{direct: true, ignoreCase: true, logger: slog.Default(), parallel: 4}
	for _, opt := range opts {
		opt(&cfg)
	}

	steps := spec
	if cfg.direct && (len(steps) == 0 || !steps[0].Direct) {
		steps = append(Spec{DirectStep()}, steps...)
	}

	start := time.Now()
	groups, err := loadAll(ctx, steps, cfg)
	if err != nil {
		err = fmt.Errorf("build matcher %q: %w", spec.String(), err)
		cfg.logger.Error("matcher build failed", "spec", spec.String(), "error", err)
		return tainted{err: err}, err
	}

	members := make([]Matcher, 0, len(steps))
	for i, st := range steps {
		switch {
		case st.Direct:
			members = append(members, NewDirect(cfg.ignoreCase))
		case len(st.Loaders) == 1:
			members = append(members, NewAlias(st.String(), alias.NewIndex(groups[i][0], cfg.ignoreCase)))
		default:
			j, err := joined(ctx, st, groups[i], cfg)
			if err != nil {
				err = fmt.Errorf("build matcher %q: %w", spec.String(), err)
				return tainted{err: err}, err
			}
			members = append(members, j)
		}
	}
	cfg.logger.Debug("matcher built", "spec", spec.String(), "steps", len(members), "elapsed", time.Since(start))

	if len(members) == 1 {
		return members[0], nil
	}
	return NewSequence(members...), nil
}

// loadAll runs every loader of every step concurrently. The result is
// indexed [step][loader].
func loadAll(ctx context.Context, steps Spec, cfg buildConfig) ([][][]alias.Group, error) {
	out := make([][][]alias.Group, len(steps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.parallel)
	for i, st := range steps {
		out[i] = make([][]alias.Group, len(st.Loaders))
		for k, l := range st.Loaders {
			g.Go(func() error {
				groups, err := alias.CachedLoad(gctx, cfg.cache, l)
				if err != nil {
					return err
				}
				out[i][k] = groups
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Joined is an Alias matcher over the union-find join of several sources.
type Joined struct {
	*Alias
	Key    string
	Stable bool
}

func joined(ctx context.Context, st Step, groups [][]alias.Group, cfg buildConfig) (*Joined, error) {
	key, stable := alias.JoinedKey(cfg.ignoreCase, st.Loaders...)
	version := ""
	if stable {
		version = key
	}
	merged, err := memo.MemoizeKey(ctx, cfg.cache, key, version, func(context.Context) ([]alias.Group, error) {
		idx := make([]*alias.Index, len(groups))
		for i, g := range groups {
			idx[i] = alias.NewIndex(g, cfg.ignoreCase)
		}
		return alias.Join(cfg.ignoreCase, idx...).Groups(), nil
	})
	if err != nil {
		return nil, err
	}
	if !stable {
		cfg.logger.Debug("joined index not persisted: unversioned source", "step", st.String())
	}
	return &Joined{
		Alias:  NewAlias(st.String(), alias.NewIndex(merged, cfg.ignoreCase)),
		Key:    key,
		Stable: stable,
	}, nil
}

// NewJoined builds a joined matcher directly from indexes, without
// persistence.
func NewJoined(name string, ignoreCase bool, indexes ...*alias.Index) *Joined {
	return &Joined{Alias: NewAlias(name, alias.Join(ignoreCase, indexes...))}
}
