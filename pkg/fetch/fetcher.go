package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"

	"github.com/kittclouds/genekit/internal/flight"
	"github.com/kittclouds/genekit/internal/metrics"
)

// DefaultRetries is how many times a transient failure is retried.
const DefaultRetries = 3

// Fetcher materializes Resources below a root directory of a hackpadfs.FS.
// Safe for concurrent use; concurrent Ensure calls for one path share a
// single download.
type Fetcher struct {
	fs        hackpadfs.FS
	root      string
	transport Transport
	retries   int
	logger    *slog.Logger
	progress  ProgressFunc
	backOff   func() backoff.BackOff

	group    flight.Group
	negative sync.Map // Resource.key() -> error
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithTransport(t Transport) Option   { return func(f *Fetcher) { f.transport = t } }
func WithRetries(n int) Option           { return func(f *Fetcher) { f.retries = max(n, 0) } }
func WithProgress(p ProgressFunc) Option { return func(f *Fetcher) { f.progress = p } }

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithBackOff replaces the retry schedule. Tests use a zero backoff.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(f *Fetcher) { f.backOff = fn }
}

// New creates a Fetcher rooted at root inside fsys. The default transport
// handles http and https.
func New(fsys hackpadfs.FS, root string, opts ...Option) *Fetcher {
	http := NewHTTPTransport(DefaultTimeout)
	f := &Fetcher{
		fs:        fsys,
		root:      root,
		transport: MuxTransport{"http": http, "https": http},
		retries:   DefaultRetries,
		logger:    slog.Default(),
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewOS creates a Fetcher over the operating system directory dir.
func NewOS(dir string, opts ...Option) (*Fetcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fsys := osfs.NewFS()
	root, err := fsys.FromOSPath(abs)
	if err != nil {
		return nil, fmt.Errorf("cache root %s: %w", dir, err)
	}
	return New(fsys, root, opts...), nil
}

// FS returns the file system downloads land in.
func (f *Fetcher) FS() hackpadfs.FS { return f.fs }

// Path returns the FS path of a cache-relative path.
func (f *Fetcher) Path(rel string) string {
	return path.Join(f.root, rel)
}

// Exists reports whether r is already materialized.
func (f *Fetcher) Exists(r Resource) bool {
	_, err := hackpadfs.Stat(f.fs, f.Path(r.LocalPath()))
	return err == nil
}

// Ensure returns the FS path of r, downloading it first when absent.
// Permanent failures are remembered for the Fetcher's lifetime and returned
// without touching the network again. Canceling ctx abandons only this
// call; a download other callers still wait on keeps going.
func (f *Fetcher) Ensure(ctx context.Context, r Resource) (string, error) {
	full := f.Path(r.LocalPath())
	if _, err := hackpadfs.Stat(f.fs, full); err == nil {
		return full, nil
	}
	if v, ok := f.negative.Load(r.key()); ok {
		f.logger.Debug("negative cache hit", "home", r.Home, "version", r.Version, "url", r.URL)
		return "", v.(error)
	}

	_, err := f.group.Do(ctx, full, func(ctx context.Context) (any, error) {
		if _, err := hackpadfs.Stat(f.fs, full); err == nil {
			return nil, nil
		}
		return nil, f.download(ctx, r, full)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrCanceled) {
			return "", fmt.Errorf("%w: %s: %w", ErrCanceled, r.URL, ctxErr)
		}
		return "", err
	}
	return full, nil
}

// ForgetFailures clears the negative cache.
func (f *Fetcher) ForgetFailures() {
	f.negative.Range(func(k, _ any) bool {
		f.negative.Delete(k)
		return true
	})
}

func (f *Fetcher) download(ctx context.Context, r Resource, full string) error {
	if err := hackpadfs.MkdirAll(f.fs, path.Dir(full), 0o755); err != nil {
		return &RetrievalError{Source: r.Home, Version: r.Version, URL: r.URL, Err: err}
	}

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		err := f.attempt(ctx, r, full)
		if err != nil && (ctx.Err() != nil || !IsTransient(err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, wait time.Duration) {
		metrics.FetchRetries.WithLabelValues(r.Home).Inc()
		f.logger.Warn("download failed, retrying",
			"home", r.Home, "version", r.Version, "url", r.URL, "wait", wait, "error", err)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(f.backOff()),
		backoff.WithMaxTries(uint(f.retries+1)),
		backoff.WithNotify(notify),
	)

	switch {
	case err == nil:
		metrics.FetchDownloads.WithLabelValues(r.Home, "ok").Inc()
		f.logger.Info("downloaded", "home", r.Home, "version", r.Version, "path", full)
		return nil
	case ctx.Err() != nil:
		metrics.FetchDownloads.WithLabelValues(r.Home, "canceled").Inc()
		return fmt.Errorf("%w: %s: %w", ErrCanceled, r.URL, ctx.Err())
	case IsPermanent(err):
		metrics.FetchDownloads.WithLabelValues(r.Home, "permanent").Inc()
		if !errors.Is(err, ErrPermanent) {
			err = fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		rerr := &RetrievalError{Source: r.Home, Version: r.Version, URL: r.URL, Err: err}
		f.negative.Store(r.key(), error(rerr))
		return rerr
	default:
		metrics.FetchDownloads.WithLabelValues(r.Home, "exhausted").Inc()
		return &RetrievalError{Source: r.Home, Version: r.Version, URL: r.URL,
			Err: fmt.Errorf("%w after %d attempts: %w", ErrRetrieval, attempts, err)}
	}
}

// attempt performs one download into a unique sibling and renames it into
// place. The temporary file is removed on every failure path.
func (f *Fetcher) attempt(ctx context.Context, r Resource, full string) (err error) {
	tmp := fmt.Sprintf("%s.%s.part", full, uuid.NewString())
	file, err := hackpadfs.OpenFile(f.fs, tmp,
		hackpadfs.FlagWriteOnly|hackpadfs.FlagCreate|hackpadfs.FlagExclusive, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = hackpadfs.Remove(f.fs, tmp)
		}
	}()

	dlErr := f.transport.Download(ctx, r.URL, fileWriter{file}, f.progress)
	closeErr := file.Close()
	if dlErr != nil {
		return dlErr
	}
	if closeErr != nil {
		return closeErr
	}

	if _, statErr := hackpadfs.Stat(f.fs, full); statErr == nil {
		// Someone else finished first; keep theirs.
		_ = hackpadfs.Remove(f.fs, tmp)
		return nil
	}
	if err := hackpadfs.Rename(f.fs, tmp, full); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

type fileWriter struct{ f hackpadfs.File }

func (w fileWriter) Write(p []byte) (int, error) { return hackpadfs.WriteFile(w.f, p) }

var _ io.Writer = fileWriter{}
