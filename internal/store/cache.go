package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kittclouds/genekit/internal/metrics"
)

// Cache is the version-tagged key→payload store shared by every component.
//
// Puts are staged in memory and become durable on Commit; a process that
// dies before Commit leaves the backend untouched. Reads see staged puts of
// the same Cache. Reads never fail: backend errors and corrupt entries are
// logged once per key and reported as misses.
type Cache struct {
	backend  Backend
	compress bool
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]staged
	seq     uint64
	closed  bool

	commitMu sync.Mutex
	reported sync.Map // key -> struct{}; corrupt entries already logged
}

type staged struct {
	rec Record
	seq uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for corrupt-entry and commit reports.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCompression toggles zstd compression of new payloads. Reads handle
// both forms regardless.
func WithCompression(on bool) Option {
	return func(c *Cache) { c.compress = on }
}

// New wraps backend in a Cache. Payloads are compressed by default.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend:  backend,
		compress: true,
		logger:   slog.Default(),
		pending:  make(map[string]staged),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenSQLite opens a SQLite-backed cache at path.
func OpenSQLite(path string, compress bool, opts ...Option) (*Cache, error) {
	b, err := NewSQLiteBackend(path, DefaultBusyTimeout)
	if err != nil {
		return nil, err
	}
	return New(b, append([]Option{WithCompression(compress)}, opts...)...), nil
}

// NewMemCache returns a cache over a fresh MemBackend.
func NewMemCache(opts ...Option) *Cache {
	return New(NewMemBackend(), opts...)
}

// Backend exposes the underlying backend.
func (c *Cache) Backend() Backend { return c.backend }

// Close discards staged entries and closes the backend.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
	return c.backend.Close()
}

// =============================================================================
// Reads
// =============================================================================

// lookup returns the envelope record for key, staged entries first.
func (c *Cache) lookup(key string) (Record, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Record{}, false
	}
	if s, ok := c.pending[key]; ok {
		c.mu.Unlock()
		return s.rec, true
	}
	c.mu.Unlock()

	rec, ok, err := c.backend.Load(context.Background(), key)
	if err != nil {
		c.reportOnce(key, "cache read failed", err)
		return Record{}, false
	}
	return rec, ok
}

// Contains returns the stored version of key. Corrupt entries, including
// ones whose header is intact but whose body does not decode, are absent.
func (c *Cache) Contains(key string) (string, bool) {
	_, version, ok := c.get(key)
	return version, ok
}

// ContainsVersion reports whether key is present with exactly version required.
func (c *Cache) ContainsVersion(key, required string) bool {
	v, ok := c.Contains(key)
	return ok && v == required
}

// Get returns the payload stored under key, whatever its version.
func (c *Cache) Get(key string) ([]byte, bool) {
	payload, _, ok := c.get(key)
	return payload, ok
}

// GetVersion returns the payload only when it was stored under required.
// A version mismatch is a miss.
func (c *Cache) GetVersion(key, required string) ([]byte, bool) {
	payload, version, ok := c.get(key)
	if !ok || version != required {
		if ok {
			metrics.CacheMisses.WithLabelValues(c.backend.Name()).Inc()
		}
		return nil, false
	}
	return payload, true
}

func (c *Cache) get(key string) ([]byte, string, bool) {
	rec, ok := c.lookup(key)
	if !ok {
		metrics.CacheMisses.WithLabelValues(c.backend.Name()).Inc()
		return nil, "", false
	}
	payload, err := decodeEnvelope(rec.Payload)
	if err != nil {
		c.markCorrupt(key, err)
		return nil, "", false
	}
	metrics.CacheHits.WithLabelValues(c.backend.Name()).Inc()
	return payload, rec.Version, true
}

func (c *Cache) markCorrupt(key string, err error) {
	metrics.CacheCorrupt.WithLabelValues(c.backend.Name()).Inc()
	metrics.CacheMisses.WithLabelValues(c.backend.Name()).Inc()
	c.reportOnce(key, "corrupt cache entry treated as miss", err)
}

func (c *Cache) reportOnce(key, msg string, err error) {
	if _, seen := c.reported.LoadOrStore(key, struct{}{}); seen {
		return
	}
	c.logger.Warn(msg, "key", key, "backend", c.backend.Name(), "error", err)
}

// Keys lists committed keys.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	return c.backend.Keys(ctx)
}

// =============================================================================
// Writes
// =============================================================================

// Put stages payload under key with version. Encoding errors are returned
// immediately; the entry becomes durable on Commit.
func (c *Cache) Put(key string, payload []byte, version string) error {
	if key == "" {
		return ErrEmptyKey
	}
	env, err := encodeEnvelope(payload, c.compress)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.seq++
	c.pending[key] = staged{
		rec: Record{Key: key, Version: version, Payload: env, UpdatedAt: time.Now().UnixMilli()},
		seq: c.seq,
	}
	return nil
}

// Pending reports how many puts await Commit.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Commit writes every staged entry in one atomic batch. On failure the
// backend keeps its previous entries and the staged puts remain for retry.
func (c *Cache) Commit(ctx context.Context) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	batch := make([]staged, 0, len(c.pending))
	keys := make([]string, 0, len(c.pending))
	for k, s := range c.pending {
		batch = append(batch, s)
		keys = append(keys, k)
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	release := lockKeys(c.backend.Lockspace(), keys)
	records := make([]Record, len(batch))
	for i, s := range batch {
		records[i] = s.rec
	}
	err := c.backend.StoreBatch(ctx, records)
	release()

	if err != nil {
		metrics.CacheCommits.WithLabelValues(c.backend.Name(), "error").Inc()
		return fmt.Errorf("commit %d entries: %w", len(records), err)
	}
	metrics.CacheCommits.WithLabelValues(c.backend.Name(), "ok").Inc()

	c.mu.Lock()
	for _, s := range batch {
		// A newer Put for the same key stays staged.
		if cur, ok := c.pending[s.rec.Key]; ok && cur.seq == s.seq {
			delete(c.pending, s.rec.Key)
		}
		c.reported.Delete(s.rec.Key)
	}
	c.mu.Unlock()
	return nil
}

// Rollback discards staged puts.
func (c *Cache) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.pending = make(map[string]staged)
	}
}

// Delete removes keys from both the staging area and the backend.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.pending, k)
	}
	c.mu.Unlock()
	return c.backend.Delete(ctx, keys...)
}

// Clear drops every staged and committed entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.Rollback()
	c.reported.Range(func(k, _ any) bool {
		c.reported.Delete(k)
		return true
	})
	return c.backend.Clear(ctx)
}

// =============================================================================
// Typed helpers
// =============================================================================

// PutJSON stages v encoded as JSON.
func (c *Cache) PutJSON(key string, v any, version string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.Put(key, data, version)
}

// GetJSON decodes the entry stored under key with version required into out.
// A payload that no longer decodes is reported as a miss.
func (c *Cache) GetJSON(key, required string, out any) bool {
	data, ok := c.GetVersion(key, required)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.markCorrupt(key, errors.Join(ErrCorrupt, err))
		return false
	}
	return true
}
