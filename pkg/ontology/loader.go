package ontology

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/hack-pad/hackpadfs"
	"github.com/klauspost/compress/zstd"

	"github.com/kittclouds/genekit/pkg/fetch"
	"github.com/kittclouds/genekit/pkg/obo"
)

// CacheFormatVersion is the first 4 bytes of every sidecar. Bump it when
// the sidecar layout or obo.Document changes shape.
const CacheFormatVersion uint32 = 1

// SidecarSuffix is appended to the source path to name the parsed cache.
const SidecarSuffix = ".cache.pickle"

var errStaleSidecar = errors.New("stale sidecar")

// fingerprint identifies one version of a source file.
type fingerprint struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime"`
	Hash    uint64 `json:"xxhash"`
}

// Loader parses OBO files once and persists the result next to the source.
// Safe for concurrent use.
type Loader struct {
	fs        hackpadfs.FS
	parser    obo.Parser
	logger    *slog.Logger
	relations []string

	mu     sync.Mutex
	loaded map[string]loadedEntry
}

type loadedEntry struct {
	fp  fingerprint
	ont *Ontology
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithParser substitutes the OBO parser collaborator.
func WithParser(p obo.Parser) LoaderOption { return func(l *Loader) { l.parser = p } }

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(lg *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// WithRelations sets the relations whose acyclicity Load enforces.
func WithRelations(rel ...string) LoaderOption {
	return func(l *Loader) { l.relations = rel }
}

// NewLoader creates a loader reading from fsys.
func NewLoader(fsys hackpadfs.FS, opts ...LoaderOption) *Loader {
	l := &Loader{
		fs:        fsys,
		parser:    obo.Default,
		logger:    slog.Default(),
		relations: []string{IsA},
		loaded:    make(map[string]loadedEntry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the ontology stored at name (".gz" is decompressed). An
// unchanged file is served from memory or from its sidecar without calling
// the parser. A cycle fails the load.
func (l *Loader) Load(ctx context.Context, name string) (*Ontology, error) {
	data, info, err := l.read(ctx, name)
	if err != nil {
		return nil, err
	}
	fp := fingerprint{Size: info.Size(), ModTime: info.ModTime().UnixNano(), Hash: xxhash.Sum64(data)}

	l.mu.Lock()
	if e, ok := l.loaded[name]; ok && e.fp == fp {
		l.mu.Unlock()
		return e.ont, nil
	}
	l.mu.Unlock()

	sidecar := name + SidecarSuffix
	doc, err := l.readSidecar(sidecar, fp)
	warm := err == nil
	if !warm {
		if !errors.Is(err, hackpadfs.ErrNotExist) {
			l.logger.Debug("ignoring ontology sidecar", "path", sidecar, "error", err)
		}
		if doc, err = l.parse(ctx, name, data); err != nil {
			return nil, err
		}
	}

	ont, err := New(doc, WithLogger(l.logger))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if _, err := ont.Graph(l.relations...); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	if !warm {
		if err := l.writeSidecar(sidecar, fp, doc); err != nil {
			// The parsed ontology is still good; next load parses again.
			l.logger.Warn("could not persist ontology sidecar", "path", sidecar, "error", err)
		}
	}

	l.mu.Lock()
	l.loaded[name] = loadedEntry{fp: fp, ont: ont}
	l.mu.Unlock()
	return ont, nil
}

func (l *Loader) read(ctx context.Context, name string) ([]byte, hackpadfs.FileInfo, error) {
	info, err := hackpadfs.Stat(l.fs, name)
	if err != nil {
		return nil, nil, fmt.Errorf("stat ontology: %w", err)
	}
	rc, err := fetch.OpenMaybeGzip(l.fs, name)
	if err != nil {
		return nil, nil, fmt.Errorf("open ontology: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(ctxReader{ctx: ctx, r: rc})
	if err != nil {
		return nil, nil, fmt.Errorf("read ontology %s: %w", name, err)
	}
	return data, info, nil
}

func (l *Loader) parse(ctx context.Context, name string, data []byte) (*obo.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	doc, err := l.parser.Parse(ctxReader{ctx: ctx, r: bytes.NewReader(data)})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	l.logger.Info("parsed ontology", "path", name, "terms", len(doc.Terms), "took", time.Since(start))
	return doc, nil
}

// Sidecar layout: 4-byte big-endian CacheFormatVersion, uvarint header
// length, JSON fingerprint header, zstd-compressed JSON document.
func (l *Loader) readSidecar(name string, want fingerprint) (*obo.Document, error) {
	raw, err := hackpadfs.ReadFile(l.fs, name)
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, fmt.Errorf("%w: truncated", errStaleSidecar)
	}
	if v := binary.BigEndian.Uint32(raw[:4]); v != CacheFormatVersion {
		return nil, fmt.Errorf("%w: format version %d", errStaleSidecar, v)
	}
	n, w := binary.Uvarint(raw[4:])
	if w <= 0 || uint64(len(raw)-4-w) < n {
		return nil, fmt.Errorf("%w: bad header length", errStaleSidecar)
	}
	hdr := raw[4+w : 4+w+int(n)]
	var got fingerprint
	if err := json.Unmarshal(hdr, &got); err != nil {
		return nil, fmt.Errorf("%w: %v", errStaleSidecar, err)
	}
	if got != want {
		return nil, fmt.Errorf("%w: source changed", errStaleSidecar)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	body, err := dec.DecodeAll(raw[4+w+int(n):], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errStaleSidecar, err)
	}
	var doc obo.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errStaleSidecar, err)
	}
	return &doc, nil
}

func (l *Loader) writeSidecar(name string, fp fingerprint, doc *obo.Document) error {
	hdr, err := json.Marshal(fp)
	if err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer enc.Close()

	out := binary.BigEndian.AppendUint32(nil, CacheFormatVersion)
	out = binary.AppendUvarint(out, uint64(len(hdr)))
	out = append(out, hdr...)
	out = enc.EncodeAll(body, out)

	tmp := path.Join(path.Dir(name), "."+path.Base(name)+"."+uuid.NewString())
	if err := hackpadfs.WriteFullFile(l.fs, tmp, out, 0o644); err != nil {
		return err
	}
	_ = hackpadfs.Remove(l.fs, name)
	if err := hackpadfs.Rename(l.fs, tmp, name); err != nil {
		_ = hackpadfs.Remove(l.fs, tmp)
		return err
	}
	return nil
}

// ctxReader stops a long read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
