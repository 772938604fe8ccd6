package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/genekit/internal/logging"
)

var geneInfo = Resource{
	Home:      "NCBI_geneinfo",
	Version:   "20240101",
	Filename:  "gene_info.9606.db",
	URL:       "https://example.org/gene_info/9606",
	CachePath: "NCBI_geneinfo",
}

// countingTransport serves body after failing with errs in order.
type countingTransport struct {
	mu    sync.Mutex
	calls int
	errs  []error
	body  string
}

func (c *countingTransport) Download(ctx context.Context, url string, dst io.Writer, progress ProgressFunc) error {
	c.mu.Lock()
	c.calls++
	var err error
	if len(c.errs) > 0 {
		err, c.errs = c.errs[0], c.errs[1:]
	}
	c.mu.Unlock()

	// Write something first so failures leave a partial temp file behind.
	if _, werr := io.WriteString(dst, c.body[:len(c.body)/2]); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	_, werr := io.WriteString(dst, c.body[len(c.body)/2:])
	return werr
}

func (c *countingTransport) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestFetcher(t *testing.T, tr Transport) (*Fetcher, hackpadfs.FS) {
	t.Helper()
	fsys, err := mem.NewFS()
	require.NoError(t, err)
	f := New(fsys, "cache",
		WithTransport(tr),
		WithLogger(logging.Discard()),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	return f, fsys
}

func partials(fsys hackpadfs.FS, dir string) []string {
	entries, err := hackpadfs.ReadDir(fsys, dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			out = append(out, e.Name())
		}
	}
	return out
}

func assertNoPartials(t *testing.T, fsys hackpadfs.FS, dir string) {
	t.Helper()
	assert.Empty(t, partials(fsys, dir), "temp file left behind")
}

func TestEnsureIsIdempotent(t *testing.T) {
	tr := &countingTransport{body: "9606\t7157\tTP53\n"}
	f, fsys := newTestFetcher(t, tr)
	ctx := context.Background()

	p1, err := f.Ensure(ctx, geneInfo)
	require.NoError(t, err)
	p2, err := f.Ensure(ctx, geneInfo)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, "cache/NCBI_geneinfo/gene_info.9606.db", p1)
	assert.Equal(t, 1, tr.Calls())

	data, err := hackpadfs.ReadFile(fsys, p1)
	require.NoError(t, err)
	assert.Equal(t, tr.body, string(data))
	assert.True(t, f.Exists(geneInfo))
}

func TestEnsureNeverOverwritesPresentFile(t *testing.T) {
	tr := &countingTransport{body: "fresh"}
	f, fsys := newTestFetcher(t, tr)

	require.NoError(t, hackpadfs.MkdirAll(fsys, "cache/NCBI_geneinfo", 0o755))
	require.NoError(t, hackpadfs.WriteFullFile(fsys, "cache/NCBI_geneinfo/gene_info.9606.db", []byte("old"), 0o644))

	p, err := f.Ensure(context.Background(), geneInfo)
	require.NoError(t, err)
	data, err := hackpadfs.ReadFile(fsys, p)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.Equal(t, 0, tr.Calls())
}

func TestConcurrentEnsureDownloadsOnce(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	tr := TransportFunc(func(ctx context.Context, url string, dst io.Writer, _ ProgressFunc) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		_, err := io.WriteString(dst, "payload")
		return err
	})
	f, _ := newTestFetcher(t, tr)

	var wg sync.WaitGroup
	paths := make([]string, 4)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.Ensure(context.Background(), geneInfo)
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	<-started
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	tr := &countingTransport{
		body: "ok-body",
		errs: []error{
			&StatusError{Scheme: "http", Code: 503},
			&StatusError{Scheme: "ftp", Code: 550},
		},
	}
	f, fsys := newTestFetcher(t, tr)

	p, err := f.Ensure(context.Background(), geneInfo)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.Calls())

	data, err := hackpadfs.ReadFile(fsys, p)
	require.NoError(t, err)
	assert.Equal(t, "ok-body", string(data))
	assertNoPartials(t, fsys, "cache/NCBI_geneinfo")
}

func TestRetryExhaustionIsRetrievalError(t *testing.T) {
	fail := &StatusError{Scheme: "http", Code: 502}
	tr := &countingTransport{body: "xx", errs: []error{fail, fail, fail, fail, fail}}
	f, fsys := newTestFetcher(t, tr)

	_, err := f.Ensure(context.Background(), geneInfo)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Equal(t, DefaultRetries+1, tr.Calls())
	assert.Contains(t, err.Error(), "after 4 attempts")

	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "NCBI_geneinfo", rerr.Source)
	assert.Equal(t, "20240101", rerr.Version)

	assert.False(t, f.Exists(geneInfo))
	assertNoPartials(t, fsys, "cache/NCBI_geneinfo")
}

func TestPermanentFailureIsNegativelyCached(t *testing.T) {
	tr := &countingTransport{body: "xx", errs: []error{&StatusError{Scheme: "http", Code: 404}}}
	f, fsys := newTestFetcher(t, tr)
	ctx := context.Background()

	_, err := f.Ensure(ctx, geneInfo)
	require.ErrorIs(t, err, ErrPermanent)
	_, err = f.Ensure(ctx, geneInfo)
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, tr.Calls(), "second call must not hit the network")
	assertNoPartials(t, fsys, "cache/NCBI_geneinfo")

	f.ForgetFailures()
	_, err = f.Ensure(ctx, geneInfo)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Calls())
}

func TestCancelDiscardsPartialDownload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	tr := TransportFunc(func(ctx context.Context, url string, dst io.Writer, _ ProgressFunc) error {
		calls.Add(1)
		_, _ = io.WriteString(dst, "partial")
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	f, fsys := newTestFetcher(t, tr)

	_, err := f.Ensure(ctx, geneInfo)
	require.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)

	// The abandoned download winds down after Ensure returns.
	require.Eventually(t, func() bool {
		return f.group.Waiters(f.Path(geneInfo.LocalPath())) == 0 &&
			len(partials(fsys, "cache/NCBI_geneinfo")) == 0
	}, time.Second, time.Millisecond)
	assert.False(t, f.Exists(geneInfo))
	assert.Equal(t, int32(1), calls.Load(), "canceled attempts are not retried")
}

func TestCancelingOneCallerKeepsSharedDownload(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	tr := TransportFunc(func(ctx context.Context, url string, dst io.Writer, _ ProgressFunc) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err := io.WriteString(dst, "payload")
		return err
	})
	f, fsys := newTestFetcher(t, tr)
	full := f.Path(geneInfo.LocalPath())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.Ensure(ctxA, geneInfo)
		errA <- err
	}()
	<-started

	type result struct {
		path string
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		p, err := f.Ensure(context.Background(), geneInfo)
		resB <- result{p, err}
	}()
	require.Eventually(t, func() bool { return f.group.Waiters(full) == 2 }, time.Second, time.Millisecond)

	cancelA()
	err := <-errA
	require.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, full, b.path)
	assert.Equal(t, int32(1), calls.Load())

	data, err := hackpadfs.ReadFile(fsys, full)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestRequestTimeoutIsRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte("9606\t7157\tTP53\n"))
	}))
	defer srv.Close()

	f, fsys := newTestFetcher(t, NewHTTPTransport(100*time.Millisecond))
	res := geneInfo
	res.URL = srv.URL + "/gene_info"

	p, err := f.Ensure(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())

	data, err := hackpadfs.ReadFile(fsys, p)
	require.NoError(t, err)
	assert.Equal(t, "9606\t7157\tTP53\n", string(data))
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		err       *StatusError
		permanent bool
	}{
		{&StatusError{Scheme: "http", Code: 404}, true},
		{&StatusError{Scheme: "http", Code: 401}, true},
		{&StatusError{Scheme: "http", Code: 403}, true},
		{&StatusError{Scheme: "http", Code: 410}, true},
		{&StatusError{Scheme: "http", Code: 429}, false},
		{&StatusError{Scheme: "http", Code: 500}, false},
		{&StatusError{Scheme: "http", Code: 503}, false},
		{&StatusError{Scheme: "ftp", Code: 421}, false},
		{&StatusError{Scheme: "ftp", Code: 450}, false},
		{&StatusError{Scheme: "ftp", Code: 550}, false},
		{&StatusError{Scheme: "ftp", Code: 530}, true},
		{&StatusError{Scheme: "ftp", Code: 553}, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.permanent, tc.err.Permanent(), "%s %d", tc.err.Scheme, tc.err.Code)
		assert.Equal(t, !tc.permanent, IsTransient(tc.err), "%s %d", tc.err.Scheme, tc.err.Code)
	}
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(fmt.Errorf("%w: x", ErrCanceled)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(&net.OpError{Op: "read", Err: timeoutError{}}))
	assert.True(t, IsTransient(errors.New("connection reset by peer")))
}

func TestHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("hello genes"))
		case "/missing":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(0)
	var buf bytes.Buffer
	var last int64
	err := tr.Download(context.Background(), srv.URL+"/ok", &buf, func(done, total int64) { last = done })
	require.NoError(t, err)
	assert.Equal(t, "hello genes", buf.String())
	assert.Equal(t, int64(len("hello genes")), last)

	err = tr.Download(context.Background(), srv.URL+"/missing", io.Discard, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.Code)
	assert.True(t, IsPermanent(err))

	err = tr.Download(context.Background(), srv.URL+"/busy", io.Discard, nil)
	assert.True(t, IsTransient(err))
}

func TestMuxTransport(t *testing.T) {
	var got string
	mux := MuxTransport{"s3": TransportFunc(func(_ context.Context, url string, _ io.Writer, _ ProgressFunc) error {
		got = url
		return nil
	})}
	require.NoError(t, mux.Download(context.Background(), "S3://bucket/key", io.Discard, nil))
	assert.Equal(t, "S3://bucket/key", got)

	err := mux.Download(context.Background(), "gopher://x", io.Discard, nil)
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://mirror/HomoloGene/homologene.data")
	require.NoError(t, err)
	assert.Equal(t, "mirror", bucket)
	assert.Equal(t, "HomoloGene/homologene.data", key)

	_, _, err = ParseS3URL("s3://mirror/")
	assert.Error(t, err)
}

func TestOpenMaybeGzip(t *testing.T) {
	fsys, err := mem.NewFS()
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("[Term]\nid: GO:1\n"))
	require.NoError(t, zw.Close())
	require.NoError(t, hackpadfs.WriteFullFile(fsys, "go.obo.gz", buf.Bytes(), 0o644))
	require.NoError(t, hackpadfs.WriteFullFile(fsys, "plain.txt", []byte("plain"), 0o644))

	for name, want := range map[string]string{"go.obo.gz": "[Term]\nid: GO:1\n", "plain.txt": "plain"} {
		rc, err := OpenMaybeGzip(fsys, name)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, want, string(data))
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
