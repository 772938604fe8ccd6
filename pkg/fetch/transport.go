package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ProgressFunc receives (transferred, total) bytes; total is -1 when unknown.
type ProgressFunc func(transferred, total int64)

// Transport copies the bytes at url into dst.
type Transport interface {
	Download(ctx context.Context, url string, dst io.Writer, progress ProgressFunc) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, url string, dst io.Writer, progress ProgressFunc) error

func (f TransportFunc) Download(ctx context.Context, url string, dst io.Writer, progress ProgressFunc) error {
	return f(ctx, url, dst, progress)
}

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second
	chunkSize      = 64 * 1024
)

// copyChunks copies src to dst, checking ctx between chunks.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) error {
	buf := make([]byte, chunkSize)
	var done int64
	if progress != nil {
		progress(0, total)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// =============================================================================
// HTTP
// =============================================================================

// HTTPTransport downloads http and https URLs.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport whose requests time out after timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Download(ctx context.Context, rawURL string, dst io.Writer, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Scheme: "http", Code: resp.StatusCode, URL: rawURL}
	}
	return copyChunks(ctx, dst, resp.Body, resp.ContentLength, progress)
}

// =============================================================================
// S3
// =============================================================================

// GetObjectAPI is the slice of the S3 client S3Transport needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Transport downloads s3://bucket/key URLs, typically from a mirror.
type S3Transport struct {
	Client GetObjectAPI
}

// S3Config holds construction parameters for NewS3Transport.
type S3Config struct {
	Region    string
	Endpoint  string // optional; enables a custom endpoint such as MinIO
	PathStyle bool
}

// NewS3Transport builds a client from the default AWS credential chain.
func NewS3Transport(ctx context.Context, cfg S3Config) (*S3Transport, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle || cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Transport{Client: client}, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %s", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url without key: %s", rawURL)
	}
	return u.Host, key, nil
}

func (t *S3Transport) Download(ctx context.Context, rawURL string, dst io.Writer, progress ProgressFunc) error {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	out, err := t.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return &StatusError{Scheme: "s3", Code: http.StatusNotFound, URL: rawURL}
		}
		var re interface{ HTTPStatusCode() int }
		if errors.As(err, &re) {
			return &StatusError{Scheme: "s3", Code: re.HTTPStatusCode(), URL: rawURL}
		}
		return err
	}
	defer out.Body.Close()

	total := int64(-1)
	if out.ContentLength != nil {
		total = *out.ContentLength
	}
	return copyChunks(ctx, dst, out.Body, total, progress)
}

// =============================================================================
// Routing
// =============================================================================

// MuxTransport routes a URL to the transport registered for its scheme.
type MuxTransport map[string]Transport

func (m MuxTransport) Download(ctx context.Context, rawURL string, dst io.Writer, progress ProgressFunc) error {
	scheme, _, ok := strings.Cut(rawURL, "://")
	if !ok {
		return fmt.Errorf("%w: url without scheme: %s", ErrPermanent, rawURL)
	}
	t, ok := m[strings.ToLower(scheme)]
	if !ok {
		return fmt.Errorf("%w: no transport for scheme %q", ErrPermanent, scheme)
	}
	return t.Download(ctx, rawURL, dst, progress)
}
