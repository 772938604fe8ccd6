package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrPermanent marks failures a retry cannot fix (404, auth rejection).
	ErrPermanent = errors.New("fetch: permanent failure")
	// ErrRetrieval marks a transient failure that outlived every retry.
	ErrRetrieval = errors.New("fetch: retrieval failed")
	// ErrCanceled wraps context cancellation of a download.
	ErrCanceled = errors.New("fetch: canceled")
)

// StatusError is a protocol-level failure reported by a transport.
type StatusError struct {
	Scheme string // "http", "ftp", "s3"
	Code   int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d for %s", e.Scheme, e.Code, e.URL)
}

// Permanent classifies the status. HTTP 404/401/403/410 are permanent and
// 429/5xx transient. FTP 4xx replies and 550 (file unavailable, seen while
// mirrors sync) are transient; every other FTP 5xx is permanent.
func (e *StatusError) Permanent() bool {
	switch e.Scheme {
	case "ftp":
		switch {
		case e.Code == 550:
			return false
		case e.Code >= 400 && e.Code < 500:
			return false
		case e.Code >= 500:
			return true
		}
		return false
	default:
		switch e.Code {
		case 401, 403, 404, 410:
			return true
		case 429:
			return false
		}
		if e.Code >= 500 {
			return false
		}
		return e.Code >= 400
	}
}

// RetrievalError carries the (source, version) tuple of a failed download
// so callers can tell stale caches from upstream outages.
type RetrievalError struct {
	Source  string
	Version string
	URL     string
	Err     error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s %s (%s): %v", e.Source, e.Version, e.URL, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Permanent()
	}
	return false
}

// IsTransient reports whether err is worth another attempt. Timeouts,
// connection resets and unclassified I/O failures all qualify. A deadline
// inside err is a request timeout, not the caller giving up; callers decide
// cancellation from their own ctx.Err().
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) || errors.Is(err, ErrCanceled) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return !errors.Is(err, context.Canceled)
}
