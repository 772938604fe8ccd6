// Package store provides the persistent, version-tagged cache for genekit.
// Entries are (key, version, payload) records kept by a pluggable Backend.
package store

import "errors"

// Record is one persisted cache entry. Payload holds the encoded envelope,
// not the caller's raw bytes.
type Record struct {
	Key       string `json:"key"`
	Version   string `json:"version"`
	Payload   []byte `json:"payload"`
	UpdatedAt int64  `json:"updatedAt"`
}

var (
	// ErrEmptyKey is returned by Put for an empty key.
	ErrEmptyKey = errors.New("store: empty key")
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("store: cache closed")
	// ErrCorrupt marks an entry whose envelope cannot be decoded.
	ErrCorrupt = errors.New("store: corrupt entry")
)
