// Package storage is the durable artifact layer behind the CDN:
// mesh payloads, assembly manifests, status documents, execution
// logs, and screenshots, keyed by model/version. Writes overwrite,
// so re-running a job replaces its artifact set in place.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that were never written.
var ErrNotFound = errors.New("storage: artifact not found")

// Store is the artifact store contract.
type Store interface {
	// Put writes data under key, replacing any previous content.
	Put(ctx context.Context, key string, contentType string, data []byte) error

	// Get reads the artifact at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// URL returns the public (CDN-facing) URL for key.
	URL(key string) string
}
