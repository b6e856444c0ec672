// Package storage defines the object store that workspace snapshots are
// written to. Implementations live in the local and s3 subpackages.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Backend is the interface for snapshot storage backends.
type Backend interface {
	// GetObject returns the whole object and its size. A missing key
	// returns an error wrapping fserr.ErrNotFound.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject uploads size bytes from body to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. Deleting a missing key is not
	// an error.
	DeleteObject(ctx context.Context, key string) error

	// ListObjects returns the objects whose key starts with prefix, sorted
	// by key.
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
