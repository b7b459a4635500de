// Package storage defines the interface and implementations for Pixyard's
// blob storage layer. Raw uploads and resized derivatives live in two logical
// buckets; object keys are {owner_namespace}/{image_id}.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when the requested object does not exist. The
// pipeline treats a missing source object as a non-fatal no-op, so backends
// must report absence with this sentinel rather than a generic error.
var ErrNotFound = errors.New("object not found")

// ListOptions specifies pagination options for listing objects.
type ListOptions struct {
	// Cursor resumes a previous listing. Empty starts from the beginning.
	Cursor string
	// Limit caps the number of keys returned. Zero means backend default.
	Limit int
}

// ListResult holds one page of object keys in backend-native order.
type ListResult struct {
	Keys []string
	// NextCursor is non-empty when more keys remain.
	NextCursor string
}

// ObjectStore defines the interface for reading and writing blob object data.
// Implementations provide the underlying storage mechanism (local filesystem,
// cloud provider, memory). All methods must be safe for concurrent use.
type ObjectStore interface {
	// PutObject writes the data from the reader to the given bucket and key.
	// Writes are atomic per key: a concurrent reader sees either the old
	// object or the new one, never a partial write.
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64) error

	// GetObject retrieves the object data. The caller is responsible for
	// closing the returned ReadCloser. Returns ErrNotFound when absent.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)

	// DeleteObject removes the object. Deleting an absent object is not an
	// error.
	DeleteObject(ctx context.Context, bucket, key string) error

	// ObjectExists checks whether an object exists at the given bucket and key.
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)

	// ListObjects returns object keys under the given prefix in
	// backend-native order, paginated via opts.
	ListObjects(ctx context.Context, bucket, prefix string, opts ListOptions) (*ListResult, error)

	// HealthCheck verifies that the storage backend is operational.
	HealthCheck(ctx context.Context) error
}
