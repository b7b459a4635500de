// Package metadata defines the interface and implementations for Pixyard's
// metadata storage layer, which tracks one record per uploaded image.
package metadata

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Label is a single semantic label extracted by the recognition engine.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ImageRecord represents the metadata for a single uploaded image.
//
// A record comes into existence the moment the label extractor writes its
// first attribute; the derivative stage never touches metadata. Labels grow
// only by whole-set overwrite, so redelivered notifications converge on the
// same final record.
type ImageRecord struct {
	// ImageID is derived from the storage object key basename. Immutable.
	ImageID string
	// OwnerNamespace is the principal-scoped prefix under which the raw and
	// derivative objects live. Immutable.
	OwnerNamespace string
	// Labels is the full label set from the most recent extraction.
	Labels []Label
	// CreatedAt is set on first write and preserved by overwrites.
	CreatedAt time.Time
}

// Key returns the storage object key for the record: {owner}/{imageID}.
func (r *ImageRecord) Key() string {
	return ObjectKey(r.OwnerNamespace, r.ImageID)
}

// ObjectKey builds the canonical object key from an owner namespace and
// image ID.
func ObjectKey(owner, imageID string) string {
	return owner + "/" + imageID
}

// ParseKey splits an object key into owner namespace and image ID. Every
// pipeline stage and the service layer derive ownership from the key the
// same way; a key without both segments is malformed.
func ParseKey(key string) (owner, imageID string, err error) {
	key = strings.TrimPrefix(key, "/")
	idx := strings.Index(key, "/")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", fmt.Errorf("object key %q is not of the form {owner}/{image_id}", key)
	}
	return key[:idx], key[idx+1:], nil
}

// ListOptions specifies pagination options for listing image records.
type ListOptions struct {
	// Cursor resumes a previous listing. Empty starts from the beginning.
	Cursor string
	// Limit caps the number of records returned. Zero means store default.
	Limit int
}

// ListResult holds one page of image records.
type ListResult struct {
	Records []ImageRecord
	// NextCursor is non-empty when more records remain.
	NextCursor string
}

// Store defines the metadata operations required by Pixyard. Implementations
// must be safe for concurrent use and rely only on per-key atomicity: no
// multi-key transactions are assumed anywhere.
type Store interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// PutLabels creates or replaces the label set for an image. The whole
	// set is overwritten, never merged, so redelivery is idempotent.
	// CreatedAt is preserved when the record already exists.
	PutLabels(ctx context.Context, owner, imageID string, labels []Label) error

	// Get retrieves the record for an image, or nil when absent.
	Get(ctx context.Context, owner, imageID string) (*ImageRecord, error)

	// Delete removes the record for an image. Deleting an absent record is
	// not an error.
	Delete(ctx context.Context, owner, imageID string) error

	// ListByOwner returns records under the given owner namespace in
	// store-native order, paginated via opts.
	ListByOwner(ctx context.Context, owner string, opts ListOptions) (*ListResult, error)
}
