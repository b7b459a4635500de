// Google Cloud Storage backend.
//
// Logical buckets map one-to-one onto GCS buckets. Credentials are resolved
// via Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS,
// gcloud auth, metadata server).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSAPI defines the subset of the GCS client interface that the backend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given GCS object.
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
	// NewReader returns a reader for the given GCS object.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, int64, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// Exists reports whether the given GCS object exists.
	Exists(ctx context.Context, bucket, object string) (bool, error)
	// ListObjects lists object names with the given prefix, resuming from
	// the cursor, up to limit names.
	ListObjects(ctx context.Context, bucket, prefix, cursor string, limit int) ([]string, string, error)
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	return c.client.Bucket(bucket).Object(object).NewWriter(ctx)
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, int64, error) {
	r, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	return r, r.Attrs.Size, nil
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	err := c.client.Bucket(bucket).Object(object).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (c *realGCSClient) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix, cursor string, limit int) ([]string, string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{
		Prefix:      prefix,
		StartOffset: cursor,
	})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, "", nil
		}
		if err != nil {
			return nil, "", err
		}
		if attrs.Name == cursor {
			// StartOffset is inclusive; skip the cursor itself.
			continue
		}
		names = append(names, attrs.Name)
		if len(names) == limit {
			return names, attrs.Name, nil
		}
	}
}

// GCSStore implements the ObjectStore interface against Google Cloud Storage.
type GCSStore struct {
	// Project is the GCP project ID.
	Project string
	// client is the GCS client (satisfying the GCSAPI interface).
	client GCSAPI
}

// NewGCSStore creates a new GCSStore using Application Default Credentials.
func NewGCSStore(ctx context.Context, project string) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	slog.Info("GCS storage backend initialized", "project", project)
	return &GCSStore{Project: project, client: &realGCSClient{client: client}}, nil
}

// NewGCSStoreWithClient creates a GCSStore with a custom client, for tests.
func NewGCSStoreWithClient(client GCSAPI, project string) *GCSStore {
	return &GCSStore{Project: project, client: client}
}

func (s *GCSStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64) error {
	w := s.client.NewWriter(ctx, bucket, key)
	if _, err := io.Copy(w, reader); err != nil {
		w.Close()
		return fmt.Errorf("writing object to GCS: %w", err)
	}
	// GCS commits the object on Close; an error here means nothing was
	// written.
	if err := w.Close(); err != nil {
		return fmt.Errorf("committing object to GCS: %w", err)
	}
	return nil
}

func (s *GCSStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	r, size, err := s.client.NewReader(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("getting object from GCS: %w", err)
	}
	return r, size, nil
}

func (s *GCSStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := s.client.Delete(ctx, bucket, key); err != nil {
		return fmt.Errorf("deleting object from GCS: %w", err)
	}
	return nil
}

func (s *GCSStore) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	ok, err := s.client.Exists(ctx, bucket, key)
	if err != nil {
		return false, fmt.Errorf("checking object existence in GCS: %w", err)
	}
	return ok, nil
}

// ListObjects lists keys under the prefix in GCS iteration order. The cursor
// is the last key of the previous page.
func (s *GCSStore) ListObjects(ctx context.Context, bucket, prefix string, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	names, next, err := s.client.ListObjects(ctx, bucket, prefix, opts.Cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("listing objects in GCS: %w", err)
	}
	return &ListResult{Keys: names, NextCursor: next}, nil
}

// HealthCheck reports the backend as healthy. Client construction already
// validated credentials; buckets are surfaced per-request.
func (s *GCSStore) HealthCheck(ctx context.Context) error {
	return nil
}
