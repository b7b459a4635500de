// Package gateway enforces per-principal access scoping over blob storage.
//
// Every authenticated principal owns the namespace equal to its subject
// identifier; an object key belongs to that namespace when its first path
// segment equals the subject. Authorization is a pure predicate evaluated
// per request, with no mutable state, so it is safe to call concurrently
// without coordination.
package gateway

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/storage"
)

// Authorize reports whether the principal identified by subject may access
// the object at key. The key's namespace prefix must equal the subject
// exactly; path tricks like "u1x" against "u1" or embedded "../" segments
// never match.
func Authorize(subject, key string) bool {
	if subject == "" || key == "" {
		return false
	}
	rest, ok := strings.CutPrefix(key, subject+"/")
	if !ok {
		return false
	}
	if rest == "" || strings.Contains(rest, "..") {
		return false
	}
	return true
}

// ScopedStore wraps an ObjectStore so that every operation is authorized
// against one principal's namespace. Cross-namespace access fails with
// Forbidden regardless of what the caller requests; listings are constrained
// to the principal's prefix.
type ScopedStore struct {
	subject string
	store   storage.ObjectStore
}

// NewScopedStore returns a store scoped to the given subject identifier.
func NewScopedStore(subject string, store storage.ObjectStore) *ScopedStore {
	return &ScopedStore{subject: subject, store: store}
}

// Subject returns the principal this store is scoped to.
func (s *ScopedStore) Subject() string { return s.subject }

func (s *ScopedStore) authorize(op, key string) error {
	if !Authorize(s.subject, key) {
		return apierr.Forbidden(op, fmt.Errorf("key %q is outside namespace %q", key, s.subject))
	}
	return nil
}

func (s *ScopedStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64) error {
	if err := s.authorize("gateway.put", key); err != nil {
		return err
	}
	return s.store.PutObject(ctx, bucket, key, reader, size)
}

func (s *ScopedStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	if err := s.authorize("gateway.get", key); err != nil {
		return nil, 0, err
	}
	return s.store.GetObject(ctx, bucket, key)
}

func (s *ScopedStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := s.authorize("gateway.delete", key); err != nil {
		return err
	}
	return s.store.DeleteObject(ctx, bucket, key)
}

func (s *ScopedStore) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	if err := s.authorize("gateway.exists", key); err != nil {
		return false, err
	}
	return s.store.ObjectExists(ctx, bucket, key)
}

// ListObjects enumerates only keys under the principal's namespace. The
// caller's prefix is interpreted relative to the namespace.
func (s *ScopedStore) ListObjects(ctx context.Context, bucket, prefix string, opts storage.ListOptions) (*storage.ListResult, error) {
	return s.store.ListObjects(ctx, bucket, s.subject+"/"+prefix, opts)
}

func (s *ScopedStore) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}
