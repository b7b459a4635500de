package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements the ObjectStore interface using in-memory maps.
// It is used in tests and in local single-process mode.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // key: "bucket/key"
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// objectKey builds the map key for an object from its bucket and key.
func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

func (s *MemoryStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(bucket, key)] = data
	return nil
}

func (s *MemoryStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *MemoryStore) DeleteObject(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectKey(bucket, key))
	return nil
}

func (s *MemoryStore) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[objectKey(bucket, key)]
	return ok, nil
}

// ListObjects returns keys under the prefix in lexicographic order, which is
// this store's native order.
func (s *MemoryStore) ListObjects(ctx context.Context, bucket, prefix string, opts ListOptions) (*ListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucketPrefix := bucket + "/"
	var keys []string
	for mk := range s.objects {
		if !strings.HasPrefix(mk, bucketPrefix) {
			continue
		}
		key := mk[len(bucketPrefix):]
		if strings.HasPrefix(key, prefix) && key > opts.Cursor {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	result := &ListResult{}
	if len(keys) > limit {
		result.Keys = keys[:limit]
		result.NextCursor = keys[limit-1]
	} else {
		result.Keys = keys
	}
	return result, nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }
