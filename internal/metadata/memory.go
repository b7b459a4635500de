package metadata

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements the Store interface using an in-memory map. It is
// used in tests and in local single-process mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ImageRecord // key: "{owner}/{imageID}"
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*ImageRecord)}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// PutLabels creates or replaces the label set for an image.
func (s *MemoryStore) PutLabels(ctx context.Context, owner, imageID string, labels []Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ObjectKey(owner, imageID)
	rec, ok := s.records[key]
	if !ok {
		rec = &ImageRecord{
			ImageID:        imageID,
			OwnerNamespace: owner,
			CreatedAt:      time.Now().UTC(),
		}
		s.records[key] = rec
	}
	rec.Labels = append([]Label(nil), labels...)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, owner, imageID string) (*ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[ObjectKey(owner, imageID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Labels = append([]Label(nil), rec.Labels...)
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, owner, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ObjectKey(owner, imageID))
	return nil
}

// ListByOwner returns records under the owner namespace sorted by key, which
// is this store's native order.
func (s *MemoryStore) ListByOwner(ctx context.Context, owner string, opts ListOptions) (*ListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := owner + "/"
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if opts.Cursor != "" {
		if n, err := strconv.Atoi(opts.Cursor); err == nil && n >= 0 && n <= len(keys) {
			start = n
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	end := start + limit
	if end > len(keys) {
		end = len(keys)
	}

	result := &ListResult{}
	for _, key := range keys[start:end] {
		rec := s.records[key]
		cp := *rec
		cp.Labels = append([]Label(nil), rec.Labels...)
		result.Records = append(result.Records, cp)
	}
	if end < len(keys) {
		result.NextCursor = strconv.Itoa(end)
	}
	return result, nil
}
