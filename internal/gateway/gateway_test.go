package gateway

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/storage"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		key     string
		want    bool
	}{
		{"own namespace", "u1", "u1/photo.jpg", true},
		{"nested key", "u1", "u1/albums/photo.jpg", true},
		{"other namespace", "u1", "u2/photo.jpg", false},
		{"prefix collision", "u1", "u1x/photo.jpg", false},
		{"bare namespace", "u1", "u1/", false},
		{"no namespace", "u1", "photo.jpg", false},
		{"empty subject", "", "u1/photo.jpg", false},
		{"empty key", "u1", "", false},
		{"dotdot traversal", "u1", "u1/../u2/photo.jpg", false},
		{"subject is the key", "u1", "u1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorize(tt.subject, tt.key); got != tt.want {
				t.Errorf("Authorize(%q, %q) = %v, want %v", tt.subject, tt.key, got, tt.want)
			}
		})
	}
}

func TestScopedStoreForbidden(t *testing.T) {
	ctx := context.Background()
	scoped := NewScopedStore("u1", storage.NewMemoryStore())

	err := scoped.PutObject(ctx, "images", "u2/photo.jpg", bytes.NewReader([]byte("x")), 1)
	if apierr.ClassOf(err) != apierr.ClassForbidden {
		t.Fatalf("PutObject cross-namespace error class = %v, want Forbidden", apierr.ClassOf(err))
	}

	if _, _, err := scoped.GetObject(ctx, "images", "u2/photo.jpg"); apierr.ClassOf(err) != apierr.ClassForbidden {
		t.Fatalf("GetObject cross-namespace error class = %v, want Forbidden", apierr.ClassOf(err))
	}

	if err := scoped.DeleteObject(ctx, "images", "u2/photo.jpg"); apierr.ClassOf(err) != apierr.ClassForbidden {
		t.Fatalf("DeleteObject cross-namespace error class = %v, want Forbidden", apierr.ClassOf(err))
	}

	if _, err := scoped.ObjectExists(ctx, "images", "u2/photo.jpg"); apierr.ClassOf(err) != apierr.ClassForbidden {
		t.Fatalf("ObjectExists cross-namespace error class = %v, want Forbidden", apierr.ClassOf(err))
	}
}

func TestScopedStoreOwnNamespace(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()
	scoped := NewScopedStore("u1", backing)

	if err := scoped.PutObject(ctx, "images", "u1/photo.jpg", bytes.NewReader([]byte("data")), 4); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	exists, err := scoped.ObjectExists(ctx, "images", "u1/photo.jpg")
	if err != nil || !exists {
		t.Fatalf("ObjectExists = (%v, %v), want (true, nil)", exists, err)
	}

	if err := scoped.DeleteObject(ctx, "images", "u1/photo.jpg"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, _, err := scoped.GetObject(ctx, "images", "u1/photo.jpg"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetObject after delete = %v, want ErrNotFound", err)
	}
}

func TestScopedStoreListConfinedToNamespace(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()
	seed := []string{"u1/a.jpg", "u1/b.jpg", "u2/c.jpg"}
	for _, key := range seed {
		if err := backing.PutObject(ctx, "images", key, bytes.NewReader([]byte("x")), 1); err != nil {
			t.Fatalf("seeding %s: %v", key, err)
		}
	}

	scoped := NewScopedStore("u1", backing)
	result, err := scoped.ListObjects(ctx, "images", "", storage.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(result.Keys) != 2 {
		t.Fatalf("ListObjects returned %d keys, want 2: %v", len(result.Keys), result.Keys)
	}
	for _, key := range result.Keys {
		if !Authorize("u1", key) {
			t.Errorf("listing leaked out-of-namespace key %q", key)
		}
	}
}
