package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestObjectKeyRoundTrip(t *testing.T) {
	key := ObjectKey("alice", "img1")
	if key != "alice/img1" {
		t.Fatalf("ObjectKey = %q, want alice/img1", key)
	}
	owner, imageID, err := ParseKey(key)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if owner != "alice" || imageID != "img1" {
		t.Errorf("ParseKey = (%q, %q), want (alice, img1)", owner, imageID)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		key     string
		owner   string
		imageID string
		wantErr bool
	}{
		{"alice/img1", "alice", "img1", false},
		{"/alice/img1", "alice", "img1", false},
		{"alice/albums/img1", "alice", "albums/img1", false},
		{"img1", "", "", true},
		{"alice/", "", "", true},
		{"/img1", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		owner, imageID, err := ParseKey(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseKey(%q) = (%q, %q), want error", tt.key, owner, imageID)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseKey(%q): %v", tt.key, err)
			continue
		}
		if owner != tt.owner || imageID != tt.imageID {
			t.Errorf("ParseKey(%q) = (%q, %q), want (%q, %q)", tt.key, owner, imageID, tt.owner, tt.imageID)
		}
	}
}

// storeImpls builds each Store implementation under test.
func storeImpls(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreGetAbsent(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := store.Get(context.Background(), "alice", "nope")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if rec != nil {
				t.Errorf("Get absent record = %+v, want nil", rec)
			}
		})
	}
}

func TestStorePutOverwritesLabelsKeepsCreatedAt(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := []Label{{Name: "cat", Confidence: 0.95}}
			if err := store.PutLabels(ctx, "alice", "img1", first); err != nil {
				t.Fatalf("first PutLabels: %v", err)
			}
			rec1, err := store.Get(ctx, "alice", "img1")
			if err != nil || rec1 == nil {
				t.Fatalf("Get after first put = (%+v, %v)", rec1, err)
			}
			if rec1.CreatedAt.IsZero() {
				t.Fatal("CreatedAt not set on first write")
			}

			time.Sleep(5 * time.Millisecond)
			second := []Label{{Name: "dog", Confidence: 0.8}, {Name: "animal", Confidence: 0.9}}
			if err := store.PutLabels(ctx, "alice", "img1", second); err != nil {
				t.Fatalf("second PutLabels: %v", err)
			}
			rec2, err := store.Get(ctx, "alice", "img1")
			if err != nil || rec2 == nil {
				t.Fatalf("Get after second put = (%+v, %v)", rec2, err)
			}

			if !rec2.CreatedAt.Equal(rec1.CreatedAt) {
				t.Errorf("CreatedAt changed on overwrite: %v -> %v", rec1.CreatedAt, rec2.CreatedAt)
			}
			if len(rec2.Labels) != 2 {
				t.Fatalf("labels after overwrite = %+v, want the full new set", rec2.Labels)
			}
			for _, l := range rec2.Labels {
				if l.Name == "cat" {
					t.Error("old label survived a whole-set overwrite")
				}
			}
		})
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.PutLabels(ctx, "alice", "img1", []Label{{Name: "cat", Confidence: 0.9}}); err != nil {
				t.Fatalf("PutLabels: %v", err)
			}
			if err := store.Delete(ctx, "alice", "img1"); err != nil {
				t.Fatalf("first Delete: %v", err)
			}
			if rec, _ := store.Get(ctx, "alice", "img1"); rec != nil {
				t.Errorf("record survives delete: %+v", rec)
			}
			// Absent is success.
			if err := store.Delete(ctx, "alice", "img1"); err != nil {
				t.Errorf("repeat Delete: %v", err)
			}
		})
	}
}

func TestStoreListByOwnerIsolatedAndPaged(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c", "d", "e"} {
				if err := store.PutLabels(ctx, "alice", id, nil); err != nil {
					t.Fatalf("PutLabels(alice, %s): %v", id, err)
				}
			}
			if err := store.PutLabels(ctx, "bob", "z", nil); err != nil {
				t.Fatalf("PutLabels(bob, z): %v", err)
			}

			var collected []string
			cursor := ""
			for {
				page, err := store.ListByOwner(ctx, "alice", ListOptions{Cursor: cursor, Limit: 2})
				if err != nil {
					t.Fatalf("ListByOwner: %v", err)
				}
				if len(page.Records) > 2 {
					t.Fatalf("page holds %d records, want at most 2", len(page.Records))
				}
				for _, rec := range page.Records {
					if rec.OwnerNamespace != "alice" {
						t.Errorf("listing leaked record for %q", rec.OwnerNamespace)
					}
					collected = append(collected, rec.ImageID)
				}
				if page.NextCursor == "" {
					break
				}
				cursor = page.NextCursor
			}

			if len(collected) != 5 {
				t.Errorf("collected %d records across pages, want 5: %v", len(collected), collected)
			}
			seen := make(map[string]bool)
			for _, id := range collected {
				if seen[id] {
					t.Errorf("record %q appeared on more than one page", id)
				}
				seen[id] = true
			}
		})
	}
}

func TestStoreNilLabelsStoredAsEmptySet(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.PutLabels(ctx, "alice", "img1", nil); err != nil {
				t.Fatalf("PutLabels(nil): %v", err)
			}
			rec, err := store.Get(ctx, "alice", "img1")
			if err != nil || rec == nil {
				t.Fatalf("Get = (%+v, %v)", rec, err)
			}
			if len(rec.Labels) != 0 {
				t.Errorf("labels = %+v, want empty", rec.Labels)
			}
		})
	}
}
