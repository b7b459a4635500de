package recognition

import (
	"context"
	"testing"

	"github.com/pixyard/pixyard/internal/metadata"
)

func TestStaticEngineDeterministic(t *testing.T) {
	ctx := context.Background()
	engine := NewStaticEngine()
	image := []byte("some image bytes")

	first, err := engine.DetectLabels(ctx, image)
	if err != nil {
		t.Fatalf("DetectLabels: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("DetectLabels returned no labels")
	}

	second, err := engine.DetectLabels(ctx, image)
	if err != nil {
		t.Fatalf("second DetectLabels: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("label counts differ across calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("label %d differs across calls: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestStaticEngineNoDuplicateNames(t *testing.T) {
	ctx := context.Background()
	engine := NewStaticEngine()

	// Labels form a set: the same name must never appear twice.
	for _, image := range [][]byte{[]byte("a"), []byte("bb"), []byte("ccc"), []byte("dddd")} {
		labels, err := engine.DetectLabels(ctx, image)
		if err != nil {
			t.Fatalf("DetectLabels: %v", err)
		}
		seen := make(map[string]bool)
		for _, l := range labels {
			if seen[l.Name] {
				t.Errorf("duplicate label %q for image %q", l.Name, image)
			}
			seen[l.Name] = true
		}
	}
}

func TestStaticEngineFixedLabels(t *testing.T) {
	engine := NewStaticEngine()
	want := []metadata.Label{{Name: "cat", Confidence: 0.95}}
	engine.SetLabels(want)

	got, err := engine.DetectLabels(context.Background(), []byte("anything"))
	if err != nil {
		t.Fatalf("DetectLabels: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("labels = %+v, want %+v", got, want)
	}
}

func TestFilter(t *testing.T) {
	labels := []metadata.Label{
		{Name: "a", Confidence: 0.9},
		{Name: "b", Confidence: 0.4},
		{Name: "c", Confidence: 0.8},
		{Name: "d", Confidence: 0.7},
	}

	got := Filter(labels, 2, 0.5)
	if len(got) != 2 {
		t.Fatalf("Filter returned %d labels, want 2", len(got))
	}
	if got[0].Name != "a" || got[1].Name != "c" {
		t.Errorf("Filter = %+v, want [a c] (engine order, low confidence dropped)", got)
	}

	if got := Filter(labels, 0, 0.95); len(got) != 0 {
		t.Errorf("Filter with high threshold = %+v, want empty", got)
	}

	if got := Filter(nil, 10, 0.5); len(got) != 0 {
		t.Errorf("Filter(nil) = %+v, want empty", got)
	}
}
