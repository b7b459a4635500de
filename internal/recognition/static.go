package recognition

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/pixyard/pixyard/internal/metadata"
)

// staticVocabulary is the label pool the static engine draws from.
var staticVocabulary = []string{
	"Animal", "Plant", "Person", "Vehicle", "Building",
	"Food", "Landscape", "Water", "Sky", "Furniture",
}

// StaticEngine implements the Engine interface without any external service.
// It derives a deterministic label set from a hash of the image bytes, so the
// same image always yields the same labels — useful for local development and
// for exercising pipeline idempotency end to end.
type StaticEngine struct {
	mu sync.RWMutex
	// fixed, when set, is returned for every image instead of the derived set.
	fixed []metadata.Label
}

// NewStaticEngine creates a deterministic local engine.
func NewStaticEngine() *StaticEngine {
	return &StaticEngine{}
}

// SetLabels pins the engine to a fixed label set. Used by tests.
func (e *StaticEngine) SetLabels(labels []metadata.Label) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fixed = append([]metadata.Label(nil), labels...)
}

func (e *StaticEngine) DetectLabels(ctx context.Context, image []byte) ([]metadata.Label, error) {
	e.mu.RLock()
	fixed := e.fixed
	e.mu.RUnlock()
	if fixed != nil {
		return append([]metadata.Label(nil), fixed...), nil
	}

	sum := sha256.Sum256(image)
	n := 1 + int(sum[0])%3
	labels := make([]metadata.Label, 0, n)
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		name := staticVocabulary[int(sum[i+1])%len(staticVocabulary)]
		if seen[name] {
			continue
		}
		seen[name] = true
		confidence := 0.5 + float64(sum[i+4])/512 // 0.5 .. ~1.0
		labels = append(labels, metadata.Label{Name: name, Confidence: confidence})
	}
	return labels, nil
}
