// Package recognition defines the interface to the image recognition engine
// and its implementations.
//
// The engine is a black box: bytes in, label set out. Failures are classified
// so the pipeline knows what to retry — a throttled or unreachable engine is
// transient; an image the engine explicitly rejects is permanent.
package recognition

import (
	"context"

	"github.com/pixyard/pixyard/internal/metadata"
)

// Engine detects semantic labels in an image. Implementations must be safe
// for concurrent use.
type Engine interface {
	// DetectLabels returns the labels found in the image, each with a
	// confidence in [0,1]. Transient engine failures are reported via
	// apierr.Transient, explicit input rejections via apierr.InvalidInput.
	DetectLabels(ctx context.Context, image []byte) ([]metadata.Label, error)
}

// Filter bounds a raw label set: labels below minConfidence are dropped and
// at most maxLabels are kept, preserving engine order.
func Filter(labels []metadata.Label, maxLabels int, minConfidence float64) []metadata.Label {
	out := make([]metadata.Label, 0, len(labels))
	for _, l := range labels {
		if l.Confidence < minConfidence {
			continue
		}
		out = append(out, l)
		if maxLabels > 0 && len(out) == maxLabels {
			break
		}
	}
	return out
}
