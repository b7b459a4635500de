package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/metadata"
	"github.com/pixyard/pixyard/internal/recognition"
	"github.com/pixyard/pixyard/internal/storage"
)

// LabelExtractor runs the recognition engine over a raw image and records
// the detected labels in the metadata store. The write replaces the full
// label set for the image, so reprocessing a redelivered notification
// converges to the same record instead of accumulating duplicates.
type LabelExtractor struct {
	store         storage.ObjectStore
	rawBucket     string
	engine        recognition.Engine
	meta          metadata.Store
	maxLabels     int
	minConfidence float64
	retrier       *Retrier
}

func NewLabelExtractor(store storage.ObjectStore, rawBucket string, engine recognition.Engine, meta metadata.Store, maxLabels int, minConfidence float64, retrier *Retrier) *LabelExtractor {
	return &LabelExtractor{
		store:         store,
		rawBucket:     rawBucket,
		engine:        engine,
		meta:          meta,
		maxLabels:     maxLabels,
		minConfidence: minConfidence,
		retrier:       retrier,
	}
}

// Process detects labels for one image and stores them.
//
// A missing raw object is skipped without error, mirroring the derivative
// stage. Engine rejections of the image content are permanent; throttling
// and I/O failures are retried.
func (e *LabelExtractor) Process(ctx context.Context, owner, imageID string) error {
	key := metadata.ObjectKey(owner, imageID)

	var raw []byte
	err := e.retrier.Do(ctx, "labels", func() error {
		r, _, err := e.store.GetObject(ctx, e.rawBucket, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apierr.NotFound("labels.fetch", err)
			}
			return apierr.Transient("labels.fetch", err)
		}
		defer r.Close()
		raw, err = io.ReadAll(r)
		if err != nil {
			return apierr.Transient("labels.fetch", err)
		}
		return nil
	})
	if err != nil {
		if apierr.IsNotFound(err) {
			slog.Info("raw object gone before label extraction, skipping", "key", key)
			return nil
		}
		return err
	}

	var labels []metadata.Label
	err = e.retrier.Do(ctx, "labels", func() error {
		detected, err := e.engine.DetectLabels(ctx, raw)
		if err != nil {
			return err
		}
		labels = detected
		return nil
	})
	if err != nil {
		return err
	}
	labels = recognition.Filter(labels, e.maxLabels, e.minConfidence)

	err = e.retrier.Do(ctx, "labels", func() error {
		if err := e.meta.PutLabels(ctx, owner, imageID, labels); err != nil {
			return apierr.Transient("labels.store", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Debug("labels recorded", "key", key, "count", len(labels))
	return nil
}
