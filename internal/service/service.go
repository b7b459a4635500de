// Package service implements the user-facing image operations: upload,
// listing, and deletion. Every operation is scoped to the authenticated
// principal's namespace; the blob store is the authority for which images
// exist, and the metadata store contributes labels when the pipeline has
// produced them.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/gateway"
	"github.com/pixyard/pixyard/internal/metadata"
	"github.com/pixyard/pixyard/internal/pipeline"
	"github.com/pixyard/pixyard/internal/storage"
)

// maxListLimit caps one listing page.
const maxListLimit = 1000

// Notifier publishes an object-created notification. When the deployment
// relies on real bucket notifications (S3 to SQS) no notifier is wired and
// uploads produce events at the bucket instead.
type Notifier interface {
	Publish(ctx context.Context, n pipeline.Notification) error
}

// ImageSummary describes one image as seen by its owner. Labels is empty
// until the label stage has run; HasDerivative is false until the derivative
// stage has run. Both eventually become populated for a processable image.
type ImageSummary struct {
	ImageID       string           `json:"image_id"`
	Key           string           `json:"key"`
	Labels        []metadata.Label `json:"labels"`
	HasDerivative bool             `json:"has_derivative"`
	CreatedAt     string           `json:"created_at,omitempty"`
}

// ListImagesResult is one page of a listing.
type ListImagesResult struct {
	Images     []ImageSummary `json:"images"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// UploadResult reports where an upload landed.
type UploadResult struct {
	ImageID string `json:"image_id"`
	Key     string `json:"key"`
}

// ImageService coordinates blob storage and image metadata for the HTTP API.
type ImageService struct {
	store            storage.ObjectStore
	meta             metadata.Store
	rawBucket        string
	derivativeBucket string
	notifier         Notifier
}

func New(store storage.ObjectStore, meta metadata.Store, rawBucket, derivativeBucket string, notifier Notifier) *ImageService {
	return &ImageService{
		store:            store,
		meta:             meta,
		rawBucket:        rawBucket,
		derivativeBucket: derivativeBucket,
		notifier:         notifier,
	}
}

// Upload stores a raw image under the principal's namespace and announces
// it to the pipeline. The object key embeds a random ID so repeated uploads
// of the same filename never collide.
func (s *ImageService) Upload(ctx context.Context, subject, filename string, body io.Reader, size int64) (*UploadResult, error) {
	if subject == "" {
		return nil, apierr.Unauthorized("service.upload", errors.New("missing principal"))
	}
	imageID := uploadImageID(filename)
	key := metadata.ObjectKey(subject, imageID)

	scoped := gateway.NewScopedStore(subject, s.store)
	if err := scoped.PutObject(ctx, s.rawBucket, key, body, size); err != nil {
		if apierr.ClassOf(err) != apierr.ClassInternal {
			return nil, err
		}
		return nil, apierr.Transient("service.upload", err)
	}

	if s.notifier != nil {
		n := pipeline.Notification{Bucket: s.rawBucket, Key: key, Size: size}
		if err := s.notifier.Publish(ctx, n); err != nil {
			// The object is stored; the pipeline just will not see it
			// until something re-announces it. Surface the upload as
			// successful anyway.
			slog.Warn("publishing upload notification", "key", key, "error", err)
		}
	}
	return &UploadResult{ImageID: imageID, Key: key}, nil
}

// uploadImageID derives an object ID from the client filename plus a random
// prefix. Path separators in the filename are stripped so a hostile name
// cannot escape the namespace.
func uploadImageID(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.ReplaceAll(base, "..", "")
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return uuid.NewString()[:8] + "-" + base
}

// ListImages returns one page of the principal's images. The raw bucket
// decides which images exist; labels and derivative presence are joined in
// per image, so an image mid-pipeline appears with whatever subset of
// results is ready.
func (s *ImageService) ListImages(ctx context.Context, subject, cursor string, limit int) (*ListImagesResult, error) {
	if subject == "" {
		return nil, apierr.Unauthorized("service.list", errors.New("missing principal"))
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	scoped := gateway.NewScopedStore(subject, s.store)
	page, err := scoped.ListObjects(ctx, s.rawBucket, "", storage.ListOptions{Cursor: cursor, Limit: limit})
	if err != nil {
		return nil, apierr.Transient("service.list", err)
	}

	result := &ListImagesResult{Images: make([]ImageSummary, 0, len(page.Keys)), NextCursor: page.NextCursor}
	for _, key := range page.Keys {
		owner, imageID, err := metadata.ParseKey(key)
		if err != nil || owner != subject {
			continue
		}
		summary := ImageSummary{ImageID: imageID, Key: key, Labels: []metadata.Label{}}

		rec, err := s.meta.Get(ctx, owner, imageID)
		if err != nil {
			return nil, apierr.Transient("service.list", err)
		}
		if rec != nil {
			if rec.Labels != nil {
				summary.Labels = rec.Labels
			}
			summary.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
		}

		exists, err := scoped.ObjectExists(ctx, s.derivativeBucket, key)
		if err != nil {
			return nil, apierr.Transient("service.list", err)
		}
		summary.HasDerivative = exists

		result.Images = append(result.Images, summary)
	}
	return result, nil
}

// DeleteImage removes the raw object, the derivative, and the metadata
// record for one key. Each sub-delete is idempotent, and all three are
// always attempted so a partial failure can be retried to completion by
// simply calling again. Deleting a key with no remaining traces returns
// NotFound; deleting outside the caller's namespace returns Forbidden.
func (s *ImageService) DeleteImage(ctx context.Context, subject, key string) error {
	if subject == "" {
		return apierr.Unauthorized("service.delete", errors.New("missing principal"))
	}
	if !gateway.Authorize(subject, key) {
		return apierr.Forbidden("service.delete", fmt.Errorf("key %q is outside namespace %q", key, subject))
	}
	owner, imageID, err := metadata.ParseKey(key)
	if err != nil {
		return apierr.InvalidInput("service.delete", err)
	}

	existed, err := s.imageExists(ctx, owner, imageID, key)
	if err != nil {
		return apierr.Transient("service.delete", err)
	}

	var firstErr error
	if err := s.store.DeleteObject(ctx, s.rawBucket, key); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("deleting raw object: %w", err)
	}
	if err := s.store.DeleteObject(ctx, s.derivativeBucket, key); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("deleting derivative: %w", err)
	}
	if err := s.meta.Delete(ctx, owner, imageID); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("deleting metadata: %w", err)
	}
	if firstErr != nil {
		return apierr.Transient("service.delete", firstErr)
	}
	if !existed {
		return apierr.NotFound("service.delete", fmt.Errorf("image %q not found", key))
	}
	slog.Info("image deleted", "key", key)
	return nil
}

// imageExists reports whether any trace of the image remains: raw object,
// derivative, or metadata record.
func (s *ImageService) imageExists(ctx context.Context, owner, imageID, key string) (bool, error) {
	if ok, err := s.store.ObjectExists(ctx, s.rawBucket, key); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if ok, err := s.store.ObjectExists(ctx, s.derivativeBucket, key); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	rec, err := s.meta.Get(ctx, owner, imageID)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}
