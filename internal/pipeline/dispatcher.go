// Package pipeline processes uploaded images. A notification about a new
// raw object fans out to two independent stages: derivative generation and
// label extraction. Stages share nothing, run concurrently, and each is
// idempotent, so the same notification can be delivered more than once
// without harm.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/metadata"
	"github.com/pixyard/pixyard/internal/metrics"
)

// Notification reports that an object was written to the raw bucket.
type Notification struct {
	Bucket string
	Key    string
	Size   int64
}

// Stage processes a single image identified by owner namespace and image ID.
type Stage interface {
	Process(ctx context.Context, owner, imageID string) error
}

// Dispatcher routes notifications to the pipeline stages.
type Dispatcher struct {
	derivative   Stage
	labels       Stage
	stageTimeout time.Duration
}

func NewDispatcher(derivative, labels Stage, stageTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		derivative:   derivative,
		labels:       labels,
		stageTimeout: stageTimeout,
	}
}

// Dispatch runs both stages for one notification and waits for them to
// finish. The stages run concurrently and independently: a failure in one
// never cancels the other, so an image can end up with labels but no
// derivative (or the reverse) until the notification is redelivered.
//
// The returned error is transient if at least one stage failed with a
// retryable error, telling the queue layer to leave the message for
// redelivery. Permanent stage failures are logged and counted but not
// returned: redelivery cannot fix a corrupt image.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	owner, imageID, err := metadata.ParseKey(n.Key)
	if err != nil {
		slog.Warn("dropping notification with malformed key", "bucket", n.Bucket, "key", n.Key, "error", err)
		metrics.NotificationsTotal.WithLabelValues("malformed").Inc()
		return nil
	}
	metrics.NotificationsTotal.WithLabelValues("accepted").Inc()

	var wg sync.WaitGroup
	stageErrs := make([]error, 2)
	for i, s := range []struct {
		name  string
		stage Stage
	}{
		{"derivative", d.derivative},
		{"labels", d.labels},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stageErrs[i] = d.runStage(ctx, s.name, s.stage, owner, imageID)
		}()
	}
	wg.Wait()

	var transient error
	for _, err := range stageErrs {
		if err == nil {
			continue
		}
		if apierr.IsTransient(err) {
			transient = err
			continue
		}
		slog.Error("stage failed permanently", "key", n.Key, "error", err)
	}
	if transient != nil {
		return transient
	}
	return nil
}

func (d *Dispatcher) runStage(ctx context.Context, name string, s Stage, owner, imageID string) error {
	if d.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := s.Process(ctx, owner, imageID)
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.StageOutcomesTotal.WithLabelValues(name, "ok").Inc()
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		metrics.StageOutcomesTotal.WithLabelValues(name, "timeout").Inc()
		return apierr.Transient(name, err)
	case apierr.IsTransient(err):
		metrics.StageOutcomesTotal.WithLabelValues(name, "transient").Inc()
		return err
	default:
		metrics.StageOutcomesTotal.WithLabelValues(name, "permanent").Inc()
		return err
	}
}
