package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/config"
	"github.com/pixyard/pixyard/internal/metrics"
)

// Retrier applies bounded exponential backoff to transient failures. Each
// pipeline stage retries independently; permanent failures stop immediately.
type Retrier struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewRetrier builds a Retrier from the configured retry policy.
func NewRetrier(cfg config.RetryConfig) *Retrier {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{
		maxAttempts:     maxAttempts,
		initialInterval: time.Duration(cfg.InitialIntervalMS) * time.Millisecond,
		maxInterval:     time.Duration(cfg.MaxIntervalMS) * time.Millisecond,
	}
}

// Do runs op, retrying transient failures up to the attempt bound. The stage
// name is used only for the retry counter.
func (r *Retrier) Do(ctx context.Context, stage string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval

	attempts := 0
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !apierr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		attempts++
		if attempts < r.maxAttempts {
			metrics.RetriesTotal.WithLabelValues(stage).Inc()
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxAttempts-1)), ctx)
	return backoff.Retry(wrapped, policy)
}
