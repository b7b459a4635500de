package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pixyard/pixyard/internal/apierr"
)

// receiveErrorBackoff is the pause after a failed receive, so a broken
// source does not spin the worker loop.
const receiveErrorBackoff = time.Second

// WorkerPool pulls notifications from a source and runs them through the
// pipeline with a fixed number of concurrent workers.
type WorkerPool struct {
	source  Source
	handler Handler
	workers int
}

func NewWorkerPool(source Source, handler Handler, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{source: source, handler: handler, workers: workers}
}

// Run processes notifications until the context is canceled. Each worker
// receives and handles its own batches; a message is acknowledged unless the
// pipeline reported a transient failure, in which case it is left at the
// source for redelivery.
func (p *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}
	wg.Wait()
}

func (p *WorkerPool) loop(ctx context.Context) {
	for {
		msgs, err := p.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("receiving notifications", "error", err)
			select {
			case <-time.After(receiveErrorBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, m := range msgs {
			p.handle(ctx, m)
		}
	}
}

func (p *WorkerPool) handle(ctx context.Context, m Message) {
	err := p.handler.Dispatch(ctx, m.Notification)
	if err != nil {
		if apierr.IsTransient(err) {
			slog.Warn("pipeline failed transiently, leaving message for redelivery",
				"key", m.Notification.Key, "error", err)
			return
		}
		slog.Error("pipeline failed", "key", m.Notification.Key, "error", err)
	}
	if err := p.source.Ack(ctx, m); err != nil {
		// The message will be redelivered and reprocessed; the pipeline
		// stages are idempotent so that is safe.
		slog.Warn("acknowledging message", "key", m.Notification.Key, "error", err)
	}
}
