package queue

import (
	"context"
	"sync"

	"github.com/pixyard/pixyard/internal/pipeline"
)

// MemorySource is a channel-backed notification source for single-process
// deployments and tests. The API server publishes a notification after each
// upload and the in-process worker pool consumes it.
//
// Unlike SQS there is no redelivery: a notification that fails transiently
// is lost until the next upload of the same object. That is acceptable for
// the local setup this source exists for.
type MemorySource struct {
	ch     chan pipeline.Notification
	once   sync.Once
	closed chan struct{}
}

// NewMemorySource creates a source buffering up to size notifications.
func NewMemorySource(size int) *MemorySource {
	if size <= 0 {
		size = 64
	}
	return &MemorySource{
		ch:     make(chan pipeline.Notification, size),
		closed: make(chan struct{}),
	}
}

// Publish enqueues a notification. It returns ctx.Err() if the buffer is
// full and the context expires first, and nil after Close.
func (s *MemorySource) Publish(ctx context.Context, n pipeline.Notification) error {
	select {
	case <-s.closed:
		return nil
	case s.ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemorySource) Receive(ctx context.Context) ([]Message, error) {
	select {
	case n := <-s.ch:
		return []Message{{Notification: n}}, nil
	case <-s.closed:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MemorySource) Ack(ctx context.Context, m Message) error { return nil }

func (s *MemorySource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
