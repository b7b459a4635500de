// Package queue delivers object-created notifications to the pipeline.
// Delivery is at-least-once: a message is acknowledged only after the
// pipeline finished without a transient failure, and an unacknowledged
// message comes back after its visibility timeout.
package queue

import (
	"context"

	"github.com/pixyard/pixyard/internal/pipeline"
)

// Message is one notification plus the source-specific handle needed to
// acknowledge it.
type Message struct {
	Notification pipeline.Notification

	// handle identifies the message at the source. Empty for sources
	// that do not track acknowledgement.
	handle string
}

// Source produces notification messages.
type Source interface {
	// Receive blocks until at least one message is available or the
	// context is done. It may return an empty batch on idle polls.
	Receive(ctx context.Context) ([]Message, error)

	// Ack marks a message as fully processed so it is not redelivered.
	Ack(ctx context.Context, m Message) error

	// Close releases source resources.
	Close() error
}

// Handler consumes one notification. *pipeline.Dispatcher satisfies it.
type Handler interface {
	Dispatch(ctx context.Context, n pipeline.Notification) error
}
