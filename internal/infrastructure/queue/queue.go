// Package queue provides the webhook delivery queue between the HTTP
// surface and the batch processor. Semantics follow the partial batch
// failure model: the consumer receives a batch, reports the IDs that need
// redelivery, and only those messages are requeued.
package queue

import (
	"context"
)

// DefaultMaxReceives bounds redelivery: a message received this many times
// is parked on the dead letter list instead of being requeued.
const DefaultMaxReceives = 5

// Message is one queued webhook delivery.
type Message struct {
	ID           string `json:"id"`
	Body         []byte `json:"body"`
	ReceiveCount int    `json:"receive_count"`
}

// Producer enqueues webhook payloads for asynchronous processing.
type Producer interface {
	// Enqueue stores body and returns the assigned message ID.
	Enqueue(ctx context.Context, body []byte) (string, error)
}

// Consumer receives batches of queued messages. Received messages are
// removed from the queue; callers requeue the ones that need redelivery.
type Consumer interface {
	// ReceiveBatch returns up to max messages, blocking up to the
	// implementation's wait time when the queue is empty. An empty slice
	// means no messages arrived within the wait.
	ReceiveBatch(ctx context.Context, max int) ([]Message, error)

	// Requeue puts messages back for redelivery with their receive count
	// incremented. Messages past the receive cap are parked on the dead
	// letter list instead.
	Requeue(ctx context.Context, messages []Message) error
}
