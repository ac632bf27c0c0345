package queue

import (
	"context"
	"sync"

	"github.com/finrelay/finrelay/internal/shared/id"
)

// MemoryQueue is an in-memory queue for tests and local development.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []Message
	dead     []Message
}

var (
	_ Producer = (*MemoryQueue)(nil)
	_ Consumer = (*MemoryQueue)(nil)
)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, body []byte) (string, error) {
	msgID, err := id.NewMessageID()
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, Message{ID: msgID, Body: body})
	return msgID, nil
}

func (q *MemoryQueue) ReceiveBatch(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 10
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(max, len(q.messages))
	batch := make([]Message, n)
	copy(batch, q.messages[:n])
	q.messages = q.messages[n:]
	return batch, nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, messages []Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, msg := range messages {
		msg.ReceiveCount++
		if msg.ReceiveCount >= DefaultMaxReceives {
			q.dead = append(q.dead, msg)
			continue
		}
		q.messages = append([]Message{msg}, q.messages...)
	}
	return nil
}

// Len reports the number of queued messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// DeadLen reports the number of messages parked past the receive cap.
func (q *MemoryQueue) DeadLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead)
}
