// Package queue provides the bounded in-memory buffer between ingestion and
// the batch flusher.
package queue

import (
	"errors"
	"sync"

	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
)

var ErrInvalidMaxSize = errors.New("queue max size must be greater than zero")

// Queue is a bounded FIFO of execution records with drop-oldest overflow.
// All operations are safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	items   []*events.ExecutionRecord
	maxSize int
}

func New(maxSize int) (*Queue, error) {
	if maxSize <= 0 {
		return nil, ErrInvalidMaxSize
	}

	return &Queue{
		items:   make([]*events.ExecutionRecord, 0, maxSize),
		maxSize: maxSize,
	}, nil
}

// Enqueue appends the record. When the queue is full the head is dropped
// first so the new record is always admitted. The dropped head (if any) is
// returned and the boolean is false exactly when a drop occurred.
func (q *Queue) Enqueue(record *events.ExecutionRecord) (*events.ExecutionRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped *events.ExecutionRecord

	if len(q.items) == q.maxSize {
		dropped = q.items[0]
		q.items = append(q.items[:0], q.items[1:]...)
	}

	q.items = append(q.items, record)

	return dropped, dropped == nil
}

// Dequeue removes and returns the head, or nil when empty.
func (q *Queue) Dequeue() *events.ExecutionRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	head := q.items[0]
	q.items = append(q.items[:0], q.items[1:]...)

	return head
}

// DequeueBatch removes and returns up to n head elements in order.
func (q *Queue) DequeueBatch(n int) []*events.ExecutionRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return []*events.ExecutionRecord{}
	}

	if n > len(q.items) {
		n = len(q.items)
	}

	batch := make([]*events.ExecutionRecord, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)

	return batch
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items) == q.maxSize
}

func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = q.items[:0]
}

func (q *Queue) MaxSize() int {
	return q.maxSize
}
