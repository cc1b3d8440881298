package writeback

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/kvbridge/internal/core"
)

const defaultBufferSize = 10000

// MemoryQueue is a bounded in-process change feed. Changes are lost on
// restart.
type MemoryQueue struct {
	queue  chan *core.WriteOperation
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding at most bufferSize changes.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &MemoryQueue{queue: make(chan *core.WriteOperation, bufferSize)}
}

// Enqueue adds a change. A full queue fails immediately with ErrQueueFull.
func (q *MemoryQueue) Enqueue(ctx context.Context, operation *core.WriteOperation) error {
	if err := validate(operation); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- operation:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue returns up to batchSize changes in enqueue order without waiting.
func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.WriteOperation, error) {
	n := batchSizeOf(batchSize)
	operations := make([]*core.WriteOperation, 0, n)
	for len(operations) < n {
		select {
		case op, ok := <-q.queue:
			if !ok {
				return operations, nil
			}
			operations = append(operations, op)
		case <-ctx.Done():
			return operations, ctx.Err()
		default:
			return operations, nil
		}
	}
	return operations, nil
}

// Size returns the number of buffered changes.
func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close stops further enqueues. Buffered changes can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
