package writeback

import (
	"context"
	"log"
	"sync"

	"github.com/rzpsarthak13/kvbridge/internal/core"
)

const defaultRedisKey = "kvbridge:changefeed"

// ListOperations is the subset of Redis list commands the redis queue
// needs. kvstore.RedisKVStore implements it.
type ListOperations interface {
	// ListPush appends a value to the tail of a list (RPUSH).
	ListPush(ctx context.Context, key string, value []byte) error

	// ListPop removes and returns the head of a list (LPOP), or nil when empty.
	ListPop(ctx context.Context, key string) ([]byte, error)

	// ListLength returns the length of a list (LLEN).
	ListLength(ctx context.Context, key string) (int64, error)
}

// RedisQueue keeps the change feed in a single Redis list so it survives
// restarts and can be drained by another process.
type RedisQueue struct {
	lists ListOperations
	key   string

	mu     sync.RWMutex
	closed bool
}

// NewRedisQueue creates a queue stored under key.
func NewRedisQueue(lists ListOperations, key string) *RedisQueue {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisQueue{lists: lists, key: key}
}

func (q *RedisQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Enqueue appends a change to the list.
func (q *RedisQueue) Enqueue(ctx context.Context, operation *core.WriteOperation) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	data, err := marshal(operation)
	if err != nil {
		return err
	}
	if err := q.lists.ListPush(ctx, q.key, data); err != nil {
		log.Printf("[QUEUE] ERROR: Failed to push %s on %s to %s: %v", operation.Operation, operation.Table, q.key, err)
		return err
	}
	return nil
}

// Dequeue pops up to batchSize changes from the head of the list.
// Entries that cannot be decoded are dropped and logged.
func (q *RedisQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.WriteOperation, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	n := batchSizeOf(batchSize)
	operations := make([]*core.WriteOperation, 0, n)
	for len(operations) < n {
		data, err := q.lists.ListPop(ctx, q.key)
		if err != nil {
			return operations, err
		}
		if data == nil {
			break
		}
		op, err := unmarshal(data)
		if err != nil {
			log.Printf("[QUEUE] Dropping undecodable entry from %s: %v", q.key, err)
			continue
		}
		operations = append(operations, op)
	}
	return operations, nil
}

// Size returns the list length, or 0 when it cannot be read.
func (q *RedisQueue) Size() int {
	if q.isClosed() {
		return 0
	}
	n, err := q.lists.ListLength(context.Background(), q.key)
	if err != nil {
		log.Printf("[QUEUE] Failed to read length of %s: %v", q.key, err)
		return 0
	}
	return int(n)
}

// Close marks the queue closed. The list and its client are left intact.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
