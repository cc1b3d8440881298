// Package writeback provides the change feed: queues that carry committed
// row changes from the backend to consumers such as the MySQL mirror.
package writeback

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
)

const (
	QueueTypeMemory = "memory"
	QueueTypeRedis  = "redis"
	QueueTypeKafka  = "kafka"

	defaultBatchSize = 100
)

var (
	// ErrQueueClosed is returned when trying to use a closed queue.
	ErrQueueClosed = errors.New("change feed queue is closed")

	// ErrQueueFull is returned when a bounded queue has no room.
	ErrQueueFull = errors.New("change feed queue is full")

	// ErrInvalidOperation is returned when an invalid operation is provided.
	ErrInvalidOperation = errors.New("invalid write operation")

	// ErrUnknownQueueType is returned by New for an unregistered queue type.
	ErrUnknownQueueType = errors.New("unknown change feed queue type")
)

// validate checks the fields every consumer relies on and stamps a
// missing timestamp.
func validate(op *core.WriteOperation) error {
	if op == nil {
		return ErrInvalidOperation
	}
	if op.Table == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidOperation)
	}
	switch op.Operation {
	case core.OperationCreate, core.OperationUpdate, core.OperationDelete:
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidOperation, op.Operation)
	}
	if _, err := uuid.Parse(op.RowID); err != nil {
		return fmt.Errorf("%w: row id %q: %v", ErrInvalidOperation, op.RowID, err)
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	return nil
}

// marshal validates and serializes an operation for a persistent queue.
func marshal(op *core.WriteOperation) ([]byte, error) {
	if err := validate(op); err != nil {
		return nil, err
	}
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal write operation: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte) (*core.WriteOperation, error) {
	var op core.WriteOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal write operation: %w", err)
	}
	return &op, nil
}

func batchSizeOf(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}

// New creates the queue selected by cfg. lists backs the redis queue and
// may be nil for the other types.
func New(cfg registry.InternalChangeFeedConfig, lists ListOperations) (core.WriteBackQueue, error) {
	switch cfg.QueueType {
	case "", QueueTypeMemory:
		return NewMemoryQueue(cfg.QueueBufferSize), nil
	case QueueTypeRedis:
		if lists == nil {
			return nil, fmt.Errorf("redis change feed requires a redis list store")
		}
		return NewRedisQueue(lists, cfg.RedisKey), nil
	case QueueTypeKafka:
		k := cfg.KafkaConfig
		return NewKafkaQueue(KafkaQueueConfig{
			Brokers:         k.Brokers,
			Topic:           k.Topic,
			GroupID:         k.GroupID,
			BatchSize:       k.BatchSize,
			BatchTimeout:    k.BatchTimeout,
			WriteTimeout:    k.WriteTimeout,
			ReadTimeout:     k.ReadTimeout,
			RequiredAcks:    k.RequiredAcks,
			MaxMessageBytes: k.MaxMessageBytes,
			MinBytes:        k.MinBytes,
			MaxBytes:        k.MaxBytes,
			MaxWait:         k.MaxWait,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueueType, cfg.QueueType)
	}
}
