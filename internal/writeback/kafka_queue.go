package writeback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/segmentio/kafka-go"
)

const (
	defaultKafkaGroupID = "kvbridge-mirror"
	defaultFetchTimeout = 5 * time.Second
)

// messageWriter is the producing half of a kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is the consuming half of a kafka.Reader.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes the change feed to a Kafka topic. Messages are
// keyed by table and row id so every change of one row lands on the same
// partition in commit order.
type KafkaQueue struct {
	writer messageWriter
	reader messageReader
	topic  string

	fetchTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	size   int // approximate; Kafka has no queue length
}

// KafkaQueueConfig holds configuration for the Kafka queue.
type KafkaQueueConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	RequiredAcks    int // 0, 1, or -1 (all)
	MaxMessageBytes int
	MinBytes        int
	MaxBytes        int
	MaxWait         time.Duration
}

// NewKafkaQueue creates a producer and a consumer-group reader for the
// configured topic.
func NewKafkaQueue(config KafkaQueueConfig) (*KafkaQueue, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if config.GroupID == "" {
		config.GroupID = defaultKafkaGroupID
	}

	log.Printf("[KAFKA] Change feed on topic %s (brokers: %v, group: %s, acks: %d)",
		config.Topic, config.Brokers, config.GroupID, config.RequiredAcks)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		BatchBytes:   int64(config.MaxMessageBytes),
		MaxAttempts:  3,
	}

	// New consumer groups start at the beginning of the topic so no change
	// committed before the mirror first ran is skipped.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     config.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	return newKafkaQueue(writer, reader, config.Topic), nil
}

func newKafkaQueue(writer messageWriter, reader messageReader, topic string) *KafkaQueue {
	return &KafkaQueue{
		writer:       writer,
		reader:       reader,
		topic:        topic,
		fetchTimeout: defaultFetchTimeout,
	}
}

func (q *KafkaQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Enqueue produces one change synchronously.
func (q *KafkaQueue) Enqueue(ctx context.Context, operation *core.WriteOperation) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	data, err := marshal(operation)
	if err != nil {
		return err
	}

	message := kafka.Message{
		Key:   []byte(operation.Table + "/" + operation.RowID),
		Value: data,
		Time:  operation.Timestamp,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(operation.Operation)},
			{Key: "table", Value: []byte(operation.Table)},
		},
	}
	if err := q.writer.WriteMessages(ctx, message); err != nil {
		log.Printf("[KAFKA] ERROR: Failed to produce %s on %s to %s: %v", operation.Operation, operation.Table, q.topic, err)
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()
	return nil
}

// Dequeue consumes up to batchSize changes. It stops early when no message
// arrives within the fetch timeout. Offsets are committed as messages are
// decoded; undecodable messages are committed and skipped.
func (q *KafkaQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.WriteOperation, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	n := batchSizeOf(batchSize)
	operations := make([]*core.WriteOperation, 0, n)

	for len(operations) < n {
		fetchCtx, cancel := context.WithTimeout(ctx, q.fetchTimeout)
		message, err := q.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			log.Printf("[KAFKA] ERROR: Failed to fetch from %s: %v", q.topic, err)
			q.consumed(len(operations))
			return operations, err
		}

		op, err := unmarshal(message.Value)
		if err != nil {
			log.Printf("[KAFKA] Skipping undecodable message at partition %d offset %d: %v",
				message.Partition, message.Offset, err)
		} else {
			operations = append(operations, op)
		}
		if err := q.reader.CommitMessages(ctx, message); err != nil {
			log.Printf("[KAFKA] WARNING: Failed to commit offset %d of partition %d: %v",
				message.Offset, message.Partition, err)
		}
	}

	q.consumed(len(operations))
	return operations, nil
}

func (q *KafkaQueue) consumed(n int) {
	if n == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.size -= n
	if q.size < 0 {
		q.size = 0
	}
}

// Size returns the number of changes produced by this process and not
// yet consumed by it.
func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Close closes the producer and the consumer.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	var errs []error
	if err := q.writer.Close(); err != nil {
		log.Printf("[KAFKA] ERROR: Failed to close writer: %v", err)
		errs = append(errs, err)
	}
	if err := q.reader.Close(); err != nil {
		log.Printf("[KAFKA] ERROR: Failed to close reader: %v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
