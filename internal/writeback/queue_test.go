package writeback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func change(table string, kind core.OperationType) *core.WriteOperation {
	return &core.WriteOperation{
		Table:     table,
		Operation: kind,
		RowID:     uuid.New().String(),
		Data:      map[string][]byte{"id": {0, 0, 0, 1}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		op   *core.WriteOperation
	}{
		{"nil", nil},
		{"no table", &core.WriteOperation{Operation: core.OperationCreate, RowID: uuid.New().String()}},
		{"bad kind", &core.WriteOperation{Table: "shop.t", Operation: "MERGE", RowID: uuid.New().String()}},
		{"bad row id", &core.WriteOperation{Table: "shop.t", Operation: core.OperationDelete, RowID: "42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, validate(tt.op), ErrInvalidOperation)
		})
	}

	op := change("shop.t", core.OperationCreate)
	require.NoError(t, validate(op))
	assert.False(t, op.Timestamp.IsZero())
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	first := change("shop.t", core.OperationCreate)
	second := change("shop.t", core.OperationDelete)
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))
	assert.ErrorIs(t, q.Enqueue(ctx, change("shop.t", core.OperationUpdate)), ErrQueueFull)
	assert.Equal(t, 2, q.Size())

	ops, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []*core.WriteOperation{first, second}, ops)

	ops, err = q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ops)

	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, second), ErrQueueClosed)
	ops, err = q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, ops, 1, "buffered changes survive close")
}

type fakeLists struct {
	mu    sync.Mutex
	lists map[string][][]byte
	fail  error
}

func newFakeLists() *fakeLists {
	return &fakeLists{lists: make(map[string][][]byte)}
}

func (f *fakeLists) ListPush(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.lists[key] = append(f.lists[key], value)
	return nil
}

func (f *fakeLists) ListPop(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	if len(l) == 0 {
		return nil, nil
	}
	f.lists[key] = l[1:]
	return l[0], nil
}

func (f *fakeLists) ListLength(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()
	lists := newFakeLists()
	q := NewRedisQueue(lists, "")

	ops := []*core.WriteOperation{
		change("shop.a", core.OperationCreate),
		change("shop.b", core.OperationUpdate),
		change("shop.a", core.OperationDelete),
	}
	ops[1].Changed = []string{"email"}
	for _, op := range ops {
		require.NoError(t, q.Enqueue(ctx, op))
	}
	lists.lists[defaultRedisKey] = append(lists.lists[defaultRedisKey], []byte("{not json"))
	assert.Equal(t, 4, q.Size())

	got, err := q.Dequeue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ops[0].RowID, got[0].RowID)
	assert.Equal(t, []string{"email"}, got[1].Changed)
	assert.Equal(t, ops[1].Data, got[1].Data)

	got, err = q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "undecodable entries are dropped")
	assert.Equal(t, core.OperationDelete, got[0].Operation)
	assert.Equal(t, 0, q.Size())

	lists.fail = errors.New("connection refused")
	assert.Error(t, q.Enqueue(ctx, change("shop.a", core.OperationCreate)))

	require.NoError(t, q.Close())
	_, err = q.Dequeue(ctx, 1)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

type fakeKafka struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    int
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		m.Offset = int64(len(f.messages) + len(f.committed))
		f.messages = append(f.messages, m)
	}
	return nil
}

func (f *fakeKafka) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		m := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeKafka) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeKafka) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func TestKafkaQueue(t *testing.T) {
	ctx := context.Background()
	broker := &fakeKafka{}
	q := newKafkaQueue(broker, broker, "changes")
	q.fetchTimeout = 10 * time.Millisecond

	op := change("shop.a", core.OperationCreate)
	require.NoError(t, q.Enqueue(ctx, op))
	require.NoError(t, q.Enqueue(ctx, change("shop.a", core.OperationDelete)))
	assert.Equal(t, 2, q.Size())

	require.Len(t, broker.messages, 2)
	assert.Equal(t, "shop.a/"+op.RowID, string(broker.messages[0].Key))
	assert.Equal(t, "CREATE", string(broker.messages[0].Headers[0].Value))

	broker.messages = append(broker.messages, kafka.Message{Value: []byte("garbage"), Offset: 2})

	got, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, op.RowID, got[0].RowID)
	assert.Equal(t, []int64{0, 1, 2}, broker.committed, "undecodable messages are committed too")
	assert.Equal(t, 0, q.Size())

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.Equal(t, 2, broker.closed, "writer and reader closed once each")
	assert.ErrorIs(t, q.Enqueue(ctx, op), ErrQueueClosed)
}

func TestNewSelectsQueueType(t *testing.T) {
	q, err := New(registry.InternalChangeFeedConfig{QueueType: QueueTypeMemory, QueueBufferSize: 5}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	q, err = New(registry.InternalChangeFeedConfig{QueueType: QueueTypeRedis, RedisKey: "feed"}, newFakeLists())
	require.NoError(t, err)
	assert.IsType(t, &RedisQueue{}, q)

	_, err = New(registry.InternalChangeFeedConfig{QueueType: QueueTypeRedis}, nil)
	assert.Error(t, err)

	_, err = New(registry.InternalChangeFeedConfig{QueueType: QueueTypeKafka}, nil)
	assert.Error(t, err, "kafka needs brokers")

	_, err = New(registry.InternalChangeFeedConfig{QueueType: "sqs"}, nil)
	assert.ErrorIs(t, err, ErrUnknownQueueType)
}
