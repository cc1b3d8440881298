package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T, prefix string) *PebbleKVStore {
	t.Helper()
	store, err := NewPebbleKVStore("", true, prefix)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPebbleKVStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, "kvbridge:")

	_, err := store.Get(ctx, "catalog/shop.payments")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, store.Set(ctx, "catalog/shop.payments", []byte(`{"id":1}`), 0))
	got, err := store.Get(ctx, "catalog/shop.payments")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"id":1}`), got)

	ok, err := store.Exists(ctx, "catalog/shop.payments")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "catalog/shop.payments"))
	ok, err = store.Exists(ctx, "catalog/shop.payments")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPebbleKVStoreEmptyValue(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, "")

	require.NoError(t, store.Set(ctx, "k", []byte{}, 0))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPebbleKVStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, "")

	require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Nanosecond))
	time.Sleep(2 * time.Millisecond)
	_, err := store.Get(ctx, "short")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, store.Set(ctx, "long", []byte("v"), time.Hour))
	got, err := store.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestPebbleKVStoreBatchSet(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, "p/")

	items := map[string][]byte{
		"rowcount/shop.t": []byte("3"),
		"autoinc/shop.t":  []byte("7"),
	}
	require.NoError(t, store.BatchSet(ctx, items, 0))
	for k, want := range items {
		got, err := store.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	require.NoError(t, store.BatchSet(ctx, nil, 0))
}

func TestPebbleKVStoreClosed(t *testing.T) {
	ctx := context.Background()
	store, err := NewPebbleKVStore("", true, "")
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, store.Set(ctx, "k", nil, 0))
}

func TestWrapPebbleSharesDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := OpenPebble("", true, 1<<20)
	require.NoError(t, err)
	defer db.Close()

	a := WrapPebble(db, "a:")
	b := WrapPebble(db, "b:")
	require.NoError(t, a.Set(ctx, "k", []byte("1"), 0))
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, a.Close())
	_, closer, err := db.Get([]byte("a:k"))
	require.NoError(t, err)
	require.NoError(t, closer.Close())
}

func TestCreateUsesRegisteredFactories(t *testing.T) {
	assert.Equal(t, []string{"dynamodb", "pebble", "redis"}, GetRegisteredTypes())
	assert.True(t, IsTypeRegistered("pebble"))
	assert.False(t, IsTypeRegistered("etcd"))

	store, err := Create(KVStoreConfig{Type: "pebble", InMemory: true})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	tests := []struct {
		name   string
		config KVStoreConfig
	}{
		{"missing type", KVStoreConfig{}},
		{"unknown type", KVStoreConfig{Type: "etcd"}},
		{"pebble without path", KVStoreConfig{Type: "pebble"}},
		{"redis cluster", KVStoreConfig{Type: "redis", Endpoints: []string{"x:1"}, ClusterMode: true, PoolSize: 1}},
		{"dynamodb without region", KVStoreConfig{Type: "dynamodb", TableName: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestConfigFromCatalog(t *testing.T) {
	c := registry.InternalKVStoreConfig{
		Type:         "redis",
		KeyPrefix:    "kb:",
		RedisConfig:  registry.InternalRedisConfig{Endpoints: []string{"r:6379"}, DB: 2, PoolSize: 4},
		DialTimeout:  time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	got := ConfigFromCatalog(c)
	assert.Equal(t, "redis", got.Type)
	assert.Equal(t, "kb:", got.KeyPrefix)
	assert.Equal(t, []string{"r:6379"}, got.Endpoints)
	assert.Equal(t, 2, got.DB)
	assert.Equal(t, int64(time.Second), got.DialTimeout)
	assert.Equal(t, int64(3*time.Second), got.WriteTimeout)
}

func TestPebbleConfigValidator(t *testing.T) {
	v := &PebbleConfigValidator{}
	cfg := &registry.InternalConfig{
		Data:    registry.InternalDataConfig{Path: "/var/lib/kvbridge"},
		Catalog: registry.InternalKVStoreConfig{Type: "pebble", PebbleConfig: registry.InternalPebbleConfig{Path: "/var/lib/kvbridge"}},
	}
	assert.Error(t, v.Validate(cfg))

	cfg.Catalog.PebbleConfig.Path = "/var/lib/catalog"
	assert.NoError(t, v.Validate(cfg))

	cfg.Catalog.PebbleConfig = registry.InternalPebbleConfig{InMemory: true}
	assert.NoError(t, v.Validate(cfg))
	assert.Error(t, v.Validate(nil))
}

func TestNetworkedValidators(t *testing.T) {
	base := registry.InternalKVStoreConfig{
		RedisConfig:    registry.InternalRedisConfig{Endpoints: []string{"localhost:6379"}, PoolSize: 10},
		DynamoDBConfig: registry.InternalDynamoDBConfig{Region: "us-east-1", TableName: "kvbridge-catalog"},
		DialTimeout:    time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
	}

	for _, storeType := range []string{"redis", "dynamodb"} {
		t.Run(storeType, func(t *testing.T) {
			v, ok := registry.GetValidator(storeType)
			require.True(t, ok)
			assert.Equal(t, storeType, v.Type())

			c := base
			c.Type = storeType
			assert.NoError(t, v.Validate(&registry.InternalConfig{Catalog: c}))

			c.ReadTimeout = 0
			assert.ErrorContains(t, v.Validate(&registry.InternalConfig{Catalog: c}), "read_timeout")

			c.ReadTimeout = time.Second
			c.MaxRetries = -1
			assert.ErrorContains(t, v.Validate(&registry.InternalConfig{Catalog: c}), "max_retries")

			assert.Error(t, v.Validate(nil))
		})
	}
}

func TestDynamoDBCredentialsMustPair(t *testing.T) {
	f := &DynamoDBKVStoreFactory{}
	cfg := KVStoreConfig{
		Type:         "dynamodb",
		Region:       "us-east-1",
		TableName:    "kvbridge-catalog",
		AccessKeyID:  "test",
		DialTimeout:  int64(time.Second),
		ReadTimeout:  int64(time.Second),
		WriteTimeout: int64(time.Second),
	}
	assert.ErrorContains(t, f.Validate(cfg), "must be set together")

	cfg.SecretAccessKey = "test"
	assert.NoError(t, f.Validate(cfg))
}

func TestCatalogItemExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.False(t, (&catalogItem{}).expired(now))
	assert.False(t, (&catalogItem{ExpiresAt: now.Unix() + 60}).expired(now))
	assert.True(t, (&catalogItem{ExpiresAt: now.Unix() - 1}).expired(now))
}
