package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
)

// ErrStoreClosed is returned by every operation on a closed store.
var ErrStoreClosed = errors.New("KV store is closed")

// RedisKVStore implements core.KVStore on a single Redis node. Catalog keys
// carry the configured prefix; list keys used by the change feed do not.
type RedisKVStore struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

// NewRedisKVStore connects to the first endpoint of config and pings it.
func NewRedisKVStore(config KVStoreConfig) (*RedisKVStore, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	dialTimeout := time.Duration(config.DialTimeout)
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Endpoints[0],
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  time.Duration(config.ReadTimeout),
		WriteTimeout: time.Duration(config.WriteTimeout),
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[REDIS] Connected to %s (db %d, prefix %q)", config.Endpoints[0], config.DB, config.KeyPrefix)
	return &RedisKVStore{client: client, prefix: config.KeyPrefix}, nil
}

func (r *RedisKVStore) check() error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

// Get retrieves a catalog value.
func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	if err != nil {
		log.Printf("[REDIS] ERROR: Failed to get key %s: %v", key, err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Set stores a catalog value. A non-positive ttl never expires.
func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+key, value, expiry(ttl)).Err(); err != nil {
		log.Printf("[REDIS] ERROR: Failed to set key %s: %v", key, err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a catalog value. Deleting a missing key is not an error.
func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a catalog key is present.
func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := r.check(); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return n > 0, nil
}

// BatchSet writes every item in one MULTI/EXEC transaction, so a table
// rename never leaves half of its catalog entries behind.
func (r *RedisKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := r.check(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range items {
			pipe.Set(ctx, r.prefix+key, value, expiry(ttl))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to batch set %d keys: %w", len(items), err)
	}
	return nil
}

// Close closes the connection pool.
func (r *RedisKVStore) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}

// ListPush appends value to the list at key (RPUSH).
func (r *RedisKVStore) ListPush(ctx context.Context, key string, value []byte) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.client.RPush(ctx, key, value).Err()
}

// ListPop removes the head of the list at key (LPOP). It returns nil when
// the list is empty.
func (r *RedisKVStore) ListPop(ctx context.Context, key string) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	val, err := r.client.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// ListLength returns the length of the list at key (LLEN).
func (r *RedisKVStore) ListLength(ctx context.Context, key string) (int64, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	return r.client.LLen(ctx, key).Result()
}

func expiry(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

// RedisKVStoreFactory creates Redis catalog stores.
type RedisKVStoreFactory struct{}

// Type returns "redis".
func (f *RedisKVStoreFactory) Type() string {
	return "redis"
}

// Validate checks the Redis connection settings.
func (f *RedisKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
	switch {
	case len(config.Endpoints) == 0:
		return fmt.Errorf("at least one endpoint is required for Redis")
	case config.ClusterMode:
		return fmt.Errorf("Redis cluster mode is not supported")
	case config.DB < 0 || config.DB > 15:
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", config.DB)
	case config.PoolSize <= 0:
		return fmt.Errorf("pool_size must be greater than 0, got: %d", config.PoolSize)
	case config.MinIdleConns < 0:
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", config.MinIdleConns)
	case config.MaxRetries < 0:
		return fmt.Errorf("max_retries must be non-negative, got: %d", config.MaxRetries)
	}
	return validateTimeouts(config)
}

// Create connects a Redis catalog store.
func (f *RedisKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewRedisKVStore(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return store, nil
}

// validateTimeouts checks the timeouts shared by the networked stores.
func validateTimeouts(config KVStoreConfig) error {
	if config.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", time.Duration(config.DialTimeout))
	}
	if config.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", time.Duration(config.ReadTimeout))
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", time.Duration(config.WriteTimeout))
	}
	return nil
}

// catalogValidator validates the catalog section of the internal config
// through the matching factory.
type catalogValidator struct {
	factory KVStoreFactory
}

func (v catalogValidator) Type() string {
	return v.factory.Type()
}

func (v catalogValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	return v.factory.Validate(ConfigFromCatalog(config.Catalog))
}

func init() {
	factory := &RedisKVStoreFactory{}
	RegisterFactory(factory)
	registry.RegisterValidator(catalogValidator{factory: factory})
}
