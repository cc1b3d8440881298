package kvstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
)

// expiryHeaderSize is the length of the expiry stamp that prefixes every
// stored value. A zero stamp means the key never expires.
const expiryHeaderSize = 8

// OpenPebble opens a pebble database at path, or an in-memory one.
func OpenPebble(path string, inMemory bool, cacheSize int64) (*pebble.DB, error) {
	opts := &pebble.Options{}
	if cacheSize > 0 {
		cache := pebble.NewCache(cacheSize)
		defer cache.Unref()
		opts.Cache = cache
	}
	if inMemory {
		opts.FS = vfs.NewMem()
		if path == "" {
			path = "mem"
		}
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return db, nil
}

// PebbleKVStore implements the core.KVStore interface on an embedded pebble database.
type PebbleKVStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	prefix string
	owned  bool
	closed bool
}

// NewPebbleKVStore opens a pebble-backed KV store.
func NewPebbleKVStore(path string, inMemory bool, prefix string) (*PebbleKVStore, error) {
	db, err := OpenPebble(path, inMemory, 0)
	if err != nil {
		return nil, err
	}
	return &PebbleKVStore{db: db, prefix: prefix, owned: true}, nil
}

// WrapPebble returns a KV store sharing an already opened database.
// Closing the store does not close db.
func WrapPebble(db *pebble.DB, prefix string) *PebbleKVStore {
	return &PebbleKVStore{db: db, prefix: prefix}
}

func (p *PebbleKVStore) key(key string) []byte {
	return []byte(p.prefix + key)
}

func encodeExpiry(value []byte, ttl time.Duration) []byte {
	out := make([]byte, expiryHeaderSize+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(out, uint64(time.Now().Add(ttl).UnixNano()))
	}
	copy(out[expiryHeaderSize:], value)
	return out
}

func decodeExpiry(raw []byte) ([]byte, bool) {
	if len(raw) < expiryHeaderSize {
		return nil, false
	}
	if at := int64(binary.BigEndian.Uint64(raw)); at != 0 && time.Now().UnixNano() > at {
		return nil, false
	}
	out := make([]byte, len(raw)-expiryHeaderSize)
	copy(out, raw[expiryHeaderSize:])
	return out, true
}

// Get retrieves a value by key from the store.
func (p *PebbleKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrStoreClosed
	}

	raw, closer, err := p.db.Get(p.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	if err != nil {
		log.Printf("[PEBBLE] ERROR: Failed to get key %s: %v", key, err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	defer closer.Close()

	value, ok := decodeExpiry(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %s (expired)", core.ErrKeyNotFound, key)
	}
	return value, nil
}

// Set stores a key-value pair with an optional TTL.
func (p *PebbleKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrStoreClosed
	}

	if err := p.db.Set(p.key(key), encodeExpiry(value, ttl), pebble.Sync); err != nil {
		log.Printf("[PEBBLE] ERROR: Failed to set key %s: %v", key, err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key from the store.
func (p *PebbleKVStore) Delete(ctx context.Context, key string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrStoreClosed
	}

	if err := p.db.Delete(p.key(key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (p *PebbleKVStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.Get(ctx, key)
	if errors.Is(err, core.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return true, nil
}

// BatchSet stores multiple key-value pairs atomically with a shared TTL.
func (p *PebbleKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrStoreClosed
	}
	if len(items) == 0 {
		return nil
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	for key, value := range items {
		if err := batch.Set(p.key(key), encodeExpiry(value, ttl), nil); err != nil {
			return fmt.Errorf("failed to stage key %s: %w", key, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to batch set keys: %w", err)
	}
	return nil
}

// Close closes the store. The database is closed only when the store opened it.
func (p *PebbleKVStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.owned {
		return p.db.Close()
	}
	return nil
}

// PebbleKVStoreFactory implements the KVStoreFactory interface for pebble.
type PebbleKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *PebbleKVStoreFactory) Type() string {
	return "pebble"
}

// Validate validates the pebble-specific configuration.
func (f *PebbleKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "pebble" {
		return fmt.Errorf("invalid type for pebble factory: %s", config.Type)
	}
	if !config.InMemory && config.Path == "" {
		return fmt.Errorf("path is required for pebble unless in_memory is set")
	}
	return nil
}

// Create creates a new pebble KV store instance.
func (f *PebbleKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewPebbleKVStore(config.Path, config.InMemory, config.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create pebble KV store: %w", err)
	}
	return store, nil
}

// PebbleConfigValidator validates the catalog section when it selects pebble.
type PebbleConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *PebbleConfigValidator) Type() string {
	return "pebble"
}

// Validate validates the pebble-specific configuration in the internal config.
func (v *PebbleConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	kvConfig := config.Catalog
	if kvConfig.Type != "pebble" {
		return fmt.Errorf("invalid type for pebble validator: %s", kvConfig.Type)
	}
	pc := kvConfig.PebbleConfig
	if !pc.InMemory && pc.Path == "" {
		return fmt.Errorf("pebble_config.path is required unless in_memory is set")
	}
	if !pc.InMemory && !config.Data.InMemory && pc.Path == config.Data.Path {
		return fmt.Errorf("catalog path must differ from data path %q", pc.Path)
	}
	return nil
}

func init() {
	RegisterFactory(&PebbleKVStoreFactory{})
	registry.RegisterValidator(&PebbleConfigValidator{})
}
