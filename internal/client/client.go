// Package client assembles the engine runtime from configuration: the
// backend store and its catalog, the change feed, the bridge gateway, the
// share registry and the optional MySQL mirror.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/rzpsarthak13/kvbridge/internal/backend"
	"github.com/rzpsarthak13/kvbridge/internal/bridge"
	"github.com/rzpsarthak13/kvbridge/internal/codec"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/database"
	"github.com/rzpsarthak13/kvbridge/internal/handler"
	"github.com/rzpsarthak13/kvbridge/internal/kvstore"
	"github.com/rzpsarthak13/kvbridge/internal/mirror"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/rzpsarthak13/kvbridge/internal/writeback"
)

var (
	// ErrClientClosed is returned by every call after Close.
	ErrClientClosed = errors.New("client is closed")

	// ErrMirrorDisabled is returned by operations that need the MySQL connection.
	ErrMirrorDisabled = errors.New("mysql mirror is not configured")
)

// ConfigProvider is an interface to provide configuration as YAML without importing the public package.
type ConfigProvider interface {
	GetYAML() ([]byte, error)
}

// ClientImpl owns every long-lived component of the engine.
type ClientImpl struct {
	mu        sync.RWMutex
	configMgr *registry.ConfigManager
	lifecycle *registry.LifecycleManager
	shares    *registry.ShareRegistry
	values    *codec.Codec

	catalog   core.KVStore // nil when the catalog lives in the row store
	feedLists *kvstore.RedisKVStore
	feed      core.WriteBackQueue
	store     *backend.Store
	gateway   *bridge.Gateway

	database *database.MySQLDatabase
	mirror   *mirror.Mirror

	closed bool
}

// NewClientImpl loads the provider's configuration and opens the runtime.
func NewClientImpl(ctx context.Context, configProvider ConfigProvider) (*ClientImpl, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("config provider cannot be nil")
	}

	configMgr := registry.NewConfigManager()
	yamlData, err := configProvider.GetYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to get config YAML: %w", err)
	}
	if err := configMgr.LoadFromYAML(yamlData); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewFromConfig(ctx, configMgr)
}

// NewFromConfig opens the runtime described by an already loaded configuration.
func NewFromConfig(ctx context.Context, configMgr *registry.ConfigManager) (*ClientImpl, error) {
	lifecycle := registry.NewLifecycleManager()
	c := &ClientImpl{
		configMgr: configMgr,
		lifecycle: lifecycle,
		shares:    registry.NewShareRegistry(configMgr, lifecycle),
		values:    codec.New(),
	}
	if err := c.initializeConnections(ctx); err != nil {
		if cerr := c.closeConnections(); cerr != nil {
			log.Printf("[CLIENT] ERROR: cleanup after failed start: %v", cerr)
		}
		return nil, fmt.Errorf("failed to initialize connections: %w", err)
	}
	return c, nil
}

func (c *ClientImpl) initializeConnections(ctx context.Context) error {
	config := c.configMgr.GetConfig()

	// An in-memory pebble catalog shares the row database.
	embedded := config.Catalog.Type == "pebble" && (config.Catalog.PebbleConfig.InMemory || config.Data.InMemory)
	if !embedded {
		kv, err := kvstore.Create(kvstore.ConfigFromCatalog(config.Catalog))
		if err != nil {
			return fmt.Errorf("failed to create catalog store: %w", err)
		}
		c.catalog = kv
	}

	if config.ChangeFeed.Enabled {
		var lists writeback.ListOperations
		if config.ChangeFeed.QueueType == writeback.QueueTypeRedis {
			rc := kvstore.ConfigFromCatalog(config.Catalog)
			rc.KeyPrefix = ""
			redisStore, err := kvstore.NewRedisKVStore(rc)
			if err != nil {
				return fmt.Errorf("failed to connect change feed: %w", err)
			}
			c.feedLists = redisStore
			lists = redisStore
		}
		feed, err := writeback.New(config.ChangeFeed, lists)
		if err != nil {
			return err
		}
		c.feed = feed
	}

	store, err := backend.Open(backend.Options{
		Path:       config.Data.Path,
		InMemory:   config.Data.InMemory,
		Sync:       config.Data.Sync,
		CacheSize:  config.Data.CacheSize,
		Catalog:    c.catalog,
		ChangeFeed: c.feed,
	})
	if err != nil {
		return err
	}
	c.store = store
	c.gateway = bridge.NewGateway(store, bridge.Options{
		Attacher:  store,
		LogAttach: config.Bridge.LogAttach,
	})

	if config.Mirror.Enabled {
		db, err := database.Open(ctx, config.Mirror.Database)
		if err != nil {
			return err
		}
		c.database = db
		c.mirror = mirror.New(db, store, c.values, c.configMgr)
		c.lifecycle.RegisterHook(c.mirror)
	}
	return nil
}

// NewHandler creates a table handler with its own bridge session.
func (c *ClientImpl) NewHandler() (*handler.Handler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	return handler.New(c.gateway.NewSession(), c.shares, c.values), nil
}

// ImportTable introspects a MySQL table and creates it in the engine.
func (c *ClientImpl) ImportTable(ctx context.Context, table string) (*core.TableSchema, error) {
	if c.database == nil {
		return nil, ErrMirrorDisabled
	}
	meta, err := c.database.ImportTable(ctx, table)
	if err != nil {
		return nil, err
	}
	h, err := c.NewHandler()
	if err != nil {
		return nil, err
	}
	if err := h.Create(ctx, meta); err != nil {
		return nil, err
	}
	log.Printf("[CLIENT] Imported %s from MySQL", meta.QualifiedName())
	return c.store.Schema(ctx, meta.QualifiedName())
}

// Config returns the configuration manager.
func (c *ClientImpl) Config() *registry.ConfigManager { return c.configMgr }

// Shares returns the share registry.
func (c *ClientImpl) Shares() *registry.ShareRegistry { return c.shares }

// Lifecycle returns the DDL hook manager.
func (c *ClientImpl) Lifecycle() *registry.LifecycleManager { return c.lifecycle }

// Store returns the backend store.
func (c *ClientImpl) Store() *backend.Store { return c.store }

// Gateway returns the bridge gateway.
func (c *ClientImpl) Gateway() *bridge.Gateway { return c.gateway }

// ChangeFeed returns the change-feed queue, or nil when disabled.
func (c *ClientImpl) ChangeFeed() core.WriteBackQueue { return c.feed }

// Mirror returns the MySQL mirror, or nil when disabled.
func (c *ClientImpl) Mirror() *mirror.Mirror { return c.mirror }

// Close closes the store, the change feed, the catalog and the MySQL pool.
func (c *ClientImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.closeConnections()
}

func (c *ClientImpl) closeConnections() error {
	var errs []error
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.feed != nil {
		errs = append(errs, c.feed.Close())
	}
	if c.feedLists != nil {
		errs = append(errs, c.feedLists.Close())
	}
	if c.catalog != nil {
		errs = append(errs, c.catalog.Close())
	}
	if c.database != nil {
		errs = append(errs, c.database.Close())
	}
	return errors.Join(errs...)
}
