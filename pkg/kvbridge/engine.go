// Package kvbridge is the public entry point of the storage engine. An
// Engine owns the backend store, the share registry and the change-feed
// mirror; the server creates one per process and a handler per open table.
package kvbridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/kvbridge/internal/backend"
	"github.com/rzpsarthak13/kvbridge/internal/client"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/handler"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
)

// mirrorDrainer names the drainer replaying the change feed into MySQL.
const mirrorDrainer = "mirror"

var (
	// ErrEngineInitialized is returned by Init when the process engine exists.
	ErrEngineInitialized = errors.New("engine already initialized")

	// ErrEngineNotInitialized is returned by Default before Init.
	ErrEngineNotInitialized = errors.New("engine not initialized")

	processMu     sync.Mutex
	processEngine *Engine
)

// configProvider implements client.ConfigProvider to provide config as YAML without import cycles.
type configProvider struct {
	config *Config
}

func (cp *configProvider) GetYAML() ([]byte, error) {
	return yaml.Marshal(cp.config)
}

// Engine is the storage engine instance.
//
// Typical usage:
//
//	engine, _ := kvbridge.NewEngine(ctx, kvbridge.DefaultConfig())
//	defer engine.Close()
//	engine.Start(ctx) // replay the change feed into MySQL
//
//	h, _ := engine.NewHandler()
//	h.Open(ctx, table)
type Engine struct {
	mu       sync.RWMutex
	impl     *client.ClientImpl
	drainers *DrainerManager
	started  bool
}

// NewEngine opens an engine with the provided configuration.
func NewEngine(ctx context.Context, config *Config) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	impl, err := client.NewClientImpl(ctx, &configProvider{config: config})
	if err != nil {
		return nil, err
	}
	return newEngine(impl), nil
}

// NewEngineFromFile opens an engine configured by a YAML or JSON file.
// An empty path reads the KVBRIDGE_* environment variables instead.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	configMgr := registry.NewConfigManager()
	var err error
	if path == "" {
		err = configMgr.LoadFromEnv()
	} else {
		err = configMgr.LoadFromFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	impl, err := client.NewFromConfig(ctx, configMgr)
	if err != nil {
		return nil, err
	}
	return newEngine(impl), nil
}

func newEngine(impl *client.ClientImpl) *Engine {
	mc := impl.Config().GetConfig().Mirror
	e := &Engine{
		impl: impl,
		drainers: NewDrainerManager(DrainerConfig{
			DrainRate:    mc.DrainRate,
			BatchSize:    mc.BatchSize,
			PollInterval: mc.Interval,
			MaxRetries:   mc.MaxRetries,
			RetryBackoff: mc.RetryBackoffBase,
			TableRate: func(table string) int {
				return impl.Config().GetTableConfig(table).DrainRate
			},
		}),
	}
	if m := impl.Mirror(); m != nil {
		e.drainers.AddDrainer(mirrorDrainer, impl.ChangeFeed(), m)
	}
	return e
}

// Init creates the process-wide engine.
func Init(ctx context.Context, config *Config) (*Engine, error) {
	processMu.Lock()
	defer processMu.Unlock()
	if processEngine != nil {
		return nil, ErrEngineInitialized
	}
	e, err := NewEngine(ctx, config)
	if err != nil {
		return nil, err
	}
	processEngine = e
	return e, nil
}

// Default returns the process-wide engine.
func Default() (*Engine, error) {
	processMu.Lock()
	defer processMu.Unlock()
	if processEngine == nil {
		return nil, ErrEngineNotInitialized
	}
	return processEngine, nil
}

// Deinit closes the process-wide engine.
func Deinit() error {
	processMu.Lock()
	defer processMu.Unlock()
	if processEngine == nil {
		return nil
	}
	err := processEngine.Close()
	processEngine = nil
	return err
}

// NewHandler creates a handler for one table handle.
func (e *Engine) NewHandler() (*handler.Handler, error) {
	return e.impl.NewHandler()
}

// Start starts the mirror drainer. It is a no-op when the mirror is disabled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	if err := e.drainers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start drainers: %w", err)
	}
	e.started = true
	return nil
}

// Stop stops the mirror drainer.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}
	if err := e.drainers.StopAll(); err != nil {
		return fmt.Errorf("failed to stop drainers: %w", err)
	}
	e.started = false
	return nil
}

// IsRunning returns whether the drainers are running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// Close stops the drainers and releases every resource.
func (e *Engine) Close() error {
	var errs []error
	if err := e.Stop(); err != nil {
		log.Printf("[ENGINE] WARNING: error stopping drainers: %v", err)
		errs = append(errs, err)
	}
	errs = append(errs, e.impl.Close())
	return errors.Join(errs...)
}

// Shares returns a snapshot of the open tables.
func (e *Engine) Shares() []registry.ShareInfo {
	return e.impl.Shares().List()
}

// RegisterHook adds a DDL lifecycle hook.
func (e *Engine) RegisterHook(hook registry.LifecycleHook) {
	e.impl.Lifecycle().RegisterHook(hook)
}

// TableSchema returns the stored schema of a table ("db.table").
func (e *Engine) TableSchema(ctx context.Context, name string) (*core.TableSchema, error) {
	return e.impl.Store().Schema(ctx, name)
}

// ImportTable creates a table in the engine from its MySQL definition.
func (e *Engine) ImportTable(ctx context.Context, table string) (*core.TableSchema, error) {
	return e.impl.ImportTable(ctx, table)
}

// TableStats describes the stored state of one table.
type TableStats struct {
	Name               string              `json:"name" yaml:"name"`
	Rows               int64               `json:"rows" yaml:"rows"`
	Columns            int                 `json:"columns" yaml:"columns"`
	Indexes            int                 `json:"indexes" yaml:"indexes"`
	AutoIncrementValue uint64              `json:"auto_increment_value,omitempty" yaml:"auto_increment_value,omitempty"`
	Share              *registry.ShareInfo `json:"share,omitempty" yaml:"share,omitempty"`
}

// TableStats reads row count and counters through the bridge.
func (e *Engine) TableStats(ctx context.Context, name string) (*TableStats, error) {
	ts, err := e.impl.Store().Schema(ctx, name)
	if err != nil {
		return nil, err
	}
	stats := &TableStats{Name: name, Columns: len(ts.Columns), Indexes: len(ts.Indexes)}

	session := e.impl.Gateway().NewSession()
	guard, err := session.Enter()
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	if stats.Rows, err = session.GetRowCount(ctx, name); err != nil {
		return nil, err
	}
	if col, ok := ts.AutoIncrementColumn(); ok {
		if stats.AutoIncrementValue, err = session.GetAutoIncrementValue(ctx, name, col.Name); err != nil {
			return nil, err
		}
	}
	for _, info := range e.Shares() {
		if info.Name == name {
			stats.Share = &info
		}
	}
	return stats, nil
}

// Health is a snapshot of the engine's moving parts.
type Health struct {
	Status         string                  `json:"status" yaml:"status"`
	Error          string                  `json:"error,omitempty" yaml:"error,omitempty"`
	Backend        backend.Stats           `json:"backend" yaml:"backend"`
	OpenTables     int                     `json:"open_tables" yaml:"open_tables"`
	ChangeFeedSize int                     `json:"changefeed_size" yaml:"changefeed_size"`
	Drainers       map[string]DrainerStats `json:"drainers,omitempty" yaml:"drainers,omitempty"`
}

// Health reports whether the gateway is usable along with queue depths.
func (e *Engine) Health() Health {
	h := Health{
		Status:     "ok",
		Backend:    e.impl.Store().Stats(),
		OpenTables: e.impl.Shares().Count(),
	}
	if err := e.impl.Gateway().Failed(); err != nil {
		h.Status = "failed"
		h.Error = err.Error()
	}
	if feed := e.impl.ChangeFeed(); feed != nil {
		h.ChangeFeedSize = feed.Size()
	}
	if d := e.drainers.GetDrainer(mirrorDrainer); d != nil {
		h.Drainers = map[string]DrainerStats{mirrorDrainer: d.Stats()}
	}
	return h
}

// GetDrainer returns the named drainer, or nil.
func (e *Engine) GetDrainer(name string) *Drainer {
	return e.drainers.GetDrainer(name)
}

// AdminAddress returns the listen address of the admin server.
func (e *Engine) AdminAddress() string {
	return e.impl.Config().GetConfig().Admin.ListenAddress
}
