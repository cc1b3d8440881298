package registry

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/kvbridge/internal/core"
)

// LifecycleHook defines a hook that is executed on table DDL.
// Hooks run synchronously after the backend accepted the change.
type LifecycleHook interface {
	// OnCreate is called after a table has been created.
	OnCreate(ctx context.Context, tableName string, schema *core.TableSchema) error

	// OnDrop is called after a table has been dropped.
	OnDrop(ctx context.Context, tableName string) error

	// OnRename is called after a table has been renamed.
	OnRename(ctx context.Context, from, to string) error
}

// LifecycleHookFunc adapts plain functions to LifecycleHook. Nil functions are skipped.
type LifecycleHookFunc struct {
	OnCreateFunc func(ctx context.Context, tableName string, schema *core.TableSchema) error
	OnDropFunc   func(ctx context.Context, tableName string) error
	OnRenameFunc func(ctx context.Context, from, to string) error
}

// OnCreate calls the OnCreateFunc if it's not nil.
func (f LifecycleHookFunc) OnCreate(ctx context.Context, tableName string, schema *core.TableSchema) error {
	if f.OnCreateFunc != nil {
		return f.OnCreateFunc(ctx, tableName, schema)
	}
	return nil
}

// OnDrop calls the OnDropFunc if it's not nil.
func (f LifecycleHookFunc) OnDrop(ctx context.Context, tableName string) error {
	if f.OnDropFunc != nil {
		return f.OnDropFunc(ctx, tableName)
	}
	return nil
}

// OnRename calls the OnRenameFunc if it's not nil.
func (f LifecycleHookFunc) OnRename(ctx context.Context, from, to string) error {
	if f.OnRenameFunc != nil {
		return f.OnRenameFunc(ctx, from, to)
	}
	return nil
}

// LifecycleManager runs registered hooks in registration order.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []LifecycleHook
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		hooks: make([]LifecycleHook, 0),
	}
}

// RegisterHook appends a hook.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	return hooks
}

// ExecuteCreateHooks stops at the first failing hook.
func (lm *LifecycleManager) ExecuteCreateHooks(ctx context.Context, tableName string, schema *core.TableSchema) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnCreate(ctx, tableName, schema); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteDropHooks stops at the first failing hook.
func (lm *LifecycleManager) ExecuteDropHooks(ctx context.Context, tableName string) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnDrop(ctx, tableName); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteRenameHooks stops at the first failing hook.
func (lm *LifecycleManager) ExecuteRenameHooks(ctx context.Context, from, to string) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnRename(ctx, from, to); err != nil {
			return err
		}
	}
	return nil
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}
