package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareIsFreedWithTheLastHandle(t *testing.T) {
	r := registry.NewShareRegistry(nil, nil)

	a, err := r.Acquire("shop.payments")
	require.NoError(t, err)
	b, err := r.Acquire("shop.payments")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 2, r.UseCount("shop.payments"))

	require.NoError(t, r.Release(a))
	_, ok := r.Get("shop.payments")
	assert.True(t, ok)

	require.NoError(t, r.Release(b))
	_, ok = r.Get("shop.payments")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestShareNeverUnderflows(t *testing.T) {
	r := registry.NewShareRegistry(nil, nil)
	s, err := r.Acquire("shop.payments")
	require.NoError(t, err)
	require.NoError(t, r.Release(s))

	assert.ErrorIs(t, r.Release(s), registry.ErrShareUnderflow)
	assert.Equal(t, 0, r.UseCount("shop.payments"))

	fresh, err := r.Acquire("shop.payments")
	require.NoError(t, err)
	assert.ErrorIs(t, r.Release(s), registry.ErrShareUnderflow)
	assert.Equal(t, 1, r.UseCount("shop.payments"))
	require.NoError(t, r.Release(fresh))

	_, err = r.Acquire("")
	assert.Error(t, err)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	r := registry.NewShareRegistry(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s, err := r.Acquire("shop.orders")
				if err != nil {
					t.Error(err)
					return
				}
				if err := r.Release(s); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}

func TestShareState(t *testing.T) {
	r := registry.NewShareRegistry(nil, nil)
	s, err := r.Acquire("shop.payments")
	require.NoError(t, err)

	_, valid := s.RowCount()
	assert.False(t, valid)
	s.AdjustRowCount(5)
	_, valid = s.RowCount()
	assert.False(t, valid)

	s.SetRowCount(10)
	s.AdjustRowCount(-3)
	n, valid := s.RowCount()
	assert.True(t, valid)
	assert.Equal(t, int64(7), n)
	s.InvalidateRowCount()
	_, valid = s.RowCount()
	assert.False(t, valid)

	s.MarkCrashed()
	assert.True(t, s.Crashed())

	infos := r.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "shop.payments", infos[0].Name)
	assert.Equal(t, 1, infos[0].UseCount)
	assert.True(t, infos[0].Crashed)
}

func TestShareCarriesTableConfig(t *testing.T) {
	cm := registry.NewConfigManager()
	require.NoError(t, cm.LoadFromYAML([]byte(`
mirror:
  enabled: false
  drain_rate: 50
tables:
  shop.payments:
    mirror: true
`)))
	r := registry.NewShareRegistry(cm, nil)

	s, err := r.Acquire("shop.payments")
	require.NoError(t, err)
	assert.True(t, s.Config.Mirror)
	assert.Equal(t, 50, s.Config.DrainRate)

	other, err := r.Acquire("shop.orders")
	require.NoError(t, err)
	assert.False(t, other.Config.Mirror)
}

func TestLifecycleHooksRunInOrder(t *testing.T) {
	ctx := context.Background()
	lm := registry.NewLifecycleManager()
	var calls []string
	lm.RegisterHook(registry.LifecycleHookFunc{
		OnCreateFunc: func(_ context.Context, name string, ts *core.TableSchema) error {
			calls = append(calls, "create:"+name+":"+ts.Name)
			return nil
		},
	})
	lm.RegisterHook(registry.LifecycleHookFunc{
		OnDropFunc: func(_ context.Context, name string) error {
			calls = append(calls, "drop:"+name)
			return errors.New("refused")
		},
		OnRenameFunc: func(_ context.Context, from, to string) error {
			calls = append(calls, "rename:"+from+">"+to)
			return nil
		},
	})
	assert.Equal(t, 2, lm.HookCount())

	require.NoError(t, lm.ExecuteCreateHooks(ctx, "shop.t", &core.TableSchema{Name: "shop.t"}))
	assert.Error(t, lm.ExecuteDropHooks(ctx, "shop.t"))
	require.NoError(t, lm.ExecuteRenameHooks(ctx, "shop.t", "shop.u"))
	assert.Equal(t, []string{"create:shop.t:shop.t", "drop:shop.t", "rename:shop.t>shop.u"}, calls)
}
