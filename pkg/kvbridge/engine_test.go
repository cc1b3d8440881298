package kvbridge

import (
	"context"
	"testing"

	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func memoryConfig() *Config {
	cfg := DefaultConfig()
	cfg.Data.InMemory = true
	cfg.ChangeFeed.Enabled = true
	return cfg
}

func accounts(t *testing.T) *sqlmeta.Table {
	t.Helper()
	tbl := sqlmeta.NewTable("bank", "accounts", []sqlmeta.Field{
		{Name: "id", Type: sqlmeta.TypeLongLong, Unsigned: true},
		{Name: "owner", Type: sqlmeta.TypeVarchar, Length: 16, Binary: true},
	})
	_, err := tbl.AddKey("PRIMARY", true, true, "id")
	require.NoError(t, err)
	require.NoError(t, tbl.SetAutoIncrement("id", 1))
	return tbl
}

func TestDefaultConfigLoadsIntoRegistry(t *testing.T) {
	data, err := yaml.Marshal(DefaultConfig())
	require.NoError(t, err)

	cm := registry.NewConfigManager()
	require.NoError(t, cm.LoadFromYAML(data))
	got := cm.GetConfig()
	assert.Equal(t, ":8089", got.Admin.ListenAddress)
	assert.Equal(t, 50, got.Mirror.DrainRate)
	assert.Equal(t, "kvbridge-changefeed", got.ChangeFeed.KafkaConfig.Topic)
	assert.Equal(t, "./data/catalog", got.Catalog.PebbleConfig.Path)
}

func TestEngineEndToEnd(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Close()) })

	tbl := accounts(t)
	h, err := e.NewHandler()
	require.NoError(t, err)
	require.NoError(t, h.Create(ctx, tbl))
	require.NoError(t, h.Open(ctx, tbl))

	layout, err := sqlmeta.NewLayout(tbl)
	require.NoError(t, err)
	require.NoError(t, h.ExternalLock(ctx, sqlmeta.LockWrite))
	for _, owner := range []string{"ada", "grace"} {
		rec := layout.NewRecord()
		require.NoError(t, layout.WriteField(rec, 0, 0, uint64(0)))
		require.NoError(t, layout.WriteField(rec, 0, 1, []byte(owner)))
		require.NoError(t, h.WriteRow(ctx, rec, 0))
	}
	require.NoError(t, h.ExternalLock(ctx, sqlmeta.LockUnlock))

	ts, err := e.TableSchema(ctx, "bank.accounts")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, ts.PrimaryKey)

	stats, err := e.TableStats(ctx, "bank.accounts")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Rows)
	assert.Equal(t, uint64(3), stats.AutoIncrementValue)
	assert.Equal(t, 2, stats.Columns)
	require.NotNil(t, stats.Share)
	assert.Equal(t, 1, stats.Share.UseCount)

	health := e.Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.OpenTables)
	assert.Equal(t, 2, health.ChangeFeedSize)
	assert.Nil(t, health.Drainers, "no mirror configured")

	require.NoError(t, e.Start(ctx))
	assert.True(t, e.IsRunning())
	require.NoError(t, e.Stop())

	require.NoError(t, h.Close(ctx))
	assert.Empty(t, e.Shares())

	_, err = e.ImportTable(ctx, "accounts")
	assert.Error(t, err, "import needs the mysql mirror")

	_, err = e.TableStats(ctx, "bank.ghost")
	assert.Error(t, err)
}

func TestEngineHooks(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Close()) })

	var created []string
	e.RegisterHook(registry.LifecycleHookFunc{
		OnCreateFunc: func(_ context.Context, name string, _ *core.TableSchema) error {
			created = append(created, name)
			return nil
		},
	})
	h, err := e.NewHandler()
	require.NoError(t, err)
	require.NoError(t, h.Create(ctx, accounts(t)))
	assert.Equal(t, []string{"bank.accounts"}, created)
}

func TestProcessEngine(t *testing.T) {
	ctx := context.Background()
	_, err := Default()
	assert.ErrorIs(t, err, ErrEngineNotInitialized)

	e, err := Init(ctx, memoryConfig())
	require.NoError(t, err)
	_, err = Init(ctx, memoryConfig())
	assert.ErrorIs(t, err, ErrEngineInitialized)

	got, err := Default()
	require.NoError(t, err)
	assert.Same(t, e, got)

	require.NoError(t, Deinit())
	require.NoError(t, Deinit())
	_, err = Default()
	assert.ErrorIs(t, err, ErrEngineNotInitialized)
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	_, err := NewEngine(context.Background(), nil)
	assert.Error(t, err)

	cfg := memoryConfig()
	cfg.Mirror.Enabled = true
	cfg.ChangeFeed.Enabled = false
	_, err = NewEngine(context.Background(), cfg)
	assert.Error(t, err, "the mirror needs the change feed")
}
