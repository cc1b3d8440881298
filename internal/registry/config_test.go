package registry_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/rzpsarthak13/kvbridge/internal/kvstore"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cm := registry.NewConfigManager()
	require.NoError(t, cm.LoadFromYAML(nil))

	cfg := cm.GetConfig()
	assert.Equal(t, "pebble", cfg.Catalog.Type)
	assert.Equal(t, "./data/kvbridge", cfg.Data.Path)
	assert.Equal(t, "memory", cfg.ChangeFeed.QueueType)
	assert.False(t, cfg.Mirror.Enabled)
	assert.Equal(t, ":8089", cfg.Admin.ListenAddress)
}

func TestLoadFromYAML(t *testing.T) {
	data := []byte(`
data:
  in_memory: true
catalog:
  type: pebble
  pebble_config:
    in_memory: true
changefeed:
  enabled: true
  queue_type: kafka
  kafka_config:
    brokers: ["k1:9092"]
    topic: rows
mirror:
  enabled: true
  drain_rate: 10
  batch_size: 5
  interval: 50ms
  database:
    host: db
    port: 3306
    database: shop
    username: app
    max_open_conns: 4
tables:
  shop.payments:
    mirror: true
    drain_rate: 2
`)
	cm := registry.NewConfigManager()
	require.NoError(t, cm.LoadFromYAML(data))

	cfg := cm.GetConfig()
	assert.True(t, cfg.Data.InMemory)
	assert.Equal(t, []string{"k1:9092"}, cfg.ChangeFeed.KafkaConfig.Brokers)
	assert.Equal(t, 50*time.Millisecond, cfg.Mirror.Interval)

	tc := cm.GetTableConfig("shop.payments")
	assert.True(t, tc.Mirror)
	assert.Equal(t, 2, tc.DrainRate)
	assert.Equal(t, 5, tc.BatchSize)

	other := cm.GetTableConfig("shop.other")
	assert.True(t, other.Mirror)
	assert.Equal(t, 10, other.DrainRate)
}

func TestLoadFromJSONAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvbridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data":{"path":"/srv/rows"},"catalog":{"type":"pebble","pebble_config":{"path":"/srv/catalog"}}}`), 0o600))

	cm := registry.NewConfigManager()
	require.NoError(t, cm.LoadFromFile(path))
	assert.Equal(t, "/srv/rows", cm.GetConfig().Data.Path)

	bad := filepath.Join(dir, "kvbridge.toml")
	require.NoError(t, os.WriteFile(bad, []byte(""), 0o600))
	assert.Error(t, cm.LoadFromFile(bad))
	assert.Error(t, cm.LoadFromFile(filepath.Join(dir, "missing.yaml")))
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown catalog", "catalog:\n  type: etcd\n"},
		{"empty catalog type", "catalog:\n  type: \"\"\n"},
		{"catalog shares data path", "data:\n  path: /d\ncatalog:\n  type: pebble\n  pebble_config:\n    path: /d\n"},
		{"bad queue", "changefeed:\n  queue_type: nats\n"},
		{"kafka without brokers", "changefeed:\n  queue_type: kafka\n  kafka_config:\n    brokers: []\n"},
		{"mirror without feed", "mirror:\n  enabled: true\n  database:\n    database: shop\n    username: app\n"},
		{"redis without endpoints", "catalog:\n  type: redis\n  redis_config:\n    endpoints: []\n    pool_size: 1\n"},
		{"missing admin address", "admin:\n  listen_address: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := registry.NewConfigManager()
			assert.Error(t, cm.LoadFromYAML([]byte(tt.yaml)))
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KVBRIDGE_DATA_IN_MEMORY", "true")
	t.Setenv("KVBRIDGE_CATALOG_IN_MEMORY", "1")
	t.Setenv("KVBRIDGE_CHANGEFEED_ENABLED", "true")
	t.Setenv("KVBRIDGE_CHANGEFEED_QUEUE_TYPE", "redis")
	t.Setenv("KVBRIDGE_MIRROR_INTERVAL", "2s")
	t.Setenv("KVBRIDGE_MIRROR_DRAIN_RATE", "7")
	t.Setenv("KVBRIDGE_BRIDGE_LOG_ATTACH", "true")
	t.Setenv("KVBRIDGE_ADMIN_LISTEN_ADDRESS", "127.0.0.1:9000")

	cm := registry.NewConfigManager()
	require.NoError(t, cm.LoadFromEnv())

	cfg := cm.GetConfig()
	assert.True(t, cfg.Data.InMemory)
	assert.True(t, cfg.Catalog.PebbleConfig.InMemory)
	assert.Equal(t, "redis", cfg.ChangeFeed.QueueType)
	assert.Equal(t, 2*time.Second, cfg.Mirror.Interval)
	assert.Equal(t, 7, cfg.Mirror.DrainRate)
	assert.True(t, cfg.Bridge.LogAttach)
	assert.Equal(t, "127.0.0.1:9000", cfg.Admin.ListenAddress)
}

func TestValidatorRegistryRejectsDuplicates(t *testing.T) {
	_, ok := registry.GetValidator("pebble")
	require.True(t, ok)
	assert.Panics(t, func() {
		v, _ := registry.GetValidator("pebble")
		registry.RegisterValidator(v)
	})
}
