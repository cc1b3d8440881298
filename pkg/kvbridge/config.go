package kvbridge

import (
	"time"
)

// Config represents the root configuration of the engine.
type Config struct {
	// Data configures the pebble database holding rows and indexes.
	Data DataConfig `yaml:"data" json:"data"`

	// Catalog configures the key-value store holding table schemas,
	// row counts and auto-increment counters.
	Catalog CatalogConfig `yaml:"catalog" json:"catalog"`

	// ChangeFeed configures publication of committed row changes.
	ChangeFeed ChangeFeedConfig `yaml:"changefeed" json:"changefeed"`

	// Mirror configures replay of the change feed into MySQL.
	Mirror MirrorConfig `yaml:"mirror" json:"mirror"`

	// Tables contains table-specific mirror overrides keyed by "db.table".
	// If a table is not specified here, the mirror defaults are used.
	Tables map[string]TableConfig `yaml:"tables,omitempty" json:"tables,omitempty"`

	// Bridge configures the backend gateway.
	Bridge BridgeConfig `yaml:"bridge" json:"bridge"`

	// Admin configures the admin HTTP server.
	Admin AdminConfig `yaml:"admin" json:"admin"`
}

// DataConfig configures the row store.
type DataConfig struct {
	// Path is the pebble directory. Ignored when InMemory is set.
	Path string `yaml:"path" json:"path"`

	// InMemory keeps all rows in memory. Useful for tests.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// Sync makes every commit durable before it returns.
	Sync bool `yaml:"sync" json:"sync"`

	// CacheSize is the pebble block cache size in bytes.
	CacheSize int64 `yaml:"cache_size" json:"cache_size"`
}

// CatalogConfig contains configuration for the catalog key-value store.
type CatalogConfig struct {
	// Type selects the store: "pebble", "redis" or "dynamodb".
	Type string `yaml:"type" json:"type"`

	// KeyPrefix namespaces every catalog key.
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`

	PebbleConfig   PebbleConfig   `yaml:"pebble_config,omitempty" json:"pebble_config,omitempty"`
	RedisConfig    RedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	DynamoDBConfig DynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`

	// MaxRetries is the maximum number of retries for failed operations.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// DialTimeout is the timeout for establishing connections.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// PebbleConfig configures a pebble catalog. An in-memory pebble catalog is
// kept inside the row database.
type PebbleConfig struct {
	Path     string `yaml:"path" json:"path"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

// RedisConfig configures a Redis catalog. The Redis change-feed queue uses
// the same connection settings.
type RedisConfig struct {
	// Endpoints is a list of Redis endpoints. Only the first is used.
	Endpoints []string `yaml:"endpoints" json:"endpoints"`

	// ClusterMode is rejected by validation; only single-node Redis is supported.
	ClusterMode bool `yaml:"cluster_mode" json:"cluster_mode"`

	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int    `yaml:"db" json:"db"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DynamoDBConfig configures a DynamoDB catalog.
type DynamoDBConfig struct {
	Region    string `yaml:"region" json:"region"`
	TableName string `yaml:"table_name" json:"table_name"`

	// Endpoint overrides the service endpoint, e.g. for LocalStack.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// ChangeFeedConfig configures the change-feed queue.
type ChangeFeedConfig struct {
	// Enabled turns on publication of committed row changes.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// QueueType specifies the queue implementation type.
	// Options: "memory", "redis", "kafka" (default: "memory").
	QueueType string `yaml:"queue_type" json:"queue_type"`

	// QueueBufferSize is the buffer size for the in-memory queue.
	QueueBufferSize int `yaml:"queue_buffer_size" json:"queue_buffer_size"`

	// RedisKey is the list holding the feed when QueueType is "redis".
	RedisKey string `yaml:"redis_key" json:"redis_key"`

	// KafkaConfig contains Kafka-specific configuration.
	// Only used when QueueType is "kafka".
	KafkaConfig KafkaConfig `yaml:"kafka_config" json:"kafka_config"`
}

// KafkaConfig contains configuration for the Kafka queue.
type KafkaConfig struct {
	// Brokers is a list of Kafka broker addresses (e.g., ["localhost:9092"]).
	Brokers []string `yaml:"brokers" json:"brokers"`

	// Topic is the Kafka topic carrying the change feed.
	Topic string `yaml:"topic" json:"topic"`

	// GroupID is the consumer group ID of the mirror.
	GroupID string `yaml:"group_id" json:"group_id"`

	// BatchSize is the batch size for the Kafka producer.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// BatchTimeout is the timeout for batching messages.
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout"`

	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// RequiredAcks is the number of acknowledgments required (0, 1, or -1 for all).
	RequiredAcks int `yaml:"required_acks" json:"required_acks"`

	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes"`
	MinBytes        int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes        int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait         time.Duration `yaml:"max_wait" json:"max_wait"`
}

// MirrorConfig configures the MySQL mirror.
type MirrorConfig struct {
	// Enabled turns on the mirror. It requires the change feed.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DrainRate is the default maximum number of MySQL writes per second.
	DrainRate int `yaml:"drain_rate" json:"drain_rate"`

	// BatchSize is how many changes are dequeued at once.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Interval is how long the drainer sleeps when the feed is empty.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// MaxRetries is the maximum number of retries for a failed change.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RetryBackoffBase is the base duration for exponential backoff retries.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base" json:"retry_backoff_base"`

	// Database is the MySQL connection.
	Database DatabaseConfig `yaml:"database" json:"database"`
}

// DatabaseConfig contains configuration for the MySQL connection.
type DatabaseConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`

	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// TableConfig contains table-specific mirror overrides.
type TableConfig struct {
	// Mirror indicates whether changes of this table are mirrored.
	Mirror bool `yaml:"mirror" json:"mirror"`

	// DrainRate overrides MirrorConfig.DrainRate for this table.
	DrainRate int `yaml:"drain_rate,omitempty" json:"drain_rate,omitempty"`

	// BatchSize overrides MirrorConfig.BatchSize for this table.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
}

// BridgeConfig configures the backend gateway.
type BridgeConfig struct {
	// LogAttach logs every outermost attach and detach.
	LogAttach bool `yaml:"log_attach" json:"log_attach"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Path:      "./data/kvbridge",
			Sync:      true,
			CacheSize: 64 << 20,
		},
		Catalog: CatalogConfig{
			Type:      "pebble",
			KeyPrefix: "kvbridge:",
			PebbleConfig: PebbleConfig{
				Path: "./data/catalog",
			},
			RedisConfig: RedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 5,
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		ChangeFeed: ChangeFeedConfig{
			QueueType:       "memory",
			QueueBufferSize: 10000,
			RedisKey:        "kvbridge:changefeed",
			KafkaConfig: KafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "kvbridge-changefeed",
				GroupID:         "kvbridge-mirror",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				ReadTimeout:     10 * time.Second,
				RequiredAcks:    -1,      // All replicas
				MaxMessageBytes: 1000000, // 1MB
				MinBytes:        1,
				MaxBytes:        10 * 1024 * 1024, // 10MB
				MaxWait:         100 * time.Millisecond,
			},
		},
		Mirror: MirrorConfig{
			DrainRate:        50,
			BatchSize:        100,
			Interval:         100 * time.Millisecond,
			MaxRetries:       5,
			RetryBackoffBase: 1 * time.Second,
			Database: DatabaseConfig{
				Host:              "localhost",
				Port:              3306,
				MaxOpenConns:      25,
				MaxIdleConns:      5,
				ConnMaxLifetime:   5 * time.Minute,
				ConnMaxIdleTime:   10 * time.Minute,
				ConnectionTimeout: 10 * time.Second,
			},
		},
		Tables: make(map[string]TableConfig),
		Admin: AdminConfig{
			ListenAddress: ":8089",
		},
	}
}
