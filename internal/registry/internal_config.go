package registry

import (
	"time"
)

// InternalConfig represents the internal configuration structure.
// This is a copy of the public Config type to avoid import cycles.
type InternalConfig struct {
	Data       InternalDataConfig             `yaml:"data" json:"data"`
	Catalog    InternalKVStoreConfig          `yaml:"catalog" json:"catalog"`
	ChangeFeed InternalChangeFeedConfig       `yaml:"changefeed" json:"changefeed"`
	Mirror     InternalMirrorConfig           `yaml:"mirror" json:"mirror"`
	Tables     map[string]InternalTableConfig `yaml:"tables,omitempty" json:"tables,omitempty"`
	Bridge     InternalBridgeConfig           `yaml:"bridge" json:"bridge"`
	Admin      InternalAdminConfig            `yaml:"admin" json:"admin"`
}

// InternalDataConfig configures the pebble store that holds rows and indexes.
type InternalDataConfig struct {
	Path      string `yaml:"path" json:"path"`
	InMemory  bool   `yaml:"in_memory" json:"in_memory"`
	Sync      bool   `yaml:"sync" json:"sync"`
	CacheSize int64  `yaml:"cache_size" json:"cache_size"`
}

// InternalKVStoreConfig contains configuration for the catalog key-value store.
// The catalog holds table schemas, row counts and auto-increment counters and
// can live in pebble, Redis or DynamoDB through the factory registry.
type InternalKVStoreConfig struct {
	Type           string                 `yaml:"type" json:"type"`
	KeyPrefix      string                 `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
	PebbleConfig   InternalPebbleConfig   `yaml:"pebble_config,omitempty" json:"pebble_config,omitempty"`
	RedisConfig    InternalRedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	DynamoDBConfig InternalDynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`
	MaxRetries     int                    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout    time.Duration          `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout    time.Duration          `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout   time.Duration          `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// InternalPebbleConfig contains pebble-specific catalog configuration.
type InternalPebbleConfig struct {
	Path     string `yaml:"path" json:"path"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

// InternalRedisConfig contains Redis-specific configuration.
type InternalRedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	ClusterMode  bool     `yaml:"cluster_mode" json:"cluster_mode"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db" json:"db"`
	PoolSize     int      `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// InternalChangeFeedConfig configures the queue that receives committed row changes.
type InternalChangeFeedConfig struct {
	Enabled         bool                `yaml:"enabled" json:"enabled"`
	QueueType       string              `yaml:"queue_type" json:"queue_type"`
	QueueBufferSize int                 `yaml:"queue_buffer_size" json:"queue_buffer_size"`
	RedisKey        string              `yaml:"redis_key" json:"redis_key"`
	KafkaConfig     InternalKafkaConfig `yaml:"kafka_config" json:"kafka_config"`
}

// InternalKafkaConfig contains Kafka-specific configuration.
type InternalKafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers"`
	Topic           string        `yaml:"topic" json:"topic"`
	GroupID         string        `yaml:"group_id" json:"group_id"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes"`
	MinBytes        int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes        int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait         time.Duration `yaml:"max_wait" json:"max_wait"`
}

// InternalMirrorConfig configures replay of the change feed into MySQL.
type InternalMirrorConfig struct {
	Enabled          bool                   `yaml:"enabled" json:"enabled"`
	DrainRate        int                    `yaml:"drain_rate" json:"drain_rate"` // Operations per second for DB writes
	BatchSize        int                    `yaml:"batch_size" json:"batch_size"`
	Interval         time.Duration          `yaml:"interval" json:"interval"`
	MaxRetries       int                    `yaml:"max_retries" json:"max_retries"`
	RetryBackoffBase time.Duration          `yaml:"retry_backoff_base" json:"retry_backoff_base"`
	Database         InternalDatabaseConfig `yaml:"database" json:"database"`
}

// InternalDatabaseConfig contains configuration for the MySQL connection.
type InternalDatabaseConfig struct {
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	Database          string        `yaml:"database" json:"database"`
	Username          string        `yaml:"username" json:"username"`
	Password          string        `yaml:"password,omitempty" json:"password,omitempty"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// InternalTableConfig contains per-table mirror overrides.
type InternalTableConfig struct {
	Mirror    bool `yaml:"mirror" json:"mirror"`
	DrainRate int  `yaml:"drain_rate" json:"drain_rate"`
	BatchSize int  `yaml:"batch_size" json:"batch_size"`
}

// InternalBridgeConfig configures the backend gateway.
type InternalBridgeConfig struct {
	LogAttach bool `yaml:"log_attach" json:"log_attach"`
}

// InternalAdminConfig configures the admin HTTP server.
type InternalAdminConfig struct {
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}
