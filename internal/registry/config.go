package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigValidator is the Strategy interface for validating configuration.
// Each backend (Redis, DynamoDB, etc.) provides its own validator to validate
// backend-specific configuration using the Strategy pattern.
type ConfigValidator interface {
	// Validate validates the internal configuration for this KV store type.
	// It should validate only the catalog-specific configuration.
	Validate(config *InternalConfig) error

	// Type returns the type identifier for this validator (e.g., "redis", "dynamodb").
	Type() string
}

var (
	// validatorRegistry stores all registered config validators.
	validatorRegistry = make(map[string]ConfigValidator)

	// validatorRegistryMutex protects the validator registry from concurrent access.
	validatorRegistryMutex sync.RWMutex
)

// ValidationStrategyRegistry provides methods to register and retrieve config validators.
// This implements the Strategy pattern for configuration validation.
type ValidationStrategyRegistry struct{}

// Register registers a config validator.
// This is called automatically by each implementation's init() function.
// Panics if validator is nil, type is empty, or type is already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}

	validatorRegistry[validator.Type()] = validator
}

// Get retrieves a validator by type.
// Returns the validator and true if found, nil and false otherwise.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator is a convenience function to register a validator using the default registry.
// This is the preferred way to register validators from init() functions.
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator is a convenience function to retrieve a validator by type using the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

// defaultValidationRegistry is the default instance of ValidationStrategyRegistry.
var defaultValidationRegistry = &ValidationStrategyRegistry{}

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: defaultInternalConfig(),
	}
}

// defaultInternalConfig returns a configuration with sensible defaults.
func defaultInternalConfig() *InternalConfig {
	return &InternalConfig{
		Data: InternalDataConfig{
			Path:      "./data/kvbridge",
			Sync:      true,
			CacheSize: 64 << 20,
		},
		Catalog: InternalKVStoreConfig{
			Type:      "pebble",
			KeyPrefix: "kvbridge:",
			PebbleConfig: InternalPebbleConfig{
				Path: "./data/catalog",
			},
			RedisConfig: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				ClusterMode:  false,
				DB:           0,
				PoolSize:     10,
				MinIdleConns: 5,
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		ChangeFeed: InternalChangeFeedConfig{
			Enabled:         false,
			QueueType:       "memory",
			QueueBufferSize: 10000,
			RedisKey:        "kvbridge:changefeed",
			KafkaConfig: InternalKafkaConfig{
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
		Mirror: InternalMirrorConfig{
			Enabled:          false,
			DrainRate:        50,
			BatchSize:        100,
			Interval:         100 * time.Millisecond,
			MaxRetries:       5,
			RetryBackoffBase: 1 * time.Second,
			Database: InternalDatabaseConfig{
				Host:              "localhost",
				Port:              3306,
				MaxOpenConns:      25,
				MaxIdleConns:      5,
				ConnMaxLifetime:   5 * time.Minute,
				ConnMaxIdleTime:   10 * time.Minute,
				ConnectionTimeout: 10 * time.Second,
			},
		},
		Tables: make(map[string]InternalTableConfig),
		Admin: InternalAdminConfig{
			ListenAddress: ":8089",
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
// The file format is determined by the file extension (.yaml, .yml, or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := defaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// LoadFromJSON loads configuration from JSON data.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := defaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables follow the pattern: KVBRIDGE_<SECTION>_<KEY>
// Examples:
//   - KVBRIDGE_DATA_PATH=/var/lib/kvbridge
//   - KVBRIDGE_CATALOG_TYPE=redis
//   - KVBRIDGE_CATALOG_ENDPOINTS=localhost:6379,localhost:6380
//   - KVBRIDGE_CHANGEFEED_QUEUE_TYPE=kafka
//   - KVBRIDGE_MIRROR_DATABASE_HOST=localhost
func (cm *ConfigManager) LoadFromEnv() error {
	config := defaultInternalConfig()

	// Data store configuration
	if val := os.Getenv("KVBRIDGE_DATA_PATH"); val != "" {
		config.Data.Path = val
	}
	if val := os.Getenv("KVBRIDGE_DATA_IN_MEMORY"); val != "" {
		config.Data.InMemory = (val == "true" || val == "1")
	}
	if val := os.Getenv("KVBRIDGE_DATA_SYNC"); val != "" {
		config.Data.Sync = (val == "true" || val == "1")
	}
	if val := os.Getenv("KVBRIDGE_DATA_CACHE_SIZE"); val != "" {
		var size int64
		if _, err := fmt.Sscanf(val, "%d", &size); err == nil {
			config.Data.CacheSize = size
		}
	}

	// Catalog configuration
	if val := os.Getenv("KVBRIDGE_CATALOG_TYPE"); val != "" {
		config.Catalog.Type = val
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_KEY_PREFIX"); val != "" {
		config.Catalog.KeyPrefix = val
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_PATH"); val != "" {
		config.Catalog.PebbleConfig.Path = val
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_IN_MEMORY"); val != "" {
		config.Catalog.PebbleConfig.InMemory = (val == "true" || val == "1")
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_ENDPOINTS"); val != "" {
		config.Catalog.RedisConfig.Endpoints = strings.Split(val, ",")
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_PASSWORD"); val != "" {
		config.Catalog.RedisConfig.Password = val
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_DB"); val != "" {
		var db int
		if _, err := fmt.Sscanf(val, "%d", &db); err == nil {
			config.Catalog.RedisConfig.DB = db
		}
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_POOL_SIZE"); val != "" {
		var size int
		if _, err := fmt.Sscanf(val, "%d", &size); err == nil {
			config.Catalog.RedisConfig.PoolSize = size
		}
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_REGION"); val != "" {
		config.Catalog.DynamoDBConfig.Region = val
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_TABLE_NAME"); val != "" {
		config.Catalog.DynamoDBConfig.TableName = val
	}
	if val := os.Getenv("KVBRIDGE_CATALOG_ENDPOINT"); val != "" {
		config.Catalog.DynamoDBConfig.Endpoint = val
	}

	// Change feed configuration
	if val := os.Getenv("KVBRIDGE_CHANGEFEED_ENABLED"); val != "" {
		config.ChangeFeed.Enabled = (val == "true" || val == "1")
	}
	if val := os.Getenv("KVBRIDGE_CHANGEFEED_QUEUE_TYPE"); val != "" {
		config.ChangeFeed.QueueType = val
	}
	if val := os.Getenv("KVBRIDGE_CHANGEFEED_KAFKA_BROKERS"); val != "" {
		config.ChangeFeed.KafkaConfig.Brokers = strings.Split(val, ",")
	}
	if val := os.Getenv("KVBRIDGE_CHANGEFEED_KAFKA_TOPIC"); val != "" {
		config.ChangeFeed.KafkaConfig.Topic = val
	}

	// Mirror configuration
	if val := os.Getenv("KVBRIDGE_MIRROR_ENABLED"); val != "" {
		config.Mirror.Enabled = (val == "true" || val == "1")
	}
	if val := os.Getenv("KVBRIDGE_MIRROR_DRAIN_RATE"); val != "" {
		var drainRate int
		if _, err := fmt.Sscanf(val, "%d", &drainRate); err == nil {
			config.Mirror.DrainRate = drainRate
		}
	}
	if val := os.Getenv("KVBRIDGE_MIRROR_BATCH_SIZE"); val != "" {
		var batchSize int
		if _, err := fmt.Sscanf(val, "%d", &batchSize); err == nil {
			config.Mirror.BatchSize = batchSize
		}
	}
	if val := os.Getenv("KVBRIDGE_MIRROR_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			config.Mirror.Interval = interval
		}
	}
	if val := os.Getenv("KVBRIDGE_MIRROR_DATABASE_HOST"); val != "" {
		config.Mirror.Database.Host = val
	}
	if val := os.Getenv("KVBRIDGE_MIRROR_DATABASE_PORT"); val != "" {
		var port int
		if _, err := fmt.Sscanf(val, "%d", &port); err == nil {
			config.Mirror.Database.Port = port
		}
	}
	if val := os.Getenv("KVBRIDGE_MIRROR_DATABASE_DATABASE"); val != "" {
		config.Mirror.Database.Database = val
	}
	if val := os.Getenv("KVBRIDGE_MIRROR_DATABASE_USERNAME"); val != "" {
		config.Mirror.Database.Username = val
	}
	if val := os.Getenv("KVBRIDGE_MIRROR_DATABASE_PASSWORD"); val != "" {
		config.Mirror.Database.Password = val
	}

	// Bridge and admin configuration
	if val := os.Getenv("KVBRIDGE_BRIDGE_LOG_ATTACH"); val != "" {
		config.Bridge.LogAttach = (val == "true" || val == "1")
	}
	if val := os.Getenv("KVBRIDGE_ADMIN_LISTEN_ADDRESS"); val != "" {
		config.Admin.ListenAddress = val
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// GetConfig returns the current internal configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// GetTableConfig returns the mirror configuration for a specific table.
// If table-specific configuration exists, it is merged with defaults.
func (cm *ConfigManager) GetTableConfig(tableName string) InternalTableConfig {
	tableConfig, exists := cm.config.Tables[tableName]
	if !exists {
		// Return default table config
		return InternalTableConfig{
			Mirror:    cm.config.Mirror.Enabled,
			DrainRate: cm.config.Mirror.DrainRate,
			BatchSize: cm.config.Mirror.BatchSize,
		}
	}

	// Merge with defaults
	if tableConfig.DrainRate == 0 {
		tableConfig.DrainRate = cm.config.Mirror.DrainRate
	}
	if tableConfig.BatchSize == 0 {
		tableConfig.BatchSize = cm.config.Mirror.BatchSize
	}

	return tableConfig
}

// validateConfig validates the configuration and returns an error if invalid.
// Uses Strategy pattern for catalog validation - no if-else statements needed.
func (cm *ConfigManager) validateConfig(config *InternalConfig) error {
	// Validate data store configuration
	if !config.Data.InMemory && config.Data.Path == "" {
		return fmt.Errorf("data.path is required unless data.in_memory is set")
	}
	if config.Data.CacheSize < 0 {
		return fmt.Errorf("data.cache_size must be non-negative")
	}

	// Validate catalog configuration using Strategy pattern
	if config.Catalog.Type == "" {
		return fmt.Errorf("catalog.type is required")
	}

	// Get validator from registry based on config type (Strategy pattern)
	validator, exists := GetValidator(config.Catalog.Type)
	if !exists {
		return fmt.Errorf("unsupported KV store type: %s", config.Catalog.Type)
	}

	// Use strategy - validator.Validate handles the specific validation
	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("catalog validation failed: %w", err)
	}

	// Validate change feed configuration
	feed := config.ChangeFeed
	if feed.QueueType != "" && feed.QueueType != "memory" && feed.QueueType != "redis" && feed.QueueType != "kafka" {
		return fmt.Errorf("changefeed.queue_type must be 'memory', 'redis', or 'kafka'")
	}
	if feed.QueueBufferSize < 0 {
		return fmt.Errorf("changefeed.queue_buffer_size must be non-negative")
	}

	// Validate Kafka config if queue type is kafka
	if feed.QueueType == "kafka" {
		if len(feed.KafkaConfig.Brokers) == 0 {
			return fmt.Errorf("kafka_config.brokers is required when queue_type is 'kafka'")
		}
		if feed.KafkaConfig.Topic == "" {
			return fmt.Errorf("kafka_config.topic is required when queue_type is 'kafka'")
		}
	}
	if feed.QueueType == "redis" && feed.RedisKey == "" {
		return fmt.Errorf("changefeed.redis_key is required when queue_type is 'redis'")
	}

	// Validate mirror configuration
	if config.Mirror.Enabled {
		if !feed.Enabled {
			return fmt.Errorf("mirror requires changefeed.enabled")
		}
		if config.Mirror.DrainRate <= 0 {
			return fmt.Errorf("mirror.drain_rate must be greater than 0")
		}
		if config.Mirror.BatchSize <= 0 {
			return fmt.Errorf("mirror.batch_size must be greater than 0")
		}
		if config.Mirror.Interval <= 0 {
			return fmt.Errorf("mirror.interval must be greater than 0")
		}
		if config.Mirror.MaxRetries < 0 {
			return fmt.Errorf("mirror.max_retries must be non-negative")
		}

		db := config.Mirror.Database
		if db.Host == "" {
			return fmt.Errorf("mirror.database.host is required")
		}
		if db.Port <= 0 || db.Port > 65535 {
			return fmt.Errorf("mirror.database.port must be between 1 and 65535")
		}
		if db.Database == "" {
			return fmt.Errorf("mirror.database.database is required")
		}
		if db.Username == "" {
			return fmt.Errorf("mirror.database.username is required")
		}
		if db.MaxOpenConns <= 0 {
			return fmt.Errorf("mirror.database.max_open_conns must be greater than 0")
		}
	}

	if config.Admin.ListenAddress == "" {
		return fmt.Errorf("admin.listen_address is required")
	}

	return nil
}
