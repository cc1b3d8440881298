package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
)

// DynamoDB accepts at most 25 requests per BatchWriteItem call.
const dynamoBatchLimit = 25

// catalogItem is one catalog entry. The table's partition key is "key"; a
// TTL attribute named "ttl" lets DynamoDB reap expired entries.
type catalogItem struct {
	Key       string `dynamodbav:"key"`
	Value     []byte `dynamodbav:"value"`
	ExpiresAt int64  `dynamodbav:"ttl,omitempty"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

// expired reports whether the entry outlived its TTL. DynamoDB deletes
// expired items lazily, so reads filter them too.
func (it *catalogItem) expired(now time.Time) bool {
	return it.ExpiresAt > 0 && now.Unix() > it.ExpiresAt
}

// DynamoDBKVStore implements core.KVStore on a DynamoDB table.
// Reads are strongly consistent so a schema written by CREATE TABLE is
// visible to the next open.
type DynamoDBKVStore struct {
	client     *dynamodb.Client
	tableName  string
	prefix     string
	maxRetries int
	closed     atomic.Bool
}

// NewDynamoDBKVStore builds a client for config and checks that the
// catalog table exists.
func NewDynamoDBKVStore(cfg KVStoreConfig) (*DynamoDBKVStore, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}
	timeout := time.Duration(cfg.DialTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.RetryMaxAttempts = cfg.MaxRetries + 1
	})

	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(cfg.TableName),
	}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", cfg.TableName, err)
	}

	log.Printf("[DYNAMODB] Using catalog table %s in %s", cfg.TableName, cfg.Region)
	return &DynamoDBKVStore{
		client:     client,
		tableName:  cfg.TableName,
		prefix:     cfg.KeyPrefix,
		maxRetries: cfg.MaxRetries,
	}, nil
}

func (d *DynamoDBKVStore) check() error {
	if d.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

func (d *DynamoDBKVStore) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: d.prefix + key},
	}
}

func (d *DynamoDBKVStore) item(key string, value []byte, ttl time.Duration) (map[string]types.AttributeValue, error) {
	now := time.Now()
	it := catalogItem{
		Key:       d.prefix + key,
		Value:     value,
		UpdatedAt: now.UTC().Format(time.RFC3339),
	}
	if ttl > 0 {
		it.ExpiresAt = now.Add(ttl).Unix()
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key %s: %w", key, err)
	}
	return av, nil
}

// Get retrieves a catalog value.
func (d *DynamoDBKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		log.Printf("[DYNAMODB] ERROR: Failed to get key %s: %v", key, err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}

	var it catalogItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("invalid catalog item for key %s: %w", key, err)
	}
	if it.expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s (expired)", core.ErrKeyNotFound, key)
	}
	return it.Value, nil
}

// Set stores a catalog value. A non-positive ttl never expires.
func (d *DynamoDBKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := d.check(); err != nil {
		return err
	}
	av, err := d.item(key, value, ttl)
	if err != nil {
		return err
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	}); err != nil {
		log.Printf("[DYNAMODB] ERROR: Failed to set key %s: %v", key, err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a catalog value.
func (d *DynamoDBKVStore) Delete(ctx context.Context, key string) error {
	if err := d.check(); err != nil {
		return err
	}
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.keyAttr(key),
	}); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an unexpired catalog entry is present.
func (d *DynamoDBKVStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.Get(ctx, key)
	if errors.Is(err, core.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// BatchSet writes items in chunks of 25. DynamoDB batches are not atomic;
// unprocessed items are resubmitted up to the configured retry count.
func (d *DynamoDBKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := d.check(); err != nil {
		return err
	}

	requests := make([]types.WriteRequest, 0, len(items))
	for key, value := range items {
		av, err := d.item(key, value, ttl)
		if err != nil {
			return err
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}

	for start := 0; start < len(requests); start += dynamoBatchLimit {
		end := start + dynamoBatchLimit
		if end > len(requests) {
			end = len(requests)
		}
		if err := d.writeBatch(ctx, requests[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *DynamoDBKVStore) writeBatch(ctx context.Context, batch []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{d.tableName: batch}
	for attempt := 0; ; attempt++ {
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("failed to batch set keys: %w", err)
		}
		if len(out.UnprocessedItems[d.tableName]) == 0 {
			return nil
		}
		if attempt >= d.maxRetries {
			return fmt.Errorf("failed to batch set keys: %d items unprocessed after %d retries",
				len(out.UnprocessedItems[d.tableName]), attempt)
		}
		pending = out.UnprocessedItems
		log.Printf("[DYNAMODB] Retrying %d unprocessed items", len(pending[d.tableName]))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(50<<attempt) * time.Millisecond):
		}
	}
}

// Close marks the store closed. The SDK client holds no connections that
// need releasing.
func (d *DynamoDBKVStore) Close() error {
	d.closed.Store(true)
	return nil
}

// DynamoDBKVStoreFactory creates DynamoDB catalog stores.
type DynamoDBKVStoreFactory struct{}

// Type returns "dynamodb".
func (f *DynamoDBKVStoreFactory) Type() string {
	return "dynamodb"
}

// Validate checks the DynamoDB settings.
func (f *DynamoDBKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	switch {
	case config.Region == "":
		return fmt.Errorf("region is required for DynamoDB")
	case config.TableName == "":
		return fmt.Errorf("table_name is required for DynamoDB")
	case config.MaxRetries < 0:
		return fmt.Errorf("max_retries must be non-negative, got: %d", config.MaxRetries)
	case (config.AccessKeyID == "") != (config.SecretAccessKey == ""):
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return validateTimeouts(config)
}

// Create connects a DynamoDB catalog store.
func (f *DynamoDBKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewDynamoDBKVStore(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB KV store: %w", err)
	}
	return store, nil
}

func init() {
	factory := &DynamoDBKVStoreFactory{}
	RegisterFactory(factory)
	registry.RegisterValidator(catalogValidator{factory: factory})
}
