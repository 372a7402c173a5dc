package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynorm/cache"
	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/internal/keyhash"
)

// Cache table attributes.
const (
	attrPK       = "pk"
	attrCacheKey = "cache_key"
	attrEntity   = "entity"
	attrTTL      = "ttl"
)

var _ cache.Cache = (*Cache)(nil)

// Cache is a cache.Cache backed by a DynamoDB table with TTL enabled on
// the "ttl" attribute. Cache keys are hashed into the partition key since
// they may exceed DynamoDB's key size limits.
type Cache struct {
	client API
	config Config
	now    func() time.Time
}

// NewCache creates a cache over config.CacheTable.
func NewCache(client API, config Config) *Cache {
	config.validate()
	return &Cache{client: client, config: config, now: time.Now}
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) (*datastore.Entity, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.config.CacheTable),
		Key:       PK{attrPK: &types.AttributeValueMemberS{Value: keyhash.Sum(key)}},
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || Expired(result.Item, c.now()) {
		return nil, cache.ErrCacheMiss
	}
	stored, ok := result.Item[attrCacheKey].(*types.AttributeValueMemberS)
	if !ok || stored.Value != key {
		return nil, cache.ErrCacheMiss
	}
	m, ok := result.Item[attrEntity].(*types.AttributeValueMemberM)
	if !ok {
		return nil, fmt.Errorf("%w: cache entry %q without entity", ErrCorruptItem, key)
	}
	return ItemToEntity(m.Value)
}

// Set implements cache.Cache.
func (c *Cache) Set(ctx context.Context, key string, e *datastore.Entity, ttl time.Duration) error {
	item, err := EntityToItem(e)
	if err != nil {
		return err
	}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.config.CacheTable),
		Item: map[string]types.AttributeValue{
			attrPK:       &types.AttributeValueMemberS{Value: keyhash.Sum(key)},
			attrCacheKey: &types.AttributeValueMemberS{Value: key},
			attrEntity:   &types.AttributeValueMemberM{Value: item},
			attrTTL:      expiry(c.now(), ttl),
		},
	})
	return err
}

// Delete implements cache.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.config.CacheTable),
		Key:       PK{attrPK: &types.AttributeValueMemberS{Value: keyhash.Sum(key)}},
	})
	return err
}
