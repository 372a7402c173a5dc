package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynorm/datastore"
)

// API is the part of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var (
	_ API                 = (*dynamodb.Client)(nil)
	_ datastore.Datastore = (*Store)(nil)
)

// Store is a datastore.Datastore backed by a single DynamoDB table.
type Store struct {
	client API
	config Config
}

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Get retrieves an entity by key, returning datastore.ErrNoSuchEntity if it
// is missing.
func (s *Store) Get(ctx context.Context, key datastore.Key) (*datastore.Entity, error) {
	if key.Incomplete() {
		return nil, fmt.Errorf("%w: get with incomplete key %s", datastore.ErrInvalidKey, key)
	}
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.EntityTable),
		Key:            keyItem(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, datastore.ErrNoSuchEntity
	}
	return ItemToEntity(result.Item)
}

// Put writes e, replacing any stored item under the same key. Incomplete
// keys get the next id of their kind's sequence.
func (s *Store) Put(ctx context.Context, e *datastore.Entity) (datastore.Key, error) {
	if e == nil || e.Key.Kind == "" {
		return datastore.Key{}, fmt.Errorf("%w: entity without kind", datastore.ErrInvalidKey)
	}
	key := e.Key
	if key.Incomplete() {
		id, err := s.allocate(ctx, key.Kind)
		if err != nil {
			return datastore.Key{}, err
		}
		key.ID = id
	} else if key.ID > 0 {
		if err := s.reserve(ctx, key.Kind, key.ID); err != nil {
			return datastore.Key{}, err
		}
	}

	item, err := EntityToItem(&datastore.Entity{Key: key, Properties: e.Properties})
	if err != nil {
		return datastore.Key{}, err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.EntityTable),
		Item:      item,
	})
	if err != nil {
		return datastore.Key{}, err
	}
	return key, nil
}

// Delete removes the items stored under keys. Missing items are ignored.
func (s *Store) Delete(ctx context.Context, keys ...datastore.Key) error {
	for _, key := range keys {
		if key.Incomplete() {
			continue
		}
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.config.EntityTable),
			Key:       keyItem(key),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Kinds lists every kind that holds at least one item.
func (s *Store) Kinds(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.config.EntityTable),
		ProjectionExpression:     aws.String("#kind"),
		ExpressionAttributeNames: map[string]string{"#kind": attrKind},
		Limit:                    aws.Int32(s.config.PageSize),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if v, ok := item[attrKind].(*types.AttributeValueMemberS); ok {
				seen[v.Value] = true
			}
		}
	}

	kinds := make([]string, 0, len(seen))
	for kind := range seen {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds, nil
}

// allocate returns the next id of kind's sequence.
func (s *Store) allocate(ctx context.Context, kind string) (int64, error) {
	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.config.SequenceTable),
		Key:                      PK{attrKind: &types.AttributeValueMemberS{Value: kind}},
		UpdateExpression:         aws.String("ADD #next :one"),
		ExpressionAttributeNames: map[string]string{"#next": "next"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, err
	}
	next, ok := result.Attributes["next"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSequence, kind)
	}
	id, err := strconv.ParseInt(next.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSequence, kind, err)
	}
	return id, nil
}

// reserve moves kind's sequence past an explicitly chosen id so later
// allocations never hand it out again.
func (s *Store) reserve(ctx context.Context, kind string, id int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.config.SequenceTable),
		Key:                      PK{attrKind: &types.AttributeValueMemberS{Value: kind}},
		UpdateExpression:         aws.String("SET #next = :id"),
		ConditionExpression:      aws.String("attribute_not_exists(#next) OR #next < :id"),
		ExpressionAttributeNames: map[string]string{"#next": "next"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		},
	})

	// Ignore condition failure - sequence already past id
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}
