package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableAPI is the part of the DynamoDB client table provisioning uses.
type TableAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

var _ TableAPI = (*dynamodb.Client)(nil)

// tableWait bounds how long CreateTables waits for a table to become active.
const tableWait = 2 * time.Minute

func (c Config) tables() []*dynamodb.CreateTableInput {
	s := func(name string) types.AttributeDefinition {
		return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
	}
	return []*dynamodb.CreateTableInput{
		{
			TableName: aws.String(c.EntityTable),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrKind), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(attrKey), KeyType: types.KeyTypeRange},
			},
			AttributeDefinitions: []types.AttributeDefinition{s(attrKind), s(attrKey)},
			BillingMode:          types.BillingModePayPerRequest,
			// Old images feed cache invalidation in the stream handler.
			StreamSpecification: &types.StreamSpecification{
				StreamEnabled:  aws.Bool(true),
				StreamViewType: types.StreamViewTypeNewAndOldImages,
			},
		},
		{
			TableName:            aws.String(c.SequenceTable),
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String(attrKind), KeyType: types.KeyTypeHash}},
			AttributeDefinitions: []types.AttributeDefinition{s(attrKind)},
			BillingMode:          types.BillingModePayPerRequest,
		},
		{
			TableName:            aws.String(c.CacheTable),
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash}},
			AttributeDefinitions: []types.AttributeDefinition{s(attrPK)},
			BillingMode:          types.BillingModePayPerRequest,
		},
	}
}

// CreateTables provisions the entity, sequence and cache tables described
// by config and enables expiry on the cache table. Tables that already
// exist are left as they are.
func CreateTables(ctx context.Context, client TableAPI, config Config) error {
	config.validate()
	inputs := config.tables()
	for _, input := range inputs {
		_, err := client.CreateTable(ctx, input)
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", aws.ToString(input.TableName), err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	for _, input := range inputs {
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName}, tableWait); err != nil {
			return fmt.Errorf("wait for table %s: %w", aws.ToString(input.TableName), err)
		}
	}

	_, err := client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(config.CacheTable),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(attrTTL),
			Enabled:       aws.Bool(true),
		},
	})
	// Enabling TTL twice is rejected; treat it as done.
	if err != nil && !isTTLAlreadyEnabled(err) {
		return fmt.Errorf("enable ttl on %s: %w", config.CacheTable, err)
	}
	return nil
}

// DeleteTables removes the tables described by config. Missing tables are
// ignored.
func DeleteTables(ctx context.Context, client TableAPI, config Config) error {
	config.validate()
	for _, input := range config.tables() {
		_, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: input.TableName})
		var missing *types.ResourceNotFoundException
		if err != nil && !errors.As(err, &missing) {
			return fmt.Errorf("delete table %s: %w", aws.ToString(input.TableName), err)
		}
	}
	return nil
}

func isTTLAlreadyEnabled(err error) bool {
	var ve interface{ ErrorCode() string }
	if !errors.As(err, &ve) {
		return false
	}
	return ve.ErrorCode() == "ValidationException"
}
