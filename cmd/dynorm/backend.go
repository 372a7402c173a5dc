package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/dynorm/boltstore"
	"github.com/jacentio/dynorm/cache"
	"github.com/jacentio/dynorm/codec"
	"github.com/jacentio/dynorm/command"
	"github.com/jacentio/dynorm/config"
	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/indexing"
	"github.com/jacentio/dynorm/mapper"
	"github.com/jacentio/dynorm/schema"
	"github.com/jacentio/dynorm/store"
	"github.com/jacentio/dynorm/uniques"
)

// newDynamoClient builds a DynamoDB client from the AWS shared config,
// honouring the region, profile and endpoint settings.
func newDynamoClient(ctx context.Context, s config.DynamoDB) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.Region))
	}
	if s.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
		}
	}), nil
}

// backend is an opened datastore and cache.
type backend struct {
	store datastore.Datastore
	cache cache.Cache
	close func() error
}

func openBackend(ctx context.Context, s *config.Settings) (*backend, error) {
	switch s.Backend {
	case config.BackendDynamoDB:
		client, err := newDynamoClient(ctx, s.DynamoDB)
		if err != nil {
			return nil, err
		}
		cfg := s.StoreConfig()
		return &backend{
			store: store.New(client, cfg),
			cache: store.NewCache(client, cfg),
			close: func() error { return nil },
		}, nil
	case config.BackendBolt:
		bs, err := boltstore.Open(s.Bolt.Path)
		if err != nil {
			return nil, err
		}
		return &backend{store: bs, cache: cache.NewMemory(), close: bs.Close}, nil
	case config.BackendMemory:
		return &backend{store: datastore.NewMemory(), cache: cache.NewMemory(), close: func() error { return nil }}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", s.Backend)
}

// loadRegistry loads the configured schema file, or an empty registry when
// none is set.
func loadRegistry(s *config.Settings) (*schema.Registry, error) {
	if s.SchemaFile == "" {
		return schema.NewBuilder(s.AppLabel).Build()
	}
	return schema.LoadFile(s.SchemaFile)
}

// newEnv wires a command environment over b.
func newEnv(s *config.Settings, b *backend) (*command.Env, error) {
	reg, err := loadRegistry(s)
	if err != nil {
		return nil, err
	}
	indexes, err := indexing.FromSchema(reg)
	if err != nil {
		return nil, err
	}
	return &command.Env{
		Store:   b.store,
		Mapper:  mapper.New(reg, codec.New(s.CodecOptions(logger)), indexes),
		Uniques: uniques.New(reg, b.cache, s.UniquesOptions(logger)),
		Logger:  logger,
		Options: s.CommandOptions(),
	}, nil
}
