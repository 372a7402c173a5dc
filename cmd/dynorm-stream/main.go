// Command dynorm-stream is the Lambda function attached to the entity
// table's stream. It drops unique cache entries for records changed or
// removed outside the command layer.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/dynorm/config"
	"github.com/jacentio/dynorm/schema"
	"github.com/jacentio/dynorm/store"
	"github.com/jacentio/dynorm/stream"
	"github.com/jacentio/dynorm/uniques"
)

func main() {
	settings, err := config.Load(os.Getenv("DYNORM_CONFIG"))
	if err != nil {
		slog.Error("load settings", "error", err)
		os.Exit(1)
	}
	level, _ := settings.LogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	reg, err := schema.LoadFile(settings.SchemaFile)
	if err != nil {
		logger.Error("load schema", "file", settings.SchemaFile, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("load aws config", "error", err)
		os.Exit(1)
	}
	client := dynamodb.NewFromConfig(cfg)

	cache := store.NewCache(client, settings.StoreConfig())
	handler := stream.NewHandler(uniques.New(reg, cache, settings.UniquesOptions(logger)), reg, logger)
	lambda.Start(handler.HandleInvalidation)
}
