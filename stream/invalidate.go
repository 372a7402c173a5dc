// Package stream provides DynamoDB Streams handlers that keep the unique
// cache in step with writes made outside the command layer.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/mapper"
	"github.com/jacentio/dynorm/schema"
	"github.com/jacentio/dynorm/store"
	"github.com/jacentio/dynorm/uniques"
)

// Handler processes entity table stream events.
type Handler struct {
	uniques  *uniques.Uniques
	registry *schema.Registry
	logger   *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(u *uniques.Uniques, reg *schema.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		uniques:  u,
		registry: reg,
		logger:   logger,
	}
}

// HandleInvalidation drops unique cache entries that modified or removed
// records no longer hold. It is designed to be used as an AWS Lambda
// handler. Records that cannot be decoded are logged and skipped; the cache
// is advisory and its entries expire on their own.
func (h *Handler) HandleInvalidation(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Warn("skipping stream record",
				"eventID", record.EventID,
				"error", err,
			)
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "MODIFY" && record.EventName != "REMOVE" {
		return nil
	}
	if len(record.Change.OldImage) == 0 {
		return nil
	}

	kind := getStringAttr(record.Change.OldImage, "kind")
	if !h.ownsKind(kind) {
		return nil
	}

	old, err := decodeImage(record.Change.OldImage)
	if err != nil {
		return fmt.Errorf("old image: %w", err)
	}
	m, ok := h.registry.ModelForKind(kind, mapper.Classes(old))
	if !ok {
		return fmt.Errorf("no model for kind %q", kind)
	}

	var current *datastore.Entity
	if record.EventName == "MODIFY" {
		if current, err = decodeImage(record.Change.NewImage); err != nil {
			return fmt.Errorf("new image: %w", err)
		}
	}

	removed := h.uniques.Invalidate(ctx, m, old, current)
	h.logger.Debug("invalidated unique cache",
		"event", record.EventName,
		"key", old.Key.String(),
		"removed", removed,
	)
	return nil
}

func (h *Handler) ownsKind(kind string) bool {
	for _, k := range h.registry.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func decodeImage(image map[string]events.DynamoDBAttributeValue) (*datastore.Entity, error) {
	return store.ItemToEntity(ConvertStreamImage(image))
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// ConvertStreamImage converts a DynamoDB stream image to the attribute
// values the SDK uses, so stream records decode like items read directly.
func ConvertStreamImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, item := range list {
			if av := convertValue(item); av != nil {
				out = append(out, av)
			}
		}
		return &types.AttributeValueMemberL{Value: out}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertStreamImage(v.Map())}
	}
	return nil
}
