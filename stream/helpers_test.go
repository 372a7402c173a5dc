package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// --- getStringAttr Tests ---

func TestGetStringAttr_ExistingString(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"kind": events.NewStringAttribute("app_user"),
	}

	result := getStringAttr(image, "kind")
	if result != "app_user" {
		t.Errorf("expected 'app_user', got %q", result)
	}
}

func TestGetStringAttr_MissingKey(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"other": events.NewStringAttribute("value"),
	}

	result := getStringAttr(image, "kind")
	if result != "" {
		t.Errorf("expected empty string for missing key, got %q", result)
	}
}

func TestGetStringAttr_NilImage(t *testing.T) {
	var image map[string]events.DynamoDBAttributeValue

	result := getStringAttr(image, "kind")
	if result != "" {
		t.Errorf("expected empty string for nil image, got %q", result)
	}
}

func TestGetStringAttr_NumberAttribute(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"kind": events.NewNumberAttribute("12"),
	}

	result := getStringAttr(image, "kind")
	if result != "" {
		t.Errorf("expected empty string for a number attribute, got %q", result)
	}
}

// --- convertValue Tests ---

func TestConvertValue_Scalars(t *testing.T) {
	if v, ok := convertValue(events.NewStringAttribute("x")).(*types.AttributeValueMemberS); !ok || v.Value != "x" {
		t.Error("expected string 'x'")
	}
	if v, ok := convertValue(events.NewNumberAttribute("42")).(*types.AttributeValueMemberN); !ok || v.Value != "42" {
		t.Error("expected number '42'")
	}
	if v, ok := convertValue(events.NewBooleanAttribute(true)).(*types.AttributeValueMemberBOOL); !ok || !v.Value {
		t.Error("expected boolean true")
	}
	if _, ok := convertValue(events.NewNullAttribute()).(*types.AttributeValueMemberNULL); !ok {
		t.Error("expected null")
	}
	if v, ok := convertValue(events.NewBinaryAttribute([]byte{1, 2})).(*types.AttributeValueMemberB); !ok || len(v.Value) != 2 {
		t.Error("expected two bytes")
	}
}

func TestConvertValue_Nested(t *testing.T) {
	av := convertValue(events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
		"tags": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("a"),
			events.NewNumberAttribute("1"),
		}),
	}))

	m, ok := av.(*types.AttributeValueMemberM)
	if !ok {
		t.Fatalf("expected map, got %T", av)
	}
	l, ok := m.Value["tags"].(*types.AttributeValueMemberL)
	if !ok || len(l.Value) != 2 {
		t.Fatalf("expected two-element list, got %#v", m.Value["tags"])
	}
	if v, ok := l.Value[1].(*types.AttributeValueMemberN); !ok || v.Value != "1" {
		t.Error("expected second element to be number '1'")
	}
}

func TestConvertValue_SetsDropped(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"set": events.NewStringSetAttribute([]string{"a"}),
		"s":   events.NewStringAttribute("b"),
	}

	result := ConvertStreamImage(image)
	if len(result) != 1 {
		t.Errorf("expected set attributes to be dropped, got %d attributes", len(result))
	}
}
