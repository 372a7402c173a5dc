package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynorm/datastore"
)

// --- joinStrings Tests ---

func TestJoinStrings_Empty(t *testing.T) {
	result := joinStrings([]string{}, ", ")
	if result != "" {
		t.Errorf("expected empty string for empty slice, got %q", result)
	}
}

func TestJoinStrings_Single(t *testing.T) {
	result := joinStrings([]string{"one"}, " AND ")
	if result != "one" {
		t.Errorf("expected 'one', got %q", result)
	}
}

func TestJoinStrings_FilterExpression(t *testing.T) {
	clauses := []string{"#attr1 > :val1", "#attr2 <= :val2"}
	result := joinStrings(clauses, " AND ")
	expected := "#attr1 > :val1 AND #attr2 <= :val2"
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

// --- item encoding Tests ---

func TestEntityToItem_RoundTrip(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 123000, time.UTC)
	e := datastore.NewEntity(datastore.IDKey("app_book", 42))
	e.Properties["title"] = "Dune"
	e.Properties["pages"] = int64(412)
	e.Properties["rating"] = 4.5
	e.Properties["whole"] = float64(3)
	e.Properties["published"] = true
	e.Properties["blurb"] = datastore.Text("long text")
	e.Properties["cover"] = datastore.Blob{0x1, 0x2}
	e.Properties["added"] = when
	e.Properties["author_id"] = datastore.NameKey("app_author", "frank")
	e.Properties["missing"] = nil
	e.Properties["tags"] = []any{"sf", int64(1), 2.5, when}

	item, err := EntityToItem(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := item["p_title"]; !ok {
		t.Error("expected properties under the p_ prefix")
	}
	if _, ok := item[attrTypes]; !ok {
		t.Error("expected a _types map for tagged values")
	}

	got, err := ItemToEntity(item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Key != e.Key {
		t.Errorf("expected key %s, got %s", e.Key, got.Key)
	}
	if !got.Equal(e) {
		t.Errorf("round trip mismatch:\nwant %#v\ngot  %#v", e.Properties, got.Properties)
	}
	if _, ok := got.Properties["whole"].(float64); !ok {
		t.Errorf("expected whole float to stay float64, got %T", got.Properties["whole"])
	}
	if _, ok := got.Properties["blurb"].(datastore.Text); !ok {
		t.Errorf("expected blurb to decode as Text, got %T", got.Properties["blurb"])
	}
}

func TestEntityToItem_UntaggedNeedsNoTypes(t *testing.T) {
	e := datastore.NewEntity(datastore.NameKey("app_tag", "go"))
	e.Properties["label"] = "Go"
	e.Properties["uses"] = []any{int64(1), int64(2)}

	item, err := EntityToItem(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := item[attrTypes]; ok {
		t.Error("expected no _types map when no value needs a tag")
	}
}

func TestEntityToItem_IncompleteKey(t *testing.T) {
	_, err := EntityToItem(datastore.NewEntity(datastore.IncompleteKey("app_book")))
	if !errors.Is(err, datastore.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestEntityToItem_NestedList(t *testing.T) {
	e := datastore.NewEntity(datastore.IDKey("app_book", 1))
	e.Properties["nested"] = []any{[]any{"x"}}
	_, err := EntityToItem(e)
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("expected ErrUnsupportedValue, got %v", err)
	}
}

func TestItemToEntity_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		item map[string]types.AttributeValue
	}{
		{"missing kind", map[string]types.AttributeValue{
			attrKey: &types.AttributeValueMemberS{Value: "i:00000000000000000001"},
		}},
		{"missing key", map[string]types.AttributeValue{
			attrKind: &types.AttributeValueMemberS{Value: "app_book"},
		}},
		{"bad number", map[string]types.AttributeValue{
			attrKind:  &types.AttributeValueMemberS{Value: "app_book"},
			attrKey:   &types.AttributeValueMemberS{Value: "i:00000000000000000001"},
			"p_pages": &types.AttributeValueMemberN{Value: "many"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ItemToEntity(tt.item); !errors.Is(err, ErrCorruptItem) {
				t.Errorf("expected ErrCorruptItem, got %v", err)
			}
		})
	}
}

func TestPropertyAttr(t *testing.T) {
	if got := propertyAttr(datastore.KeyProperty); got != attrKey {
		t.Errorf("expected key property to map to %q, got %q", attrKey, got)
	}
	if got := propertyAttr("title"); got != "p_title" {
		t.Errorf("expected 'p_title', got %q", got)
	}
}

// --- expression Tests ---

func TestBuildQuery_Expressions(t *testing.T) {
	s := New(nil, Config{})
	q := &datastore.Query{
		Kind: "app_book",
		Filters: []datastore.Filter{
			{Property: datastore.KeyProperty, Op: datastore.GreaterThan, Value: datastore.IDKey("app_book", 5)},
			{Property: "pages", Op: datastore.GreaterOrEqual, Value: int64(100)},
			{Property: "title", Op: datastore.Equal, Value: "Dune"},
			{Property: "subtitle", Op: datastore.Equal, Value: nil},
		},
		Orders: []datastore.Order{{Property: datastore.KeyProperty, Descending: true}},
	}
	input, ok, err := s.buildQuery(q)
	if err != nil || !ok {
		t.Fatalf("unexpected result ok=%v err=%v", ok, err)
	}

	if got := aws.ToString(input.KeyConditionExpression); got != "#kind = :val0 AND #attr1 > :val1" {
		t.Errorf("unexpected key condition %q", got)
	}
	if input.ExpressionAttributeNames["#attr1"] != attrKey {
		t.Errorf("expected #attr1 to name the key attribute, got %q", input.ExpressionAttributeNames["#attr1"])
	}
	filter := aws.ToString(input.FilterExpression)
	for _, want := range []string{
		"#attr2 >= :val2",
		"(#attr3 = :val3 OR (attribute_type(#attr3, :type_L) AND contains(#attr3, :val3)))",
		"attribute_type(#attr4, :type_NULL)",
	} {
		if !strings.Contains(filter, want) {
			t.Errorf("expected filter %q to contain %q", filter, want)
		}
	}
	if aws.ToBool(input.ScanIndexForward) {
		t.Error("expected descending key order to scan backwards")
	}
	if aws.ToInt32(input.Limit) != 100 {
		t.Errorf("expected page size 100, got %d", aws.ToInt32(input.Limit))
	}
	if !aws.ToBool(input.ConsistentRead) {
		t.Error("expected consistent reads")
	}
}

func TestBuildQuery_KeysOnlyProjection(t *testing.T) {
	s := New(nil, Config{})

	input, _, _ := s.buildQuery(&datastore.Query{Kind: "app_book", KeysOnly: true})
	if got := aws.ToString(input.ProjectionExpression); got != "#kind, #attr1" {
		t.Errorf("unexpected projection %q", got)
	}

	// Filters are re-checked in process, so their attributes must be read.
	input, _, _ = s.buildQuery(&datastore.Query{
		Kind:     "app_book",
		KeysOnly: true,
		Filters:  []datastore.Filter{{Property: "title", Op: datastore.Equal, Value: "x"}},
	})
	if input.ProjectionExpression != nil {
		t.Errorf("expected no projection with property filters, got %q", aws.ToString(input.ProjectionExpression))
	}
}

func TestBuildQuery_EmptyIn(t *testing.T) {
	s := New(nil, Config{})
	_, ok, err := s.buildQuery(&datastore.Query{
		Kind:    "app_book",
		Filters: []datastore.Filter{{Property: "title", Op: datastore.In, Value: []any{}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected an empty IN list to match nothing")
	}
}

func TestBuildQuery_ForeignKeyFilterNotKeyCondition(t *testing.T) {
	s := New(nil, Config{})
	input, _, _ := s.buildQuery(&datastore.Query{
		Kind:    "app_book",
		Filters: []datastore.Filter{{Property: datastore.KeyProperty, Op: datastore.Equal, Value: datastore.IDKey("app_author", 1)}},
	})
	if got := aws.ToString(input.KeyConditionExpression); got != "#kind = :val0" {
		t.Errorf("expected a key of another kind to stay out of the key condition, got %q", got)
	}
}

// --- config and ttl Tests ---

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		input    int32
		expected int32
	}{
		{"zero uses default", 0, 100},
		{"negative uses default", -5, 100},
		{"within range", 250, 250},
		{"above max clamps", 5000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{PageSize: tt.input}
			cfg.validate()
			if cfg.PageSize != tt.expected {
				t.Errorf("expected PageSize %d, got %d", tt.expected, cfg.PageSize)
			}
			if cfg.EntityTable != "dynorm_entities" {
				t.Errorf("expected default entity table, got %q", cfg.EntityTable)
			}
		})
	}
}

func TestExpiry_RoundsUp(t *testing.T) {
	now := time.Unix(1000, 0)
	if got := expiry(now, 10*time.Second).Value; got != "1010" {
		t.Errorf("expected 1010, got %s", got)
	}
	if got := expiry(now, 1500*time.Millisecond).Value; got != "1002" {
		t.Errorf("expected 1002, got %s", got)
	}
}

// --- drain Tests ---

type wrappedDoneIterator struct {
	entities []*datastore.Entity
}

func (it *wrappedDoneIterator) Next() (*datastore.Entity, error) {
	if len(it.entities) == 0 {
		return nil, fmt.Errorf("page exhausted: %w", datastore.Done)
	}
	e := it.entities[0]
	it.entities = it.entities[1:]
	return e, nil
}

func TestDrain_WrappedDone(t *testing.T) {
	it := &wrappedDoneIterator{entities: []*datastore.Entity{
		datastore.NewEntity(datastore.IDKey("book", 1)),
		datastore.NewEntity(datastore.IDKey("book", 2)),
	}}
	all, err := drain(it)
	if err != nil {
		t.Fatalf("expected wrapped Done to end the results, got %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 entities, got %d", len(all))
	}
}

type failingIterator struct {
	err error
}

func (it failingIterator) Next() (*datastore.Entity, error) { return nil, it.err }

func TestDrain_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := drain(failingIterator{err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
