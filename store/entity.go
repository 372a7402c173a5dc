package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynorm/datastore"
)

// Entity table attributes. Properties are stored under propPrefix so that
// no column name can collide with the key attributes.
const (
	attrKind   = "kind"
	attrKey    = "key"
	attrTypes  = "_types"
	propPrefix = "p_"
)

// Type tags recorded in the _types map for values whose DynamoDB type alone
// does not say which native type they were. Lists carry "l" followed by
// one tag per element, with tagDefault for elements that need none.
const (
	tagFloat   = 'f'
	tagTime    = 't'
	tagText    = 'x'
	tagKey     = 'k'
	tagList    = 'l'
	tagDefault = '.'
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// keyItem returns the primary key of the item storing k.
func keyItem(k datastore.Key) PK {
	return PK{
		attrKind: &types.AttributeValueMemberS{Value: k.Kind},
		attrKey:  &types.AttributeValueMemberS{Value: k.Encode()},
	}
}

// propertyAttr returns the attribute a property is stored under.
func propertyAttr(name string) string {
	if name == datastore.KeyProperty {
		return attrKey
	}
	return propPrefix + name
}

// EntityToItem converts e into a DynamoDB item. The key must be complete.
func EntityToItem(e *datastore.Entity) (map[string]types.AttributeValue, error) {
	if e.Key.Incomplete() || e.Key.Kind == "" {
		return nil, fmt.Errorf("%w: %s", datastore.ErrInvalidKey, e.Key)
	}
	item := map[string]types.AttributeValue(keyItem(e.Key))
	tags := make(map[string]string)
	for name, v := range e.Properties {
		av, tag, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", e.Key.Kind, name, err)
		}
		item[propertyAttr(name)] = av
		if tag != "" {
			tags[name] = tag
		}
	}
	if len(tags) > 0 {
		m, err := attributevalue.MarshalMap(tags)
		if err != nil {
			return nil, fmt.Errorf("marshal types: %w", err)
		}
		item[attrTypes] = &types.AttributeValueMemberM{Value: m}
	}
	return item, nil
}

// ItemToEntity converts a DynamoDB item back into an entity.
func ItemToEntity(item map[string]types.AttributeValue) (*datastore.Entity, error) {
	kind, ok := item[attrKind].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrCorruptItem, attrKind)
	}
	encoded, ok := item[attrKey].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrCorruptItem, attrKey)
	}
	key, err := datastore.DecodeKey(kind.Value, encoded.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptItem, err)
	}

	tags := map[string]string{}
	if m, ok := item[attrTypes].(*types.AttributeValueMemberM); ok {
		if err := attributevalue.UnmarshalMap(m.Value, &tags); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptItem, attrTypes, err)
		}
	}

	e := datastore.NewEntity(key)
	for attr, av := range item {
		name, isProp := strings.CutPrefix(attr, propPrefix)
		if !isProp {
			continue
		}
		v, err := decodeValue(av, tags[name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", key.Kind, name, err)
		}
		e.Properties[name] = v
	}
	return e, nil
}

func encodeValue(v any) (types.AttributeValue, string, error) {
	switch x := v.(type) {
	case []any:
		elems := make([]types.AttributeValue, len(x))
		tag := []byte{tagList}
		tagged := false
		for i, item := range x {
			if _, nested := item.([]any); nested {
				return nil, "", fmt.Errorf("%w: nested list", ErrUnsupportedValue)
			}
			av, t, err := encodeScalar(item)
			if err != nil {
				return nil, "", err
			}
			elems[i] = av
			if t == 0 {
				tag = append(tag, tagDefault)
			} else {
				tag = append(tag, t)
				tagged = true
			}
		}
		if !tagged {
			return &types.AttributeValueMemberL{Value: elems}, "", nil
		}
		return &types.AttributeValueMemberL{Value: elems}, string(tag), nil
	}
	av, t, err := encodeScalar(v)
	if err != nil || t == 0 {
		return av, "", err
	}
	return av, string(t), nil
}

func encodeScalar(v any) (types.AttributeValue, byte, error) {
	switch x := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, 0, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}, 0, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x, 10)}, 0, nil
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x, 'g', -1, 64)}, tagFloat, nil
	case string:
		return &types.AttributeValueMemberS{Value: x}, 0, nil
	case datastore.Text:
		return &types.AttributeValueMemberS{Value: string(x)}, tagText, nil
	case datastore.Blob:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), x...)}, 0, nil
	case time.Time:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x.UnixMicro(), 10)}, tagTime, nil
	case datastore.Key:
		return &types.AttributeValueMemberS{Value: x.Kind + "/" + x.Encode()}, tagKey, nil
	}
	return nil, 0, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func decodeValue(av types.AttributeValue, tag string) (any, error) {
	if l, ok := av.(*types.AttributeValueMemberL); ok {
		out := make([]any, len(l.Value))
		elemTags := strings.TrimPrefix(tag, string(rune(tagList)))
		for i, item := range l.Value {
			var t byte
			if i < len(elemTags) && elemTags[i] != tagDefault {
				t = elemTags[i]
			}
			v, err := decodeScalar(item, t)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	var t byte
	if tag != "" {
		t = tag[0]
	}
	return decodeScalar(av, t)
}

func decodeScalar(av types.AttributeValue, tag byte) (any, error) {
	switch x := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberBOOL:
		return x.Value, nil
	case *types.AttributeValueMemberN:
		switch tag {
		case tagFloat:
			return strconv.ParseFloat(x.Value, 64)
		case tagTime:
			micros, err := strconv.ParseInt(x.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptItem, err)
			}
			return time.UnixMicro(micros).UTC(), nil
		}
		n, err := strconv.ParseInt(x.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptItem, err)
		}
		return n, nil
	case *types.AttributeValueMemberS:
		switch tag {
		case tagText:
			return datastore.Text(x.Value), nil
		case tagKey:
			kind, encoded, ok := strings.Cut(x.Value, "/")
			if !ok {
				return nil, fmt.Errorf("%w: key value %q", ErrCorruptItem, x.Value)
			}
			return datastore.DecodeKey(kind, encoded)
		}
		return x.Value, nil
	case *types.AttributeValueMemberB:
		return datastore.Blob(x.Value), nil
	}
	return nil, fmt.Errorf("%w: attribute type %T", ErrCorruptItem, av)
}
