package datastore

import (
	"encoding/json"
	"fmt"
	"time"
)

// taggedValue carries a native value together with its type so that the
// string/Text, bytes/Blob and int64/float64 distinctions survive JSON.
type taggedValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

type encodedKey struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type encodedEntity struct {
	Key   encodedKey             `json:"key"`
	Props map[string]taggedValue `json:"props"`
}

// MarshalEntity encodes e as type-tagged JSON.
func MarshalEntity(e *Entity) ([]byte, error) {
	out := encodedEntity{
		Key:   encodedKey{Kind: e.Key.Kind, ID: e.Key.ID, Name: e.Key.Name},
		Props: make(map[string]taggedValue, len(e.Properties)),
	}
	for name, v := range e.Properties {
		tv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		out.Props[name] = tv
	}
	return json.Marshal(out)
}

// UnmarshalEntity decodes an entity written by MarshalEntity.
func UnmarshalEntity(data []byte) (*Entity, error) {
	var in encodedEntity
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	e := NewEntity(Key{Kind: in.Key.Kind, ID: in.Key.ID, Name: in.Key.Name})
	for name, tv := range in.Props {
		v, err := decodeValue(tv)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		e.Properties[name] = v
	}
	return e, nil
}

func encodeValue(v any) (taggedValue, error) {
	var (
		tag     string
		payload any
	)
	switch x := v.(type) {
	case nil:
		return taggedValue{T: "null"}, nil
	case bool:
		tag, payload = "bool", x
	case int64:
		tag, payload = "int", x
	case float64:
		tag, payload = "float", x
	case string:
		tag, payload = "str", x
	case Text:
		tag, payload = "text", string(x)
	case Blob:
		tag, payload = "blob", []byte(x)
	case time.Time:
		tag, payload = "time", x.UnixMicro()
	case Key:
		tag, payload = "key", encodedKey{Kind: x.Kind, ID: x.ID, Name: x.Name}
	case []any:
		items := make([]taggedValue, len(x))
		for i, item := range x {
			tv, err := encodeValue(item)
			if err != nil {
				return taggedValue{}, err
			}
			items[i] = tv
		}
		tag, payload = "list", items
	default:
		return taggedValue{}, fmt.Errorf("unsupported native value %T", v)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return taggedValue{}, err
	}
	return taggedValue{T: tag, V: raw}, nil
}

func decodeValue(tv taggedValue) (any, error) {
	switch tv.T {
	case "null":
		return nil, nil
	case "bool":
		var b bool
		err := json.Unmarshal(tv.V, &b)
		return b, err
	case "int":
		var n int64
		err := json.Unmarshal(tv.V, &n)
		return n, err
	case "float":
		var f float64
		err := json.Unmarshal(tv.V, &f)
		return f, err
	case "str":
		var s string
		err := json.Unmarshal(tv.V, &s)
		return s, err
	case "text":
		var s string
		err := json.Unmarshal(tv.V, &s)
		return Text(s), err
	case "blob":
		var b []byte
		err := json.Unmarshal(tv.V, &b)
		return Blob(b), err
	case "time":
		var micros int64
		if err := json.Unmarshal(tv.V, &micros); err != nil {
			return nil, err
		}
		return time.UnixMicro(micros).UTC(), nil
	case "key":
		var k encodedKey
		err := json.Unmarshal(tv.V, &k)
		return Key{Kind: k.Kind, ID: k.ID, Name: k.Name}, err
	case "list":
		var items []taggedValue
		if err := json.Unmarshal(tv.V, &items); err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown value tag %q", tv.T)
	}
}
