package datastore

import (
	"maps"
	"time"
)

// Text is a long string value. It is stored but not indexed.
type Text string

// Blob is an opaque byte value. It is stored but not indexed.
type Blob []byte

// Entity is a single stored record: its key and its native property values.
type Entity struct {
	Key        Key
	Properties map[string]any
}

// NewEntity returns an empty entity for key.
func NewEntity(key Key) *Entity {
	return &Entity{Key: key, Properties: make(map[string]any)}
}

// Clone returns a deep copy, so stores never share list or blob storage
// with their callers.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := &Entity{Key: e.Key, Properties: make(map[string]any, len(e.Properties))}
	for name, v := range e.Properties {
		out.Properties[name] = cloneValue(v)
	}
	return out
}

// KeysOnly returns an entity carrying only e's key.
func (e *Entity) KeysOnly() *Entity {
	return &Entity{Key: e.Key, Properties: map[string]any{}}
}

// Equal reports whether two entities have the same key and property values.
func (e *Entity) Equal(o *Entity) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Key != o.Key || len(e.Properties) != len(o.Properties) {
		return false
	}
	return maps.EqualFunc(e.Properties, o.Properties, valuesEqual)
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Blob:
		return append(Blob(nil), x...)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case Blob:
		y, ok := b.(Blob)
		return ok && string(x) == string(y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	default:
		return a == b
	}
}
