package datastore

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Compare orders two native values of the same class. The second result is
// false when the values cannot be compared: different classes, or unindexed
// Text and Blob values.
func Compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case nil:
		return 0, b == nil
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y), true
		case float64:
			return cmp.Compare(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, float64(y)), true
		case float64:
			return cmp.Compare(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	case Key:
		if y, ok := b.(Key); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

// Match reports whether e satisfies every filter.
func Match(e *Entity, filters []Filter) bool {
	for _, f := range filters {
		if !matchFilter(e, f) {
			return false
		}
	}
	return true
}

func matchFilter(e *Entity, f Filter) bool {
	if f.Property == KeyProperty {
		return matchValue(e.Key, f)
	}
	v, ok := e.Properties[f.Property]
	if !ok {
		return false
	}
	if list, isList := v.([]any); isList {
		for _, item := range list {
			if matchValue(item, f) {
				return true
			}
		}
		return false
	}
	return matchValue(v, f)
}

func matchValue(v any, f Filter) bool {
	if f.Op == In {
		candidates, _ := f.Value.([]any)
		for _, c := range candidates {
			if r, ok := Compare(v, c); ok && r == 0 {
				return true
			}
		}
		return false
	}
	r, ok := Compare(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case Equal:
		return r == 0
	case LessThan:
		return r < 0
	case LessOrEqual:
		return r <= 0
	case GreaterThan:
		return r > 0
	case GreaterOrEqual:
		return r >= 0
	}
	return false
}

// class ranks values of different types for sorting.
func class(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int64, float64:
		return 1
	case bool:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	case Key:
		return 5
	default:
		return 6
	}
}

func sortCompare(a, b any) int {
	if ca, cb := class(a), class(b); ca != cb {
		return cmp.Compare(ca, cb)
	}
	r, _ := Compare(a, b)
	return r
}

// sortValue picks the value an order sees: the smallest list element for
// ascending orders and the largest for descending ones.
func sortValue(e *Entity, o Order) any {
	if o.Property == KeyProperty {
		return e.Key
	}
	v := e.Properties[o.Property]
	list, ok := v.([]any)
	if !ok {
		return v
	}
	if len(list) == 0 {
		return nil
	}
	best := list[0]
	for _, item := range list[1:] {
		r := sortCompare(item, best)
		if (!o.Descending && r < 0) || (o.Descending && r > 0) {
			best = item
		}
	}
	return best
}

// SortEntities orders entities by orders, breaking ties by key.
func SortEntities(entities []*Entity, orders []Order) {
	slices.SortStableFunc(entities, func(a, b *Entity) int {
		for _, o := range orders {
			r := sortCompare(sortValue(a, o), sortValue(b, o))
			if o.Descending {
				r = -r
			}
			if r != 0 {
				return r
			}
		}
		return a.Key.Compare(b.Key)
	})
}

// Evaluate applies q to a candidate set held in process: filter, sort,
// offset, limit and keys-only projection. Stores without a native query
// engine build their results with it.
func Evaluate(q *Query, candidates []*Entity) []*Entity {
	var out []*Entity
	for _, e := range candidates {
		if Match(e, q.Filters) {
			out = append(out, e)
		}
	}
	SortEntities(out, q.Orders)

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if q.KeysOnly {
		for i, e := range out {
			out[i] = e.KeysOnly()
		}
	}
	return out
}
