package datastore

import "context"

// Operator is a native filter operator.
type Operator string

const (
	Equal          Operator = "="
	LessThan       Operator = "<"
	LessOrEqual    Operator = "<="
	GreaterThan    Operator = ">"
	GreaterOrEqual Operator = ">="
	// In matches when the property equals any element of a []any value.
	In Operator = "in"
)

// Filter restricts a query to entities whose property satisfies Op Value.
type Filter struct {
	Property string
	Op       Operator
	Value    any
}

// Order sorts query results by a property.
type Order struct {
	Property   string
	Descending bool
}

// Query is a native query against a single kind. Filters are conjunctive.
type Query struct {
	Kind     string
	Filters  []Filter
	Orders   []Order
	Limit    int // 0 means no limit
	Offset   int
	KeysOnly bool
}

// Iterator is a forward-only, non-restartable sequence of query results.
type Iterator interface {
	// Next returns the next entity, or Done when the results are exhausted.
	Next() (*Entity, error)
}

// Datastore is the store client contract the relational layer consumes.
// Every call is a blocking round-trip; implementations add no retries.
type Datastore interface {
	// Get returns the entity stored under key or ErrNoSuchEntity.
	Get(ctx context.Context, key Key) (*Entity, error)

	// Put writes e, replacing any existing entity under the same key.
	// An incomplete key is assigned an id; the stored key is returned.
	Put(ctx context.Context, e *Entity) (Key, error)

	// Delete removes the entities stored under keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...Key) error

	// Run issues q and returns an iterator over its results.
	Run(ctx context.Context, q *Query) (Iterator, error)

	// Count returns the number of entities q would return.
	Count(ctx context.Context, q *Query) (int, error)

	// Kinds lists every kind that currently holds at least one entity.
	Kinds(ctx context.Context) ([]string, error)
}

// SliceIterator iterates over an already materialised result set.
type SliceIterator struct {
	entities []*Entity
	pos      int
}

// NewSliceIterator returns an iterator over entities.
func NewSliceIterator(entities []*Entity) *SliceIterator {
	return &SliceIterator{entities: entities}
}

// Next implements Iterator.
func (it *SliceIterator) Next() (*Entity, error) {
	if it.pos >= len(it.entities) {
		return nil, Done
	}
	e := it.entities[it.pos]
	it.pos++
	return e, nil
}
