package command

import (
	"context"
	"errors"

	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/schema"
)

// Result is what executing a command produces. Select fills Count only for
// aggregate queries and otherwise leaves rows to be pulled with Next.
type Result struct {
	// IDs are the identities Insert assigned, in input order.
	IDs []any

	// RowCount is the number of records Update or Delete touched.
	RowCount int

	// Aggregate marks a Select that returned a bare Count.
	Aggregate bool
	Count     int
}

// Command is a single-use relational intent.
type Command interface {
	State() State
	Execute(ctx context.Context) (Result, error)
}

var (
	_ Command = (*Select)(nil)
	_ Command = (*Insert)(nil)
	_ Command = (*Update)(nil)
	_ Command = (*Delete)(nil)
	_ Command = (*Flush)(nil)
)

// Select reads the records matching a query.
type Select struct {
	lifecycle
	env    *Env
	query  *Query
	native *datastore.Query
	it     datastore.Iterator
}

// NewSelect translates q. Translation errors surface here, before any store
// round-trip.
func NewSelect(env *Env, q *Query) (*Select, error) {
	native, err := translate(env, q)
	if err != nil {
		return nil, err
	}
	s := &Select{env: env, query: q, native: native}
	s.state = Translated
	return s, nil
}

// Query returns the relational query the command was built from.
func (s *Select) Query() *Query { return s.query }

// Native returns the translated store query.
func (s *Select) Native() *datastore.Query { return s.native }

// Execute issues the query. Aggregate queries return their count in the
// result; other queries are consumed with Next.
func (s *Select) Execute(ctx context.Context) (Result, error) {
	if err := s.begin(); err != nil {
		return Result{}, err
	}
	matched, ok, err := s.pointRead(ctx)
	if err != nil {
		return Result{}, err
	}
	if s.query.Count {
		if ok {
			return Result{Aggregate: true, Count: len(matched)}, nil
		}
		n, err := s.env.Store.Count(ctx, s.native)
		if err != nil {
			return Result{}, err
		}
		return Result{Aggregate: true, Count: n}, nil
	}
	if ok {
		s.it = datastore.NewSliceIterator(matched)
		return Result{}, nil
	}
	it, err := s.env.Store.Run(ctx, s.native)
	if err != nil {
		return Result{}, err
	}
	s.it = it
	return Result{}, nil
}

// Next returns the next matching record, or datastore.Done once the results
// are exhausted. The sequence cannot be restarted.
func (s *Select) Next() (*datastore.Entity, error) {
	if s.it == nil {
		return nil, datastore.Done
	}
	return s.it.Next()
}

// NextRow returns the query's columns of the next matching record, decoded
// to framework values. Identities read through the key or primary key
// column are reported to seen when it is not nil.
func (s *Select) NextRow(seen func(datastore.Key)) ([]any, error) {
	e, err := s.Next()
	if err != nil {
		return nil, err
	}
	return s.env.Mapper.Values(e, s.query.Model, s.query.Columns, s.query.Conversions, seen)
}

// pointRead answers the query with a single Get when it pins one record:
// either through an identity equality, or through a cached unique
// combination. A cached hint is always confirmed against the stored record.
func (s *Select) pointRead(ctx context.Context) ([]*datastore.Entity, bool, error) {
	for _, f := range s.native.Filters {
		if f.Property != datastore.KeyProperty || f.Op != datastore.Equal {
			continue
		}
		key, isKey := f.Value.(datastore.Key)
		if !isKey {
			continue
		}
		e, err := s.env.Store.Get(ctx, key)
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		return datastore.Evaluate(s.native, []*datastore.Entity{e}), true, nil
	}

	if s.env.Uniques == nil {
		return nil, false, nil
	}
	m := s.query.Model
	values := make(map[string]any)
	for _, f := range s.native.Filters {
		switch {
		case f.Op != datastore.Equal:
			return nil, false, nil
		case f.Property == datastore.KeyProperty:
			return nil, false, nil
		case f.Property != schema.DiscriminatorColumn:
			values[f.Property] = f.Value
		}
	}
	key, ok := s.env.Uniques.KeyFor(m, values)
	if !ok {
		return nil, false, nil
	}
	hint, ok := s.env.Uniques.Lookup(ctx, key)
	if !ok {
		return nil, false, nil
	}
	e, err := s.env.Store.Get(ctx, hint.Key)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	matched := datastore.Evaluate(s.native, []*datastore.Entity{e})
	if len(matched) == 0 {
		s.env.log().Debug("stale unique cache hint", "key", key, "record", hint.Key)
		return nil, false, nil
	}
	return matched, true, nil
}
