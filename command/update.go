package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
)

// Update overwrites the records a query matches. Each matched record is
// rebuilt in full from its stored values plus the new ones and written
// back whole; the store has no partial update.
type Update struct {
	lifecycle
	env    *Env
	sel    *Select
	values map[string]any
}

// NewUpdate prepares an update of the records q matches. values maps field
// names to their new framework values.
func NewUpdate(env *Env, q *Query, values map[string]any) (*Update, error) {
	m := q.Model
	if m == nil {
		return nil, fmt.Errorf("%w: update without a model", fault.ErrNotSupported)
	}
	for name := range values {
		f, ok := m.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %s", fault.ErrNotSupported, m.Name, name)
		}
		if f == m.PK {
			return nil, fmt.Errorf("%w: updating the primary key of %s", fault.ErrNotSupported, m.Name)
		}
	}

	full := *q
	full.Columns = nil
	full.Count = false
	full.Conversions = nil
	sel, err := NewSelect(env, &full)
	if err != nil {
		return nil, err
	}
	u := &Update{env: env, sel: sel, values: values}
	u.state = Translated
	return u, nil
}

// Execute rewrites every matched record and returns how many there were.
func (u *Update) Execute(ctx context.Context) (Result, error) {
	if err := u.begin(); err != nil {
		return Result{}, err
	}
	matched, err := collect(ctx, u.sel)
	if err != nil {
		return Result{}, err
	}

	env := u.env
	count := 0
	for _, old := range matched {
		row, err := env.Mapper.ToRow(old)
		if err != nil {
			return Result{RowCount: count}, err
		}
		for name, v := range u.values {
			row.Set(name, v)
		}
		// The values are already final; PreSave ran when the row was first
		// written, so repeating an update yields the same record.
		next, err := env.Mapper.ToRecord(row, nil, true)
		if err != nil {
			return Result{RowCount: count}, err
		}
		next.Key = old.Key

		m := row.Model
		if env.Uniques != nil && !env.Options.SkipUniqueChecks {
			if err := env.Uniques.Check(ctx, env.Store, m, next, false); err != nil {
				return Result{RowCount: count}, err
			}
		}
		if _, err := env.Store.Put(ctx, next); err != nil {
			return Result{RowCount: count}, err
		}
		if env.Uniques != nil {
			env.Uniques.Uncache(ctx, m, old)
			env.Uniques.Cache(ctx, m, next)
		}
		count++
	}
	return Result{RowCount: count}, nil
}

// collect executes sel and drains it.
func collect(ctx context.Context, sel *Select) ([]*datastore.Entity, error) {
	if _, err := sel.Execute(ctx); err != nil {
		return nil, err
	}
	var out []*datastore.Entity
	for {
		e, err := sel.Next()
		if errors.Is(err, datastore.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}
