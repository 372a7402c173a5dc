package command

import (
	"context"
	"fmt"

	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
)

// Delete removes the records a query matches.
type Delete struct {
	lifecycle
	env *Env
	sel *Select
}

// NewDelete prepares a delete of the records q matches.
func NewDelete(env *Env, q *Query) (*Delete, error) {
	if q.Model == nil {
		return nil, fmt.Errorf("%w: delete without a model", fault.ErrNotSupported)
	}
	// Full records are read so their unique keys can be dropped.
	full := *q
	full.Columns = nil
	full.Count = false
	sel, err := NewSelect(env, &full)
	if err != nil {
		return nil, err
	}
	d := &Delete{env: env, sel: sel}
	d.state = Translated
	return d, nil
}

// Execute deletes every matched record and returns how many there were.
func (d *Delete) Execute(ctx context.Context) (Result, error) {
	if err := d.begin(); err != nil {
		return Result{}, err
	}
	matched, err := collect(ctx, d.sel)
	if err != nil {
		return Result{}, err
	}
	if len(matched) == 0 {
		return Result{}, nil
	}

	keys := make([]datastore.Key, len(matched))
	for i, e := range matched {
		keys[i] = e.Key
	}
	if err := d.env.Store.Delete(ctx, keys...); err != nil {
		return Result{}, err
	}
	if d.env.Uniques != nil {
		for _, e := range matched {
			d.env.Uniques.Uncache(ctx, modelOf(d.env.Mapper, e, d.sel.query.Model), e)
		}
	}
	return Result{RowCount: len(matched)}, nil
}
