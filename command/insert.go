package command

import (
	"context"
	"fmt"

	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
	"github.com/jacentio/dynorm/mapper"
	"github.com/jacentio/dynorm/schema"
)

// Insert writes new rows of one model.
type Insert struct {
	lifecycle
	env     *Env
	model   *schema.Model
	rows    []*schema.Row
	records []*datastore.Entity
}

// NewInsert maps every row up front, so a constraint violation in any row
// fails before anything is written. fields limits the written fields as in
// mapper.ToRecord; raw skips PreSave transforms.
func NewInsert(env *Env, m *schema.Model, rows []*schema.Row, fields []*schema.Field, raw bool) (*Insert, error) {
	ins := &Insert{env: env, model: m, rows: rows}
	for i, row := range rows {
		if row.Model != m {
			return nil, fmt.Errorf("%w: row %d is a %s, not a %s", fault.ErrIntegrity, i, row.Model.Name, m.Name)
		}
		e, err := env.Mapper.ToRecord(row, fields, raw)
		if err != nil {
			return nil, err
		}
		ins.records = append(ins.records, e)
	}
	ins.state = Translated
	return ins, nil
}

// Execute writes the records in input order and returns their identities.
// Each record's unique keys are cached only after its write succeeded.
func (ins *Insert) Execute(ctx context.Context) (Result, error) {
	if err := ins.begin(); err != nil {
		return Result{}, err
	}
	ids := make([]any, 0, len(ins.records))
	for i, e := range ins.records {
		m := modelOf(ins.env.Mapper, e, ins.model)
		if ins.env.Uniques != nil && !ins.env.Options.SkipUniqueChecks {
			if err := ins.env.Uniques.Check(ctx, ins.env.Store, m, e, true); err != nil {
				return Result{IDs: ids}, err
			}
		}
		key, err := ins.env.Store.Put(ctx, e)
		if err != nil {
			return Result{IDs: ids}, err
		}
		e.Key = key
		if ins.env.Uniques != nil {
			ins.env.Uniques.Cache(ctx, m, e)
		}

		row := ins.rows[i]
		if ins.model.PK != nil {
			row.Set(ins.model.PK.Name, key.IDOrName())
		}
		row.Adding = false
		ids = append(ids, key.IDOrName())
	}
	ins.env.log().Debug("inserted records", "kind", ins.env.Mapper.Registry().Kind(ins.model), "count", len(ids))
	return Result{IDs: ids, RowCount: len(ids)}, nil
}

// modelOf returns the most-derived model e's discriminator list names.
func modelOf(mp *mapper.Mapper, e *datastore.Entity, fallback *schema.Model) *schema.Model {
	if m, ok := mp.Registry().ModelForKind(e.Key.Kind, mapper.Classes(e)); ok {
		return m
	}
	return fallback
}
