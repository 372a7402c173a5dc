package command

import (
	"fmt"
	"strings"

	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
	"github.com/jacentio/dynorm/indexing"
	"github.com/jacentio/dynorm/schema"
)

var operators = map[string]datastore.Operator{
	"exact": datastore.Equal,
	"gt":    datastore.GreaterThan,
	"gte":   datastore.GreaterOrEqual,
	"lt":    datastore.LessThan,
	"lte":   datastore.LessOrEqual,
	"in":    datastore.In,
}

// neverSupported lists lookups the store cannot answer in any form.
var neverSupported = map[string]bool{
	"regex":  true,
	"iregex": true,
	"search": true,
}

type translator struct {
	env   *Env
	q     *Query
	model *schema.Model
	kind  string
}

// translate turns q into a native query.
func translate(env *Env, q *Query) (*datastore.Query, error) {
	if q.Model == nil {
		return nil, fmt.Errorf("%w: query without a model", fault.ErrNotSupported)
	}
	reg := env.Mapper.Registry()
	t := &translator{env: env, q: q, model: q.Model, kind: reg.Kind(q.Model)}

	native := &datastore.Query{Kind: t.kind, Limit: q.Limit, Offset: q.Offset}
	if q.Model.Root != q.Model.ID {
		native.Filters = append(native.Filters, datastore.Filter{
			Property: schema.DiscriminatorColumn,
			Op:       datastore.Equal,
			Value:    q.Model.Table,
		})
	}

	if q.Where != nil {
		filters, err := t.where(q.Where)
		if err != nil {
			return nil, err
		}
		native.Filters = append(native.Filters, filters...)
	}

	for _, o := range q.Ordering {
		order, err := t.order(o)
		if err != nil {
			return nil, err
		}
		native.Orders = append(native.Orders, order)
	}

	native.KeysOnly = len(q.Columns) > 0 && !q.Count
	for _, col := range q.Columns {
		if col != datastore.KeyProperty && (q.Model.PK == nil || col != q.Model.PK.Column) {
			native.KeysOnly = false
			break
		}
	}
	return native, nil
}

func (t *translator) where(node *WhereNode) ([]datastore.Filter, error) {
	if node.Negated {
		return nil, fmt.Errorf("%w: negated conditions", fault.ErrCouldBeSupported)
	}
	if node.Constraint != nil {
		return t.constraint(*node.Constraint)
	}
	if node.Connector == Or && len(node.Children) > 1 {
		return nil, fmt.Errorf("%w: OR conditions", fault.ErrCouldBeSupported)
	}
	var out []datastore.Filter
	for _, child := range node.Children {
		filters, err := t.where(child)
		if err != nil {
			return nil, err
		}
		out = append(out, filters...)
	}
	return out, nil
}

// rebind walks a constraint on a joined alias back to the base table. A hop
// is only possible when the constraint targets the primary key the join
// lands on and the join follows a foreign key of the table to its left; the
// constraint then moves onto that foreign-key column.
func (t *translator) rebind(c *Constraint) error {
	base := t.q.BaseAlias
	if base == "" {
		base = t.model.Table
	}
	reg := t.env.Mapper.Registry()
	for c.Alias != "" && c.Alias != base {
		join, ok := t.q.Aliases[c.Alias]
		if !ok {
			return fmt.Errorf("%w: unknown alias %s", fault.ErrNotSupported, c.Alias)
		}
		lhsTable := base
		if lhs, ok := t.q.Aliases[join.LHSAlias]; ok && lhs.Table != "" {
			lhsTable = lhs.Table
		}
		owner, ok := reg.ByTable(lhsTable)
		if !ok {
			return fmt.Errorf("%w: joins from %s", fault.ErrNotSupported, lhsTable)
		}
		fk, ok := owner.FieldByColumn(join.LHSColumn)
		if !ok || !fk.IsRelation() {
			return fmt.Errorf("%w: joins on %s.%s", fault.ErrNotSupported, lhsTable, join.LHSColumn)
		}
		target := reg.Model(fk.RelTo)
		if join.Table != target.Table || target.PK == nil ||
			join.RHSColumn != target.PK.Column || c.Column != join.RHSColumn {
			return fmt.Errorf("%w: joins to %s", fault.ErrNotSupported, join.Table)
		}
		c.Column = fk.Column
		c.Field = fk
		c.Alias = join.LHSAlias
	}
	return nil
}

func (t *translator) constraint(c Constraint) ([]datastore.Filter, error) {
	if err := t.rebind(&c); err != nil {
		return nil, err
	}
	if neverSupported[c.Lookup] {
		return nil, fmt.Errorf("%w: %s lookups", fault.ErrNotSupported, c.Lookup)
	}

	m := t.model
	if m.PK != nil && (c.Column == m.PK.Column || c.Column == "pk") {
		return t.keyConstraint(c)
	}
	f, ok := m.FieldByColumn(c.Column)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no column %s", fault.ErrNotSupported, m.Name, c.Column)
	}
	if !f.Type.Indexable() {
		return nil, fmt.Errorf("%w: filtering on unindexed %s column %s", fault.ErrNotSupported, f.Type, c.Column)
	}

	codec := t.env.Mapper.Codec()
	switch c.Lookup {
	case "isnull":
		if b, _ := c.Value.(bool); !b {
			return nil, fmt.Errorf("%w: isnull=false", fault.ErrCouldBeSupported)
		}
		return []datastore.Filter{{Property: f.Column, Op: datastore.Equal, Value: nil}}, nil
	case "range":
		bounds, ok := c.Value.([]any)
		if !ok || len(bounds) != 2 {
			return nil, fmt.Errorf("%w: range needs two bounds", fault.ErrNotSupported)
		}
		lo, err := codec.ToNative(bounds[0], f)
		if err != nil {
			return nil, err
		}
		hi, err := codec.ToNative(bounds[1], f)
		if err != nil {
			return nil, err
		}
		return []datastore.Filter{
			{Property: f.Column, Op: datastore.GreaterOrEqual, Value: lo},
			{Property: f.Column, Op: datastore.LessOrEqual, Value: hi},
		}, nil
	case "in":
		values, ok := c.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: in needs a list", fault.ErrNotSupported)
		}
		natives := make([]any, len(values))
		for i, v := range values {
			n, err := codec.ToNative(v, f)
			if err != nil {
				return nil, err
			}
			natives[i] = n
		}
		return []datastore.Filter{{Property: f.Column, Op: datastore.In, Value: natives}}, nil
	}

	if op, ok := operators[c.Lookup]; ok {
		v, err := codec.ToNative(c.Value, f)
		if err != nil {
			return nil, err
		}
		return []datastore.Filter{{Property: f.Column, Op: op, Value: v}}, nil
	}

	ix, ok := t.env.Mapper.Indexes().Lookup(f, c.Lookup)
	if !ok {
		if indexing.Supported(c.Lookup) {
			return nil, fmt.Errorf("%w: %s on %s needs a registered special index", fault.ErrCouldBeSupported, c.Lookup, c.Column)
		}
		return nil, fmt.Errorf("%w: %s lookups", fault.ErrNotSupported, c.Lookup)
	}
	v, err := ix.PrepQuery(c.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %v", fault.ErrNotSupported, c.Lookup, c.Column, err)
	}
	return []datastore.Filter{{Property: ix.Column(f.Column), Op: datastore.Equal, Value: v}}, nil
}

// keyConstraint filters on the record identity. String keys are clamped as
// they are on write, so an oversized key finds the record it produced.
func (t *translator) keyConstraint(c Constraint) ([]datastore.Filter, error) {
	mp := t.env.Mapper
	switch c.Lookup {
	case "in":
		values, ok := c.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: in needs a list", fault.ErrNotSupported)
		}
		keys := make([]any, len(values))
		for i, v := range values {
			k, err := mp.Identity(t.kind, v)
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		return []datastore.Filter{{Property: datastore.KeyProperty, Op: datastore.In, Value: keys}}, nil
	case "isnull":
		return nil, fmt.Errorf("%w: isnull on the primary key", fault.ErrNotSupported)
	}
	op, ok := operators[c.Lookup]
	if !ok {
		return nil, fmt.Errorf("%w: %s on the primary key", fault.ErrNotSupported, c.Lookup)
	}
	k, err := mp.Identity(t.kind, c.Value)
	if err != nil {
		return nil, err
	}
	return []datastore.Filter{{Property: datastore.KeyProperty, Op: op, Value: k}}, nil
}

func (t *translator) order(o string) (datastore.Order, error) {
	if o == "?" {
		return datastore.Order{}, fmt.Errorf("%w: random ordering", fault.ErrNotSupported)
	}
	desc := strings.HasPrefix(o, "-")
	col := strings.TrimPrefix(o, "-")
	m := t.model
	if col == "pk" || col == datastore.KeyProperty || (m.PK != nil && col == m.PK.Column) {
		return datastore.Order{Property: datastore.KeyProperty, Descending: desc}, nil
	}
	f, ok := m.FieldByColumn(col)
	if !ok {
		f, ok = m.FieldByName(col)
	}
	if !ok {
		return datastore.Order{}, fmt.Errorf("%w: %s has no column %s", fault.ErrNotSupported, m.Name, col)
	}
	if !f.Type.Indexable() {
		return datastore.Order{}, fmt.Errorf("%w: ordering on unindexed %s column %s", fault.ErrNotSupported, f.Type, col)
	}
	return datastore.Order{Property: f.Column, Descending: desc}, nil
}
