// Package mapper converts typed rows into store records and back.
//
// A record is flat: inherited fields are folded in, the concrete chain is
// stored in the discriminator column, and every registered special index
// gets its derived column next to the source column.
package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/jacentio/dynorm/codec"
	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
	"github.com/jacentio/dynorm/indexing"
	"github.com/jacentio/dynorm/schema"
)

// Conversion rewrites a decoded column value before it is returned, as
// date-truncating queries do.
type Conversion func(any) any

// Mapper maps rows of one schema.
type Mapper struct {
	reg     *schema.Registry
	codec   *codec.Codec
	indexes *indexing.Registry
}

// New returns a mapper. indexes may be nil when no special indexes exist.
func New(reg *schema.Registry, c *codec.Codec, indexes *indexing.Registry) *Mapper {
	if indexes == nil {
		indexes = indexing.New()
		indexes.Freeze()
	}
	return &Mapper{reg: reg, codec: c, indexes: indexes}
}

// Registry returns the schema the mapper serves.
func (mp *Mapper) Registry() *schema.Registry { return mp.reg }

// Codec returns the value codec.
func (mp *Mapper) Codec() *codec.Codec { return mp.codec }

// Indexes returns the special index registry.
func (mp *Mapper) Indexes() *indexing.Registry { return mp.indexes }

type source struct {
	row   *schema.Row
	field *schema.Field
}

// ToRecord builds the record for row. fields selects the row's own fields to
// write; nil means all of them. Inherited fields are always included, as
// are the fields of one attached descendant. Unless raw is set, each
// field's PreSave transform supplies its value.
func (mp *Mapper) ToRecord(row *schema.Row, fields []*schema.Field, raw bool) (*datastore.Entity, error) {
	m := row.Model
	kind := mp.reg.Kind(m)
	classes := mp.reg.Discriminators(m)

	if fields == nil {
		fields = m.Fields
	}
	var sources []source
	seen := make(map[*schema.Field]bool)
	add := func(r *schema.Row, f *schema.Field) {
		if !seen[f] {
			seen[f] = true
			sources = append(sources, source{row: r, field: f})
		}
	}
	if m.PK != nil {
		add(row, m.PK)
	}
	for _, f := range fields {
		add(row, f)
	}
	for _, id := range m.Chain[:len(m.Chain)-1] {
		for _, f := range mp.reg.Model(id).Own {
			add(row, f)
		}
	}
	for _, child := range mp.reg.Children(m) {
		d, ok := row.Descendant(child.ID)
		if !ok {
			continue
		}
		for _, f := range child.Own {
			add(d, f)
		}
		classes = mp.reg.Discriminators(child)
		break
	}

	props := make(map[string]any, len(sources))
	var pk any
	for _, s := range sources {
		f := s.field
		v, err := mp.value(s.row, f, raw)
		if err != nil {
			return nil, err
		}
		if f == m.PK {
			pk = v
			continue
		}
		native, err := mp.codec.ToNative(v, f)
		if err != nil {
			return nil, err
		}
		if native == nil && !f.Null && !f.PrimaryKey {
			return nil, fmt.Errorf("%w: %s.%s is not nullable", fault.ErrIntegrity, m.Name, f.Name)
		}
		props[f.Column] = native
		for _, ix := range mp.indexes.For(f) {
			props[ix.Column(f.Column)] = ix.Prep(native)
		}
	}

	key, err := mp.Identity(kind, pk)
	if err != nil {
		return nil, err
	}
	e := datastore.NewEntity(key)
	e.Properties = props
	if mp.reg.Polymorphic(m) {
		list := make([]any, len(classes))
		for i, c := range classes {
			list[i] = c
		}
		e.Properties[schema.DiscriminatorColumn] = list
	}
	return e, nil
}

func (mp *Mapper) value(row *schema.Row, f *schema.Field, raw bool) (any, error) {
	var v any
	if !raw && f.PreSave != nil {
		var err error
		if v, err = f.PreSave(row, f); err != nil {
			return nil, err
		}
	} else {
		v, _ = row.Get(f.Name)
	}
	if f.Structured && v != nil {
		if _, isBytes := v.([]byte); !isBytes {
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", fault.ErrIntegrity, f.Name, err)
			}
			v = data
		}
	}
	return v, nil
}

// Identity maps a primary key value onto a store key of kind. Integers
// become numeric identities, strings named ones clamped to the store
// limit, and nil, zero or empty values leave the key incomplete.
func (mp *Mapper) Identity(kind string, pk any) (datastore.Key, error) {
	switch x := pk.(type) {
	case nil:
		return datastore.IncompleteKey(kind), nil
	case datastore.Key:
		return mp.Identity(kind, x.IDOrName())
	case string:
		if x == "" {
			return datastore.IncompleteKey(kind), nil
		}
		return datastore.NameKey(kind, mp.codec.ClampKey(kind, x)), nil
	case int:
		return mp.Identity(kind, int64(x))
	case int32:
		return mp.Identity(kind, int64(x))
	case int64:
		switch {
		case x == 0:
			return datastore.IncompleteKey(kind), nil
		case x < 0:
			return datastore.Key{}, fmt.Errorf("%w: negative primary key %d", fault.ErrIntegrity, x)
		}
		return datastore.IDKey(kind, x), nil
	}
	return datastore.Key{}, fmt.Errorf("%w: invalid primary key type %T", fault.ErrIntegrity, pk)
}

// Values decodes the requested columns of e. The key pseudo-column and the
// primary key column yield the record identity, reported to seen when it
// is not nil. Conversions are applied after decoding.
func (mp *Mapper) Values(e *datastore.Entity, m *schema.Model, columns []string, conversions map[string]Conversion, seen func(datastore.Key)) ([]any, error) {
	out := make([]any, 0, len(columns))
	for _, col := range columns {
		if col == datastore.KeyProperty || (m.PK != nil && col == m.PK.Column) {
			if seen != nil {
				seen(e.Key)
			}
			out = append(out, e.Key.IDOrName())
			continue
		}
		f, ok := mp.fieldFor(e, m, col)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no column %s", fault.ErrNotSupported, m.Name, col)
		}
		v, err := mp.decode(e.Properties[col], f)
		if err != nil {
			return nil, err
		}
		if conv, ok := conversions[col]; ok && conv != nil {
			v = conv(v)
		}
		out = append(out, v)
	}
	return out, nil
}

// fieldFor resolves col on m, falling back to the record's most-derived
// model so that child columns of a polymorphic record can be read.
func (mp *Mapper) fieldFor(e *datastore.Entity, m *schema.Model, col string) (*schema.Field, bool) {
	if f, ok := m.FieldByColumn(col); ok {
		return f, true
	}
	if derived, ok := mp.reg.ModelForKind(e.Key.Kind, Classes(e)); ok {
		return derived.FieldByColumn(col)
	}
	return nil, false
}

func (mp *Mapper) decode(native any, f *schema.Field) (any, error) {
	v, err := mp.codec.FromNative(native, f)
	if err != nil || v == nil || !f.Structured {
		return v, err
	}
	var out any
	if err := json.Unmarshal(v.([]byte), &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", fault.ErrIntegrity, f.Name, err)
	}
	return out, nil
}

// ToRow rebuilds a typed row from e using the most-derived model its
// discriminator list names. The row is marked as already added.
func (mp *Mapper) ToRow(e *datastore.Entity) (*schema.Row, error) {
	m, ok := mp.reg.ModelForKind(e.Key.Kind, Classes(e))
	if !ok {
		return nil, fmt.Errorf("%w: no model stores kind %s", fault.ErrNotSupported, e.Key.Kind)
	}
	row := schema.NewRow(m)
	row.Adding = false
	for _, f := range m.Fields {
		if f == m.PK {
			row.Set(f.Name, e.Key.IDOrName())
			continue
		}
		native, present := e.Properties[f.Column]
		if !present {
			continue
		}
		v, err := mp.decode(native, f)
		if err != nil {
			return nil, err
		}
		row.Set(f.Name, v)
	}
	return row, nil
}

// Classes returns the discriminator list stored on e.
func Classes(e *datastore.Entity) []string {
	list, _ := e.Properties[schema.DiscriminatorColumn].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
