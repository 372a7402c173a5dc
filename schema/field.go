package schema

import (
	"errors"
	"time"
)

// ErrInvalidSchema is returned when model declarations cannot be resolved.
var ErrInvalidSchema = errors.New("dynorm: invalid schema")

// PreSaveFunc computes the value written for f, given the row being saved.
// It may update the row, as auto-timestamp fields do.
type PreSaveFunc func(row *Row, f *Field) (any, error)

// FieldSpec declares a field. It is the input form; Build resolves it into
// a Field.
type FieldSpec struct {
	Name          string   `yaml:"name"`
	Column        string   `yaml:"column,omitempty"`
	Type          string   `yaml:"type"`
	PrimaryKey    bool     `yaml:"primary_key,omitempty"`
	Null          bool     `yaml:"null,omitempty"`
	Unique        bool     `yaml:"unique,omitempty"`
	MaxDigits     int      `yaml:"max_digits,omitempty"`
	DecimalPlaces int      `yaml:"decimal_places,omitempty"`
	AutoNow       bool     `yaml:"auto_now,omitempty"`
	AutoNowAdd    bool     `yaml:"auto_now_add,omitempty"`
	RelTo         string   `yaml:"rel_to,omitempty"`
	Structured    bool     `yaml:"structured,omitempty"`
	Indexes       []string `yaml:"indexes,omitempty"`

	// PreSave overrides the value taken from the row on non-raw writes.
	PreSave PreSaveFunc `yaml:"-"`
}

// Field is a resolved, immutable field descriptor.
type Field struct {
	Name     string
	Column   string
	TypeName string
	Type     LogicalType

	PrimaryKey bool
	Null       bool
	Unique     bool

	MaxDigits     int
	DecimalPlaces int

	// Structured fields hold container values the mapper serialises to bytes.
	Structured bool

	// RelTo is the referenced model for relation fields, NoModel otherwise.
	RelTo ModelID

	// Indexes lists the special-index lookups declared for this field.
	Indexes []string

	// Model is the concrete model that declares the field. Fields folded in
	// from an abstract parent belong to the inheriting model.
	Model ModelID

	PreSave PreSaveFunc

	relTo string
}

// IsRelation reports whether the field references another model.
func (f *Field) IsRelation() bool {
	return f.RelTo != NoModel
}

func autoNow(clock func() time.Time, onlyAdding bool) PreSaveFunc {
	return func(row *Row, f *Field) (any, error) {
		if onlyAdding && !row.Adding {
			v, _ := row.Get(f.Name)
			return v, nil
		}
		now := clock().UTC()
		row.Set(f.Name, now)
		return now, nil
	}
}
