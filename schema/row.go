package schema

// Row is a typed row: an instance of a model with its field values keyed by
// field name.
type Row struct {
	Model *Model
	// Adding is true until the row has been written once.
	Adding bool

	values      map[string]any
	descendants map[ModelID]*Row
}

// NewRow returns an empty row of m marked as being added.
func NewRow(m *Model) *Row {
	return &Row{Model: m, Adding: true, values: make(map[string]any)}
}

// Set assigns a field value and returns the row for chaining.
func (r *Row) Set(name string, v any) *Row {
	r.values[name] = v
	return r
}

// Get returns a field value. A field never set reads as absent.
func (r *Row) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Values returns a copy of the assigned field values.
func (r *Row) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// PK returns the primary key value, or nil when unassigned.
func (r *Row) PK() any {
	if r.Model.PK == nil {
		return nil
	}
	return r.values[r.Model.PK.Name]
}

// Attach links a one-to-one descendant row, the concrete child instance
// of this row in an inheritance hierarchy.
func (r *Row) Attach(child *Row) *Row {
	if r.descendants == nil {
		r.descendants = make(map[ModelID]*Row)
	}
	r.descendants[child.Model.ID] = child
	return r
}

// Descendant returns the attached descendant of model id, if one exists.
func (r *Row) Descendant(id ModelID) (*Row, bool) {
	child, ok := r.descendants[id]
	return child, ok
}
