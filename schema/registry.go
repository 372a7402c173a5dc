package schema

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ModelID indexes a model in its Registry.
type ModelID int

// NoModel marks the absence of a model reference.
const NoModel ModelID = -1

// DiscriminatorColumn holds the class list of records in an inheritance
// hierarchy.
const DiscriminatorColumn = "class"

// ModelSpec declares a model.
type ModelSpec struct {
	Name           string      `yaml:"name"`
	Table          string      `yaml:"table,omitempty"`
	Abstract       bool        `yaml:"abstract,omitempty"`
	Parent         string      `yaml:"parent,omitempty"`
	UniqueTogether [][]string  `yaml:"unique_together,omitempty"`
	Fields         []FieldSpec `yaml:"fields"`
}

// Model is a resolved, immutable model descriptor.
type Model struct {
	ID    ModelID
	Name  string
	Table string

	// Parent is the nearest concrete ancestor, or NoModel for a root.
	Parent ModelID
	// Root is the top of the concrete inheritance chain; Root == ID for roots.
	Root ModelID
	// Chain lists the concrete ancestors root first, ending with the model.
	Chain []ModelID
	// Children are the direct concrete descendants.
	Children []ModelID

	// Own holds the fields declared on this model (abstract parents folded in).
	Own []*Field
	// Fields holds every field, inherited ones first.
	Fields []*Field

	PK *Field

	// UniqueTogether lists column combinations declared unique together.
	UniqueTogether [][]string
}

// Registry is an immutable arena of resolved models.
type Registry struct {
	app     string
	models  []*Model
	byName  map[string]ModelID
	byTable map[string]ModelID
}

// Builder collects model declarations and resolves them into a Registry.
type Builder struct {
	app   string
	specs []ModelSpec

	// Clock feeds the auto_now and auto_now_add transforms.
	Clock func() time.Time
}

// NewBuilder returns a builder for models of the given application label.
func NewBuilder(app string) *Builder {
	return &Builder{app: app, Clock: time.Now}
}

// Add queues model declarations.
func (b *Builder) Add(specs ...ModelSpec) *Builder {
	b.specs = append(b.specs, specs...)
	return b
}

// Build resolves every declaration. Unknown field types, unresolved
// references and inheritance deeper than two concrete levels are rejected.
func (b *Builder) Build() (*Registry, error) {
	if b.app == "" {
		return nil, fmt.Errorf("%w: empty application label", ErrInvalidSchema)
	}
	clock := b.Clock
	if clock == nil {
		clock = time.Now
	}

	specs := make(map[string]*ModelSpec, len(b.specs))
	for i := range b.specs {
		s := &b.specs[i]
		if s.Name == "" {
			return nil, fmt.Errorf("%w: model without a name", ErrInvalidSchema)
		}
		if _, dup := specs[s.Name]; dup {
			return nil, fmt.Errorf("%w: model %s declared twice", ErrInvalidSchema, s.Name)
		}
		specs[s.Name] = s
	}

	r := &Registry{
		app:     b.app,
		byName:  make(map[string]ModelID),
		byTable: make(map[string]ModelID),
	}

	// Concrete models enter the arena parents first.
	var visit func(name string, path []string) (ModelID, error)
	visit = func(name string, path []string) (ModelID, error) {
		if id, ok := r.byName[name]; ok {
			return id, nil
		}
		if slices.Contains(path, name) {
			return NoModel, fmt.Errorf("%w: inheritance cycle through %s", ErrInvalidSchema, name)
		}
		s := specs[name]
		path = append(path, name)

		// Fold abstract ancestors and find the nearest concrete one.
		var folded []FieldSpec
		parent := NoModel
		for p := s.Parent; p != ""; {
			ps, ok := specs[p]
			if !ok {
				return NoModel, fmt.Errorf("%w: %s has unknown parent %s", ErrInvalidSchema, name, p)
			}
			if !ps.Abstract {
				id, err := visit(p, path)
				if err != nil {
					return NoModel, err
				}
				parent = id
				break
			}
			if slices.Contains(path, p) {
				return NoModel, fmt.Errorf("%w: inheritance cycle through %s", ErrInvalidSchema, p)
			}
			path = append(path, p)
			folded = append(slices.Clone(ps.Fields), folded...)
			p = ps.Parent
		}

		m, err := b.resolve(r, s, parent, append(folded, s.Fields...), clock)
		if err != nil {
			return NoModel, err
		}
		return m.ID, nil
	}

	names := make([]string, 0, len(b.specs))
	for _, s := range b.specs {
		if !s.Abstract {
			names = append(names, s.Name)
		}
	}
	for _, name := range names {
		if _, err := visit(name, nil); err != nil {
			return nil, err
		}
	}

	// Relations and unique combinations need every model in place.
	for _, m := range r.models {
		for _, f := range m.Own {
			if f.relTo == "" {
				continue
			}
			target, ok := r.byName[f.relTo]
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s references unknown model %s", ErrInvalidSchema, m.Name, f.Name, f.relTo)
			}
			f.RelTo = target
		}
		s := specs[m.Name]
		for _, names := range s.UniqueTogether {
			cols := make([]string, 0, len(names))
			for _, n := range names {
				f, ok := m.FieldByName(n)
				if !ok {
					return nil, fmt.Errorf("%w: %s unique_together names unknown field %s", ErrInvalidSchema, m.Name, n)
				}
				cols = append(cols, f.Column)
			}
			m.UniqueTogether = append(m.UniqueTogether, cols)
		}
	}
	return r, nil
}

func (b *Builder) resolve(r *Registry, s *ModelSpec, parent ModelID, fields []FieldSpec, clock func() time.Time) (*Model, error) {
	m := &Model{
		ID:     ModelID(len(r.models)),
		Name:   s.Name,
		Table:  s.Table,
		Parent: parent,
	}
	if m.Table == "" {
		m.Table = b.app + "_" + strings.ToLower(s.Name)
	}
	if _, dup := r.byTable[m.Table]; dup {
		return nil, fmt.Errorf("%w: table %s used by two models", ErrInvalidSchema, m.Table)
	}

	if parent == NoModel {
		m.Root = m.ID
		m.Chain = []ModelID{m.ID}
	} else {
		p := r.models[parent]
		if p.Parent != NoModel {
			return nil, fmt.Errorf("%w: %s: inheritance deeper than two concrete levels is not supported", ErrInvalidSchema, s.Name)
		}
		m.Root = p.Root
		m.Chain = append(slices.Clone(p.Chain), m.ID)
		m.Fields = slices.Clone(p.Fields)
		m.PK = p.PK
	}

	hasPK := slices.ContainsFunc(fields, func(f FieldSpec) bool { return f.PrimaryKey })
	if parent == NoModel && !hasPK {
		fields = append([]FieldSpec{{Name: "id", Type: "AutoField", PrimaryKey: true}}, fields...)
	}

	for _, spec := range fields {
		f, err := resolveField(m, spec, clock)
		if err != nil {
			return nil, err
		}
		if f.PrimaryKey {
			if m.PK != nil {
				return nil, fmt.Errorf("%w: %s declares a second primary key %s", ErrInvalidSchema, s.Name, f.Name)
			}
			m.PK = f
		}
		if f.Column == DiscriminatorColumn || f.Column == "__key__" || strings.HasPrefix(f.Column, "_idx_") {
			return nil, fmt.Errorf("%w: %s.%s uses reserved column %s", ErrInvalidSchema, s.Name, f.Name, f.Column)
		}
		if _, dup := m.FieldByName(f.Name); dup {
			return nil, fmt.Errorf("%w: %s declares field %s twice", ErrInvalidSchema, s.Name, f.Name)
		}
		if _, dup := m.FieldByColumn(f.Column); dup {
			return nil, fmt.Errorf("%w: %s maps two fields onto column %s", ErrInvalidSchema, s.Name, f.Column)
		}
		m.Own = append(m.Own, f)
		m.Fields = append(m.Fields, f)
	}

	r.models = append(r.models, m)
	r.byName[m.Name] = m.ID
	r.byTable[m.Table] = m.ID
	if parent != NoModel {
		p := r.models[parent]
		p.Children = append(p.Children, m.ID)
	}
	return m, nil
}

func resolveField(m *Model, spec FieldSpec, clock func() time.Time) (*Field, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: %s has a field without a name", ErrInvalidSchema, m.Name)
	}
	t, err := LookupType(spec.Type)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", m.Name, spec.Name, err)
	}
	f := &Field{
		Name:          spec.Name,
		Column:        spec.Column,
		TypeName:      spec.Type,
		Type:          t,
		PrimaryKey:    spec.PrimaryKey,
		Null:          spec.Null,
		Unique:        spec.Unique || spec.PrimaryKey,
		MaxDigits:     spec.MaxDigits,
		DecimalPlaces: spec.DecimalPlaces,
		Structured:    spec.Structured || structuredTypes[spec.Type],
		RelTo:         NoModel,
		Indexes:       slices.Clone(spec.Indexes),
		Model:         m.ID,
		PreSave:       spec.PreSave,
		relTo:         spec.RelTo,
	}
	if f.Column == "" {
		f.Column = f.Name
		if relationTypes[spec.Type] {
			f.Column += "_id"
		}
	}
	if relationTypes[spec.Type] && spec.RelTo == "" {
		return nil, fmt.Errorf("%w: %s.%s is a relation without rel_to", ErrInvalidSchema, m.Name, f.Name)
	}
	if t == TypeDecimal && (spec.MaxDigits <= 0 || spec.DecimalPlaces < 0 || spec.DecimalPlaces > spec.MaxDigits) {
		return nil, fmt.Errorf("%w: %s.%s needs max_digits >= decimal_places >= 0", ErrInvalidSchema, m.Name, f.Name)
	}
	if f.Structured && t != TypeBytes {
		return nil, fmt.Errorf("%w: %s.%s: structured fields must be stored as bytes", ErrInvalidSchema, m.Name, f.Name)
	}
	if spec.AutoNow || spec.AutoNowAdd {
		if t != TypeDate && t != TypeDateTime && t != TypeTime {
			return nil, fmt.Errorf("%w: %s.%s: auto_now needs a date or time field", ErrInvalidSchema, m.Name, f.Name)
		}
		if f.PreSave == nil {
			f.PreSave = autoNow(clock, spec.AutoNowAdd && !spec.AutoNow)
		}
	}
	return f, nil
}

// App returns the application label.
func (r *Registry) App() string { return r.app }

// Model returns the model with the given id.
func (r *Registry) Model(id ModelID) *Model {
	return r.models[id]
}

// Models returns every concrete model in arena order.
func (r *Registry) Models() []*Model {
	return slices.Clone(r.models)
}

// Lookup finds a model by name.
func (r *Registry) Lookup(name string) (*Model, bool) {
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.models[id], true
}

// ByTable finds a model by table name.
func (r *Registry) ByTable(table string) (*Model, bool) {
	id, ok := r.byTable[table]
	if !ok {
		return nil, false
	}
	return r.models[id], true
}

// Kind returns the store kind records of m are written under: the table
// of the root of its concrete inheritance chain.
func (r *Registry) Kind(m *Model) string {
	return r.models[m.Root].Table
}

// Kinds lists every distinct store kind.
func (r *Registry) Kinds() []string {
	var kinds []string
	for _, m := range r.models {
		if m.Root == m.ID {
			kinds = append(kinds, m.Table)
		}
	}
	return kinds
}

// Polymorphic reports whether m takes part in concrete inheritance.
func (r *Registry) Polymorphic(m *Model) bool {
	return len(r.models[m.Root].Children) > 0
}

// Discriminators returns the class list stored on records of m: the tables
// of its concrete chain, root first.
func (r *Registry) Discriminators(m *Model) []string {
	out := make([]string, len(m.Chain))
	for i, id := range m.Chain {
		out[i] = r.models[id].Table
	}
	return out
}

// ModelForKind resolves the most-derived model for a record of kind whose
// stored class list is classes.
func (r *Registry) ModelForKind(kind string, classes []string) (*Model, bool) {
	root, ok := r.ByTable(kind)
	if !ok || root.Root != root.ID {
		return nil, false
	}
	for i := len(classes) - 1; i >= 0; i-- {
		if m, ok := r.ByTable(classes[i]); ok && m.Root == root.ID {
			return m, true
		}
	}
	return root, true
}

// Children returns the direct concrete descendants of m.
func (r *Registry) Children(m *Model) []*Model {
	out := make([]*Model, len(m.Children))
	for i, id := range m.Children {
		out[i] = r.models[id]
	}
	return out
}

// UniqueCombinations returns every column combination of m that must be
// unique: unique_together groups first, then single unique fields, which
// include the primary key.
func (r *Registry) UniqueCombinations(m *Model) [][]string {
	var out [][]string
	for _, id := range m.Chain {
		for _, cols := range r.models[id].UniqueTogether {
			out = append(out, slices.Clone(cols))
		}
	}
	for _, f := range m.Fields {
		if f.Unique {
			out = append(out, []string{f.Column})
		}
	}
	return out
}

// FieldByName finds a field of m, inherited fields included.
func (m *Model) FieldByName(name string) (*Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// FieldByColumn finds a field of m by its column, inherited fields included.
func (m *Model) FieldByColumn(column string) (*Field, bool) {
	for _, f := range m.Fields {
		if f.Column == column {
			return f, true
		}
	}
	return nil, false
}
