package command

import (
	"github.com/jacentio/dynorm/mapper"
	"github.com/jacentio/dynorm/schema"
)

// Connector joins the children of a WhereNode.
type Connector int

const (
	And Connector = iota
	Or
)

// WhereNode is a node of the predicate tree handed over by the query
// compiler. A node with a Constraint is a leaf.
type WhereNode struct {
	Connector  Connector
	Negated    bool
	Children   []*WhereNode
	Constraint *Constraint
}

// Leaf wraps a constraint in a WhereNode.
func Leaf(c *Constraint) *WhereNode {
	return &WhereNode{Constraint: c}
}

// AllOf returns a conjunction of nodes.
func AllOf(nodes ...*WhereNode) *WhereNode {
	return &WhereNode{Connector: And, Children: nodes}
}

// AnyOf returns a disjunction of nodes.
func AnyOf(nodes ...*WhereNode) *WhereNode {
	return &WhereNode{Connector: Or, Children: nodes}
}

// Not negates node.
func Not(node *WhereNode) *WhereNode {
	return &WhereNode{Connector: And, Negated: true, Children: []*WhereNode{node}}
}

// Constraint compares one column of an aliased table with a value.
// Lookup is the framework lookup name: exact, gt, gte, lt, lte, in,
// range, isnull, or a special lookup such as iexact or contains.
type Constraint struct {
	Alias  string
	Column string
	Field  *schema.Field
	Lookup string
	Value  any
}

// Join describes how an alias is reached from the alias to its left.
// The base table has an empty LHSAlias.
type Join struct {
	Table     string
	LHSAlias  string
	LHSColumn string
	RHSColumn string
}

// AliasMap maps table aliases to their joins.
type AliasMap map[string]Join

// Query is a compiled relational query against one model.
type Query struct {
	Model *schema.Model

	// Columns lists the columns each result row carries, in order. The
	// key pseudo-column "__key__" yields the record identity.
	Columns []string

	Where     *WhereNode
	Aliases   AliasMap
	BaseAlias string

	// Ordering uses the framework's syntax: "name", "-name", "pk" or "?".
	Ordering []string

	Limit  int
	Offset int

	// Count turns the query into an aggregate returning a single integer.
	Count bool

	// Conversions rewrite decoded column values, keyed by column.
	Conversions map[string]mapper.Conversion
}

// NewQuery returns a query over every column of m.
func NewQuery(m *schema.Model) *Query {
	q := &Query{Model: m, BaseAlias: m.Table, Aliases: AliasMap{m.Table: {Table: m.Table}}}
	for _, f := range m.Fields {
		q.Columns = append(q.Columns, f.Column)
	}
	return q
}

// Filter appends an AND-ed constraint on the base table and returns q.
func (q *Query) Filter(column, lookup string, value any) *Query {
	c := &Constraint{Alias: q.BaseAlias, Column: column, Lookup: lookup, Value: value}
	if f, ok := q.Model.FieldByColumn(column); ok {
		c.Field = f
	}
	if q.Where == nil {
		q.Where = AllOf()
	}
	q.Where.Children = append(q.Where.Children, Leaf(c))
	return q
}
