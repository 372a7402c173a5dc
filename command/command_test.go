package command_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/dynorm/cache"
	"github.com/jacentio/dynorm/codec"
	"github.com/jacentio/dynorm/command"
	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
	"github.com/jacentio/dynorm/indexing"
	"github.com/jacentio/dynorm/mapper"
	"github.com/jacentio/dynorm/schema"
	"github.com/jacentio/dynorm/uniques"
)

// countingStore records which store calls a command made.
type countingStore struct {
	*datastore.Memory
	gets, runs int
}

func (s *countingStore) Get(ctx context.Context, key datastore.Key) (*datastore.Entity, error) {
	s.gets++
	return s.Memory.Get(ctx, key)
}

func (s *countingStore) Run(ctx context.Context, q *datastore.Query) (datastore.Iterator, error) {
	s.runs++
	return s.Memory.Run(ctx, q)
}

func (s *countingStore) reset() { s.gets, s.runs = 0, 0 }

type fixture struct {
	reg   *schema.Registry
	store *countingStore
	cache *cache.Memory
	env   *command.Env
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := schema.NewBuilder("app").Add(
		schema.ModelSpec{
			Name: "Base",
			Fields: []schema.FieldSpec{
				{Name: "name", Type: "CharField", Indexes: []string{"iexact"}},
				{Name: "email", Type: "EmailField", Unique: true, Null: true},
			},
		},
		schema.ModelSpec{
			Name:   "Child",
			Parent: "Base",
			Fields: []schema.FieldSpec{
				{Name: "extra", Type: "IntegerField", Null: true},
			},
		},
		schema.ModelSpec{
			Name:   "Author",
			Fields: []schema.FieldSpec{{Name: "name", Type: "CharField"}},
		},
		schema.ModelSpec{
			Name: "Book",
			Fields: []schema.FieldSpec{
				{Name: "title", Type: "CharField"},
				{Name: "author", Type: "ForeignKey", RelTo: "Author"},
				{Name: "blurb", Type: "TextField", Null: true},
			},
		},
		schema.ModelSpec{
			Name:   "Tag",
			Fields: []schema.FieldSpec{{Name: "slug", Type: "SlugField", PrimaryKey: true}},
		},
	).Build()
	require.NoError(t, err)
	ix, err := indexing.FromSchema(reg)
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	c := cache.NewMemory()
	store := &countingStore{Memory: datastore.NewMemory()}
	return &fixture{
		reg:   reg,
		store: store,
		cache: c,
		logs:  logs,
		env: &command.Env{
			Store:   store,
			Mapper:  mapper.New(reg, codec.New(codec.Options{UseTZ: true, Logger: logger}), ix),
			Uniques: uniques.New(reg, c, uniques.Options{Logger: logger}),
			Logger:  logger,
		},
	}
}

func (fx *fixture) model(name string) *schema.Model {
	m, _ := fx.reg.Lookup(name)
	return m
}

func (fx *fixture) insert(t *testing.T, rows ...*schema.Row) []any {
	t.Helper()
	ins, err := command.NewInsert(fx.env, rows[0].Model, rows, nil, false)
	require.NoError(t, err)
	res, err := ins.Execute(context.Background())
	require.NoError(t, err)
	return res.IDs
}

func (fx *fixture) run(t *testing.T, q *command.Query) []*datastore.Entity {
	t.Helper()
	sel, err := command.NewSelect(fx.env, q)
	require.NoError(t, err)
	_, err = sel.Execute(context.Background())
	require.NoError(t, err)
	var out []*datastore.Entity
	for {
		e, err := sel.Next()
		if errors.Is(err, datastore.Done) {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func TestInsertAssignsIdentities(t *testing.T) {
	fx := newFixture(t)
	base := fx.model("Base")

	a := schema.NewRow(base).Set("name", "a")
	b := schema.NewRow(base).Set("name", "b")
	ids := fx.insert(t, a, b)

	assert.Equal(t, []any{int64(1), int64(2)}, ids)
	assert.Equal(t, int64(2), b.PK())
	assert.False(t, a.Adding)
	n, err := fx.store.Count(context.Background(), &datastore.Query{Kind: "app_base"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsertFailsBeforeWriting(t *testing.T) {
	fx := newFixture(t)
	base := fx.model("Base")

	rows := []*schema.Row{
		schema.NewRow(base).Set("name", "ok"),
		schema.NewRow(base),
	}
	_, err := command.NewInsert(fx.env, base, rows, nil, false)
	assert.ErrorIs(t, err, fault.ErrIntegrity)

	kinds, err := fx.store.Kinds(context.Background())
	require.NoError(t, err)
	assert.Empty(t, kinds)
}

func TestInsertRejectsDuplicateUnique(t *testing.T) {
	fx := newFixture(t)
	base := fx.model("Base")
	ctx := context.Background()

	fx.insert(t, schema.NewRow(base).Set("name", "a").Set("email", "a@x.com"))

	ins, err := command.NewInsert(fx.env, base, []*schema.Row{
		schema.NewRow(base).Set("name", "b").Set("email", "a@x.com"),
	}, nil, false)
	require.NoError(t, err)
	_, err = ins.Execute(ctx)
	assert.ErrorIs(t, err, fault.ErrIntegrity)

	n, err := fx.store.Count(ctx, &datastore.Query{Kind: "app_base"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fx.env.Options.SkipUniqueChecks = true
	fx.insert(t, schema.NewRow(base).Set("name", "c").Set("email", "a@x.com"))
}

func TestSelectRewritesSpecialIndex(t *testing.T) {
	fx := newFixture(t)
	base := fx.model("Base")
	fx.insert(t, schema.NewRow(base).Set("name", "Widget"))

	q := command.NewQuery(base).Filter("name", "iexact", "WIDGET")
	q.Columns = []string{"id", "name"}
	sel, err := command.NewSelect(fx.env, q)
	require.NoError(t, err)
	assert.Equal(t, []datastore.Filter{
		{Property: "_idx_iexact_name", Op: datastore.Equal, Value: "widget"},
	}, sel.Native().Filters)

	_, err = sel.Execute(context.Background())
	require.NoError(t, err)
	row, err := sel.NextRow(nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "Widget"}, row)
	_, err = sel.NextRow(nil)
	assert.ErrorIs(t, err, datastore.Done)

	_, err = command.NewSelect(fx.env, command.NewQuery(base).Filter("name", "icontains", "idg"))
	assert.ErrorIs(t, err, fault.ErrCouldBeSupported, "no icontains index is registered")
}

func TestSelectRebindsForeignKeyJoin(t *testing.T) {
	fx := newFixture(t)
	author, book := fx.model("Author"), fx.model("Book")

	ids := fx.insert(t, schema.NewRow(author).Set("name", "Le Guin"))
	fx.insert(t,
		schema.NewRow(book).Set("title", "The Dispossessed").Set("author", ids[0]),
		schema.NewRow(book).Set("title", "Other").Set("author", int64(99)),
	)

	q := command.NewQuery(book)
	q.Aliases["T2"] = command.Join{Table: "app_author", LHSAlias: "app_book", LHSColumn: "author_id", RHSColumn: "id"}
	q.Where = command.AllOf(command.Leaf(&command.Constraint{Alias: "T2", Column: "id", Lookup: "exact", Value: ids[0]}))

	sel, err := command.NewSelect(fx.env, q)
	require.NoError(t, err)
	assert.Equal(t, []datastore.Filter{
		{Property: "author_id", Op: datastore.Equal, Value: int64(1)},
	}, sel.Native().Filters)

	found := fx.run(t, q)
	require.Len(t, found, 1)
	assert.Equal(t, "The Dispossessed", found[0].Properties["title"])

	q.Where = command.AllOf(command.Leaf(&command.Constraint{Alias: "T2", Column: "name", Lookup: "exact", Value: "Le Guin"}))
	_, err = command.NewSelect(fx.env, q)
	assert.ErrorIs(t, err, fault.ErrNotSupported, "only the joined primary key can be rebound")
}

func TestSelectUnsupportedShapes(t *testing.T) {
	fx := newFixture(t)
	base, book := fx.model("Base"), fx.model("Book")

	leaf := func(lookup string, v any) *command.WhereNode {
		return command.Leaf(&command.Constraint{Alias: "app_base", Column: "name", Lookup: lookup, Value: v})
	}

	tests := []struct {
		name  string
		query func() *command.Query
		want  error
	}{
		{"or", func() *command.Query {
			q := command.NewQuery(base)
			q.Where = command.AnyOf(leaf("exact", "a"), leaf("exact", "b"))
			return q
		}, fault.ErrCouldBeSupported},
		{"negation", func() *command.Query {
			q := command.NewQuery(base)
			q.Where = command.Not(leaf("exact", "a"))
			return q
		}, fault.ErrCouldBeSupported},
		{"isnull false", func() *command.Query {
			return command.NewQuery(base).Filter("email", "isnull", false)
		}, fault.ErrCouldBeSupported},
		{"regex", func() *command.Query {
			return command.NewQuery(base).Filter("name", "regex", "^a")
		}, fault.ErrNotSupported},
		{"random order", func() *command.Query {
			q := command.NewQuery(base)
			q.Ordering = []string{"?"}
			return q
		}, fault.ErrNotSupported},
		{"text column", func() *command.Query {
			return command.NewQuery(book).Filter("blurb", "exact", "x")
		}, fault.ErrNotSupported},
		{"text ordering", func() *command.Query {
			q := command.NewQuery(book)
			q.Ordering = []string{"-blurb"}
			return q
		}, fault.ErrNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := command.NewSelect(fx.env, tt.query())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, fault.ErrDatabase)
		})
	}
}

func TestSelectTranslatesLookups(t *testing.T) {
	fx := newFixture(t)
	book := fx.model("Book")

	q := command.NewQuery(book).
		Filter("title", "range", []any{"a", "m"}).
		Filter("author_id", "in", []any{int64(1), int64(2)})
	q.Ordering = []string{"-title", "pk"}

	sel, err := command.NewSelect(fx.env, q)
	require.NoError(t, err)
	native := sel.Native()
	assert.Equal(t, "app_book", native.Kind)
	assert.Equal(t, []datastore.Filter{
		{Property: "title", Op: datastore.GreaterOrEqual, Value: "a"},
		{Property: "title", Op: datastore.LessOrEqual, Value: "m"},
		{Property: "author_id", Op: datastore.In, Value: []any{int64(1), int64(2)}},
	}, native.Filters)
	assert.Equal(t, []datastore.Order{
		{Property: "title", Descending: true},
		{Property: datastore.KeyProperty},
	}, native.Orders)
	assert.False(t, native.KeysOnly)

	keys := command.NewQuery(book)
	keys.Columns = []string{"id"}
	sel, err = command.NewSelect(fx.env, keys)
	require.NoError(t, err)
	assert.True(t, sel.Native().KeysOnly)
}

func TestSelectOnBaseMatchesChild(t *testing.T) {
	fx := newFixture(t)
	base, child := fx.model("Base"), fx.model("Child")
	ctx := context.Background()

	fx.insert(t, schema.NewRow(base).Set("name", "plain"))
	fx.insert(t, schema.NewRow(child).Set("name", "kid").Set("extra", 2))

	all := fx.run(t, command.NewQuery(base))
	require.Len(t, all, 2)
	assert.Equal(t, []any{"app_base", "app_child"}, all[1].Properties["class"])

	kids := fx.run(t, command.NewQuery(child))
	require.Len(t, kids, 1)
	assert.Equal(t, "kid", kids[0].Properties["name"])

	q := command.NewQuery(base).Filter("name", "exact", "kid")
	q.Count = true
	sel, err := command.NewSelect(fx.env, q)
	require.NoError(t, err)
	res, err := sel.Execute(ctx)
	require.NoError(t, err)
	assert.True(t, res.Aggregate)
	assert.Equal(t, 1, res.Count)
}

func TestSelectOversizedKey(t *testing.T) {
	fx := newFixture(t)
	tag := fx.model("Tag")
	long := strings.Repeat("x", 600)

	ids := fx.insert(t, schema.NewRow(tag).Set("slug", long))
	assert.Equal(t, []any{long[:500]}, ids)
	assert.Contains(t, fx.logs.String(), "level=WARN")
	assert.Contains(t, fx.logs.String(), "length=600")

	fx.store.reset()
	found := fx.run(t, command.NewQuery(tag).Filter("slug", "exact", long))
	require.Len(t, found, 1)
	assert.Equal(t, datastore.NameKey("app_tag", long[:500]), found[0].Key)
	assert.Equal(t, 1, fx.store.gets)
	assert.Zero(t, fx.store.runs, "identity lookups are point reads")
}

func TestSelectConfirmsUniqueCacheHint(t *testing.T) {
	fx := newFixture(t)
	base := fx.model("Base")
	ctx := context.Background()

	fx.insert(t, schema.NewRow(base).Set("name", "a").Set("email", "a@x.com"))

	fx.store.reset()
	found := fx.run(t, command.NewQuery(base).Filter("email", "exact", "a@x.com"))
	require.Len(t, found, 1)
	assert.Zero(t, fx.store.runs)

	// Rewrite the record behind the cache's back.
	stale := found[0].Clone()
	stale.Properties["email"] = "z@x.com"
	_, err := fx.store.Put(ctx, stale)
	require.NoError(t, err)

	fx.store.reset()
	found = fx.run(t, command.NewQuery(base).Filter("email", "exact", "a@x.com"))
	assert.Empty(t, found)
	assert.Equal(t, 1, fx.store.runs, "a stale hint falls back to the query")
}

func TestUpdateIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	child := fx.model("Child")
	ctx := context.Background()

	ids := fx.insert(t, schema.NewRow(child).Set("name", "a").Set("extra", 1))
	key := datastore.IDKey("app_base", ids[0].(int64))

	var states []*datastore.Entity
	for i := 0; i < 2; i++ {
		upd, err := command.NewUpdate(fx.env,
			command.NewQuery(fx.model("Base")).Filter("id", "exact", ids[0]),
			map[string]any{"name": "b"},
		)
		require.NoError(t, err)
		res, err := upd.Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.RowCount)

		e, err := fx.store.Get(ctx, key)
		require.NoError(t, err)
		states = append(states, e)
	}
	assert.True(t, states[0].Equal(states[1]))
	assert.Equal(t, "b", states[1].Properties["name"])
	assert.Equal(t, int64(1), states[1].Properties["extra"], "child columns survive a base update")
	assert.Equal(t, []any{"app_base", "app_child"}, states[1].Properties["class"])
}

func TestUpdateLastWriteWins(t *testing.T) {
	fx := newFixture(t)
	base := fx.model("Base")
	ctx := context.Background()

	ids := fx.insert(t, schema.NewRow(base).Set("name", "n"))
	for _, email := range []string{"a@x.com", "B@x.com"} {
		upd, err := command.NewUpdate(fx.env,
			command.NewQuery(base).Filter("id", "exact", ids[0]),
			map[string]any{"email": email},
		)
		require.NoError(t, err)
		_, err = upd.Execute(ctx)
		require.NoError(t, err)
	}

	e, err := fx.store.Get(ctx, datastore.IDKey("app_base", 1))
	require.NoError(t, err)
	assert.Equal(t, "B@x.com", e.Properties["email"])

	_, err = fx.cache.Get(ctx, "app.app_base|email:a@x.com")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	cached, err := fx.cache.Get(ctx, "app.app_base|email:B@x.com")
	require.NoError(t, err)
	assert.Equal(t, e.Key, cached.Key)
}

func TestUpdateRejectsDuplicate(t *testing.T) {
	fx := newFixture(t)
	base := fx.model("Base")

	fx.insert(t,
		schema.NewRow(base).Set("name", "a").Set("email", "a@x.com"),
		schema.NewRow(base).Set("name", "b").Set("email", "b@x.com"),
	)
	upd, err := command.NewUpdate(fx.env,
		command.NewQuery(base).Filter("name", "exact", "b"),
		map[string]any{"email": "a@x.com"},
	)
	require.NoError(t, err)
	_, err = upd.Execute(context.Background())
	assert.ErrorIs(t, err, fault.ErrIntegrity)

	_, err = command.NewUpdate(fx.env, command.NewQuery(base), map[string]any{"id": int64(3)})
	assert.ErrorIs(t, err, fault.ErrNotSupported)
}

func TestDeleteUncaches(t *testing.T) {
	fx := newFixture(t)
	base := fx.model("Base")
	ctx := context.Background()

	fx.insert(t,
		schema.NewRow(base).Set("name", "a").Set("email", "a@x.com"),
		schema.NewRow(base).Set("name", "b"),
	)
	del, err := command.NewDelete(fx.env, command.NewQuery(base).Filter("name", "exact", "a"))
	require.NoError(t, err)
	res, err := del.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)

	_, err = fx.store.Get(ctx, datastore.IDKey("app_base", 1))
	assert.ErrorIs(t, err, datastore.ErrNoSuchEntity)
	_, err = fx.cache.Get(ctx, "app.app_base|email:a@x.com")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	_, err = fx.cache.Get(ctx, "app.app_base|id:2")
	assert.NoError(t, err, "records left alone keep their entries")
}

func TestCommandsAreSingleUse(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	sel, err := command.NewSelect(fx.env, command.NewQuery(fx.model("Base")))
	require.NoError(t, err)
	assert.Equal(t, command.Translated, sel.State())
	_, err = sel.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "executed", sel.State().String())

	_, err = sel.Execute(ctx)
	assert.ErrorIs(t, err, fault.ErrCommandState)

	flush := command.NewFlush(fx.env, nil)
	_, err = flush.Execute(ctx)
	require.NoError(t, err)
	_, err = flush.Execute(ctx)
	assert.ErrorIs(t, err, fault.ErrCommandState)
}

func TestFlush(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.insert(t, schema.NewRow(fx.model("Child")).Set("name", "kid"))
	fx.insert(t, schema.NewRow(fx.model("Author")).Set("name", "au"))
	_, err := fx.store.Put(ctx, datastore.NewEntity(datastore.NameKey("legacy", "old")))
	require.NoError(t, err)

	flush := command.NewFlush(fx.env, []string{"app_child", "app_base"})
	assert.Equal(t, []string{"app_base"}, flush.Kinds())
	res, err := flush.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)

	kinds, err := fx.store.Kinds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app_author", "legacy"}, kinds)

	fx.env.Options.CompleteFlush = true
	res, err = command.NewFlush(fx.env, []string{"app_legacy_missing"}).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowCount, "complete mode is ignored outside a test environment")
	kinds, err = fx.store.Kinds(ctx)
	require.NoError(t, err)
	assert.Len(t, kinds, 2)

	fx.env.Options.TestEnvironment = true
	res, err = command.NewFlush(fx.env, []string{"app_author"}).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount, "complete mode finds kinds the schema does not name")

	kinds, err = fx.store.Kinds(ctx)
	require.NoError(t, err)
	assert.Empty(t, kinds)
}
