package command

import (
	"context"
	"errors"
	"slices"

	"github.com/jacentio/dynorm/datastore"
)

// Flush deletes every record of a set of kinds. It exists to reset a store
// between test runs.
type Flush struct {
	lifecycle
	env   *Env
	kinds []string
}

// NewFlush prepares a flush of the kinds behind tables. Tables the schema
// does not know are taken to be kind names already.
func NewFlush(env *Env, tables []string) *Flush {
	reg := env.Mapper.Registry()
	var kinds []string
	for _, table := range tables {
		kind := table
		if m, ok := reg.ByTable(table); ok {
			kind = reg.Kind(m)
		}
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	f := &Flush{env: env, kinds: kinds}
	f.state = Translated
	return f
}

// Kinds returns the kinds the flush was built for.
func (f *Flush) Kinds() []string { return f.kinds }

// Execute deletes the records and returns how many were removed. In
// complete mode, honoured only in a test environment, every kind the store
// holds is flushed instead of the given ones.
func (f *Flush) Execute(ctx context.Context) (Result, error) {
	if err := f.begin(); err != nil {
		return Result{}, err
	}
	kinds := f.kinds
	switch {
	case f.env.Options.CompleteFlush && f.env.Options.TestEnvironment:
		discovered, err := f.env.Store.Kinds(ctx)
		if err != nil {
			return Result{}, err
		}
		kinds = discovered
	case f.env.Options.CompleteFlush:
		f.env.log().Warn("complete flush ignored outside a test environment")
	}

	total := 0
	for _, kind := range kinds {
		n, err := f.flushKind(ctx, kind)
		total += n
		if err != nil {
			return Result{RowCount: total}, err
		}
	}
	f.env.log().Info("flushed kinds", "kinds", kinds, "records", total)
	return Result{RowCount: total}, nil
}

func (f *Flush) flushKind(ctx context.Context, kind string) (int, error) {
	it, err := f.env.Store.Run(ctx, &datastore.Query{Kind: kind, KeysOnly: true})
	if err != nil {
		return 0, err
	}
	var keys []datastore.Key
	for {
		e, err := it.Next()
		if errors.Is(err, datastore.Done) {
			break
		}
		if err != nil {
			return 0, err
		}
		keys = append(keys, e.Key)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := f.env.Store.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}
