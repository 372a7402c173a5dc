// Package uniques emulates relational uniqueness on a store that has none.
//
// After every successful write the full record is cached under one key per
// unique column combination of its model; deletes and updates drop the old
// keys. The cache is advisory: it answers "who last wrote this value" on a
// best-effort basis, entries expire after a short TTL, and cache failures
// degrade to misses. Two concurrent writers can both pass [Uniques.Check];
// closing that window needs a transactional check-and-write against the
// store, which this package does not attempt.
package uniques

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jacentio/dynorm/cache"
	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
	"github.com/jacentio/dynorm/schema"
)

// DefaultTTL bounds how long a cached snapshot is trusted.
const DefaultTTL = 10 * time.Second

// Options configures Uniques.
type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
}

// Uniques derives unique-combination cache keys and maintains their entries.
type Uniques struct {
	reg   *schema.Registry
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

// New returns a Uniques writing to c. A nil cache disables caching; Check
// then relies on existence queries alone.
func New(reg *schema.Registry, c cache.Cache, opts Options) *Uniques {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Uniques{reg: reg, cache: c, ttl: opts.TTL, log: opts.Logger}
}

type part struct {
	column string
	value  any
}

// combinations resolves the unique combinations of m against e. A
// combination with a nil member is skipped: nulls never collide.
func (u *Uniques) combinations(m *schema.Model, e *datastore.Entity) [][]part {
	var out [][]part
	for _, cols := range u.reg.UniqueCombinations(m) {
		parts := make([]part, 0, len(cols))
		for _, col := range cols {
			var v any
			if m.PK != nil && col == m.PK.Column {
				if _, stored := e.Properties[col]; !stored {
					v = e.Key.IDOrName()
				} else {
					v = e.Properties[col]
				}
			} else {
				v = e.Properties[col]
			}
			if v == nil {
				parts = nil
				break
			}
			parts = append(parts, part{column: col, value: v})
		}
		if parts != nil {
			out = append(out, parts)
		}
	}
	return out
}

func (u *Uniques) key(m *schema.Model, parts []part) string {
	sorted := slices.Clone(parts)
	slices.SortFunc(sorted, func(a, b part) int { return strings.Compare(a.column, b.column) })

	var b strings.Builder
	b.WriteString(u.reg.App())
	b.WriteByte('.')
	b.WriteString(u.reg.Kind(m))
	b.WriteByte('|')
	for i, p := range sorted {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(p.column)
		b.WriteByte(':')
		b.WriteString(formatValue(p.value))
	}
	return b.String()
}

// Keys returns the cache key of every unique combination e populates.
func (u *Uniques) Keys(m *schema.Model, e *datastore.Entity) []string {
	combos := u.combinations(m, e)
	keys := make([]string, len(combos))
	for i, parts := range combos {
		keys[i] = u.key(m, parts)
	}
	return keys
}

// KeyFor returns the cache key for a set of column values when the columns
// are exactly one unique combination of m.
func (u *Uniques) KeyFor(m *schema.Model, values map[string]any) (string, bool) {
	for _, cols := range u.reg.UniqueCombinations(m) {
		if len(cols) != len(values) {
			continue
		}
		parts := make([]part, 0, len(cols))
		for _, col := range cols {
			v, ok := values[col]
			if !ok || v == nil {
				parts = nil
				break
			}
			parts = append(parts, part{column: col, value: v})
		}
		if parts != nil {
			return u.key(m, parts), true
		}
	}
	return "", false
}

// Cache stores e under each of its unique keys. Call it only after the
// record write succeeded.
func (u *Uniques) Cache(ctx context.Context, m *schema.Model, e *datastore.Entity) {
	if u.cache == nil {
		return
	}
	for _, key := range u.Keys(m, e) {
		if err := u.cache.Set(ctx, key, e, u.ttl); err != nil {
			u.log.Warn("unique cache set failed", "key", key, "error", err)
		}
	}
}

// Uncache removes each of e's unique keys.
func (u *Uniques) Uncache(ctx context.Context, m *schema.Model, e *datastore.Entity) {
	if u.cache == nil {
		return
	}
	for _, key := range u.Keys(m, e) {
		if err := u.cache.Delete(ctx, key); err != nil {
			u.log.Warn("unique cache delete failed", "key", key, "error", err)
		}
	}
}

// Invalidate removes the keys old populated that current no longer does.
// A nil current drops every key of old. It returns the number of keys
// removed.
func (u *Uniques) Invalidate(ctx context.Context, m *schema.Model, old, current *datastore.Entity) int {
	if u.cache == nil || old == nil {
		return 0
	}
	var keep []string
	if current != nil {
		keep = u.Keys(m, current)
	}
	removed := 0
	for _, key := range u.Keys(m, old) {
		if slices.Contains(keep, key) {
			continue
		}
		if err := u.cache.Delete(ctx, key); err != nil {
			u.log.Warn("unique cache delete failed", "key", key, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// Lookup returns the last cached snapshot for key. It is a hint only.
func (u *Uniques) Lookup(ctx context.Context, key string) (*datastore.Entity, bool) {
	if u.cache == nil {
		return nil, false
	}
	e, err := u.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			u.log.Warn("unique cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return e, true
}

// Check reports an integrity error when another stored record already
// holds one of e's unique combinations. When inserting, a stored record
// under e's own key counts as a collision too. A cached snapshot is used as
// a hint and confirmed with a point read; otherwise an existence query
// decides.
func (u *Uniques) Check(ctx context.Context, ds datastore.Datastore, m *schema.Model, e *datastore.Entity, inserting bool) error {
	conflicts := func(k datastore.Key) bool {
		return inserting || k != e.Key
	}
	for _, parts := range u.combinations(m, e) {
		key := u.key(m, parts)

		if hint, ok := u.Lookup(ctx, key); ok && conflicts(hint.Key) {
			current, err := ds.Get(ctx, hint.Key)
			switch {
			case err == nil && holds(m, current, parts):
				return fmt.Errorf("%w: %s already taken by %s", fault.ErrIntegrity, key, hint.Key)
			case err != nil && !errors.Is(err, datastore.ErrNoSuchEntity):
				return err
			}
		}

		q := &datastore.Query{Kind: u.reg.Kind(m), KeysOnly: true, Limit: 2}
		for _, p := range parts {
			prop := p.column
			value := p.value
			if m.PK != nil && p.column == m.PK.Column {
				prop = datastore.KeyProperty
				value = keyFor(u.reg.Kind(m), p.value)
			}
			q.Filters = append(q.Filters, datastore.Filter{Property: prop, Op: datastore.Equal, Value: value})
		}
		it, err := ds.Run(ctx, q)
		if err != nil {
			return err
		}
		for {
			found, err := it.Next()
			if errors.Is(err, datastore.Done) {
				break
			}
			if err != nil {
				return err
			}
			if conflicts(found.Key) {
				return fmt.Errorf("%w: %s already taken by %s", fault.ErrIntegrity, key, found.Key)
			}
		}
	}
	return nil
}

// holds reports whether e still carries every value of a combination.
func holds(m *schema.Model, e *datastore.Entity, parts []part) bool {
	for _, p := range parts {
		if m.PK != nil && p.column == m.PK.Column {
			if e.Key.IDOrName() != p.value {
				return false
			}
			continue
		}
		if r, ok := datastore.Compare(e.Properties[p.column], p.value); !ok || r != 0 {
			return false
		}
	}
	return true
}

func keyFor(kind string, v any) datastore.Key {
	switch x := v.(type) {
	case int64:
		return datastore.IDKey(kind, x)
	case string:
		return datastore.NameKey(kind, x)
	}
	return datastore.IncompleteKey(kind)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case datastore.Key:
		return x.String()
	case datastore.Text:
		return string(x)
	case datastore.Blob:
		return hex.EncodeToString(x)
	default:
		return fmt.Sprint(v)
	}
}
