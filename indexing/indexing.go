// Package indexing derives the extra columns that let the store answer
// lookups it cannot evaluate natively, such as case-insensitive equality or
// substring matches.
//
// Each lookup has an [Indexer]. On write, the mapper stores Prep(value) under
// the indexer's derived column; on read, the translator filters that column
// with PrepQuery(value) instead of the original one. A derived column only
// exists for records written after its index was registered, so a
// [Registry] is built once at startup and frozen before any query runs.
package indexing

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jacentio/dynorm/schema"
)

var (
	// ErrFrozen is returned when registering after Freeze.
	ErrFrozen = errors.New("dynorm: special index registry is frozen")

	// ErrUnknownLookup is returned for lookups no indexer implements.
	ErrUnknownLookup = errors.New("dynorm: no indexer for lookup")
)

// MaxContainsLength bounds the substrings a contains index stores, in runes.
// Longer query values cannot be answered from the index.
const MaxContainsLength = 16

// Indexer computes one kind of derived column.
type Indexer struct {
	lookup string
	types  []schema.LogicalType
	prep   func(v any) any
	query  func(v any) (any, error)
}

// Lookup returns the lookup name the indexer serves.
func (ix *Indexer) Lookup() string { return ix.lookup }

// Column returns the derived column name for a source column.
func (ix *Indexer) Column(column string) string {
	return "_idx_" + ix.lookup + "_" + column
}

// Prep computes the stored derived value from a native source value.
func (ix *Indexer) Prep(native any) any {
	if native == nil {
		return nil
	}
	return ix.prep(native)
}

// PrepQuery converts a lookup argument into the value to compare the
// derived column against with equality.
func (ix *Indexer) PrepQuery(v any) (any, error) {
	return ix.query(v)
}

func (ix *Indexer) accepts(t schema.LogicalType) bool {
	return slices.Contains(ix.types, t)
}

var stringTypes = []schema.LogicalType{schema.TypeString}

var dateTypes = []schema.LogicalType{schema.TypeDate, schema.TypeDateTime}

var indexers = map[string]*Indexer{
	"iexact": {
		lookup: "iexact",
		types:  stringTypes,
		prep:   stringPrep(func(s string) any { return strings.ToLower(s) }),
		query:  stringQuery(strings.ToLower),
	},
	"contains": {
		lookup: "contains",
		types:  stringTypes,
		prep:   stringPrep(func(s string) any { return substrings(s) }),
		query:  containsQuery(func(s string) string { return s }),
	},
	"icontains": {
		lookup: "icontains",
		types:  stringTypes,
		prep:   stringPrep(func(s string) any { return substrings(strings.ToLower(s)) }),
		query:  containsQuery(strings.ToLower),
	},
	"startswith": {
		lookup: "startswith",
		types:  stringTypes,
		prep:   stringPrep(func(s string) any { return prefixes(s) }),
		query:  stringQuery(func(s string) string { return s }),
	},
	"istartswith": {
		lookup: "istartswith",
		types:  stringTypes,
		prep:   stringPrep(func(s string) any { return prefixes(strings.ToLower(s)) }),
		query:  stringQuery(strings.ToLower),
	},
	"endswith": {
		lookup: "endswith",
		types:  stringTypes,
		prep:   stringPrep(func(s string) any { return suffixes(s) }),
		query:  stringQuery(func(s string) string { return s }),
	},
	"iendswith": {
		lookup: "iendswith",
		types:  stringTypes,
		prep:   stringPrep(func(s string) any { return suffixes(strings.ToLower(s)) }),
		query:  stringQuery(strings.ToLower),
	},
	"year": {
		lookup: "year",
		types:  dateTypes,
		prep:   timePrep(func(t time.Time) int64 { return int64(t.Year()) }),
		query:  intQuery,
	},
	"month": {
		lookup: "month",
		types:  dateTypes,
		prep:   timePrep(func(t time.Time) int64 { return int64(t.Month()) }),
		query:  intQuery,
	},
	"day": {
		lookup: "day",
		types:  dateTypes,
		prep:   timePrep(func(t time.Time) int64 { return int64(t.Day()) }),
		query:  intQuery,
	},
}

// Supported reports whether an indexer exists for lookup.
func Supported(lookup string) bool {
	_, ok := indexers[lookup]
	return ok
}

// Registry records which fields carry which special indexes.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	fields map[*schema.Field][]*Indexer
}

// New returns an empty, unfrozen registry.
func New() *Registry {
	return &Registry{fields: make(map[*schema.Field][]*Indexer)}
}

// FromSchema registers every index declared in reg and freezes the result.
func FromSchema(reg *schema.Registry) (*Registry, error) {
	r := New()
	for _, m := range reg.Models() {
		for _, f := range m.Own {
			for _, lookup := range f.Indexes {
				if err := r.Register(f, lookup); err != nil {
					return nil, fmt.Errorf("%s.%s: %w", m.Name, f.Name, err)
				}
			}
		}
	}
	r.Freeze()
	return r, nil
}

// Register adds a lookup index to f. Registering the same pair twice is a
// no-op.
func (r *Registry) Register(f *schema.Field, lookup string) error {
	ix, ok := indexers[lookup]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownLookup, lookup)
	}
	if !ix.accepts(f.Type) {
		return fmt.Errorf("%w: %s cannot index a %s field", ErrUnknownLookup, lookup, f.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	if !slices.Contains(r.fields[f], ix) {
		r.fields[f] = append(r.fields[f], ix)
	}
	return nil
}

// Freeze stops further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// For returns the indexers registered on f in registration order.
func (r *Registry) For(f *schema.Field) []*Indexer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.fields[f])
}

// Lookup returns the indexer for lookup on f, if one is registered.
func (r *Registry) Lookup(f *schema.Field, lookup string) (*Indexer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ix := range r.fields[f] {
		if ix.lookup == lookup {
			return ix, true
		}
	}
	return nil, false
}

func stringPrep(fn func(string) any) func(any) any {
	return func(v any) any {
		s, ok := v.(string)
		if !ok {
			return nil
		}
		return fn(s)
	}
}

func stringQuery(fn func(string) string) func(any) (any, error) {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("string lookup needs a string, got %T", v)
		}
		return fn(s), nil
	}
}

func containsQuery(fn func(string) string) func(any) (any, error) {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("contains lookup needs a string, got %T", v)
		}
		if utf8.RuneCountInString(s) > MaxContainsLength {
			return nil, fmt.Errorf("contains lookup longer than %d characters", MaxContainsLength)
		}
		return fn(s), nil
	}
}

func timePrep(fn func(time.Time) int64) func(any) any {
	return func(v any) any {
		t, ok := v.(time.Time)
		if !ok {
			return nil
		}
		return fn(t)
	}
}

func intQuery(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	}
	return nil, fmt.Errorf("date part lookup needs an integer, got %T", v)
}

// prefixes returns every non-empty prefix of s, split on rune boundaries.
func prefixes(s string) []any {
	var out []any
	for i := range s {
		if i > 0 {
			out = append(out, s[:i])
		}
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// suffixes returns every non-empty suffix of s.
func suffixes(s string) []any {
	var out []any
	for i := range s {
		out = append(out, s[i:])
	}
	return out
}

// substrings returns every distinct substring of s up to MaxContainsLength
// runes, in first-occurrence order.
func substrings(s string) []any {
	runes := []rune(s)
	seen := make(map[string]bool)
	var out []any
	for i := range runes {
		for j := i + 1; j <= len(runes) && j-i <= MaxContainsLength; j++ {
			sub := string(runes[i:j])
			if !seen[sub] {
				seen[sub] = true
				out = append(out, sub)
			}
		}
	}
	return out
}
