// Package codec converts typed field values to and from the store's native
// value representation.
//
// Conversion is keyed by the field's [schema.LogicalType]. Native values are
// the ones package datastore understands: nil, bool, int64, float64, string,
// datastore.Text, datastore.Blob, time.Time, datastore.Key and []any.
package codec

import (
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
	"github.com/jacentio/dynorm/schema"
)

// MaxKeyLength is the longest string identity the store accepts, in bytes.
const MaxKeyLength = 500

// Options configures a Codec.
type Options struct {
	// UseTZ marks the deployment timezone-aware: datetimes are stored as
	// UTC instants and read back in UTC. Without it, wall-clock readings are
	// stored as-is and read back in the local zone.
	UseTZ bool

	// Logger receives truncation warnings. Nil means slog.Default().
	Logger *slog.Logger
}

// Codec converts values for one deployment.
type Codec struct {
	useTZ bool
	log   *slog.Logger
}

// New returns a codec for opts.
func New(opts Options) *Codec {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Codec{useTZ: opts.UseTZ, log: log}
}

// UseTZ reports whether the codec is timezone-aware.
func (c *Codec) UseTZ() bool { return c.useTZ }

// ClampKey truncates an oversized string identity to MaxKeyLength bytes,
// never splitting a UTF-8 sequence, and logs a warning when it does.
func (c *Codec) ClampKey(kind, name string) string {
	if len(name) <= MaxKeyLength {
		return name
	}
	cut := MaxKeyLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	c.log.Warn("truncating primary key over the store limit",
		"kind", kind,
		"length", len(name),
		"limit", MaxKeyLength,
	)
	return name[:cut]
}

// ToNative converts a typed value for storage under f.
func (c *Codec) ToNative(v any, f *schema.Field) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case schema.TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case datastore.Text:
			return string(x), nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		}
	case schema.TypeText:
		switch x := v.(type) {
		case string:
			return datastore.Text(x), nil
		case datastore.Text:
			return x, nil
		case []byte:
			return datastore.Text(x), nil
		}
	case schema.TypeBytes:
		switch x := v.(type) {
		case []byte:
			return datastore.Blob(append([]byte(nil), x...)), nil
		case datastore.Blob:
			return datastore.Blob(append([]byte(nil), x...)), nil
		case string:
			return datastore.Blob(x), nil
		}
	case schema.TypeDate:
		if t, ok := v.(time.Time); ok {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	case schema.TypeDateTime:
		if t, ok := v.(time.Time); ok {
			return c.naive(t), nil
		}
	case schema.TypeTime:
		if t, ok := v.(time.Time); ok {
			t = c.naive(t)
			return time.Date(1970, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
		}
	case schema.TypeDecimal:
		if d, ok := toDecimal(v); ok {
			return EncodeDecimal(d, f.MaxDigits, f.DecimalPlaces)
		}
	case schema.TypeInteger:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case schema.TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		}
		if n, ok := toInt64(v); ok {
			return float64(n), nil
		}
	case schema.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.TypeKey:
		switch x := v.(type) {
		case string:
			return c.ClampKey(f.Column, x), nil
		case datastore.Key:
			return x.IDOrName(), nil
		}
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case schema.TypeList:
		return c.listToNative(v, f)
	}
	return nil, fmt.Errorf("%w: %s: cannot store %T as %s", fault.ErrIntegrity, f.Name, v, f.Type)
}

// FromNative converts a stored value back into the typed value of f.
func (c *Codec) FromNative(v any, f *schema.Field) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case schema.TypeString, schema.TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		case datastore.Text:
			return string(x), nil
		}
	case schema.TypeBytes:
		switch x := v.(type) {
		case datastore.Blob:
			return []byte(x), nil
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	case schema.TypeDate:
		if t, ok := c.instant(v); ok {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	case schema.TypeDateTime:
		if t, ok := c.instant(v); ok {
			return c.aware(t), nil
		}
	case schema.TypeTime:
		if t, ok := c.instant(v); ok {
			return time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
		}
	case schema.TypeDecimal:
		if s, ok := v.(string); ok {
			if s == "" {
				return nil, nil
			}
			return DecodeDecimal(s, f.DecimalPlaces)
		}
	case schema.TypeInteger:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		if x, ok := v.(float64); ok && x == float64(int64(x)) {
			return int64(x), nil
		}
	case schema.TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		}
	case schema.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.TypeKey:
		switch x := v.(type) {
		case int64, string:
			return x, nil
		case datastore.Key:
			return x.IDOrName(), nil
		}
	case schema.TypeList:
		if list, ok := v.([]any); ok {
			return append([]any(nil), list...), nil
		}
	}
	return nil, fmt.Errorf("%w: %s: stored %T is not a %s", fault.ErrIntegrity, f.Name, v, f.Type)
}

// naive normalises t to the stored form: a UTC-labelled reading at
// microsecond precision. Aware deployments store the UTC instant; others
// keep the wall clock.
func (c *Codec) naive(t time.Time) time.Time {
	if c.useTZ {
		t = t.UTC()
	}
	t = t.Truncate(time.Microsecond)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// aware reattaches a location to a stored reading.
func (c *Codec) aware(t time.Time) time.Time {
	if c.useTZ {
		return t.UTC()
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
}

// instant accepts both forms a date/time column comes back in: a
// time.Time from point reads and integer microseconds since the epoch
// from query results.
func (c *Codec) instant(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case int64:
		return time.UnixMicro(x).UTC(), true
	case float64:
		return time.UnixMicro(int64(x)).UTC(), true
	}
	return time.Time{}, false
}

func (c *Codec) listToNative(v any, f *schema.Field) (any, error) {
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	case []int64:
		for _, n := range x {
			items = append(items, n)
		}
	case []int:
		for _, n := range x {
			items = append(items, n)
		}
	default:
		return nil, fmt.Errorf("%w: %s: cannot store %T as a list", fault.ErrIntegrity, f.Name, v)
	}
	out := make([]any, len(items))
	for i, item := range items {
		n, err := c.elementToNative(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", fault.ErrIntegrity, f.Name, i, err)
		}
		out[i] = n
	}
	return out, nil
}

func (c *Codec) elementToNative(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, datastore.Key:
		return x, nil
	case float32:
		return float64(x), nil
	case time.Time:
		return c.naive(x), nil
	}
	if n, ok := toInt64(v); ok {
		return n, nil
	}
	return nil, fmt.Errorf("unsupported list element %T", v)
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	}
	return 0, false
}
