package codec_test

import (
	"bytes"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/dynorm/codec"
	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
	"github.com/jacentio/dynorm/schema"
)

func field(name string, t schema.LogicalType) *schema.Field {
	return &schema.Field{Name: name, Column: name, Type: t, RelTo: schema.NoModel}
}

func decimalField(digits, places int) *schema.Field {
	f := field("amount", schema.TypeDecimal)
	f.MaxDigits = digits
	f.DecimalPlaces = places
	return f
}

func roundTrip(t *testing.T, c *codec.Codec, v any, f *schema.Field) any {
	t.Helper()
	native, err := c.ToNative(v, f)
	require.NoError(t, err)
	back, err := c.FromNative(native, f)
	require.NoError(t, err)
	return back
}

func TestRoundTripDecimal(t *testing.T) {
	c := codec.New(codec.Options{})
	f := decimalField(10, 2)

	for _, s := range []string{"0", "0.01", "-0.01", "12345678.99", "-12345678.99", "42.5"} {
		d := decimal.RequireFromString(s)
		back := roundTrip(t, c, d, f)
		assert.True(t, d.Equal(back.(decimal.Decimal)), "%s came back as %v", s, back)
	}
}

func TestDecimalOrdering(t *testing.T) {
	values := []string{"-99.99", "-10", "-1.5", "-0.01", "0", "0.01", "1.5", "10", "99.99"}
	encoded := make([]string, len(values))
	for i, s := range values {
		e, err := codec.EncodeDecimal(decimal.RequireFromString(s), 4, 2)
		require.NoError(t, err)
		encoded[i] = e
	}
	assert.True(t, sort.StringsAreSorted(encoded), "encodings out of order: %v", encoded)
	for _, e := range encoded {
		assert.Len(t, e, 5)
	}
}

func TestDecimalOutOfPrecision(t *testing.T) {
	_, err := codec.EncodeDecimal(decimal.RequireFromString("100.00"), 4, 2)
	assert.ErrorIs(t, err, fault.ErrIntegrity)

	_, err = codec.EncodeDecimal(decimal.RequireFromString("99.995"), 4, 2)
	assert.ErrorIs(t, err, fault.ErrIntegrity, "rounding up can overflow the integer digits")
}

func TestDecimalRoundsExtraPlaces(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1.001", "p0100"},
		{"1.005", "p0100"},
		{"1.015", "p0102"},
		{"1.0151", "p0102"},
		{"-1.005", "n9899"},
		{"99.994", "p9999"},
	}
	for _, tt := range tests {
		got, err := codec.EncodeDecimal(decimal.RequireFromString(tt.in), 4, 2)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDecimalFilterValueRounds(t *testing.T) {
	c := codec.New(codec.Options{})
	f := decimalField(6, 2)

	stored, err := c.ToNative(decimal.RequireFromString("1.00"), f)
	require.NoError(t, err)
	filter, err := c.ToNative("1.005", f)
	require.NoError(t, err)
	assert.Equal(t, stored, filter)
}

func TestDecodeLegacyDecimal(t *testing.T) {
	d, err := codec.DecodeDecimal("3.14", 2)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3.14").Equal(d))
}

func TestRoundTripDateTime(t *testing.T) {
	c := codec.New(codec.Options{UseTZ: true})
	f := field("at", schema.TypeDateTime)

	for _, ts := range []time.Time{
		time.Date(2016, 12, 31, 23, 59, 59, 999999000, time.UTC),
		time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2015, 6, 30, 23, 59, 59, 0, time.FixedZone("X", 5*3600)),
	} {
		back := roundTrip(t, c, ts, f).(time.Time)
		assert.True(t, ts.Equal(back), "%v came back as %v", ts, back)
		assert.Equal(t, time.UTC, back.Location())
	}
}

func TestDateTimeMicrosecondPrecision(t *testing.T) {
	c := codec.New(codec.Options{UseTZ: true})
	f := field("at", schema.TypeDateTime)

	native, err := c.ToNative(time.Date(2020, 1, 1, 0, 0, 0, 1234567, time.UTC), f)
	require.NoError(t, err)
	assert.Equal(t, 1234000, native.(time.Time).Nanosecond())
}

func TestFromNativeIntegerMicros(t *testing.T) {
	c := codec.New(codec.Options{UseTZ: true})
	at := time.Date(2021, 5, 4, 3, 2, 1, 500000000, time.UTC)

	got, err := c.FromNative(at.UnixMicro(), field("at", schema.TypeDateTime))
	require.NoError(t, err)
	assert.True(t, at.Equal(got.(time.Time)))

	got, err = c.FromNative(at.UnixMicro(), field("on", schema.TypeDate))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 5, 4, 0, 0, 0, 0, time.UTC), got)

	got, err = c.FromNative(at.UnixMicro(), field("tod", schema.TypeTime))
	require.NoError(t, err)
	assert.Equal(t, time.Date(0, 1, 1, 3, 2, 1, 500000000, time.UTC), got)
}

func TestNaiveDeploymentKeepsWallClock(t *testing.T) {
	c := codec.New(codec.Options{UseTZ: false})
	f := field("at", schema.TypeDateTime)
	in := time.Date(2022, 2, 2, 10, 30, 0, 0, time.FixedZone("Y", -7*3600))

	native, err := c.ToNative(in, f)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 2, 2, 10, 30, 0, 0, time.UTC), native)

	back, err := c.FromNative(native, f)
	require.NoError(t, err)
	assert.Equal(t, 10, back.(time.Time).Hour())
	assert.Equal(t, time.Local, back.(time.Time).Location())
}

func TestRoundTripTimeAndDate(t *testing.T) {
	c := codec.New(codec.Options{UseTZ: true})

	tod := time.Date(0, 1, 1, 23, 59, 59, 999999000, time.UTC)
	native, err := c.ToNative(tod, field("tod", schema.TypeTime))
	require.NoError(t, err)
	assert.Equal(t, 1970, native.(time.Time).Year())
	assert.Equal(t, tod, roundTrip(t, c, tod, field("tod", schema.TypeTime)))

	day := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, day, roundTrip(t, c, day, field("on", schema.TypeDate)))
}

func TestStringAndTextStayDistinct(t *testing.T) {
	c := codec.New(codec.Options{})

	s, err := c.ToNative("", field("name", schema.TypeString))
	require.NoError(t, err)
	assert.IsType(t, "", s)

	txt, err := c.ToNative("", field("body", schema.TypeText))
	require.NoError(t, err)
	assert.IsType(t, datastore.Text(""), txt)

	assert.Equal(t, "", roundTrip(t, c, "", field("name", schema.TypeString)))
	assert.Equal(t, "", roundTrip(t, c, "", field("body", schema.TypeText)))
}

func TestBytesAndScalars(t *testing.T) {
	c := codec.New(codec.Options{})

	blob, err := c.ToNative([]byte{1, 2}, field("raw", schema.TypeBytes))
	require.NoError(t, err)
	assert.Equal(t, datastore.Blob{1, 2}, blob)
	assert.Equal(t, []byte{1, 2}, roundTrip(t, c, []byte{1, 2}, field("raw", schema.TypeBytes)))

	assert.Equal(t, int64(7), roundTrip(t, c, 7, field("n", schema.TypeInteger)))
	assert.Equal(t, 1.5, roundTrip(t, c, 1.5, field("f", schema.TypeFloat)))
	assert.Equal(t, true, roundTrip(t, c, true, field("b", schema.TypeBool)))
	assert.Equal(t, []any{"a", int64(1)}, roundTrip(t, c, []any{"a", 1}, field("l", schema.TypeList)))

	n, err := c.FromNative(float64(12), field("n", schema.TypeInteger))
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	_, err = c.ToNative("seven", field("n", schema.TypeInteger))
	assert.ErrorIs(t, err, fault.ErrIntegrity)
}

func TestNilPassesThrough(t *testing.T) {
	c := codec.New(codec.Options{})
	for _, lt := range []schema.LogicalType{schema.TypeString, schema.TypeDate, schema.TypeDecimal, schema.TypeKey} {
		v, err := c.ToNative(nil, field("x", lt))
		require.NoError(t, err)
		assert.Nil(t, v)
	}
}

func TestClampKey(t *testing.T) {
	var buf bytes.Buffer
	c := codec.New(codec.Options{Logger: slog.New(slog.NewTextHandler(&buf, nil))})

	exact := strings.Repeat("k", codec.MaxKeyLength)
	assert.Equal(t, exact, c.ClampKey("thing", exact))
	assert.Empty(t, buf.String(), "a 500-byte key is stored unchanged")

	over := strings.Repeat("k", codec.MaxKeyLength+1)
	assert.Equal(t, exact, c.ClampKey("thing", over))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "kind=thing")
	assert.Contains(t, buf.String(), "length=501")

	long := strings.Repeat("x", 600)
	assert.Equal(t, long[:500], c.ClampKey("thing", long))
}

func TestClampKeyRuneBoundary(t *testing.T) {
	c := codec.New(codec.Options{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})

	// 499 ASCII bytes followed by a 3-byte rune straddles the limit.
	key := strings.Repeat("a", 499) + "€" + "tail"
	got := c.ClampKey("thing", key)
	assert.Equal(t, strings.Repeat("a", 499), got)
}
