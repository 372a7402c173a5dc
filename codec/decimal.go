package codec

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jacentio/dynorm/fault"
)

// EncodeDecimal renders d as a fixed-width string whose lexicographic order
// matches numeric order for every value that fits (maxDigits, places).
// Extra decimal places are rounded half to even; too many integer digits
// is an integrity error. Non-negative values are "p" followed by the
// zero-padded scaled coefficient; negative values are "n" followed by its
// nines' complement.
func EncodeDecimal(d decimal.Decimal, maxDigits, places int) (string, error) {
	d = d.RoundBank(int32(places))
	digits := d.Abs().Shift(int32(places)).BigInt().String()
	if len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %s does not fit %d digits", fault.ErrIntegrity, d, maxDigits)
	}
	digits = strings.Repeat("0", maxDigits-len(digits)) + digits
	if d.Sign() < 0 {
		return "n" + ninesComplement(digits), nil
	}
	return "p" + digits, nil
}

// DecodeDecimal reverses EncodeDecimal. Strings without a sign prefix are
// read as plain decimal literals.
func DecodeDecimal(s string, places int) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty decimal", fault.ErrIntegrity)
	}
	switch s[0] {
	case 'p', 'n':
		digits := s[1:]
		if s[0] == 'n' {
			digits = ninesComplement(digits)
		}
		d, err := decimal.NewFromString(digits)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: malformed decimal %q", fault.ErrIntegrity, s)
		}
		d = d.Shift(-int32(places))
		if s[0] == 'n' {
			d = d.Neg()
		}
		return d, nil
	default:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: malformed decimal %q", fault.ErrIntegrity, s)
		}
		return d, nil
	}
}

func ninesComplement(digits string) string {
	out := []byte(digits)
	for i, c := range out {
		if c >= '0' && c <= '9' {
			out[i] = '9' - (c - '0')
		}
	}
	return string(out)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero, false
		}
		return *x, true
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case float64:
		return decimal.NewFromFloat(x), true
	}
	return decimal.Zero, false
}
