package attr

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// numberContext mirrors the limits of the DynamoDB number type. Every
// condition that would lose information traps.
var numberContext = apd.Context{
	Precision:   38,
	MaxExponent: 126,
	MinExponent: -128,
	Traps:       apd.Clamped | apd.Overflow | apd.Underflow | apd.Inexact | apd.Rounded,
	Rounding:    apd.RoundHalfEven,
}

// minAdjustedExponent is the smallest magnitude the service stores, 1E-130.
const minAdjustedExponent = -130

// NumberContext returns a copy of the decimal context used for numbers.
func NumberContext() *apd.Context {
	c := numberContext
	return &c
}

// ParseDecimal parses s under the number context.
func ParseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := numberContext.NewFromString(s)
	if err != nil {
		return nil, typeErrorf("number %q: %v", s, err)
	}
	if d.Form != apd.Finite {
		return nil, typeErrorf("number %q is not finite", s)
	}
	if !d.IsZero() && adjustedExponent(d) < minAdjustedExponent {
		return nil, typeErrorf("number %q: underflow", s)
	}
	return d, nil
}

// CanonicalNumber validates s and returns its canonical text form.
func CanonicalNumber(s string) (string, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return "", err
	}
	return formatDecimal(d), nil
}

// ParseNumber decodes a DynamoDB number. Integral values come back as
// *big.Int, everything else as *apd.Decimal.
func ParseNumber(s string) (any, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return nil, err
	}
	var r apd.Decimal
	r.Reduce(d)
	if r.Exponent >= 0 {
		n, ok := new(big.Int).SetString(r.Text('f'), 10)
		if !ok {
			return nil, typeErrorf("number %q is not an integer", s)
		}
		return n, nil
	}
	if r.IsZero() {
		r.Negative = false
	}
	return &r, nil
}

// CompareNumbers orders two DynamoDB number strings numerically.
func CompareNumbers(a, b string) (int, error) {
	x, err := ParseDecimal(a)
	if err != nil {
		return 0, err
	}
	y, err := ParseDecimal(b)
	if err != nil {
		return 0, err
	}
	return x.Cmp(y), nil
}

// AddNumbers returns a+b (or a-b when negate is set) under the number context.
func AddNumbers(a, b string, negate bool) (string, error) {
	x, err := ParseDecimal(a)
	if err != nil {
		return "", err
	}
	y, err := ParseDecimal(b)
	if err != nil {
		return "", err
	}
	res := new(apd.Decimal)
	if negate {
		_, err = numberContext.Sub(res, x, y)
	} else {
		_, err = numberContext.Add(res, x, y)
	}
	if err != nil {
		return "", typeErrorf("arithmetic on %s and %s: %v", a, b, err)
	}
	return formatDecimal(res), nil
}

func adjustedExponent(d *apd.Decimal) int64 {
	return d.NumDigits() + int64(d.Exponent) - 1
}

// formatDecimal renders d in plain notation unless that would spell out
// more digits than the context keeps, which could not be parsed back.
func formatDecimal(d *apd.Decimal) string {
	var r apd.Decimal
	r.Reduce(d)
	if r.IsZero() {
		return "0"
	}
	if r.Exponent > 0 && adjustedExponent(&r) >= int64(numberContext.Precision) {
		return r.Text('E')
	}
	return r.Text('f')
}

// decimalFromBig moves trailing zeros into the exponent so integers wider
// than the precision but with few significant digits still fit.
func decimalFromBig(n *big.Int) (string, error) {
	s := n.String()
	digits := strings.TrimRight(s, "0")
	if zeros := len(s) - len(digits); zeros > 0 && digits != "" && digits != "-" {
		s = digits + "E+" + strconv.Itoa(zeros)
	}
	return CanonicalNumber(s)
}
