package fixedpoint

import (
	"fmt"
	"strconv"
	"strings"
)

// Decimal is an exact fixed-point quantity Mantissa × 10^Exponent.
type Decimal struct {
	Mantissa uint64
	Exponent int32
}

// NewDecimal builds a decimal from its mantissa and exponent.
func NewDecimal(mantissa uint64, exponent int32) Decimal {
	return Decimal{Mantissa: mantissa, Exponent: exponent}
}

// FromUnits expresses an integer token amount with the given decimals, e.g.
// FromUnits(1_500_000, 6) is 1.5.
func FromUnits(amount uint64, decimals uint8) Decimal {
	return Decimal{Mantissa: amount, Exponent: -int32(decimals)}
}

// IsZero reports whether the quantity is zero.
func (d Decimal) IsZero() bool { return d.Mantissa == 0 }

// Mul multiplies two decimals and rescales the product to expOut.
func (d Decimal) Mul(other Decimal, expOut int32) (Decimal, error) {
	m, err := DecimalMul(d.Mantissa, d.Exponent, other.Mantissa, other.Exponent, expOut)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Mantissa: m, Exponent: expOut}, nil
}

// Div divides two decimals and rescales the quotient to expOut.
func (d Decimal) Div(other Decimal, expOut int32) (Decimal, error) {
	m, err := DecimalDiv(d.Mantissa, d.Exponent, other.Mantissa, other.Exponent, expOut)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Mantissa: m, Exponent: expOut}, nil
}

// Rescale re-expresses the value at exponent expOut, rounding toward zero.
func (d Decimal) Rescale(expOut int32) (Decimal, error) {
	return d.Mul(Decimal{Mantissa: 1}, expOut)
}

// String renders the decimal in plain positional notation.
func (d Decimal) String() string {
	digits := strconv.FormatUint(d.Mantissa, 10)
	if d.Exponent >= 0 {
		return digits + strings.Repeat("0", int(d.Exponent))
	}
	places := int(-d.Exponent)
	if len(digits) <= places {
		digits = strings.Repeat("0", places-len(digits)+1) + digits
	}
	point := len(digits) - places
	return fmt.Sprintf("%s.%s", digits[:point], digits[point:])
}
