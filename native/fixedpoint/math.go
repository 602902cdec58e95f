package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrArithmeticOverflow is returned when a result does not fit the target width.
	ErrArithmeticOverflow = errors.New("fixedpoint: arithmetic overflow")
	// ErrArithmeticUnderflow is returned when a subtraction would go below zero.
	ErrArithmeticUnderflow = errors.New("fixedpoint: arithmetic underflow")
	// ErrDivisionByZero is returned when the divisor is zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

// MaxExponent bounds the decimal shift applied by the rescaling helpers so that
// every power of ten stays inside the 128-bit intermediate range.
const MaxExponent = 38

var (
	maxWide = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	ten     = uint256.NewInt(10)
	pow10   [MaxExponent + 1]*uint256.Int
)

func init() {
	pow10[0] = uint256.NewInt(1)
	for i := 1; i <= MaxExponent; i++ {
		pow10[i] = new(uint256.Int).Mul(pow10[i-1], ten)
	}
}

// CheckedAdd returns a+b or ErrArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d + %d", ErrArithmeticOverflow, a, b)
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrArithmeticUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrArithmeticUnderflow, a, b)
	}
	return a - b, nil
}

// CheckedMul returns a*b or ErrArithmeticOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	product, err := WideMul(uint256.NewInt(a), uint256.NewInt(b))
	if err != nil {
		return 0, err
	}
	return CheckedAsU64(product)
}

// CheckedDiv returns a/b rounded toward zero or ErrDivisionByZero.
func CheckedDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, fmt.Errorf("%w: %d / 0", ErrDivisionByZero, a)
	}
	return a / b, nil
}

// CheckedAsU64 narrows a wide value, failing when it does not fit 64 bits.
func CheckedAsU64(v *uint256.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s exceeds u64", ErrArithmeticOverflow, v.Dec())
	}
	return v.Uint64(), nil
}

// WideAdd adds two 128-bit quantities.
func WideAdd(x, y *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow || sum.Gt(maxWide) {
		return nil, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return sum, nil
}

// WideSub subtracts two 128-bit quantities.
func WideSub(x, y *uint256.Int) (*uint256.Int, error) {
	if y.Gt(x) {
		return nil, fmt.Errorf("%w: %s - %s", ErrArithmeticUnderflow, x.Dec(), y.Dec())
	}
	return new(uint256.Int).Sub(x, y), nil
}

// WideMul multiplies two 128-bit quantities.
func WideMul(x, y *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow || product.Gt(maxWide) {
		return nil, fmt.Errorf("%w: %s * %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return product, nil
}

// WideDiv divides two 128-bit quantities rounding toward zero.
func WideDiv(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, fmt.Errorf("%w: %s / 0", ErrDivisionByZero, x.Dec())
	}
	return new(uint256.Int).Div(x, y), nil
}

// Pow10 returns 10^exp for exp in [0, MaxExponent].
func Pow10(exp int32) (*uint256.Int, error) {
	if exp < 0 || exp > MaxExponent {
		return nil, fmt.Errorf("%w: 10^%d", ErrArithmeticOverflow, exp)
	}
	return new(uint256.Int).Set(pow10[exp]), nil
}

// MulDiv computes a*b/denom with a 128-bit intermediate, rounding toward zero.
func MulDiv(a, b, denom uint64) (uint64, error) {
	if denom == 0 {
		return 0, fmt.Errorf("%w: (%d * %d) / 0", ErrDivisionByZero, a, b)
	}
	product, err := WideMul(uint256.NewInt(a), uint256.NewInt(b))
	if err != nil {
		return 0, err
	}
	quotient, err := WideDiv(product, uint256.NewInt(denom))
	if err != nil {
		return 0, err
	}
	return CheckedAsU64(quotient)
}

// DecimalMul multiplies a×10^expA by b×10^expB and expresses the product as a
// mantissa at exponent expOut, rounding toward zero.
func DecimalMul(a uint64, expA int32, b uint64, expB int32, expOut int32) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product, err := WideMul(uint256.NewInt(a), uint256.NewInt(b))
	if err != nil {
		return 0, err
	}
	shifted, err := rescale(product, expA+expB-expOut)
	if err != nil {
		return 0, err
	}
	return CheckedAsU64(shifted)
}

// DecimalDiv divides a×10^expA by b×10^expB and expresses the quotient as a
// mantissa at exponent expOut, rounding toward zero.
func DecimalDiv(a uint64, expA int32, b uint64, expB int32, expOut int32) (uint64, error) {
	if b == 0 {
		return 0, fmt.Errorf("%w: decimal %d / 0", ErrDivisionByZero, a)
	}
	if a == 0 {
		return 0, nil
	}
	shift := expA - expB - expOut
	numerator := uint256.NewInt(a)
	denominator := uint256.NewInt(b)
	if shift >= 0 {
		scale, err := Pow10(shift)
		if err != nil {
			return 0, err
		}
		if numerator, err = WideMul(numerator, scale); err != nil {
			return 0, err
		}
	} else {
		scale, err := Pow10(-shift)
		if err != nil {
			return 0, err
		}
		if denominator, err = WideMul(denominator, scale); err != nil {
			return 0, err
		}
	}
	quotient, err := WideDiv(numerator, denominator)
	if err != nil {
		return 0, err
	}
	return CheckedAsU64(quotient)
}

// rescale multiplies by 10^shift when shift is positive and divides by
// 10^-shift otherwise.
func rescale(v *uint256.Int, shift int32) (*uint256.Int, error) {
	switch {
	case shift == 0:
		return v, nil
	case shift > 0:
		scale, err := Pow10(shift)
		if err != nil {
			return nil, err
		}
		return WideMul(v, scale)
	default:
		if -shift > MaxExponent {
			return new(uint256.Int), nil
		}
		scale, err := Pow10(-shift)
		if err != nil {
			return nil, err
		}
		return WideDiv(v, scale)
	}
}
