// Package fixed provides checked fixed-point arithmetic over
// shopspring/decimal values.
//
// Every value is kept inside the range of a 128-bit integer scaled by
// 10^Precision: signed values fit an int128, unsigned values fit a uint128.
// Operations never panic; results outside the range, unsigned underflow and
// division by zero are returned as errors. Results are truncated toward
// zero at Precision fractional digits.
package fixed

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept by every operation.
const Precision int32 = 18

var (
	// ErrOverflow is returned when a result exceeds the representable range.
	ErrOverflow = errors.New("fixed: arithmetic overflow")

	// ErrUnderflow is returned when an unsigned operation would go negative.
	ErrUnderflow = errors.New("fixed: arithmetic underflow")

	// ErrDivisionByZero is returned when dividing by zero.
	ErrDivisionByZero = errors.New("fixed: division by zero")
)

var (
	// MaxSigned is the largest representable signed value, (2^127-1)/10^18.
	MaxSigned = decimal.NewFromBigInt(
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1)), -Precision)

	// MinSigned is the smallest representable signed value, -2^127/10^18.
	MinSigned = decimal.NewFromBigInt(
		new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127)), -Precision)

	// MaxUnsigned is the largest representable unsigned value, (2^128-1)/10^18.
	MaxUnsigned = decimal.NewFromBigInt(
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)), -Precision)
)

// CheckSigned reports ErrOverflow if d is outside the signed range.
func CheckSigned(d decimal.Decimal) error {
	if d.GreaterThan(MaxSigned) || d.LessThan(MinSigned) {
		return ErrOverflow
	}
	return nil
}

// CheckUnsigned reports ErrUnderflow for negative values and ErrOverflow for
// values above MaxUnsigned.
func CheckUnsigned(d decimal.Decimal) error {
	if d.IsNegative() {
		return ErrUnderflow
	}
	if d.GreaterThan(MaxUnsigned) {
		return ErrOverflow
	}
	return nil
}

func signed(d decimal.Decimal) (decimal.Decimal, error) {
	d = d.Truncate(Precision)
	if err := CheckSigned(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func unsigned(d decimal.Decimal) (decimal.Decimal, error) {
	d = d.Truncate(Precision)
	if err := CheckUnsigned(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func quo(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.QuoRem(b, Precision)
	return q, nil
}

// Add returns a + b.
func Add(a, b decimal.Decimal) (decimal.Decimal, error) { return signed(a.Add(b)) }

// Sub returns a - b.
func Sub(a, b decimal.Decimal) (decimal.Decimal, error) { return signed(a.Sub(b)) }

// Mul returns a * b truncated to Precision digits.
func Mul(a, b decimal.Decimal) (decimal.Decimal, error) { return signed(a.Mul(b)) }

// Div returns a / b truncated to Precision digits.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	q, err := quo(a, b)
	if err != nil {
		return decimal.Zero, err
	}
	return signed(q)
}

// MulDiv returns a * b / c with a single truncation at the end, so
// proportional splits do not accumulate rounding from an intermediate ratio.
func MulDiv(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	q, err := quo(a.Mul(b), c)
	if err != nil {
		return decimal.Zero, err
	}
	return signed(q)
}

// UAdd returns a + b for non-negative operands.
func UAdd(a, b decimal.Decimal) (decimal.Decimal, error) { return unsigned(a.Add(b)) }

// USub returns a - b, failing with ErrUnderflow if b > a.
func USub(a, b decimal.Decimal) (decimal.Decimal, error) { return unsigned(a.Sub(b)) }

// UMul returns a * b for non-negative operands.
func UMul(a, b decimal.Decimal) (decimal.Decimal, error) { return unsigned(a.Mul(b)) }

// UDiv returns a / b for non-negative operands.
func UDiv(a, b decimal.Decimal) (decimal.Decimal, error) {
	q, err := quo(a, b)
	if err != nil {
		return decimal.Zero, err
	}
	return unsigned(q)
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// SameSign reports whether a and b are both strictly positive or both
// strictly negative.
func SameSign(a, b decimal.Decimal) bool {
	return a.Sign() != 0 && a.Sign() == b.Sign()
}

// WithSign returns |d| carrying the sign of sign. A zero sign yields zero.
func WithSign(d decimal.Decimal, sign int) decimal.Decimal {
	switch {
	case sign > 0:
		return d.Abs()
	case sign < 0:
		return d.Abs().Neg()
	default:
		return decimal.Zero
	}
}
