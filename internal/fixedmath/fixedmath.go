package fixedmath

import "math/big"

// Factors (fee fractions, impact coefficients, reserve caps) are fixed-point
// values scaled by FactorScale. Applying a factor truncates toward zero, the
// same as every other division in the settlement core — pool conservation
// depends on no value ever being rounded up.
var FactorScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

var zero = big.NewInt(0)

// New returns a fresh big.Int holding v.
func New(v int64) *big.Int {
	return big.NewInt(v)
}

// Copy returns an independent copy of v.
func Copy(v *big.Int) *big.Int {
	return new(big.Int).Set(v)
}

// Add returns a + b in a fresh big.Int.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Sub returns a - b in a fresh big.Int.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// Mul returns a * b in a fresh big.Int.
func Mul(a, b *big.Int) *big.Int {
	return new(big.Int).Mul(a, b)
}

// Quo returns a / b truncated toward zero.
func Quo(a, b *big.Int) *big.Int {
	return new(big.Int).Quo(a, b)
}

// MulDiv returns a * b / c with the division truncated toward zero.
// The product is computed at full precision, so intermediate overflow
// cannot occur.
func MulDiv(a, b, c *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Quo(p, c)
}

// ApplyFactor scales v by a FactorScale-scaled factor, truncating.
func ApplyFactor(v, factor *big.Int) *big.Int {
	return MulDiv(v, factor, FactorScale)
}

// Neg returns -v in a fresh big.Int.
func Neg(v *big.Int) *big.Int {
	return new(big.Int).Neg(v)
}

// Abs returns |v| in a fresh big.Int.
func Abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(v)
}

// Min returns the smaller of a and b (a copy).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return Copy(a)
	}
	return Copy(b)
}

// Max returns the larger of a and b (a copy).
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return Copy(a)
	}
	return Copy(b)
}

// IsNegative reports v < 0.
func IsNegative(v *big.Int) bool {
	return v.Sign() < 0
}

// IsPositive reports v > 0.
func IsPositive(v *big.Int) bool {
	return v.Sign() > 0
}

// IsZero reports v == 0.
func IsZero(v *big.Int) bool {
	return v.Sign() == 0
}

// Zero returns a fresh zero value.
func Zero() *big.Int {
	return new(big.Int)
}
