package fixmath

import (
	"errors"
	"math"
	"math/big"
	"sync"
)

// Wad is the fixed-point scale used for all rate and weight computation:
// 18 decimal places. 1.0 == Wad.
const Wad uint64 = 1_000_000_000_000_000_000

// ErrOverflow is returned by narrowing conversions when the value does not
// fit the target width.
var ErrOverflow = errors.New("fixmath: value does not fit target width")

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// Pooled big.Int for intermediate wide products.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetUint64(0)
	intPool.Put(v)
}

// Mul returns a * b widened to an arbitrary-precision integer.
// The caller owns the result.
func Mul(a, b uint64) *big.Int {
	result := new(big.Int).SetUint64(a)
	return result.Mul(result, new(big.Int).SetUint64(b))
}

// Mul3 returns a * b * c widened to an arbitrary-precision integer.
func Mul3(a, b, c uint64) *big.Int {
	result := Mul(a, b)
	return result.Mul(result, new(big.Int).SetUint64(c))
}

// MulDiv computes floor(a * b / den) as a single widened multiply followed
// by one division. Division always floors toward zero; there is no other
// rounding mode. Returns ErrOverflow if the quotient exceeds 64 bits.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, errors.New("fixmath: division by zero")
	}

	num := getInt()
	num.SetUint64(a)
	num.Mul(num, new(big.Int).SetUint64(b))
	num.Div(num, new(big.Int).SetUint64(den))

	out, err := ToUint64(num)
	putInt(num)
	return out, err
}

// WadMul computes floor(amount * w / Wad), i.e. scales an integer amount by
// a Wad-encoded factor.
func WadMul(amount, w uint64) (uint64, error) {
	return MulDiv(amount, w, Wad)
}

// DivFloor computes floor(num / den) for arbitrary-precision operands.
// The result is written into a fresh big.Int owned by the caller.
func DivFloor(num, den *big.Int) *big.Int {
	return new(big.Int).Div(num, den)
}

// DivToUint64 computes floor(num / den) and narrows the quotient to uint64.
func DivToUint64(num, den *big.Int) (uint64, error) {
	if den.Sign() == 0 {
		return 0, errors.New("fixmath: division by zero")
	}
	q := getInt()
	q.Div(num, den)
	out, err := ToUint64(q)
	putInt(q)
	return out, err
}

// ToUint64 narrows an arbitrary-precision value to uint64, failing with
// ErrOverflow if it does not fit. Negative values never fit.
func ToUint64(v *big.Int) (uint64, error) {
	if v.Sign() < 0 || v.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// ToUint32 narrows a 64-bit value to 32 bits.
func ToUint32(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, ErrOverflow
	}
	return uint32(v), nil
}

// AddChecked returns a + b, failing with ErrOverflow on wraparound.
func AddChecked(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}
