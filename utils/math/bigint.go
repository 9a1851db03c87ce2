package math

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrNegative       = errors.New("negative operand")
)

// Precision is the fixed-point scale used for fee rates (1e18).
var Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

const (
	// BasisPoints is the denominator of bps-denominated fees.
	BasisPoints = 10000
	// HalfBasisPoints is the rounding bias used by Aave's percentMul.
	HalfBasisPoints = 5000
)

// toU256 converts a non-negative big.Int into a 256-bit word.
func toU256(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.Sign() < 0 {
		return nil, ErrNegative
	}
	v, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

func operands(xs ...*big.Int) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(xs))
	for i, x := range xs {
		v, err := toU256(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// MulDiv returns floor(x*y/d). The intermediate product is computed in 512
// bits, the result must fit in 256 bits.
func MulDiv(x, y, d *big.Int) (*big.Int, error) {
	ops, err := operands(x, y, d)
	if err != nil {
		return nil, err
	}
	if ops[2].IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(ops[0], ops[1], ops[2])
	if overflow {
		return nil, ErrOverflow
	}
	return z.ToBig(), nil
}

// MulDivRoundingUp returns ceil(x*y/d), matching Uniswap v3 FullMath.
func MulDivRoundingUp(x, y, d *big.Int) (*big.Int, error) {
	ops, err := operands(x, y, d)
	if err != nil {
		return nil, err
	}
	if ops[2].IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(ops[0], ops[1], ops[2])
	if overflow {
		return nil, ErrOverflow
	}
	if !new(uint256.Int).MulMod(ops[0], ops[1], ops[2]).IsZero() {
		if _, overflow := z.AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, ErrOverflow
		}
	}
	return z.ToBig(), nil
}

// Mul returns x*y, failing when the product leaves the 256-bit range.
func Mul(x, y *big.Int) (*big.Int, error) {
	ops, err := operands(x, y)
	if err != nil {
		return nil, err
	}
	z, overflow := new(uint256.Int).MulOverflow(ops[0], ops[1])
	if overflow {
		return nil, ErrOverflow
	}
	return z.ToBig(), nil
}

// Add returns x+y, failing when the sum leaves the 256-bit range.
func Add(x, y *big.Int) (*big.Int, error) {
	ops, err := operands(x, y)
	if err != nil {
		return nil, err
	}
	z, overflow := new(uint256.Int).AddOverflow(ops[0], ops[1])
	if overflow {
		return nil, ErrOverflow
	}
	return z.ToBig(), nil
}

// BpsFee returns floor(amount*bps/10000).
func BpsFee(amount *big.Int, bps uint64) (*big.Int, error) {
	return MulDiv(amount, new(big.Int).SetUint64(bps), big.NewInt(BasisPoints))
}

// PercentMul returns (value*bps + 5000) / 10000, Aave v3's half-up rounding.
func PercentMul(value *big.Int, bps uint64) (*big.Int, error) {
	product, err := Mul(value, new(big.Int).SetUint64(bps))
	if err != nil {
		return nil, err
	}
	biased, err := Add(product, big.NewInt(HalfBasisPoints))
	if err != nil {
		return nil, err
	}
	return biased.Div(biased, big.NewInt(BasisPoints)), nil
}

// ConstantProductFee returns floor(amount*num/den) + 1, the repayment
// surcharge a constant-product pair needs so that its invariant holds after
// the swap fee is applied.
func ConstantProductFee(amount *big.Int, num, den uint64) (*big.Int, error) {
	fee, err := MulDiv(amount, new(big.Int).SetUint64(num), new(big.Int).SetUint64(den))
	if err != nil {
		return nil, err
	}
	return Add(fee, big.NewInt(1))
}

// EffectiveRate returns fee scaled to 1e18 divided by amount. It is a ranking
// key only; settlement always uses the exact fee.
func EffectiveRate(fee, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return MulDiv(fee, Precision, amount)
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return new(big.Int).Set(x)
	}
	return new(big.Int).Set(y)
}

// SubFloor returns max(x-y, 0).
func SubFloor(x, y *big.Int) *big.Int {
	z := new(big.Int).Sub(x, y)
	if z.Sign() < 0 {
		return z.SetInt64(0)
	}
	return z
}
