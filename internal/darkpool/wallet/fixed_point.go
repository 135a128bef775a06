package wallet

import (
	"math/big"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

// fixedPointPrecisionBits is the number of fractional bits in a FixedPoint's
// scalar representation: a FixedPoint represents Repr / 2^precisionBits
// as a rational, and is reconstructed by dividing the integer Repr back down.
const fixedPointPrecisionBits = 63

// FixedPoint is a fixed-point rational backed by a field scalar, used for
// prices and the protocol fee rate.
type FixedPoint struct {
	Repr scalar.Scalar
}

// ZeroFixedPoint is the additive identity.
func ZeroFixedPoint() FixedPoint {
	return FixedPoint{Repr: scalar.Zero()}
}

// FromFloat builds a FixedPoint from a float64 by scaling and flooring.
func FromFloat(f float64) FixedPoint {
	scaled := new(big.Float).Mul(big.NewFloat(f), new(big.Float).SetInt(shiftFactor()))
	i, _ := scaled.Int(nil)
	return FixedPoint{Repr: scalar.FromBigInt(i)}
}

// ToFloat reconstructs the approximate float64 value.
func (p FixedPoint) ToFloat() float64 {
	num := new(big.Float).SetInt(p.Repr.ToBigInt())
	denom := new(big.Float).SetInt(shiftFactor())
	out, _ := new(big.Float).Quo(num, denom).Float64()
	return out
}

// MulAmountFloor computes floor(amount * p) as an unsigned integer, rounding
// toward zero — the semantics the match computation (§4.7) requires for
// quote_exchanged = floor(min_base * price).
func (p FixedPoint) MulAmountFloor(amount uint64) uint64 {
	product := new(big.Int).Mul(p.Repr.ToBigInt(), new(big.Int).SetUint64(amount))
	product.Div(product, shiftFactor())
	if !product.IsUint64() {
		// Overflow here indicates a caller passed an amount/price pair that
		// cannot fit in AMOUNT_BITS; callers are expected to have validated
		// amounts before reaching this point.
		return ^uint64(0)
	}
	return product.Uint64()
}

func shiftFactor() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), fixedPointPrecisionBits)
}

// ToScalars implements scalar.Serializable.
func (p FixedPoint) ToScalars() ([]scalar.Scalar, error) {
	return []scalar.Scalar{p.Repr}, nil
}

// FromScalars implements scalar.Serializable.
func (p *FixedPoint) FromScalars(it *scalar.Iterator) error {
	v, err := it.Next()
	if err != nil {
		return err
	}
	p.Repr = v
	return nil
}

// NumScalars implements scalar.Serializable.
func (p FixedPoint) NumScalars() int { return 1 }
