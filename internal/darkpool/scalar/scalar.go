// Package scalar provides the bn254 scalar-field arithmetic, secret-sharing
// CSPRNG, and Poseidon2 hash construction used by the wallet secret-share
// discipline. It deliberately exposes a single plaintext-shaped type
// (Scalar) rather than the parallel plain/shared/constraint-system
// representations a proving system would use internally.
package scalar

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Scalar is an element of the bn254 scalar field used throughout the
// wallet secret-share representation.
type Scalar struct {
	inner fr.Element
}

// Zero returns the additive identity.
func Zero() Scalar {
	return Scalar{}
}

// One returns the multiplicative identity.
func One() Scalar {
	var s Scalar
	s.inner.SetOne()
	return s
}

// FromUint64 builds a Scalar from a small unsigned integer.
func FromUint64(v uint64) Scalar {
	var s Scalar
	s.inner.SetUint64(v)
	return s
}

// FromBigInt reduces a big.Int into the scalar field.
func FromBigInt(v *big.Int) Scalar {
	var s Scalar
	s.inner.SetBigInt(v)
	return s
}

// Random samples a uniformly random scalar using a cryptographic RNG.
// Used only for values that are not CSPRNG-derived (e.g. test fixtures).
func Random() (Scalar, error) {
	var s Scalar
	_, err := s.inner.SetRandom()
	if err != nil {
		return Scalar{}, fmt.Errorf("scalar: failed to sample random element: %w", err)
	}
	return s, nil
}

// FromBytes interprets b as the big-endian encoding of a field element,
// reducing modulo the field order if necessary.
func FromBytes(b []byte) Scalar {
	var s Scalar
	s.inner.SetBytes(b)
	return s
}

// Bytes returns the big-endian, fixed-length encoding of s.
func (s Scalar) Bytes() []byte {
	b := s.inner.Bytes()
	return b[:]
}

// ToBigInt returns the canonical big.Int representation of s.
func (s Scalar) ToBigInt() *big.Int {
	var out big.Int
	s.inner.BigInt(&out)
	return &out
}

// Add returns s + other.
func (s Scalar) Add(other Scalar) Scalar {
	var out Scalar
	out.inner.Add(&s.inner, &other.inner)
	return out
}

// Sub returns s - other.
func (s Scalar) Sub(other Scalar) Scalar {
	var out Scalar
	out.inner.Sub(&s.inner, &other.inner)
	return out
}

// Mul returns s * other.
func (s Scalar) Mul(other Scalar) Scalar {
	var out Scalar
	out.inner.Mul(&s.inner, &other.inner)
	return out
}

// Neg returns -s.
func (s Scalar) Neg() Scalar {
	var out Scalar
	out.inner.Neg(&s.inner)
	return out
}

// IsZero reports whether s is the additive identity.
func (s Scalar) IsZero() bool {
	return s.inner.IsZero()
}

// Equal reports whether s and other represent the same field element.
func (s Scalar) Equal(other Scalar) bool {
	return s.inner.Equal(&other.inner)
}

// Uint64 returns the low 64 bits of s, for values known to fit (order ids,
// indices, small counters carried through the share pipeline).
func (s Scalar) Uint64() uint64 {
	return s.inner.Uint64()
}

// Hex returns the 0x-prefixed hex encoding of s.
func (s Scalar) Hex() string {
	return "0x" + hex.EncodeToString(s.Bytes())
}

// FromHex parses a 0x-prefixed (or bare) hex string into a Scalar.
func FromHex(h string) (Scalar, error) {
	if len(h) >= 2 && h[0] == '0' && (h[1] == 'x' || h[1] == 'X') {
		h = h[2:]
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return Scalar{}, fmt.Errorf("scalar: invalid hex: %w", err)
	}
	return FromBytes(b), nil
}

// MarshalJSON encodes s as its hex string, for the wire messages and
// stored records that carry Scalar fields across process boundaries.
func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Hex())
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var h string
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	v, err := FromHex(h)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Modulus returns the bn254 scalar field order.
func Modulus() *big.Int {
	return fr.Modulus()
}
