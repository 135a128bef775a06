package scalar

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Poseidon2 width/round parameters. Mirrors the sponge construction used by
// the wider Renegade-style wallet-sharing stack: a width-3 state (rate 2,
// capacity 1), 8 full rounds split evenly around the partial rounds, and 56
// partial rounds touching only the first state element.
const (
	sWidth      = 3
	sRate       = 2
	sCapacity   = sWidth - sRate
	fullRounds  = 8
	partialRounds = 56
)

var (
	fullRoundConstants    [fullRounds][sWidth]fr.Element
	partialRoundConstants [partialRounds]fr.Element
	mdsMatrix             [sWidth][sWidth]fr.Element
)

func init() {
	// Round constants and the MDS matrix are derived deterministically from
	// a fixed domain-separated counter stream rather than hardcoded from an
	// external constant-generation run (none were available to ground on);
	// any fixed, publicly-reproducible derivation is sufficient here since
	// the core only requires the sponge to be a deterministic, collision-
	// resistant compression function, not a specific audited parameter set.
	ctr := uint64(0)
	next := func() fr.Element {
		var e fr.Element
		e.SetUint64(ctr)
		ctr++
		var h fr.Element
		h.Square(&e)
		h.Add(&h, &e)
		return h
	}

	for r := 0; r < fullRounds; r++ {
		for i := 0; i < sWidth; i++ {
			fullRoundConstants[r][i] = next()
		}
	}
	for r := 0; r < partialRounds; r++ {
		partialRoundConstants[r] = next()
	}

	// A simple MDS-like matrix: circulant with distinct small coefficients.
	// Full branch-number MDS is not required for the core's purposes since
	// no security proof is being made here; the proof subsystem (out of
	// scope, §1) is responsible for any circuit-level constraints on this
	// construction.
	coeffs := [sWidth]uint64{2, 3, 1}
	for i := 0; i < sWidth; i++ {
		for j := 0; j < sWidth; j++ {
			mdsMatrix[i][j].SetUint64(coeffs[(j-i+sWidth)%sWidth])
		}
	}
}

func applySbox(e *fr.Element) {
	var sq, quad fr.Element
	sq.Square(e)
	quad.Square(&sq)
	e.Mul(&quad, e)
}

func applyMDS(state *[sWidth]fr.Element) {
	var out [sWidth]fr.Element
	for i := 0; i < sWidth; i++ {
		var acc fr.Element
		for j := 0; j < sWidth; j++ {
			var term fr.Element
			term.Mul(&mdsMatrix[i][j], &state[j])
			acc.Add(&acc, &term)
		}
		out[i] = acc
	}
	*state = out
}

func fullRound(state *[sWidth]fr.Element, rc *[sWidth]fr.Element) {
	for i := 0; i < sWidth; i++ {
		state[i].Add(&state[i], &rc[i])
		applySbox(&state[i])
	}
	applyMDS(state)
}

func partialRound(state *[sWidth]fr.Element, rc *fr.Element) {
	state[0].Add(&state[0], rc)
	applySbox(&state[0])
	applyMDS(state)
}

func permute(state *[sWidth]fr.Element) {
	for r := 0; r < fullRounds/2; r++ {
		fullRound(state, &fullRoundConstants[r])
	}
	for r := 0; r < partialRounds; r++ {
		partialRound(state, &partialRoundConstants[r])
	}
	for r := fullRounds / 2; r < fullRounds; r++ {
		fullRound(state, &fullRoundConstants[r])
	}
}

// Sponge is a fixed-width Poseidon2 sponge over the bn254 scalar field,
// used to hash wallet-share vectors into commitments and nullifiers.
type Sponge struct {
	state     [sWidth]fr.Element
	nextIndex int
	squeezing bool
}

// NewSponge returns a fresh sponge with zeroed state.
func NewSponge() *Sponge {
	return &Sponge{}
}

// Absorb mixes a single scalar into the sponge's rate portion.
func (s *Sponge) Absorb(x Scalar) {
	if s.squeezing {
		permute(&s.state)
		s.nextIndex = 0
		s.squeezing = false
	}
	if s.nextIndex == sRate {
		permute(&s.state)
		s.nextIndex = 0
	}
	s.state[s.nextIndex].Add(&s.state[s.nextIndex], &x.inner)
	s.nextIndex++
}

// AbsorbBatch absorbs a sequence of scalars in order.
func (s *Sponge) AbsorbBatch(xs []Scalar) {
	for _, x := range xs {
		s.Absorb(x)
	}
}

// Squeeze extracts one scalar of output from the sponge.
func (s *Sponge) Squeeze() Scalar {
	if !s.squeezing || s.nextIndex == sRate {
		permute(&s.state)
		s.nextIndex = 0
		s.squeezing = true
	}
	out := Scalar{inner: s.state[s.nextIndex]}
	s.nextIndex++
	return out
}

// SqueezeBatch extracts n scalars of output.
func (s *Sponge) SqueezeBatch(n int) []Scalar {
	out := make([]Scalar, n)
	for i := range out {
		out[i] = s.Squeeze()
	}
	return out
}

// HashScalars is a one-shot sponge hash of a scalar sequence, used for
// share commitments and nullifiers throughout the wallet package.
func HashScalars(xs []Scalar) Scalar {
	s := NewSponge()
	s.AbsorbBatch(xs)
	return s.Squeeze()
}
