package match

import (
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

// ResultShare is one party's additive share of a MatchResult produced by
// the MPC net brokered in handshake step 4. Two ResultShares, one per
// party, combine under Open to the plaintext MatchResult. Crosses is a
// share of the crossing predicate (1 if the orders cross, 0 otherwise),
// evaluated inside the secure computation itself: neither party learns
// the other's plaintext order, so the predicate cannot be checked after
// the fact the way Crosses(a, b) checks it for two known orders.
type ResultShare struct {
	QuoteMint scalar.Scalar
	BaseMint  scalar.Scalar

	QuoteAmount scalar.Scalar
	BaseAmount  scalar.Scalar
	Direction   scalar.Scalar

	MaxMinusMinAmount   scalar.Scalar
	MinAmountOrderIndex scalar.Scalar
	Crosses             scalar.Scalar
}

// AuthenticatedMatchResult is the not-yet-opened output of running
// Compute's arithmetic inside the MPC net: each party holds a ResultShare,
// and the result must not be reconstructed until the accompanying VALID
// MATCH SETTLE proof verifies, per §4.7's "never open before the proof
// verifies" requirement.
type AuthenticatedMatchResult struct {
	Party0 ResultShare
	Party1 ResultShare
}

// Open reconstructs the plaintext MatchResult from both parties' shares.
// If the reconstructed Crosses bit is not exactly one, the result is
// zeroed: non-crossing orders must never leak their raw (garbage)
// exchanged amounts, only the fact that nothing crossed.
func (a AuthenticatedMatchResult) Open() MatchResult {
	crosses := a.Party0.Crosses.Add(a.Party1.Crosses)
	if !crosses.Equal(scalar.One()) {
		return MatchResult{}
	}
	return MatchResult{
		QuoteMint:           a.Party0.QuoteMint.Add(a.Party1.QuoteMint),
		BaseMint:            a.Party0.BaseMint.Add(a.Party1.BaseMint),
		QuoteAmount:         a.Party0.QuoteAmount.Add(a.Party1.QuoteAmount).Uint64(),
		BaseAmount:          a.Party0.BaseAmount.Add(a.Party1.BaseAmount).Uint64(),
		Direction:           uint8(a.Party0.Direction.Add(a.Party1.Direction).Uint64()),
		MaxMinusMinAmount:   a.Party0.MaxMinusMinAmount.Add(a.Party1.MaxMinusMinAmount).Uint64(),
		MinAmountOrderIndex: uint8(a.Party0.MinAmountOrderIndex.Add(a.Party1.MinAmountOrderIndex).Uint64()),
	}
}

// ShareResult splits a plaintext MatchResult into two additive shares, the
// Party1 share sampled fresh and Party0 holding the complement. crosses
// records the crossing predicate's outcome so Open can reproduce the
// zeroing behavior. Used by test harnesses and by the MPC broker to seed
// a secret-shared match before the real MPC protocol is wired in.
func ShareResult(result MatchResult, crosses bool, party1Randomness scalar.Scalar) AuthenticatedMatchResult {
	quoteAmt := scalar.FromUint64(result.QuoteAmount)
	baseAmt := scalar.FromUint64(result.BaseAmount)
	direction := scalar.FromUint64(uint64(result.Direction))
	maxMinusMin := scalar.FromUint64(result.MaxMinusMinAmount)
	minIdx := scalar.FromUint64(uint64(result.MinAmountOrderIndex))
	crossesScalar := scalar.Zero()
	if crosses {
		crossesScalar = scalar.One()
	}

	stream := scalar.NewCSPRNG(party1Randomness)
	party1 := ResultShare{
		QuoteMint:           stream.Next(),
		BaseMint:            stream.Next(),
		QuoteAmount:         stream.Next(),
		BaseAmount:          stream.Next(),
		Direction:           stream.Next(),
		MaxMinusMinAmount:   stream.Next(),
		MinAmountOrderIndex: stream.Next(),
		Crosses:             stream.Next(),
	}
	party0 := ResultShare{
		QuoteMint:           result.QuoteMint.Sub(party1.QuoteMint),
		BaseMint:            result.BaseMint.Sub(party1.BaseMint),
		QuoteAmount:         quoteAmt.Sub(party1.QuoteAmount),
		BaseAmount:          baseAmt.Sub(party1.BaseAmount),
		Direction:           direction.Sub(party1.Direction),
		MaxMinusMinAmount:   maxMinusMin.Sub(party1.MaxMinusMinAmount),
		MinAmountOrderIndex: minIdx.Sub(party1.MinAmountOrderIndex),
		Crosses:             crossesScalar.Sub(party1.Crosses),
	}
	return AuthenticatedMatchResult{Party0: party0, Party1: party1}
}
