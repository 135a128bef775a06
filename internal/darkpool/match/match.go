// Package match computes the crossed-order exchange amounts the handshake
// executor turns into a settlement. Compute deliberately does not verify
// that two orders actually cross: that check belongs to the VALID MATCH
// SETTLE proof job (internal/darkpool/proof). The executor opens the
// authenticated result before any proof is requested; Open zeroes it when
// the shared crossing bit is not one.
package match

import (
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
)

// MatchResult is the outcome of matching two orders at a shared execution
// price. Every field here mirrors spec §4.7's output list.
type MatchResult struct {
	QuoteMint scalar.Scalar
	BaseMint  scalar.Scalar

	QuoteAmount uint64
	BaseAmount  uint64

	Direction uint8

	MaxMinusMinAmount   uint64
	MinAmountOrderIndex uint8
}

// IsZero reports whether m is the all-zero trivial result non-crossing
// orders produce.
func (m MatchResult) IsZero() bool {
	return m.BaseAmount == 0 && m.QuoteAmount == 0 && m.MaxMinusMinAmount == 0
}

// PartyInput is one side's contribution to a match: its order and the
// maximum amount it is willing/able to execute (its cap, derived from
// balance and worst-case price upstream of this package).
type PartyInput struct {
	Order wallet.Order
	Cap   uint64
}

// Compute runs the match algorithm described in §4.7 against plaintext
// inputs. The MPC-backed variant (AuthenticatedMatchResult) wraps this
// same arithmetic over secret shares; Compute itself is the single source
// of truth for what "correct" means, exercised directly by both the
// plaintext path and the MPC circuit's reference tests.
//
// Ties in the argmin break toward party 1, matching the reference
// scenario where two equal caps report min_amount_order_index = 1.
func Compute(party0, party1 PartyInput, price wallet.FixedPoint) MatchResult {
	capA, capB := party0.Cap, party1.Cap

	var minBase uint64
	var minIdx uint8
	if capA < capB {
		minBase, minIdx = capA, 0
	} else {
		minBase, minIdx = capB, 1
	}

	maxMinusMin := (capA + capB) - 2*minBase
	quoteExchanged := price.MulAmountFloor(minBase)

	return MatchResult{
		QuoteMint:           party0.Order.QuoteMint,
		BaseMint:            party0.Order.BaseMint,
		QuoteAmount:         quoteExchanged,
		BaseAmount:          minBase,
		Direction:           uint8(party0.Order.Side),
		MaxMinusMinAmount:   maxMinusMin,
		MinAmountOrderIndex: minIdx,
	}
}

// Crosses reports whether two orders satisfy the crossing predicate: same
// pair, opposite sides, overlapping worst-case prices. It is informational
// only here — the authoritative check happens inside VALID MATCH SETTLE.
// The handshake executor does not call it: it relies on the crossing bit
// carried in the authenticated result. Tests use Crosses to build that
// bit for two known orders.
func Crosses(a, b wallet.Order) bool {
	if !a.SamePair(b) {
		return false
	}
	if a.Side == b.Side {
		return false
	}
	buy, sell := a, b
	if a.Side == wallet.Sell {
		buy, sell = b, a
	}
	return buy.WorstCasePrice.ToFloat() >= sell.WorstCasePrice.ToFloat()
}
