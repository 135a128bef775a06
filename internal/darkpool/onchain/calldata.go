package onchain

import (
	"fmt"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

// WalletSharesEvent is one emitted "shares posted" event: new_wallet and
// update_wallet emit one set, process_match_settle emits two (one per
// party), each disambiguated by its public blinder share.
type WalletSharesEvent struct {
	TxHash             string
	BlockNumber        uint64
	LeafIndex          uint64
	BlinderPublicShare scalar.Scalar
	PublicShares       []scalar.Scalar
}

// eventIndex accumulates indexed insertion events so MerkleOpeningFor can
// answer without a fresh chain query, and disambiguates match-settle
// transactions (which emit two wallet events) by blinder public share.
type eventIndex struct {
	tree   *openingTree
	events map[string]WalletSharesEvent // keyed by blinder public share hex
}

func newEventIndex(height int) *eventIndex {
	return &eventIndex{tree: newOpeningTree(height), events: make(map[string]WalletSharesEvent)}
}

// Record indexes ev's commitment at leafIndex and remembers the raw event
// for later lookup by blinder public share.
func (idx *eventIndex) Record(ev WalletSharesEvent, leafCommitment scalar.Scalar) {
	idx.tree.Insert(ev.LeafIndex, leafCommitment)
	idx.events[ev.BlinderPublicShare.Hex()] = ev
}

// Lookup returns the previously recorded event for a given blinder public
// share, used to disambiguate one party's shares out of a match-settle
// transaction that posted two.
func (idx *eventIndex) Lookup(blinderPublicShare scalar.Scalar) (WalletSharesEvent, bool) {
	ev, ok := idx.events[blinderPublicShare.Hex()]
	return ev, ok
}

// DecodeWalletShares parses the public wallet shares out of raw calldata
// words. The wire format is a flat sequence of 32-byte big-endian field
// elements; callers pass the decoded word slice directly (ABI decoding the
// outer call happens in the EVM-specific gateway, upstream of this
// function, since it is calldata-shape rather than chain-specific).
func DecodeWalletShares(words [][]byte, expectedCount int) ([]scalar.Scalar, error) {
	if len(words) != expectedCount {
		return nil, fmt.Errorf("%w: expected %d words, got %d", ErrConversionInvalidLength, expectedCount, len(words))
	}
	out := make([]scalar.Scalar, len(words))
	for i, w := range words {
		if len(w) != 32 {
			return nil, fmt.Errorf("%w: word %d has length %d, want 32", ErrConversionInvalidLength, i, len(w))
		}
		out[i] = scalar.FromBytes(w)
	}
	return out, nil
}
