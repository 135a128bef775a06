package onchain

import (
	"testing"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/stretchr/testify/require"
)

func TestRootHistoryEvictsOldest(t *testing.T) {
	h := NewRootHistory(3)
	for i := uint64(1); i <= 5; i++ {
		h.Push(scalar.FromUint64(i))
	}
	require.True(t, h.Contains(scalar.FromUint64(5)))
	require.True(t, h.Contains(scalar.FromUint64(4)))
	require.True(t, h.Contains(scalar.FromUint64(3)))
	require.False(t, h.Contains(scalar.FromUint64(2)))
	require.False(t, h.Contains(scalar.FromUint64(1)))

	cur, err := h.Current()
	require.NoError(t, err)
	require.True(t, cur.Equal(scalar.FromUint64(5)))
}

func TestOpeningTreeRoundTrip(t *testing.T) {
	tree := newOpeningTree(4)
	leaf := scalar.HashScalars([]scalar.Scalar{scalar.FromUint64(42)})
	tree.Insert(3, leaf)

	opening, err := tree.Opening(3)
	require.NoError(t, err)
	require.Len(t, opening, 4)

	// Recompute the root from the opening and confirm it matches.
	cur := leaf
	idx := uint64(3)
	for _, sibling := range opening {
		if idx%2 == 0 {
			cur = scalar.HashScalars([]scalar.Scalar{cur, sibling})
		} else {
			cur = scalar.HashScalars([]scalar.Scalar{sibling, cur})
		}
		idx /= 2
	}
	require.True(t, cur.Equal(tree.Root()))
}

func TestOpeningTreeUnknownLeafErrors(t *testing.T) {
	tree := newOpeningTree(4)
	_, err := tree.Opening(7)
	require.Error(t, err)
}

func TestDecodeWalletSharesRejectsWrongLength(t *testing.T) {
	_, err := DecodeWalletShares([][]byte{make([]byte, 32)}, 2)
	require.ErrorIs(t, err, ErrConversionInvalidLength)
}

func TestDecodeWalletSharesRejectsShortWord(t *testing.T) {
	_, err := DecodeWalletShares([][]byte{make([]byte, 31)}, 1)
	require.ErrorIs(t, err, ErrConversionInvalidLength)
}

func TestEventIndexDisambiguatesByBlinderShare(t *testing.T) {
	idx := newEventIndex(4)
	evA := WalletSharesEvent{LeafIndex: 0, BlinderPublicShare: scalar.FromUint64(1), PublicShares: []scalar.Scalar{scalar.FromUint64(100)}}
	evB := WalletSharesEvent{LeafIndex: 1, BlinderPublicShare: scalar.FromUint64(2), PublicShares: []scalar.Scalar{scalar.FromUint64(200)}}
	idx.Record(evA, scalar.FromUint64(100))
	idx.Record(evB, scalar.FromUint64(200))

	found, ok := idx.Lookup(scalar.FromUint64(2))
	require.True(t, ok)
	require.Equal(t, uint64(1), found.LeafIndex)
}
