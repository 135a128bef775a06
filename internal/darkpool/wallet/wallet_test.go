package wallet

import (
	"testing"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/stretchr/testify/require"
)

func seededWallet(t *testing.T, blinderSeed, shareSeed uint64) *Wallet {
	t.Helper()
	limits := DefaultLimits()
	w := NewEmptyWallet(limits, Keychain{}, FeeEncryptionKey{}, ZeroFixedPoint())

	w.PrivateShares.Blinder = scalar.FromUint64(blinderSeed)

	elementStream := scalar.NewCSPRNG(scalar.FromUint64(shareSeed))
	flat := elementStream.NextN(walletElementCount(limits))
	share, err := scalarsToShare(flat, limits)
	require.NoError(t, err)
	share.Blinder = w.PrivateShares.Blinder
	w.PrivateShares = share

	w.PublicShares = EmptyShare(limits)
	return w
}

func walletElementCount(limits Limits) int {
	w := EmptyShare(limits)
	flat, _ := w.elementScalars()
	return len(flat)
}

func TestReblindFaithfulness(t *testing.T) {
	w := seededWallet(t, 0x01, 0x02)

	beforePrivate, err := w.PrivateShares.elementScalars()
	require.NoError(t, err)
	beforePublic, err := w.PublicShares.elementScalars()
	require.NoError(t, err)
	beforeBlinder := w.Blinder

	require.NoError(t, w.Reblind())

	afterPrivate, err := w.PrivateShares.elementScalars()
	require.NoError(t, err)
	require.Equal(t, len(beforePrivate), len(afterPrivate))

	// Reconstruction invariant: private[i] + unblind(public[i]) recovers
	// the same value before and after reblinding, i.e. reblinding is
	// faithful.
	afterPublic, err := w.PublicShares.elementScalars()
	require.NoError(t, err)
	for i := range afterPrivate {
		before := beforePrivate[i].Add(beforePublic[i]).Sub(beforeBlinder)
		after := afterPrivate[i].Add(afterPublic[i]).Sub(w.Blinder)
		require.True(t, before.Equal(after), "reconstruction changed at %d", i)
	}
}

func TestReblindIsDeterministicGivenSeeds(t *testing.T) {
	w1 := seededWallet(t, 0x01, 0x02)
	w2 := seededWallet(t, 0x01, 0x02)

	require.NoError(t, w1.Reblind())
	require.NoError(t, w2.Reblind())

	require.True(t, w1.Blinder.Equal(w2.Blinder))

	c1, err := w1.GetPrivateShareCommitment()
	require.NoError(t, err)
	c2, err := w2.GetPrivateShareCommitment()
	require.NoError(t, err)
	require.True(t, c1.Equal(c2))
}

func TestAddOrderRejectsOverCapacity(t *testing.T) {
	w := NewEmptyWallet(DefaultLimits(), Keychain{}, FeeEncryptionKey{}, ZeroFixedPoint())

	for i := 0; i < w.Limits.MaxOrders; i++ {
		order := Order{
			QuoteMint: scalar.FromUint64(1),
			BaseMint:  scalar.FromUint64(uint64(100 + i)),
			Side:      Buy,
			Amount:    10,
		}
		require.NoError(t, w.AddOrder(order))
	}

	sixth := Order{
		QuoteMint: scalar.FromUint64(1),
		BaseMint:  scalar.FromUint64(999),
		Side:      Buy,
		Amount:    10,
	}
	err := w.AddOrder(sixth)
	require.ErrorIs(t, err, ErrOrdersFull)
}

func TestAddOrderRejectsDuplicatePair(t *testing.T) {
	w := NewEmptyWallet(DefaultLimits(), Keychain{}, FeeEncryptionKey{}, ZeroFixedPoint())
	order := Order{QuoteMint: scalar.FromUint64(1), BaseMint: scalar.FromUint64(2), Side: Buy, Amount: 5}
	require.NoError(t, w.AddOrder(order))

	dup := Order{QuoteMint: scalar.FromUint64(1), BaseMint: scalar.FromUint64(2), Side: Sell, Amount: 7}
	require.ErrorIs(t, w.AddOrder(dup), ErrDuplicatePair)
}

func TestRemoveFeeOutOfRange(t *testing.T) {
	w := NewEmptyWallet(DefaultLimits(), Keychain{}, FeeEncryptionKey{}, ZeroFixedPoint())
	_, err := w.RemoveFee(99)
	require.ErrorIs(t, err, ErrFeeOutOfRange)
}

func TestApplyMatchMovesBalancesAndForbidsNegative(t *testing.T) {
	w := NewEmptyWallet(DefaultLimits(), Keychain{}, FeeEncryptionKey{}, ZeroFixedPoint())
	base := scalar.FromUint64(2)
	quote := scalar.FromUint64(1)
	require.NoError(t, w.UpdateBalance(base, 0))
	require.NoError(t, w.UpdateBalance(quote, 1000))
	baseIdx := w.BalanceIndex(base)
	quoteIdx := w.BalanceIndex(quote)

	order := Order{QuoteMint: quote, BaseMint: base, Side: Buy, Amount: 20}
	require.NoError(t, w.AddOrder(order))
	orderIdx := FindOrderIndex(w.Orders, func(o Order) bool { return o.BaseMint.Equal(base) && !o.IsDefault() })

	require.True(t, w.CanAfford(20, 200, 0, baseIdx, quoteIdx))
	require.NoError(t, w.ApplyMatch(orderIdx, 20, 200, 0, baseIdx, quoteIdx))

	require.Equal(t, uint64(20), w.Balances[baseIdx].Amount)
	require.Equal(t, uint64(800), w.Balances[quoteIdx].Amount)
	require.Equal(t, uint64(0), w.Orders[orderIdx].Amount)

	require.False(t, w.CanAfford(1000, 1000, 0, baseIdx, quoteIdx))
}
