package match

import (
	"testing"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
	"github.com/stretchr/testify/require"
)

func pairOrder(side wallet.Side, amount uint64, price float64) wallet.Order {
	return wallet.Order{
		QuoteMint:      scalar.FromUint64(1),
		BaseMint:       scalar.FromUint64(2),
		Side:           side,
		Amount:         amount,
		WorstCasePrice: wallet.FromFloat(price),
	}
}

func TestComputeOverlappingOrders(t *testing.T) {
	party0 := PartyInput{Order: pairOrder(wallet.Buy, 20, 10), Cap: 20}
	party1 := PartyInput{Order: pairOrder(wallet.Sell, 30, 10), Cap: 30}

	result := Compute(party0, party1, wallet.FromFloat(10))

	require.Equal(t, uint64(200), result.QuoteAmount)
	require.Equal(t, uint64(20), result.BaseAmount)
	require.Equal(t, uint8(0), result.Direction)
	require.Equal(t, uint64(10), result.MaxMinusMinAmount)
	require.Equal(t, uint8(0), result.MinAmountOrderIndex)
}

func TestComputeEqualAmounts(t *testing.T) {
	party0 := PartyInput{Order: pairOrder(wallet.Sell, 15, 10), Cap: 15}
	party1 := PartyInput{Order: pairOrder(wallet.Buy, 15, 10), Cap: 15}

	result := Compute(party0, party1, wallet.FromFloat(10))

	require.Equal(t, uint64(150), result.QuoteAmount)
	require.Equal(t, uint64(15), result.BaseAmount)
	require.Equal(t, uint8(1), result.Direction)
	require.Equal(t, uint64(0), result.MaxMinusMinAmount)
	require.Equal(t, uint8(1), result.MinAmountOrderIndex)
}

func TestNonCrossingOrdersProduceZeroOnOpen(t *testing.T) {
	// Different quote mints: does not cross even though sides and caps
	// would otherwise overlap.
	order0 := wallet.Order{QuoteMint: scalar.FromUint64(1), BaseMint: scalar.FromUint64(2), Side: wallet.Buy, Amount: 20, WorstCasePrice: wallet.FromFloat(10)}
	order1 := wallet.Order{QuoteMint: scalar.FromUint64(9), BaseMint: scalar.FromUint64(2), Side: wallet.Sell, Amount: 20, WorstCasePrice: wallet.FromFloat(10)}
	require.False(t, Crosses(order0, order1))

	party0 := PartyInput{Order: order0, Cap: 20}
	party1 := PartyInput{Order: order1, Cap: 20}
	result := Compute(party0, party1, wallet.FromFloat(10))

	randomness := scalar.FromUint64(777)
	authenticated := ShareResult(result, Crosses(order0, order1), randomness)
	opened := authenticated.Open()
	require.True(t, opened.IsZero())
}

func TestAuthenticatedMatchResultRoundTripsWhenCrossing(t *testing.T) {
	order0 := pairOrder(wallet.Buy, 20, 10)
	order1 := pairOrder(wallet.Sell, 30, 10)
	party0 := PartyInput{Order: order0, Cap: 20}
	party1 := PartyInput{Order: order1, Cap: 30}
	result := Compute(party0, party1, wallet.FromFloat(10))

	randomness := scalar.FromUint64(9001)
	authenticated := ShareResult(result, Crosses(order0, order1), randomness)
	opened := authenticated.Open()

	require.Equal(t, result.QuoteAmount, opened.QuoteAmount)
	require.Equal(t, result.BaseAmount, opened.BaseAmount)
	require.Equal(t, result.Direction, opened.Direction)
}

func TestCrossesIsOrderIndependent(t *testing.T) {
	order0 := pairOrder(wallet.Buy, 20, 10)
	order1 := pairOrder(wallet.Sell, 30, 10)
	require.Equal(t, Crosses(order0, order1), Crosses(order1, order0))
}
