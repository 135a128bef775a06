package task

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
)

func newTestOrder() wallet.Order {
	return wallet.Order{
		QuoteMint:      scalar.FromUint64(1),
		BaseMint:       scalar.FromUint64(2),
		Side:           wallet.Buy,
		Amount:         500,
		WorstCasePrice: wallet.FromFloat(1.5),
	}
}

func TestRegisterUnregister(t *testing.T) {
	reg := NewOrderRegistry()
	walletID := uuid.New()
	commitment, err := scalar.Random()
	require.NoError(t, err)

	orderID, err := reg.Register(walletID, newTestOrder(), commitment)
	require.NoError(t, err)

	found := false
	for _, managed := range reg.ManagedOrders() {
		if managed.OrderID == orderID {
			found = true
			require.Equal(t, commitment, managed.Commitment)
		}
	}
	require.True(t, found)

	reg.Unregister(orderID)
	for _, managed := range reg.ManagedOrders() {
		require.NotEqual(t, orderID, managed.OrderID)
	}
}

func TestRegisterPersistsBookEntryWhenStorageAttached(t *testing.T) {
	db := newTestStorage(t)
	reg := NewOrderRegistry()
	reg.SetStorage(db)

	walletID := uuid.New()
	commitment, err := scalar.Random()
	require.NoError(t, err)

	order := newTestOrder()
	orderID, err := reg.Register(walletID, order, commitment)
	require.NoError(t, err)

	entries, err := db.ListLocalBookEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, orderID.Hex(), entries[0].OrderID)
	require.Equal(t, walletID.String(), entries[0].WalletID)
	require.True(t, entries[0].IsLocal)

	reg.Unregister(orderID)
	entries, err = db.ListLocalBookEntries()
	require.NoError(t, err)
	require.Empty(t, entries)
}
