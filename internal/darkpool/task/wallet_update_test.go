package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/darkpool-labs/relayer/internal/darkpool/handshake"
	"github.com/darkpool-labs/relayer/internal/darkpool/proof"
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
)

func noopWalletUpdateWitness(ctx context.Context, old, newWallet *wallet.Wallet) (proof.Job, error) {
	return proof.Job{Kind: proof.ValidWalletUpdate, Statement: proof.Statement{Kind: proof.ValidWalletUpdate}}, nil
}

func TestUpdateWalletWithoutWitnessPostsEmptyProof(t *testing.T) {
	store := NewWalletStore()
	w := buyerWallet(t)
	store.Put(w)

	chain := &fakeChain{}
	proofs := proof.NewBlackBoxGateway(func(ctx context.Context, job proof.Job) ([]byte, error) {
		return []byte("proof-bytes"), nil
	})
	mgr := NewManager(store, handshake.NewStateIndex(), chain, proofs, DefaultRetryPolicy(), noopRevalidate)

	newWallet := *w
	require.NoError(t, newWallet.UpdateBalance(scalar.FromUint64(1), 2000))

	err := mgr.UpdateWallet(context.Background(), WalletUpdateRequest{
		WalletID:  w.ID,
		NewWallet: &newWallet,
		Signature: []byte("sig"),
	})
	require.NoError(t, err)
	require.Empty(t, chain.lastUpdateReq.Proof)
	require.Equal(t, []byte("sig"), chain.lastUpdateReq.Signature)
}

func TestUpdateWalletRequestsProofWhenWitnessAttached(t *testing.T) {
	store := NewWalletStore()
	w := buyerWallet(t)
	store.Put(w)

	chain := &fakeChain{}
	proofs := proof.NewBlackBoxGateway(func(ctx context.Context, job proof.Job) ([]byte, error) {
		require.Equal(t, proof.ValidWalletUpdate, job.Kind)
		return []byte("wallet-update-proof"), nil
	})
	mgr := NewManager(store, handshake.NewStateIndex(), chain, proofs, DefaultRetryPolicy(), noopRevalidate)
	mgr.SetWalletUpdateWitness(noopWalletUpdateWitness)

	newWallet := *w
	require.NoError(t, newWallet.UpdateBalance(scalar.FromUint64(1), 3000))

	err := mgr.UpdateWallet(context.Background(), WalletUpdateRequest{
		WalletID:  w.ID,
		NewWallet: &newWallet,
		Signature: []byte("sig"),
	})
	require.NoError(t, err)
	require.Equal(t, []byte("wallet-update-proof"), chain.lastUpdateReq.Proof)

	got, ok := store.Get(w.ID)
	require.True(t, ok)
	idx := got.BalanceIndex(scalar.FromUint64(1))
	require.Equal(t, uint64(3000), got.Balances[idx].Amount)
}

func TestUpdateWalletAppliesExternalDeposit(t *testing.T) {
	store := NewWalletStore()
	w := buyerWallet(t)
	store.Put(w)

	chain := &fakeChain{}
	proofs := proof.NewBlackBoxGateway(func(ctx context.Context, job proof.Job) ([]byte, error) {
		return []byte("ok"), nil
	})
	mgr := NewManager(store, handshake.NewStateIndex(), chain, proofs, DefaultRetryPolicy(), noopRevalidate)

	newWallet := *w
	err := mgr.UpdateWallet(context.Background(), WalletUpdateRequest{
		WalletID:  w.ID,
		NewWallet: &newWallet,
		ExternalTransfer: &ExternalTransfer{
			Mint:   scalar.FromUint64(1),
			Amount: 500,
		},
		Signature: []byte("sig"),
	})
	require.NoError(t, err)

	got, ok := store.Get(w.ID)
	require.True(t, ok)
	idx := got.BalanceIndex(scalar.FromUint64(1))
	require.Equal(t, uint64(1500), got.Balances[idx].Amount)
}
