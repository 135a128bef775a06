package task

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/darkpool-labs/relayer/internal/darkpool/onchain"
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
)

// ExternalTransfer describes a deposit (positive Amount) or withdrawal
// (negative Amount, represented by IsWithdrawal) accompanying a wallet
// update; spec.md §4.10 calls this "optional_external_transfer" without
// pinning a concrete shape, so it's modeled as the minimal fields the
// wallet-update task's balance bookkeeping (applyExternalTransfer) needs.
type ExternalTransfer struct {
	Mint         scalar.Scalar
	Amount       uint64
	IsWithdrawal bool
}

// WalletUpdateRequest bundles a standalone wallet-update task's inputs
// per §4.10: the new plaintext snapshot, an optional external transfer,
// and the signature authorizing the new shares.
type WalletUpdateRequest struct {
	WalletID         uuid.UUID
	NewWallet        *wallet.Wallet
	ExternalTransfer *ExternalTransfer
	Signature        []byte
}

// UpdateWallet runs a wallet-update task: nullify the old on-chain
// shares, post the new ones, and refresh validity proofs. It serialises
// with any settlement task on the same wallet via WithWallet's per-wallet
// lock, satisfying §4.10's "must serialise with match-settlement on the
// same wallet" requirement without a separate locking mechanism.
func (m *Manager) UpdateWallet(ctx context.Context, req WalletUpdateRequest) error {
	return m.store.WithWallet(req.WalletID, func(w *wallet.Wallet) error {
		oldNullifier, err := w.Nullifier()
		if err != nil {
			return fmt.Errorf("task: compute old nullifier: %w", err)
		}

		if req.ExternalTransfer != nil {
			if err := applyExternalTransfer(req.NewWallet, *req.ExternalTransfer); err != nil {
				return fmt.Errorf("task: apply external transfer: %w", err)
			}
		}

		commitment, err := req.NewWallet.GetPublicShareCommitment()
		if err != nil {
			return fmt.Errorf("task: new wallet commitment: %w", err)
		}
		statement := onchain.WalletStatement{
			BlinderPublicShare:    req.NewWallet.PublicShares.Blinder,
			PublicShareCommitment: commitment,
		}

		var updateProof []byte
		if m.updateWitness != nil {
			job, err := m.updateWitness(ctx, w, req.NewWallet)
			if err != nil {
				return fmt.Errorf("task: build wallet update witness: %w", err)
			}
			future, err := m.proofs.RequestProof(ctx, job)
			if err != nil {
				return fmt.Errorf("task: request wallet update proof: %w", err)
			}
			bundle, err := future.Wait(ctx)
			if err != nil {
				return fmt.Errorf("task: wallet update proof failed: %w", err)
			}
			updateProof = bundle.Proof
		}

		if _, err := m.chain.UpdateWallet(ctx, onchain.UpdateWalletRequest{
			Statement: statement,
			Proof:     updateProof,
			Signature: req.Signature,
		}); err != nil {
			return fmt.Errorf("task: post wallet update: %w", err)
		}

		m.states.ShootdownByNullifier(oldNullifier)
		*w = *req.NewWallet
		m.store.Put(w)

		if m.revalidate != nil {
			commitmentsJob, reblindJob, err := m.revalidate(ctx, w)
			if err != nil {
				m.log.Warn("wallet update: revalidation witness build failed", "wallet", w.ID, "err", err)
				return nil
			}
			m.awaitReproof(ctx, w.ID, commitmentsJob)
			m.awaitReproof(ctx, w.ID, reblindJob)
		}
		return nil
	})
}

// applyExternalTransfer moves a deposit or withdrawal into w's balance
// slot for transfer.Mint, creating the slot if necessary.
func applyExternalTransfer(w *wallet.Wallet, transfer ExternalTransfer) error {
	idx := w.BalanceIndex(transfer.Mint)
	if idx < 0 {
		if err := w.UpdateBalance(transfer.Mint, 0); err != nil {
			return err
		}
		idx = w.BalanceIndex(transfer.Mint)
	}
	current := w.Balances[idx].Amount
	if transfer.IsWithdrawal {
		if current < transfer.Amount {
			return wallet.ErrInsufficientBalance
		}
		return w.UpdateBalance(transfer.Mint, current-transfer.Amount)
	}
	return w.UpdateBalance(transfer.Mint, current+transfer.Amount)
}
