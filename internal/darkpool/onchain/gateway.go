// Package onchain implements the relayer's view of the settlement contract:
// posting wallets and match settlements, and answering the Merkle-root and
// nullifier queries the rest of the core relies on to validate proofs
// against current on-chain state.
package onchain

import (
	"context"
	"errors"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

// Errors surfaced by a Gateway implementation, mapped from the concrete
// backend's failure modes onto the kinds the core expects to switch on.
var (
	ErrTransient             = errors.New("onchain: transient failure, retry")
	ErrReverted              = errors.New("onchain: contract reverted")
	ErrSerde                 = errors.New("onchain: encoding error")
	ErrConversionInvalidLength = errors.New("onchain: calldata array length mismatch")
)

// WalletStatement is the public commitment data accompanying a wallet
// posting: the new public blinder share and the Merkle leaf it inserts.
type WalletStatement struct {
	BlinderPublicShare scalar.Scalar
	PublicShareCommitment scalar.Scalar
}

// UpdateWalletRequest bundles an update_wallet call's arguments.
type UpdateWalletRequest struct {
	Statement WalletStatement
	Proof     []byte
	Signature []byte
}

// MatchSettlePayload is one party's half of a process_match_settle call.
type MatchSettlePayload struct {
	Statement WalletStatement
	Proofs    []byte
}

// MerkleOpening is an authenticated path from a leaf to a historical root.
type MerkleOpening struct {
	Leaf      scalar.Scalar
	LeafIndex uint64
	Siblings  []scalar.Scalar
	Root      scalar.Scalar
}

// TxReceipt is the subset of a settlement transaction's receipt the core
// cares about.
type TxReceipt struct {
	TxHash      string
	BlockNumber uint64
}

// Gateway is the contract surface §4.2 consumes. Implementations must map
// reverts to ErrReverted, encode/decode failures to ErrSerde, and
// unexpected calldata widths to ErrConversionInvalidLength; anything
// network-shaped (dial failures, timeouts, dropped connections) maps to
// ErrTransient so callers can retry.
type Gateway interface {
	NewWallet(ctx context.Context, blinderPublicShare scalar.Scalar, proof []byte, statement WalletStatement) (TxReceipt, error)
	UpdateWallet(ctx context.Context, req UpdateWalletRequest) (TxReceipt, error)
	ProcessMatchSettle(ctx context.Context, payloadP0 MatchSettlePayload, payloadP1 MatchSettlePayload, matchSettleProof []byte) (TxReceipt, error)

	CurrentMerkleRoot(ctx context.Context) (scalar.Scalar, error)
	RootInHistory(ctx context.Context, root scalar.Scalar) (bool, error)
	NullifierSpent(ctx context.Context, nullifier scalar.Scalar) (bool, error)

	// MerkleOpeningFor reconstructs an authenticated path to leaf by
	// replaying indexed insertion events, falling back to the empty-leaf
	// baseline for any sibling not yet populated.
	MerkleOpeningFor(ctx context.Context, leaf scalar.Scalar) (MerkleOpening, error)
}
