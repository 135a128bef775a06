package wallet

import (
	"fmt"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/google/uuid"
)

// Limits bounds a wallet's slot capacity. These mirror the spec's
// MAX_BALANCES/MAX_ORDERS constants but are threaded through as a value
// (see internal/config.ProtocolConfig) rather than compiled in, so the
// core never hardcodes them.
type Limits struct {
	MaxOrders   int
	MaxBalances int
}

// DefaultLimits returns the limits named in the external-interfaces table.
func DefaultLimits() Limits {
	return Limits{MaxOrders: 5, MaxBalances: 5}
}

// Share is a wallet's element-wise additive secret share: every order,
// balance, and keychain field carries one share value. A wallet keeps two
// Shares — PrivateShares (held locally) and PublicShares (posted on-chain,
// blinded by Blinder) — such that
//
//	reconstruct(PrivateShares, unblind(PublicShares, Blinder)) == plaintext wallet.
type Share struct {
	Orders          []Order
	Balances        []Balance
	Keys            PublicKeychain
	MatchFee        FixedPoint
	ManagingCluster FeeEncryptionKey
	Blinder         scalar.Scalar
}

// EmptyShare returns a zero-valued share sized to limits.
func EmptyShare(limits Limits) Share {
	return Share{
		Orders:   make([]Order, limits.MaxOrders),
		Balances: make([]Balance, limits.MaxBalances),
	}
}

func (s Share) clone() Share {
	out := Share{
		Orders:          append([]Order(nil), s.Orders...),
		Balances:        append([]Balance(nil), s.Balances...),
		Keys:            s.Keys,
		MatchFee:        s.MatchFee,
		ManagingCluster: s.ManagingCluster,
		Blinder:         s.Blinder,
	}
	return out
}

// toScalars flattens a share into the flat scalar vector used by the CSPRNG
// stream and by commitment hashing.
func (s Share) toScalars() ([]scalar.Scalar, error) {
	var out []scalar.Scalar
	for _, o := range s.Orders {
		fs, err := o.ToScalars()
		if err != nil {
			return nil, err
		}
		out = append(out, fs...)
	}
	for _, b := range s.Balances {
		fs, err := b.ToScalars()
		if err != nil {
			return nil, err
		}
		out = append(out, fs...)
	}
	keyScalars, err := s.Keys.ToScalars()
	if err != nil {
		return nil, err
	}
	out = append(out, keyScalars...)
	feeScalars, err := s.MatchFee.ToScalars()
	if err != nil {
		return nil, err
	}
	out = append(out, feeScalars...)
	clusterScalars, err := s.ManagingCluster.ToScalars()
	if err != nil {
		return nil, err
	}
	out = append(out, clusterScalars...)
	return out, nil
}

// elementScalars returns the flat vector excluding the blinder, which is
// the quantity reblinding resamples and re-derives shares against.
func (s Share) elementScalars() ([]scalar.Scalar, error) {
	return s.toScalars()
}

func scalarsToShare(flat []scalar.Scalar, limits Limits) (Share, error) {
	it := scalar.NewIterator(flat)
	out := EmptyShare(limits)
	for i := range out.Orders {
		if err := out.Orders[i].FromScalars(it); err != nil {
			return Share{}, fmt.Errorf("wallet: order %d: %w", i, err)
		}
	}
	for i := range out.Balances {
		if err := out.Balances[i].FromScalars(it); err != nil {
			return Share{}, fmt.Errorf("wallet: balance %d: %w", i, err)
		}
	}
	if err := out.Keys.FromScalars(it); err != nil {
		return Share{}, fmt.Errorf("wallet: keys: %w", err)
	}
	if err := out.MatchFee.FromScalars(it); err != nil {
		return Share{}, fmt.Errorf("wallet: match fee: %w", err)
	}
	if err := out.ManagingCluster.FromScalars(it); err != nil {
		return Share{}, fmt.Errorf("wallet: managing cluster: %w", err)
	}
	return out, nil
}

// Wallet is the canonical plaintext wallet record. ID is a stable local
// identifier; PrivateShares/PublicShares/Blinder carry the on-chain secret
// sharing.
type Wallet struct {
	ID     uuid.UUID
	Limits Limits

	Orders          []Order
	Balances        []Balance
	Keychain        Keychain
	ManagingCluster FeeEncryptionKey
	MatchFee        FixedPoint

	Blinder       scalar.Scalar
	PrivateShares Share
	PublicShares  Share
}

// NewEmptyWallet builds a wallet with empty order/balance slots and a fresh
// identifier, ready to be populated and posted via the on-chain gateway's
// new-wallet call.
func NewEmptyWallet(limits Limits, keychain Keychain, managingCluster FeeEncryptionKey, matchFee FixedPoint) *Wallet {
	w := &Wallet{
		ID:              uuid.New(),
		Limits:          limits,
		Orders:          make([]Order, limits.MaxOrders),
		Balances:        make([]Balance, limits.MaxBalances),
		Keychain:        keychain,
		ManagingCluster: managingCluster,
		MatchFee:        matchFee,
		Blinder:         scalar.Zero(),
	}
	w.PrivateShares = EmptyShare(limits)
	w.PublicShares = EmptyShare(limits)
	return w
}

// Clone returns a deep copy of w, safe to mutate independently. Used by
// the settlement task to build a match-settle witness against a working
// copy before the real wallet is mutated (§4.9 step 1: "copies").
func (w *Wallet) Clone() *Wallet {
	out := *w
	out.Orders = append([]Order(nil), w.Orders...)
	out.Balances = append([]Balance(nil), w.Balances...)
	out.PrivateShares = w.PrivateShares.clone()
	out.PublicShares = w.PublicShares.clone()
	return &out
}

// plaintextShare packages the wallet's current plaintext view as a Share,
// for use as the "unblinded reconstruction target" during reblind and
// commitment computation.
func (w *Wallet) plaintextShare() Share {
	return Share{
		Orders:          append([]Order(nil), w.Orders...),
		Balances:        append([]Balance(nil), w.Balances...),
		Keys:            w.Keychain.Public,
		MatchFee:        w.MatchFee,
		ManagingCluster: w.ManagingCluster,
		Blinder:         w.Blinder,
	}
}

// Reblind samples a fresh blinder and a fresh private share for every
// wallet-element slot, then re-derives the public shares so that the
// reconstruction invariant holds under the new blinder. It must be called
// after any plaintext mutation, before the wallet may be published.
//
// Per §4.1: two CSPRNG draws seeded from the current private blinder share
// produce the new blinder and its private share; a second CSPRNG seeded
// from the penultimate private share element produces one fresh private
// share per wallet-element slot.
func (w *Wallet) Reblind() error {
	oldPrivate, err := w.PrivateShares.elementScalars()
	if err != nil {
		return fmt.Errorf("wallet: reblind: %w", err)
	}
	oldPublic, err := w.PublicShares.elementScalars()
	if err != nil {
		return fmt.Errorf("wallet: reblind: %w", err)
	}
	if len(oldPrivate) != len(oldPublic) || len(oldPrivate) == 0 {
		return fmt.Errorf("%w: mismatched share lengths", ErrInvariant)
	}

	blinderStream := scalar.NewCSPRNG(w.PrivateShares.Blinder)
	newBlinder := blinderStream.Next()
	newBlinderPrivateShare := blinderStream.Next()

	seedIdx := len(oldPrivate) - 2
	if seedIdx < 0 {
		seedIdx = 0
	}
	elementStream := scalar.NewCSPRNG(oldPrivate[seedIdx])
	newPrivate := elementStream.NextN(len(oldPrivate))

	newPublic := make([]scalar.Scalar, len(oldPrivate))
	for i := range newPublic {
		// new_public[i] = (old_private[i] + old_public[i]) - old_blinder + new_blinder - new_private[i]
		sum := oldPrivate[i].Add(oldPublic[i])
		sum = sum.Sub(w.Blinder)
		sum = sum.Add(newBlinder)
		newPublic[i] = sum.Sub(newPrivate[i])
	}

	newPrivateShare, err := scalarsToShare(newPrivate, w.Limits)
	if err != nil {
		return fmt.Errorf("wallet: reblind: rebuild private share: %w", err)
	}
	newPublicShare, err := scalarsToShare(newPublic, w.Limits)
	if err != nil {
		return fmt.Errorf("wallet: reblind: rebuild public share: %w", err)
	}
	newPrivateShare.Blinder = newBlinderPrivateShare
	newPublicShare.Blinder = newBlinder.Sub(newBlinderPrivateShare)

	w.PrivateShares = newPrivateShare
	w.PublicShares = newPublicShare
	w.Blinder = newBlinder
	return nil
}

// GetPrivateShareCommitment returns a deterministic commitment over the
// wallet's current private shares.
func (w *Wallet) GetPrivateShareCommitment() (scalar.Scalar, error) {
	flat, err := w.PrivateShares.elementScalars()
	if err != nil {
		return scalar.Scalar{}, err
	}
	flat = append(flat, w.PrivateShares.Blinder)
	return scalar.HashScalars(flat), nil
}

// GetPublicShareCommitment returns a deterministic commitment over the
// wallet's current public shares — the value inserted into the on-chain
// Merkle tree.
func (w *Wallet) GetPublicShareCommitment() (scalar.Scalar, error) {
	flat, err := w.PublicShares.elementScalars()
	if err != nil {
		return scalar.Scalar{}, err
	}
	flat = append(flat, w.PublicShares.Blinder)
	return scalar.HashScalars(flat), nil
}

// Nullifier derives the one-time spend tag for the wallet's current share
// set: posting a successor wallet version consumes this value.
func (w *Wallet) Nullifier() (scalar.Scalar, error) {
	commitment, err := w.GetPrivateShareCommitment()
	if err != nil {
		return scalar.Scalar{}, err
	}
	return scalar.HashScalars([]scalar.Scalar{commitment, scalar.FromUint64(1)}), nil
}

// AddOrder inserts order into the first default slot, or appends semantics
// are not used — slot count is fixed by Limits. Returns ErrOrdersFull if no
// default slot remains, or ErrDuplicatePair if a non-default order already
// addresses the same (base, quote) pair.
func (w *Wallet) AddOrder(order Order) error {
	for _, existing := range w.Orders {
		if !existing.IsDefault() && existing.SamePair(order) {
			return ErrDuplicatePair
		}
	}
	idx := FindOrderIndex(w.Orders, Order.IsDefault)
	if idx < 0 {
		return ErrOrdersFull
	}
	w.Orders[idx] = order
	return nil
}

// CancelOrder replaces the order at idx with the default order.
func (w *Wallet) CancelOrder(idx int) error {
	if err := validateIndex("order", idx, len(w.Orders)); err != nil {
		return err
	}
	w.Orders[idx] = Order{}
	return nil
}

// UpdateBalance sets the balance for mint to amount, creating a new slot if
// none exists yet for that mint.
func (w *Wallet) UpdateBalance(mint scalar.Scalar, amount uint64) error {
	for i, b := range w.Balances {
		if !b.IsDefault() && b.Mint.Equal(mint) {
			w.Balances[i].Amount = amount
			return nil
		}
	}
	idx := -1
	for i, b := range w.Balances {
		if b.IsDefault() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrBalancesFull
	}
	w.Balances[idx] = Balance{Mint: mint, Amount: amount}
	return nil
}

// BalanceIndex returns the slot index holding mint, or -1.
func (w *Wallet) BalanceIndex(mint scalar.Scalar) int {
	for i, b := range w.Balances {
		if !b.IsDefault() && b.Mint.Equal(mint) {
			return i
		}
	}
	return -1
}

// AddFee adds amount to the relayer fee balance at idx.
func (w *Wallet) AddFee(idx int, amount uint64) error {
	if err := validateIndex("balance", idx, len(w.Balances)); err != nil {
		return err
	}
	w.Balances[idx].RelayerFeeBalance += amount
	return nil
}

// RemoveFee zeroes the relayer fee balance at idx and returns the amount
// that was withdrawn. Returns ErrFeeOutOfRange if idx is invalid.
func (w *Wallet) RemoveFee(idx int) (uint64, error) {
	if err := validateIndex("balance", idx, len(w.Balances)); err != nil {
		return 0, err
	}
	amount := w.Balances[idx].RelayerFeeBalance
	w.Balances[idx].RelayerFeeBalance = 0
	return amount, nil
}

// ApplyMatch adjusts orderIdx's amount by baseAmount and moves baseAmount of
// the base mint and quoteAmount of the quote mint between the wallet's send
// and receive balance slots, per the executing side's direction. direction
// follows the match computation's convention: 0 means this wallet buys
// base (receives base, sends quote); 1 means it sells base (sends base,
// receives quote).
//
// It forbids any balance going negative (§4.1); callers are expected to
// have pre-checked affordability (§9 open question) before calling this,
// so ErrInsufficientBalance here indicates a caller/proof-witness mismatch
// rather than an expected runtime condition.
func (w *Wallet) ApplyMatch(orderIdx int, baseAmount, quoteAmount uint64, direction uint8, baseBalanceIdx, quoteBalanceIdx int) error {
	if err := validateIndex("order", orderIdx, len(w.Orders)); err != nil {
		return err
	}
	if err := validateIndex("balance", baseBalanceIdx, len(w.Balances)); err != nil {
		return err
	}
	if err := validateIndex("balance", quoteBalanceIdx, len(w.Balances)); err != nil {
		return err
	}

	order := &w.Orders[orderIdx]
	if order.Amount < baseAmount {
		return fmt.Errorf("%w: order %d has amount %d, match requires %d", ErrInsufficientBalance, orderIdx, order.Amount, baseAmount)
	}
	order.Amount -= baseAmount

	base := &w.Balances[baseBalanceIdx]
	quote := &w.Balances[quoteBalanceIdx]

	if direction == 0 {
		// Buys base: receive base, send quote.
		if quote.Amount < quoteAmount {
			return fmt.Errorf("%w: quote balance %d has %d, match requires %d", ErrInsufficientBalance, quoteBalanceIdx, quote.Amount, quoteAmount)
		}
		base.Amount += baseAmount
		quote.Amount -= quoteAmount
	} else {
		// Sells base: send base, receive quote.
		if base.Amount < baseAmount {
			return fmt.Errorf("%w: base balance %d has %d, match requires %d", ErrInsufficientBalance, baseBalanceIdx, base.Amount, baseAmount)
		}
		base.Amount -= baseAmount
		quote.Amount += quoteAmount
	}
	return nil
}

// CanAfford reports whether applying the match described by direction,
// baseAmount, quoteAmount against the given balances would succeed, without
// mutating the wallet. The settlement task uses this to pre-check
// affordability before submission (§9 open question resolution).
func (w *Wallet) CanAfford(baseAmount, quoteAmount uint64, direction uint8, baseBalanceIdx, quoteBalanceIdx int) bool {
	if err := validateIndex("balance", baseBalanceIdx, len(w.Balances)); err != nil {
		return false
	}
	if err := validateIndex("balance", quoteBalanceIdx, len(w.Balances)); err != nil {
		return false
	}
	if direction == 0 {
		return w.Balances[quoteBalanceIdx].Amount >= quoteAmount
	}
	return w.Balances[baseBalanceIdx].Amount >= baseAmount
}
