// Package wallet implements the canonical per-user wallet record — orders,
// balances, fees, and keychain — together with the additive secret-share
// discipline (reblinding, commitments, nullifiers) that lets a relayer hold
// a wallet without ever seeing its plaintext contents on-chain.
//
// The package exposes exactly one plaintext type (Wallet) and one share
// type (Share); constraint-system variables belong to the proof subsystem
// and never appear here.
package wallet

import (
	"errors"
	"fmt"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

// Errors surfaced by wallet mutations.
var (
	ErrOrdersFull        = errors.New("wallet: orders full")
	ErrBalancesFull      = errors.New("wallet: balances full")
	ErrFeeOutOfRange     = errors.New("wallet: fee index out of range")
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	ErrDuplicatePair     = errors.New("wallet: order already exists for this pair")
	ErrInvariant         = errors.New("wallet: invariant violated")
)

// Side is the direction of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Order is a single resting order. The zero value is the "default" /
// unused-slot order: at most one non-default order per (BaseMint, QuoteMint)
// pair is permitted in a wallet.
type Order struct {
	QuoteMint      scalar.Scalar
	BaseMint       scalar.Scalar
	Side           Side
	Amount         uint64
	WorstCasePrice FixedPoint
	Timestamp      uint64
}

// IsDefault reports whether o is the zero-valued, unused-slot order.
func (o Order) IsDefault() bool {
	return o.Amount == 0 && o.QuoteMint.IsZero() && o.BaseMint.IsZero()
}

// SamePair reports whether o and other address the same (base, quote) pair.
func (o Order) SamePair(other Order) bool {
	return o.BaseMint.Equal(other.BaseMint) && o.QuoteMint.Equal(other.QuoteMint)
}

// ToScalars implements scalar.Serializable.
func (o Order) ToScalars() ([]scalar.Scalar, error) {
	return []scalar.Scalar{
		o.QuoteMint,
		o.BaseMint,
		scalar.FromUint64(uint64(o.Side)),
		scalar.FromUint64(o.Amount),
		o.WorstCasePrice.Repr,
		scalar.FromUint64(o.Timestamp),
	}, nil
}

// FromScalars implements scalar.Serializable.
func (o *Order) FromScalars(it *scalar.Iterator) error {
	var err error
	if o.QuoteMint, err = it.Next(); err != nil {
		return err
	}
	if o.BaseMint, err = it.Next(); err != nil {
		return err
	}
	sideScalar, err := it.Next()
	if err != nil {
		return err
	}
	o.Side = Side(sideScalar.Uint64())
	amt, err := it.Next()
	if err != nil {
		return err
	}
	o.Amount = amt.Uint64()
	if o.WorstCasePrice.Repr, err = it.Next(); err != nil {
		return err
	}
	ts, err := it.Next()
	if err != nil {
		return err
	}
	o.Timestamp = ts.Uint64()
	return nil
}

// NumScalars implements scalar.Serializable.
func (o Order) NumScalars() int { return 6 }

// Balance is the holding of a single mint, plus any fee accrued against it.
// The zero value is the default / unused-slot balance.
type Balance struct {
	Mint              scalar.Scalar
	Amount            uint64
	RelayerFeeBalance uint64
	ProtocolFeeBalance uint64
}

// IsDefault reports whether b is the zero-valued, unused-slot balance.
func (b Balance) IsDefault() bool {
	return b.Amount == 0 && b.Mint.IsZero() && b.RelayerFeeBalance == 0 && b.ProtocolFeeBalance == 0
}

// ToScalars implements scalar.Serializable.
func (b Balance) ToScalars() ([]scalar.Scalar, error) {
	return []scalar.Scalar{
		b.Mint,
		scalar.FromUint64(b.Amount),
		scalar.FromUint64(b.RelayerFeeBalance),
		scalar.FromUint64(b.ProtocolFeeBalance),
	}, nil
}

// FromScalars implements scalar.Serializable.
func (b *Balance) FromScalars(it *scalar.Iterator) error {
	var err error
	if b.Mint, err = it.Next(); err != nil {
		return err
	}
	amt, err := it.Next()
	if err != nil {
		return err
	}
	b.Amount = amt.Uint64()
	rfb, err := it.Next()
	if err != nil {
		return err
	}
	b.RelayerFeeBalance = rfb.Uint64()
	pfb, err := it.Next()
	if err != nil {
		return err
	}
	b.ProtocolFeeBalance = pfb.Uint64()
	return nil
}

// NumScalars implements scalar.Serializable.
func (b Balance) NumScalars() int { return 4 }

// FeeEncryptionKey is a BabyJubjub point used to encrypt relayer fee notes
// to the managing cluster.
type FeeEncryptionKey struct {
	X scalar.Scalar
	Y scalar.Scalar
}

// ToScalars implements scalar.Serializable.
func (k FeeEncryptionKey) ToScalars() ([]scalar.Scalar, error) {
	return []scalar.Scalar{k.X, k.Y}, nil
}

// FromScalars implements scalar.Serializable.
func (k *FeeEncryptionKey) FromScalars(it *scalar.Iterator) error {
	var err error
	if k.X, err = it.Next(); err != nil {
		return err
	}
	if k.Y, err = it.Next(); err != nil {
		return err
	}
	return nil
}

// NumScalars implements scalar.Serializable.
func (k FeeEncryptionKey) NumScalars() int { return 2 }

// FindOrderIndex returns the slot index of the first order matching pred,
// or -1 if none match.
func FindOrderIndex(orders []Order, pred func(Order) bool) int {
	for i, o := range orders {
		if pred(o) {
			return i
		}
	}
	return -1
}

// validateIndex returns a bounds error decorated with the field name.
func validateIndex(field string, idx, length int) error {
	if idx < 0 || idx >= length {
		return fmt.Errorf("%w: %s index %d out of range [0,%d)", ErrFeeOutOfRange, field, idx, length)
	}
	return nil
}
