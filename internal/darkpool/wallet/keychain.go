package wallet

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/pkg/helpers"
	"golang.org/x/crypto/sha3"
)

// HmacKey is the wallet's symmetric key, used to authenticate relayer fee
// notes and gossip messages exchanged during a handshake.
type HmacKey [32]byte

// Hex returns the 0x-prefixed hex encoding of k.
func (k HmacKey) Hex() string { return helpers.BytesToHex(k[:]) }

// HmacKeyFromHex parses a 0x-prefixed (or bare) hex string into an HmacKey.
func HmacKeyFromHex(h string) (HmacKey, error) {
	b, err := helpers.HexToBytes(h)
	if err != nil {
		return HmacKey{}, fmt.Errorf("wallet: invalid hmac key hex: %w", err)
	}
	if len(b) != 32 {
		return HmacKey{}, fmt.Errorf("wallet: hmac key must be 32 bytes, got %d", len(b))
	}
	var k HmacKey
	copy(k[:], b)
	return k, nil
}

// MarshalJSON implements json.Marshaler.
func (k HmacKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Hex())
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *HmacKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*k = HmacKey{}
		return nil
	}
	parsed, err := HmacKeyFromHex(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// PublicKeychain is the on-chain-visible half of a wallet's signing
// material: the root signing public key, the match public key, and a nonce
// used to domain-separate keychain derivation across wallets sharing a
// root secret.
type PublicKeychain struct {
	PkRoot  ecdsa.PublicKey
	PkMatch scalar.Scalar
	Nonce   scalar.Scalar
}

// PrivateKeychain is held only by the wallet's owner (or a relayer acting
// on their behalf) and never posted on-chain.
type PrivateKeychain struct {
	SkRoot       *ecdsa.PrivateKey
	SkMatch      scalar.Scalar
	SymmetricKey HmacKey
}

// Keychain bundles the public and private halves.
type Keychain struct {
	Public  PublicKeychain
	Private PrivateKeychain
}

// privateKeychainWire is PrivateKeychain's JSON shape, for the same
// reason publicKeychainWire exists: *ecdsa.PrivateKey's embedded curve
// isn't JSON-safe, so only the scalar D is carried and the public half is
// rederived from it on decode.
type privateKeychainWire struct {
	SkRootD      string        `json:"sk_root_d,omitempty"`
	SkMatch      scalar.Scalar `json:"sk_match"`
	SymmetricKey HmacKey       `json:"symmetric_key"`
}

// MarshalJSON implements json.Marshaler.
func (k PrivateKeychain) MarshalJSON() ([]byte, error) {
	wire := privateKeychainWire{SkMatch: k.SkMatch, SymmetricKey: k.SymmetricKey}
	if k.SkRoot != nil && k.SkRoot.D != nil {
		wire.SkRootD = helpers.BigIntToHex(k.SkRoot.D)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *PrivateKeychain) UnmarshalJSON(data []byte) error {
	var wire privateKeychainWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	k.SkMatch = wire.SkMatch
	k.SymmetricKey = wire.SymmetricKey
	if wire.SkRootD != "" {
		priv := new(ecdsa.PrivateKey)
		priv.PublicKey.Curve = btcec.S256()
		priv.D = helpers.HexToBigInt(wire.SkRootD)
		priv.PublicKey.X, priv.PublicKey.Y = priv.PublicKey.Curve.ScalarBaseMult(priv.D.Bytes())
		k.SkRoot = priv
	}
	return nil
}

// ToScalars implements scalar.Serializable for the public half; the root
// public key is folded into scalar limbs via its affine coordinates.
func (k PublicKeychain) ToScalars() ([]scalar.Scalar, error) {
	if k.PkRoot.X == nil || k.PkRoot.Y == nil {
		return []scalar.Scalar{scalar.Zero(), scalar.Zero(), k.PkMatch, k.Nonce}, nil
	}
	return []scalar.Scalar{
		scalar.FromBigInt(k.PkRoot.X),
		scalar.FromBigInt(k.PkRoot.Y),
		k.PkMatch,
		k.Nonce,
	}, nil
}

// FromScalars implements scalar.Serializable.
func (k *PublicKeychain) FromScalars(it *scalar.Iterator) error {
	x, err := it.Next()
	if err != nil {
		return err
	}
	y, err := it.Next()
	if err != nil {
		return err
	}
	k.PkRoot = ecdsa.PublicKey{Curve: btcec.S256(), X: x.ToBigInt(), Y: y.ToBigInt()}
	if k.PkMatch, err = it.Next(); err != nil {
		return err
	}
	if k.Nonce, err = it.Next(); err != nil {
		return err
	}
	return nil
}

// NumScalars implements scalar.Serializable.
func (k PublicKeychain) NumScalars() int { return 4 }

// publicKeychainWire is PublicKeychain's JSON shape: ecdsa.PublicKey embeds
// an elliptic.Curve interface that encoding/json can't round-trip, so the
// root key's coordinates are carried as hex and the curve is fixed back to
// btcec.S256() on decode.
type publicKeychainWire struct {
	PkRootX string        `json:"pk_root_x,omitempty"`
	PkRootY string        `json:"pk_root_y,omitempty"`
	PkMatch scalar.Scalar `json:"pk_match"`
	Nonce   scalar.Scalar `json:"nonce"`
}

// MarshalJSON implements json.Marshaler.
func (k PublicKeychain) MarshalJSON() ([]byte, error) {
	wire := publicKeychainWire{PkMatch: k.PkMatch, Nonce: k.Nonce}
	if k.PkRoot.X != nil && k.PkRoot.Y != nil {
		wire.PkRootX = helpers.BigIntToHex(k.PkRoot.X)
		wire.PkRootY = helpers.BigIntToHex(k.PkRoot.Y)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *PublicKeychain) UnmarshalJSON(data []byte) error {
	var wire publicKeychainWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	k.PkMatch = wire.PkMatch
	k.Nonce = wire.Nonce
	if wire.PkRootX != "" && wire.PkRootY != "" {
		k.PkRoot = ecdsa.PublicKey{
			Curve: btcec.S256(),
			X:     helpers.HexToBigInt(wire.PkRootX),
			Y:     helpers.HexToBigInt(wire.PkRootY),
		}
	}
	return nil
}

// DeriveKeychain derives a wallet's full keychain from a single root EC
// private key and a per-wallet nonce, by signing fixed domain-separated
// messages and reducing the signatures into the target fields — the same
// "sign a domain string, reduce into field" construction used by the
// reference wallet-derivation scheme this package's scalar model is
// grounded on. The signatures are randomized (see signDigest), so two
// calls with the same root and nonce return different match and
// symmetric keys.
func DeriveKeychain(root *ecdsa.PrivateKey, nonce scalar.Scalar) (Keychain, error) {
	matchSig, err := signDigest(root, deriveMessage("match key", nonce))
	if err != nil {
		return Keychain{}, fmt.Errorf("wallet: derive match key: %w", err)
	}
	symSig, err := signDigest(root, deriveMessage("symmetric key", nonce))
	if err != nil {
		return Keychain{}, fmt.Errorf("wallet: derive symmetric key: %w", err)
	}

	skMatch := scalar.FromBytes(keccak256(matchSig))

	var symKey HmacKey
	copy(symKey[:], keccak256(symSig))

	return Keychain{
		Public: PublicKeychain{
			PkRoot:  root.PublicKey,
			PkMatch: skMatch,
			Nonce:   nonce,
		},
		Private: PrivateKeychain{
			SkRoot:       root,
			SkMatch:      skMatch,
			SymmetricKey: symKey,
		},
	}, nil
}

func deriveMessage(label string, nonce scalar.Scalar) []byte {
	msg := append([]byte("darkpool relayer key derivation: "+label+":"), nonce.Bytes()...)
	return keccak256(msg)
}

// signDigest produces a fixed-length (r || s) byte string from an ECDSA
// signature over digest, used only as entropy for keychain derivation,
// not as a verifiable signature itself. ecdsa.Sign draws its nonce from
// crypto/rand, so the output differs on every call.
func signDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 64)
	out = append(out, helpers.PadLeft(r.Bytes(), 32)...)
	out = append(out, helpers.PadLeft(s.Bytes(), 32)...)
	return out, nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
