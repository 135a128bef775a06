package handshake

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/darkpool-labs/relayer/internal/darkpool/proof"
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

// MessageKind names one of the request/response messages exchanged during
// a handshake, carried over the same libp2p stream/pubsub transport the
// node package already speaks.
type MessageKind string

const (
	KindHandshakeProposal   MessageKind = "handshake_proposal"
	KindHandshakeAcceptance MessageKind = "handshake_acceptance"
	KindPriceExchange       MessageKind = "price_exchange"
	KindMPCNetBrokered      MessageKind = "mpc_net_brokered"
	KindCacheSync           MessageKind = "cache_sync"
	KindMatchInProgress     MessageKind = "match_in_progress"
)

// HandshakeProposal is step 1's outbound message: the dialer offers a
// local order for matching.
type HandshakeProposal struct {
	RequestID      string
	OrderID        scalar.Scalar
	OrderCommitment scalar.Scalar
}

// HandshakeAcceptance is the listener's response to a HandshakeProposal:
// either a counter-proposal (PeerOrderID set, Rejected false) or a
// rejection.
type HandshakeAcceptance struct {
	RequestID               string
	Rejected                bool
	PeerOrderID              scalar.Scalar
	PeerWalletID             uuid.UUID
	PeerCommitmentProofHash  scalar.Scalar
	PeerReblindProofHash     scalar.Scalar
}

// PriceExchange carries one side's latest median price report for the
// pair under negotiation.
type PriceExchange struct {
	RequestID    string
	Midpoint     float64
	ReportTimeMs int64
}

// MPCNetBrokered signals both parties have connected to the MPC net for
// this request and assigns dialer/listener to party 0/1.
type MPCNetBrokered struct {
	RequestID string
	Party0    string // peer ID of the dialer
	Party1    string // peer ID of the listener
}

// CacheSync lets a cluster's relayers keep their handshake caches
// roughly consistent without a shared store.
type CacheSync struct {
	Entries []CacheSyncEntry
}

// CacheSyncEntry is one cache row propagated by a CacheSync message.
type CacheSyncEntry struct {
	A   scalar.Scalar
	B   scalar.Scalar
	Tag Tag
}

// MatchInProgress is a progress notification published to the
// "order-state" pub/sub topic once a request reaches PhaseMatchInProgress.
type MatchInProgress struct {
	RequestID string
	OrderID   scalar.Scalar
}

// LinkHintOf re-exports the proof package's cross-proof hint type so
// callers assembling handshake messages don't need a second import for a
// single field.
type LinkHintOf = proof.LinkHint

// ClusterSigner signs outbound gossip messages under a cluster-wide
// signing key, layered on top of per-peer transport authentication: every
// message in this package's MessageKind set is signed before it leaves the
// node, so a receiving cluster can verify the message came from a
// genuine relayer cluster even if the underlying transport session was
// established anonymously.
type ClusterSigner struct {
	key *ecdsa.PrivateKey
}

// NewClusterSigner wraps a cluster's signing key.
func NewClusterSigner(key *ecdsa.PrivateKey) *ClusterSigner {
	return &ClusterSigner{key: key}
}

// Sign produces a signature over (kind || requestID || payload digest).
func (s *ClusterSigner) Sign(kind MessageKind, requestID string, payload []byte) ([]byte, error) {
	digest := digestMessage(kind, requestID, payload)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.key, digest)
	if err != nil {
		return nil, fmt.Errorf("handshake: sign %s: %w", kind, err)
	}
	out := make([]byte, 0, 64)
	out = append(out, leftPad32(r)...)
	out = append(out, leftPad32(sVal)...)
	return out, nil
}

// Verify checks a signature against the cluster's public key.
func (s *ClusterSigner) Verify(pub *ecdsa.PublicKey, kind MessageKind, requestID string, payload, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}
	digest := digestMessage(kind, requestID, payload)
	r := new(big.Int).SetBytes(signature[:32])
	sVal := new(big.Int).SetBytes(signature[32:])
	return ecdsa.Verify(pub, digest, r, sVal)
}

func digestMessage(kind MessageKind, requestID string, payload []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(kind))
	h.Write([]byte(requestID))
	h.Write(payload)
	return h.Sum(nil)
}

func leftPad32(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
