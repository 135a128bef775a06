// Package proof models the validity-proof gateway (§4.8): an asynchronous,
// black-box job executor that proves VALID COMMITMENTS, VALID REBLIND, and
// VALID MATCH SETTLE statements without this module ever implementing a
// proving system itself — the actual constraint-system work is out of
// scope; this package only owns job dispatch, async completion, and
// cross-proof link hints.
package proof

import (
	"errors"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

// ErrProofFailed is returned by a future's Wait when the underlying job
// could not be proven (invalid witness, non-crossing match, etc.).
var ErrProofFailed = errors.New("proof: job failed")

// JobKind names one of the five statement families the gateway proves.
type JobKind int

const (
	ValidCommitments JobKind = iota
	ValidReblind
	ValidMatchSettle
	ValidWalletCreate
	ValidWalletUpdate
)

func (k JobKind) String() string {
	switch k {
	case ValidCommitments:
		return "VALID_COMMITMENTS"
	case ValidReblind:
		return "VALID_REBLIND"
	case ValidMatchSettle:
		return "VALID_MATCH_SETTLE"
	case ValidWalletCreate:
		return "VALID_WALLET_CREATE"
	case ValidWalletUpdate:
		return "VALID_WALLET_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// LinkHint is the value VALID COMMITMENTS and VALID MATCH SETTLE jobs
// exchange to prove they address the same wallet-share commitments,
// without either job holding a reference to the other's state (§9: "treat
// link hints as values that flow with proofs, not shared mutable state").
type LinkHint struct {
	CommitmentHash scalar.Scalar
}

// Statement is the public input to a proof job. Its shape depends on Kind
// and is carried as a flat scalar vector so the gateway never needs to
// know the concrete witness/statement types of the business-logic
// packages that construct it.
type Statement struct {
	Kind   JobKind
	Public []scalar.Scalar
}

// Job requests one proof. Witness is opaque to this package (the caller
// assembles it from wallet/match state); LinkHints lists the hints this
// job's output must be consistent with.
type Job struct {
	Kind      JobKind
	Statement Statement
	Witness   []scalar.Scalar
	LinkHints []LinkHint
}

// Bundle is a completed job's output: an opaque proof object plus the link
// hint this proof publishes for a future cross-proof to consume.
type Bundle struct {
	Kind  JobKind
	Proof []byte
	Hint  LinkHint
}
