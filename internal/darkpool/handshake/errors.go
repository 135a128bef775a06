package handshake

import "errors"

var (
	// ErrInvalidMessage marks a gossip message that fails schema
	// validation (missing fields, unknown kind).
	ErrInvalidMessage = errors.New("handshake: invalid message")
	// ErrBadSignature marks a message whose cluster signature does not
	// verify against the claimed sender.
	ErrBadSignature = errors.New("handshake: bad signature")
	// ErrNullifierSpent marks a request aborted because one of its
	// wallets' shares were spent by a concurrent settlement.
	ErrNullifierSpent = errors.New("handshake: nullifier spent")
	// ErrCacheHit marks a request terminated early because the pair was
	// already InFlight or Completed — not an error condition for the
	// caller, but returned so callers can distinguish "skipped" from "ran".
	ErrCacheHit = errors.New("handshake: pair already in cache")
)
