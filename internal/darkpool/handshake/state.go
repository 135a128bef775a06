package handshake

import (
	"errors"
	"fmt"
	"sync"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

// Phase is one state in the per-request handshake state machine.
type Phase string

const (
	PhaseNegotiating     Phase = "negotiating"
	PhaseMatchInProgress Phase = "match_in_progress"
	PhaseCompleted       Phase = "completed"
	PhaseError           Phase = "error"
)

// ErrInvalidTransition is returned by TransitionTo for a transition not in
// the valid-transitions table.
var ErrInvalidTransition = errors.New("handshake: invalid state transition")

// CancelHandle lets a request's owner observe or force cancellation. Fire
// closes the channel exactly once; firing an already-fired handle is a
// no-op.
type CancelHandle struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelHandle builds an unfired handle.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{ch: make(chan struct{})}
}

// Fire triggers cancellation.
func (h *CancelHandle) Fire() {
	h.once.Do(func() { close(h.ch) })
}

// Done returns a channel closed once Fire has been called.
func (h *CancelHandle) Done() <-chan struct{} {
	return h.ch
}

// RequestState is one handshake request's current phase and the
// nullifiers/cancel handle needed to shoot it down if either wallet's
// shares are spent out from under it, or if the counterparty drops off
// the network mid-protocol.
type RequestState struct {
	RequestID      string
	PeerID         string
	Phase          Phase
	LocalNullifier scalar.Scalar
	PeerNullifier  scalar.Scalar
	ErrorReason    string
	Cancel         *CancelHandle
}

// validTransitions is the table §4.4 names: Negotiating can resolve to
// MatchInProgress, Completed, or Error; MatchInProgress can only resolve
// to Completed or Error. Every other phase is terminal.
var validTransitions = map[Phase][]Phase{
	PhaseNegotiating:     {PhaseMatchInProgress, PhaseCompleted, PhaseError},
	PhaseMatchInProgress: {PhaseCompleted, PhaseError},
}

// StateIndex is the concurrent request_id -> RequestState map.
type StateIndex struct {
	mu       sync.Mutex
	requests map[string]*RequestState
}

// NewStateIndex builds an empty index.
func NewStateIndex() *StateIndex {
	return &StateIndex{requests: make(map[string]*RequestState)}
}

// Begin registers a fresh request in PhaseNegotiating against peerID.
func (idx *StateIndex) Begin(requestID, peerID string, localNullifier scalar.Scalar) *RequestState {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	state := &RequestState{
		RequestID:      requestID,
		PeerID:         peerID,
		Phase:          PhaseNegotiating,
		LocalNullifier: localNullifier,
		Cancel:         NewCancelHandle(),
	}
	idx.requests[requestID] = state
	return state
}

// Get returns the request state, if any.
func (idx *StateIndex) Get(requestID string) (*RequestState, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	s, ok := idx.requests[requestID]
	return s, ok
}

// TransitionTo attempts to move requestID's phase forward, following the
// same "look up valid successors, reject anything else" idiom as the
// teacher's swap state machine.
func (idx *StateIndex) TransitionTo(requestID string, newPhase Phase) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	state, ok := idx.requests[requestID]
	if !ok {
		return fmt.Errorf("handshake: unknown request %s", requestID)
	}

	successors, ok := validTransitions[state.Phase]
	if !ok {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, state.Phase)
	}
	for _, s := range successors {
		if s == newPhase {
			state.Phase = newPhase
			return nil
		}
	}
	return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidTransition, state.Phase, newPhase)
}

// Fail forces requestID into PhaseError with the given reason, firing its
// cancel handle. Unlike TransitionTo this always succeeds if the request
// exists and isn't already terminal, since an abort must never itself be
// rejected.
func (idx *StateIndex) Fail(requestID, reason string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	state, ok := idx.requests[requestID]
	if !ok {
		return
	}
	if _, terminal := validTransitions[state.Phase]; !terminal && state.Phase != PhaseNegotiating && state.Phase != PhaseMatchInProgress {
		return
	}
	state.Phase = PhaseError
	state.ErrorReason = reason
	state.Cancel.Fire()
}

// ShootdownByNullifier forces every request whose local or peer nullifier
// equals n into Error("nullifier spent") and fires its cancel handle,
// per §4.4.
func (idx *StateIndex) ShootdownByNullifier(n scalar.Scalar) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	affected := 0
	for _, state := range idx.requests {
		if state.Phase == PhaseCompleted || state.Phase == PhaseError {
			continue
		}
		if state.LocalNullifier.Equal(n) || state.PeerNullifier.Equal(n) {
			state.Phase = PhaseError
			state.ErrorReason = "nullifier spent"
			state.Cancel.Fire()
			affected++
		}
	}
	return affected
}

// ShootdownByPeer forces every non-terminal request against peerID into
// Error("peer disconnected") and fires its cancel handle. Called when the
// node layer observes the counterparty drop its connection mid-handshake,
// the same abort path ShootdownByNullifier takes for a lost nullifier
// race, but triggered by network loss instead of chain state.
func (idx *StateIndex) ShootdownByPeer(peerID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	affected := 0
	for _, state := range idx.requests {
		if state.Phase == PhaseCompleted || state.Phase == PhaseError {
			continue
		}
		if state.PeerID == peerID {
			state.Phase = PhaseError
			state.ErrorReason = "peer disconnected"
			state.Cancel.Fire()
			affected++
		}
	}
	return affected
}

// ActivePeerIDs returns the distinct peer IDs of every request not yet in
// a terminal phase. Used by the node layer to keep a live counterparty's
// address reachable in the libp2p peerstore regardless of how long it's
// been since that peer was last seen.
func (idx *StateIndex) ActivePeerIDs() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, state := range idx.requests {
		if state.Phase == PhaseCompleted || state.Phase == PhaseError {
			continue
		}
		if state.PeerID == "" {
			continue
		}
		if _, ok := seen[state.PeerID]; ok {
			continue
		}
		seen[state.PeerID] = struct{}{}
		ids = append(ids, state.PeerID)
	}
	return ids
}

// Prune removes terminal requests, bounding the index's memory growth.
func (idx *StateIndex) Prune() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	removed := 0
	for id, state := range idx.requests {
		if state.Phase == PhaseCompleted || state.Phase == PhaseError {
			delete(idx.requests, id)
			removed++
		}
	}
	return removed
}
