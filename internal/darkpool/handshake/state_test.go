package handshake

import (
	"testing"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/stretchr/testify/require"
)

func TestValidTransitionSequence(t *testing.T) {
	idx := NewStateIndex()
	idx.Begin("r1", "peer-1", scalar.FromUint64(1))

	require.NoError(t, idx.TransitionTo("r1", PhaseMatchInProgress))
	require.NoError(t, idx.TransitionTo("r1", PhaseCompleted))

	state, ok := idx.Get("r1")
	require.True(t, ok)
	require.Equal(t, PhaseCompleted, state.Phase)
}

func TestInvalidTransitionRejected(t *testing.T) {
	idx := NewStateIndex()
	idx.Begin("r1", "peer-1", scalar.FromUint64(1))
	require.NoError(t, idx.TransitionTo("r1", PhaseCompleted))

	err := idx.TransitionTo("r1", PhaseMatchInProgress)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestShootdownByNullifierForcesError(t *testing.T) {
	idx := NewStateIndex()
	nullifier := scalar.FromUint64(42)
	state := idx.Begin("r1", "peer-1", nullifier)

	affected := idx.ShootdownByNullifier(nullifier)
	require.Equal(t, 1, affected)
	require.Equal(t, PhaseError, state.Phase)
	require.Equal(t, "nullifier spent", state.ErrorReason)

	select {
	case <-state.Cancel.Done():
	default:
		t.Fatal("expected cancel handle to be fired")
	}
}

func TestShootdownIgnoresTerminalStates(t *testing.T) {
	idx := NewStateIndex()
	nullifier := scalar.FromUint64(7)
	idx.Begin("r1", "peer-1", nullifier)
	require.NoError(t, idx.TransitionTo("r1", PhaseCompleted))

	affected := idx.ShootdownByNullifier(nullifier)
	require.Equal(t, 0, affected)
}

func TestShootdownByPeerForcesError(t *testing.T) {
	idx := NewStateIndex()
	state := idx.Begin("r1", "peer-7", scalar.FromUint64(1))
	idx.Begin("r2", "peer-other", scalar.FromUint64(2))

	affected := idx.ShootdownByPeer("peer-7")
	require.Equal(t, 1, affected)
	require.Equal(t, PhaseError, state.Phase)
	require.Equal(t, "peer disconnected", state.ErrorReason)

	select {
	case <-state.Cancel.Done():
	default:
		t.Fatal("expected cancel handle to be fired")
	}

	other, ok := idx.Get("r2")
	require.True(t, ok)
	require.Equal(t, PhaseNegotiating, other.Phase)
}

func TestActivePeerIDsExcludesTerminalAndDuplicates(t *testing.T) {
	idx := NewStateIndex()
	idx.Begin("r1", "peer-a", scalar.FromUint64(1))
	idx.Begin("r2", "peer-a", scalar.FromUint64(2))
	idx.Begin("r3", "peer-b", scalar.FromUint64(3))
	idx.Begin("r4", "peer-c", scalar.FromUint64(4))
	require.NoError(t, idx.TransitionTo("r4", PhaseCompleted))

	active := idx.ActivePeerIDs()
	require.ElementsMatch(t, []string{"peer-a", "peer-b"}, active)
}

func TestPruneRemovesOnlyTerminalRequests(t *testing.T) {
	idx := NewStateIndex()
	idx.Begin("done", "peer-1", scalar.FromUint64(1))
	require.NoError(t, idx.TransitionTo("done", PhaseCompleted))
	idx.Begin("active", "peer-2", scalar.FromUint64(2))

	removed := idx.Prune()
	require.Equal(t, 1, removed)

	_, ok := idx.Get("done")
	require.False(t, ok)
	_, ok = idx.Get("active")
	require.True(t, ok)
}
