package proof

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/stretchr/testify/require"
)

func succeedingProver(_ context.Context, job Job) ([]byte, error) {
	return []byte(job.Kind.String()), nil
}

func failingProver(_ context.Context, _ Job) ([]byte, error) {
	return nil, errors.New("witness does not satisfy statement")
}

func TestRequestProofResolvesAsynchronously(t *testing.T) {
	gw := NewBlackBoxGateway(succeedingProver)
	job := Job{
		Kind:      ValidCommitments,
		Statement: Statement{Kind: ValidCommitments, Public: []scalar.Scalar{scalar.FromUint64(1)}},
	}

	future, err := gw.RequestProof(context.Background(), job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bundle, err := future.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, ValidCommitments, bundle.Kind)
	require.Equal(t, "VALID_COMMITMENTS", string(bundle.Proof))
}

func TestRequestProofSurfacesFailure(t *testing.T) {
	gw := NewBlackBoxGateway(failingProver)
	job := Job{
		Kind:      ValidMatchSettle,
		Statement: Statement{Kind: ValidMatchSettle},
	}

	future, err := gw.RequestProof(context.Background(), job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = future.Wait(ctx)
	require.ErrorIs(t, err, ErrProofFailed)
}

func TestRequestProofRejectsMismatchedKinds(t *testing.T) {
	gw := NewBlackBoxGateway(succeedingProver)
	job := Job{
		Kind:      ValidReblind,
		Statement: Statement{Kind: ValidCommitments},
	}
	_, err := gw.RequestProof(context.Background(), job)
	require.Error(t, err)
}

func TestLinkHintIsRecoverableAfterCompletion(t *testing.T) {
	gw := NewBlackBoxGateway(succeedingProver)
	public := []scalar.Scalar{scalar.FromUint64(42)}
	job := Job{
		Kind:      ValidCommitments,
		Statement: Statement{Kind: ValidCommitments, Public: public},
	}

	future, err := gw.RequestProof(context.Background(), job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bundle, err := future.Wait(ctx)
	require.NoError(t, err)

	hint, ok := gw.LinkHintFor(scalar.HashScalars(public))
	require.True(t, ok)
	require.True(t, hint.CommitmentHash.Equal(bundle.Hint.CommitmentHash))
}

func TestFutureWaitRespectsContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	gw := NewBlackBoxGateway(func(ctx context.Context, job Job) ([]byte, error) {
		<-blocked
		return nil, nil
	})
	defer close(blocked)

	future, err := gw.RequestProof(context.Background(), Job{Kind: ValidReblind, Statement: Statement{Kind: ValidReblind}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = future.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
