package proof

import (
	"context"
	"fmt"
	"sync"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/pkg/logging"
)

// Gateway is the interface §4.8 names: request_proof returns immediately
// with a future; completion happens off the caller's goroutine.
type Gateway interface {
	RequestProof(ctx context.Context, job Job) (*Future, error)
}

// Prover is the black-box proving function a concrete Gateway dispatches
// to. It is intentionally the only extension point: this package owns
// scheduling and link-hint bookkeeping, never the constraint system
// itself.
type Prover func(ctx context.Context, job Job) ([]byte, error)

// BlackBoxGateway runs each job on its own goroutine against a Prover,
// matching the teacher's "copy handlers under lock, fire each on its own
// goroutine" fire-and-forget style for background work, adapted here to
// one-goroutine-per-job with a future instead of an event callback.
type BlackBoxGateway struct {
	prover Prover
	log    *logging.Logger

	mu    sync.Mutex
	links map[scalar.Scalar]LinkHint
}

// NewBlackBoxGateway builds a gateway that proves every job by calling
// prove.
func NewBlackBoxGateway(prove Prover) *BlackBoxGateway {
	return &BlackBoxGateway{
		prover: prove,
		log:    logging.GetDefault().Component("proof"),
		links:  make(map[scalar.Scalar]LinkHint),
	}
}

// RequestProof implements Gateway.
func (g *BlackBoxGateway) RequestProof(ctx context.Context, job Job) (*Future, error) {
	if job.Statement.Kind != job.Kind {
		return nil, fmt.Errorf("proof: job kind %s does not match statement kind %s", job.Kind, job.Statement.Kind)
	}

	future := newFuture()
	go g.run(ctx, job, future)
	return future, nil
}

func (g *BlackBoxGateway) run(ctx context.Context, job Job, future *Future) {
	proofBytes, err := g.prover(ctx, job)
	if err != nil {
		g.log.Error("proof job failed", "kind", job.Kind.String(), "err", err)
		future.resolve(Bundle{}, fmt.Errorf("%w: %v", ErrProofFailed, err))
		return
	}

	hint := LinkHint{CommitmentHash: scalar.HashScalars(job.Statement.Public)}
	g.recordLink(hint)

	future.resolve(Bundle{Kind: job.Kind, Proof: proofBytes, Hint: hint}, nil)
}

func (g *BlackBoxGateway) recordLink(hint LinkHint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.links[hint.CommitmentHash] = hint
}

// LinkHintFor returns a previously recorded hint for a given commitment
// hash, used to stitch a VALID COMMITMENTS bundle's hint into the
// matching VALID MATCH SETTLE job.
func (g *BlackBoxGateway) LinkHintFor(commitmentHash scalar.Scalar) (LinkHint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hint, ok := g.links[commitmentHash]
	return hint, ok
}
