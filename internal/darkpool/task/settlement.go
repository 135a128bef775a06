package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darkpool-labs/relayer/internal/darkpool/handshake"
	"github.com/darkpool-labs/relayer/internal/darkpool/match"
	"github.com/darkpool-labs/relayer/internal/darkpool/onchain"
	"github.com/darkpool-labs/relayer/internal/darkpool/proof"
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
	"github.com/darkpool-labs/relayer/internal/storage"
	"github.com/darkpool-labs/relayer/pkg/helpers"
	"github.com/darkpool-labs/relayer/pkg/logging"
)

// Phase is one of the seven states in §4.9's settlement-task machine.
type Phase string

const (
	PhasePending                Phase = "pending"
	PhaseProvingMatchSettle      Phase = "proving_match_settle"
	PhaseSubmittingMatch         Phase = "submitting_match"
	PhaseUpdatingState           Phase = "updating_state"
	PhaseUpdatingValidityProofs  Phase = "updating_validity_proofs"
	PhaseCompleted               Phase = "completed"
	PhaseFailed                  Phase = "failed"
)

// ErrInvalidTransition mirrors handshake.ErrInvalidTransition's role for
// this package's own phase machine.
var ErrInvalidTransition = errors.New("task: invalid phase transition")

var validTransitions = map[Phase][]Phase{
	PhasePending:                {PhaseProvingMatchSettle, PhaseFailed},
	PhaseProvingMatchSettle:     {PhaseSubmittingMatch, PhaseFailed},
	PhaseSubmittingMatch:        {PhaseUpdatingState, PhaseFailed},
	PhaseUpdatingState:          {PhaseUpdatingValidityProofs, PhaseFailed},
	PhaseUpdatingValidityProofs: {PhaseCompleted, PhaseFailed},
	PhaseCompleted:              {},
	PhaseFailed:                 {},
}

// phaseIndex tracks each in-flight settlement task's phase, mirroring the
// concurrent-map-with-guarded-transition shape handshake.StateIndex uses
// for the same reason: external callers (tests, an admin surface) need to
// observe progress without reaching into the task goroutine.
type phaseIndex struct {
	mu     sync.Mutex
	phases map[string]Phase
	errs   map[string]string
}

func newPhaseIndex() *phaseIndex {
	return &phaseIndex{phases: make(map[string]Phase), errs: make(map[string]string)}
}

func (p *phaseIndex) begin(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases[requestID] = PhasePending
}

func (p *phaseIndex) transition(requestID string, next Phase) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.phases[requestID]
	if !ok {
		return fmt.Errorf("task: unknown request %s", requestID)
	}
	for _, allowed := range validTransitions[cur] {
		if allowed == next {
			p.phases[requestID] = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
}

func (p *phaseIndex) fail(requestID string, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases[requestID] = PhaseFailed
	p.errs[requestID] = reason
}

// Get returns requestID's current phase and any terminal failure reason.
func (p *phaseIndex) Get(requestID string) (Phase, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	phase, ok := p.phases[requestID]
	return phase, p.errs[requestID], ok
}

// RevalidationFunc builds the VALID COMMITMENTS / VALID REBLIND jobs for a
// wallet after a settlement mutates it; Manager submits them to the proof
// gateway. Kept separate from proof.Gateway's witness-free
// Job type so callers can build the right witness per job kind without
// this package reaching into proof-circuit internals.
type RevalidationFunc func(ctx context.Context, w *wallet.Wallet) (proof.Job, proof.Job, error)

// WalletUpdateWitnessFunc builds the VALID WALLET UPDATE job proving a
// standalone wallet update's new shares are validly derived from the old
// ones, the same pluggable-witness shape RevalidationFunc uses for the
// match-settlement path. Left nil-able: if unset, UpdateWallet posts the
// new shares without an accompanying proof, same as before this job kind
// was wired in.
type WalletUpdateWitnessFunc func(ctx context.Context, old, updated *wallet.Wallet) (proof.Job, error)

// Manager drives settlement tasks (§4.9) and wallet-update tasks (§4.10)
// against a shared WalletStore, on-chain gateway, and proof gateway.
type Manager struct {
	store  *WalletStore
	states *handshake.StateIndex
	chain  onchain.Gateway
	proofs proof.Gateway
	retry  RetryPolicy
	log    *logging.Logger

	phases *phaseIndex

	// revalidate builds the VALID COMMITMENTS/VALID REBLIND jobs for step
	// 4; left pluggable the same way proof.BlackBoxGateway's Prover is,
	// since witness construction for those circuits is out of this
	// package's scope.
	revalidate RevalidationFunc

	// updateWitness builds the VALID WALLET UPDATE job for a standalone
	// update task, set via SetWalletUpdateWitness. Optional like revalidate.
	updateWitness WalletUpdateWitnessFunc

	db *storage.Storage
}

// NewManager wires a settlement/update Manager from its collaborators.
func NewManager(store *WalletStore, states *handshake.StateIndex, chain onchain.Gateway, proofs proof.Gateway, retry RetryPolicy, revalidate RevalidationFunc) *Manager {
	return &Manager{
		store:      store,
		states:     states,
		chain:      chain,
		proofs:     proofs,
		retry:      retry,
		log:        logging.GetDefault().Component("settlement"),
		phases:     newPhaseIndex(),
		revalidate: revalidate,
	}
}

// SetStorage attaches a database so re-proved validity bundles are
// persisted as they resolve, rather than only living in the short-lived
// proof.Future that produced them.
func (m *Manager) SetStorage(db *storage.Storage) {
	m.db = db
}

// SetWalletUpdateWitness attaches the VALID WALLET UPDATE witness builder,
// letting UpdateWallet accompany its on-chain call with a fresh proof
// instead of posting the new shares unproven.
func (m *Manager) SetWalletUpdateWitness(fn WalletUpdateWitnessFunc) {
	m.updateWitness = fn
}

// Dispatch implements handshake.SettlementDispatcher: it accepts job for
// background processing and returns immediately.
func (m *Manager) Dispatch(ctx context.Context, job handshake.SettlementJob) error {
	m.phases.begin(job.RequestID)
	go m.run(context.Background(), job)
	return nil
}

// PhaseOf reports a dispatched request's current phase, for tests and
// admin introspection.
func (m *Manager) PhaseOf(requestID string) (Phase, string, bool) {
	return m.phases.Get(requestID)
}

func (m *Manager) run(ctx context.Context, job handshake.SettlementJob) {
	if err := m.phases.transition(job.RequestID, PhaseProvingMatchSettle); err != nil {
		m.log.Warn("settlement: bad transition", "request", job.RequestID, "err", err)
		return
	}

	witness, err := m.buildMatchSettleWitness(job)
	if err != nil {
		m.fail(job.RequestID, fmt.Sprintf("build witness: %v", err))
		return
	}

	settleFuture, err := m.proofs.RequestProof(ctx, witness.Job)
	if err != nil {
		m.fail(job.RequestID, fmt.Sprintf("request match-settle proof: %v", err))
		return
	}
	bundle, err := settleFuture.Wait(ctx)
	if err != nil {
		m.fail(job.RequestID, fmt.Sprintf("match-settle proof failed: %v", err))
		return
	}

	if err := m.phases.transition(job.RequestID, PhaseSubmittingMatch); err != nil {
		m.fail(job.RequestID, err.Error())
		return
	}
	if err := m.submitWithRetry(ctx, job, witness, bundle.Proof); err != nil {
		m.fail(job.RequestID, fmt.Sprintf("submit match-settle: %v", err))
		return
	}

	if err := m.phases.transition(job.RequestID, PhaseUpdatingState); err != nil {
		m.fail(job.RequestID, err.Error())
		return
	}
	touched, err := m.updateState(job)
	if err != nil {
		m.fail(job.RequestID, fmt.Sprintf("update state: %v", err))
		return
	}

	if err := m.phases.transition(job.RequestID, PhaseUpdatingValidityProofs); err != nil {
		m.fail(job.RequestID, err.Error())
		return
	}
	m.reproveValidity(ctx, touched)

	if err := m.phases.transition(job.RequestID, PhaseCompleted); err != nil {
		m.log.Warn("settlement: bad terminal transition", "request", job.RequestID, "err", err)
		return
	}
	m.log.Info("settlement completed", "request", job.RequestID,
		"base_amount_eth", helpers.WeiToETH(job.Result.BaseAmount))
}

func (m *Manager) fail(requestID, reason string) {
	m.phases.fail(requestID, reason)
	m.log.Warn("settlement task failed", "request", requestID, "reason", reason)
}

// matchSettleWitness bundles the VALID MATCH SETTLE proof job with the
// post-match wallet statements the on-chain submission needs for each
// party, so submitWithRetry never has to recompute wallet state the
// witness-building pass already derived.
type matchSettleWitness struct {
	Job             proof.Job
	Party0Statement onchain.WalletStatement
	Party1Statement onchain.WalletStatement
	HasParty1       bool
}

// buildMatchSettleWitness implements §4.9 step 1: apply the match to
// *copies* of both parties' wallets and flatten the result into a
// VALID MATCH SETTLE job, carrying forward both parties' commitment-proof
// link hints so the circuit can verify continuity.
func (m *Manager) buildMatchSettleWitness(job handshake.SettlementJob) (matchSettleWitness, error) {
	party0, ok := m.store.Get(job.Party0WalletID)
	if !ok {
		return matchSettleWitness{}, fmt.Errorf("party0 wallet %s not found", job.Party0WalletID)
	}
	clone0 := party0.Clone()
	if err := applyResultToWallet(clone0, job.Result, job.Result.Direction); err != nil {
		return matchSettleWitness{}, fmt.Errorf("party0: %w", err)
	}
	if err := clone0.Reblind(); err != nil {
		return matchSettleWitness{}, fmt.Errorf("party0 reblind: %w", err)
	}
	commitment0, err := clone0.GetPublicShareCommitment()
	if err != nil {
		return matchSettleWitness{}, err
	}

	out := matchSettleWitness{
		Party0Statement: onchain.WalletStatement{
			BlinderPublicShare:    clone0.PublicShares.Blinder,
			PublicShareCommitment: commitment0,
		},
	}

	witness := []scalar.Scalar{
		job.Result.QuoteMint,
		job.Result.BaseMint,
		scalar.FromUint64(job.Result.QuoteAmount),
		scalar.FromUint64(job.Result.BaseAmount),
		commitment0,
	}
	links := append(append([]proof.LinkHint{}, job.Party0LinkHints...), job.Party1LinkHints...)

	if party1, ok := m.store.Get(job.Party1WalletID); ok {
		clone1 := party1.Clone()
		otherDirection := uint8(1) - job.Result.Direction
		if err := applyResultToWallet(clone1, job.Result, otherDirection); err != nil {
			return matchSettleWitness{}, fmt.Errorf("party1: %w", err)
		}
		if err := clone1.Reblind(); err != nil {
			return matchSettleWitness{}, fmt.Errorf("party1 reblind: %w", err)
		}
		commitment1, err := clone1.GetPublicShareCommitment()
		if err != nil {
			return matchSettleWitness{}, err
		}
		witness = append(witness, commitment1)
		out.HasParty1 = true
		out.Party1Statement = onchain.WalletStatement{
			BlinderPublicShare:    clone1.PublicShares.Blinder,
			PublicShareCommitment: commitment1,
		}
	}

	stmt := proof.Statement{Kind: proof.ValidMatchSettle, Public: witness}
	out.Job = proof.Job{Kind: proof.ValidMatchSettle, Statement: stmt, Witness: witness, LinkHints: links}
	return out, nil
}

// applyResultToWallet mutates w's matching order and balances for its
// side of the match, by locating the order/balance slots from the
// result's mints and the given direction (0 buy base / 1 sell base,
// per wallet.ApplyMatch's convention).
func applyResultToWallet(w *wallet.Wallet, result match.MatchResult, direction uint8) error {
	side := wallet.Buy
	if direction == 1 {
		side = wallet.Sell
	}
	orderIdx := wallet.FindOrderIndex(w.Orders, func(o wallet.Order) bool {
		return !o.IsDefault() && o.BaseMint.Equal(result.BaseMint) && o.QuoteMint.Equal(result.QuoteMint) && o.Side == side
	})
	if orderIdx < 0 {
		return fmt.Errorf("no matching order slot for side %s", side)
	}
	baseIdx := w.BalanceIndex(result.BaseMint)
	if baseIdx < 0 {
		if err := w.UpdateBalance(result.BaseMint, 0); err != nil {
			return err
		}
		baseIdx = w.BalanceIndex(result.BaseMint)
	}
	quoteIdx := w.BalanceIndex(result.QuoteMint)
	if quoteIdx < 0 {
		if err := w.UpdateBalance(result.QuoteMint, 0); err != nil {
			return err
		}
		quoteIdx = w.BalanceIndex(result.QuoteMint)
	}

	// Pre-check affordability on the clone before committing to
	// ApplyMatch, so buildMatchSettleWitness fails fast on a wallet that
	// can't cover its side of the match instead of only discovering that
	// inside ApplyMatch after the witness is otherwise fully built -
	// this runs before RequestProof is ever called, so no proof work is
	// wasted on a match that can't settle.
	if !w.CanAfford(result.BaseAmount, result.QuoteAmount, direction, baseIdx, quoteIdx) {
		return fmt.Errorf("%w: wallet cannot cover its side of the match", wallet.ErrInsufficientBalance)
	}

	return w.ApplyMatch(orderIdx, result.BaseAmount, result.QuoteAmount, direction, baseIdx, quoteIdx)
}

// submitWithRetry implements §4.9 step 2's commit point: submit, and
// retry only reversions the gateway classifies ErrTransient. Party1's
// payload carries a zero-valued statement when the counterparty's wallet
// isn't locally managed; this relayer posts its own half and the peer
// relayer posts the other.
func (m *Manager) submitWithRetry(ctx context.Context, job handshake.SettlementJob, witness matchSettleWitness, matchSettleProof []byte) error {
	payload0 := onchain.MatchSettlePayload{Statement: witness.Party0Statement, Proofs: matchSettleProof}
	payload1 := onchain.MatchSettlePayload{}
	if witness.HasParty1 {
		payload1 = onchain.MatchSettlePayload{Statement: witness.Party1Statement, Proofs: matchSettleProof}
	}

	attempt := 0
	for {
		_, err := m.chain.ProcessMatchSettle(ctx, payload0, payload1, matchSettleProof)
		if err == nil {
			return nil
		}
		if !errors.Is(err, onchain.ErrTransient) {
			return err
		}
		if m.retry.Exhausted(attempt) {
			return fmt.Errorf("retries exhausted: %w", err)
		}
		delay := m.retry.BackoffFor(attempt)
		m.log.Debug("settlement submit retrying", "request", job.RequestID, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}

// updateState implements §4.9 step 3: shoot down handshakes referencing
// the now-spent nullifiers, then apply+reblind the real wallets (not
// copies) under their locks. Returns the set of wallets touched, for step
// 4's re-proving pass.
func (m *Manager) updateState(job handshake.SettlementJob) ([]uuid.UUID, error) {
	var touched []uuid.UUID

	if w, ok := m.store.Get(job.Party0WalletID); ok {
		if nullifier, err := w.Nullifier(); err == nil {
			m.states.ShootdownByNullifier(nullifier)
		}
	}
	if w, ok := m.store.Get(job.Party1WalletID); ok {
		if nullifier, err := w.Nullifier(); err == nil {
			m.states.ShootdownByNullifier(nullifier)
		}
	}

	_, party1Managed := m.store.Get(job.Party1WalletID)
	if party1Managed {
		err := m.store.WithWallets(job.Party0WalletID, job.Party1WalletID, func(wa, wb *wallet.Wallet) error {
			if err := applyResultToWallet(wa, job.Result, job.Result.Direction); err != nil {
				return err
			}
			if err := wa.Reblind(); err != nil {
				return err
			}
			if err := applyResultToWallet(wb, job.Result, uint8(1)-job.Result.Direction); err != nil {
				return err
			}
			return wb.Reblind()
		})
		if err != nil {
			return nil, err
		}
		touched = append(touched, job.Party0WalletID, job.Party1WalletID)
		return touched, nil
	}

	err := m.store.WithWallet(job.Party0WalletID, func(w *wallet.Wallet) error {
		if err := applyResultToWallet(w, job.Result, job.Result.Direction); err != nil {
			return err
		}
		return w.Reblind()
	})
	if err != nil {
		return nil, err
	}
	touched = append(touched, job.Party0WalletID)
	return touched, nil
}

// reproveValidity implements §4.9 step 4: spawn concurrent re-proving
// jobs for every touched wallet and await both before returning. Failures
// are logged, not fatal — a stale validity proof blocks that wallet's
// next handshake, it doesn't unwind a settlement that already committed
// on-chain.
func (m *Manager) reproveValidity(ctx context.Context, touched []uuid.UUID) {
	if m.revalidate == nil {
		return
	}
	var wg sync.WaitGroup
	for _, id := range touched {
		w, ok := m.store.Get(id)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(w *wallet.Wallet) {
			defer wg.Done()
			commitmentsJob, reblindJob, err := m.revalidate(ctx, w)
			if err != nil {
				m.log.Warn("revalidation witness build failed", "wallet", w.ID, "err", err)
				return
			}
			m.awaitReproof(ctx, w.ID, commitmentsJob)
			m.awaitReproof(ctx, w.ID, reblindJob)
		}(w)
	}
	wg.Wait()
}

func (m *Manager) awaitReproof(ctx context.Context, walletID uuid.UUID, job proof.Job) {
	future, err := m.proofs.RequestProof(ctx, job)
	if err != nil {
		m.log.Warn("re-proof request failed", "wallet", walletID, "kind", job.Kind, "err", err)
		return
	}
	bundle, err := future.Wait(ctx)
	if err != nil {
		m.log.Warn("re-proof failed", "wallet", walletID, "kind", job.Kind, "err", err)
		return
	}

	if m.db == nil {
		return
	}
	record := storage.ValidityProof{
		ID:             uuid.New().String(),
		WalletID:       walletID,
		Kind:           bundle.Kind.String(),
		CommitmentHash: bundle.Hint.CommitmentHash.Hex(),
		Proof:          bundle.Proof,
		CreatedAt:      time.Now(),
	}
	if err := m.db.SaveValidityProof(&record); err != nil {
		m.log.Warn("failed to persist validity proof", "wallet", walletID, "kind", job.Kind, "err", err)
	}
}
