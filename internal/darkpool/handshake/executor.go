package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/darkpool-labs/relayer/internal/darkpool/match"
	"github.com/darkpool-labs/relayer/internal/darkpool/price"
	"github.com/darkpool-labs/relayer/internal/darkpool/proof"
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
	"github.com/darkpool-labs/relayer/pkg/logging"
)

// Transport is the network surface the executor needs from the node
// layer: sending a proposal and exchanging price reports with a specific
// peer. It is kept minimal and synchronous-looking (ctx-cancellable
// request/response) so the executor doesn't need to know how the node
// multiplexes streams vs. pubsub fallback underneath.
type Transport interface {
	Propose(ctx context.Context, peerID string, proposal HandshakeProposal) (HandshakeAcceptance, error)
	ExchangePrice(ctx context.Context, peerID string, mine PriceExchange) (PriceExchange, error)
}

// MPCBroker stands in for the network manager's MPC-net brokering plus
// the MPC engine itself: both are out of scope for this module (the MPC
// protocol internals are a distinct collaborator), so the broker is
// modeled as a single call that returns an authenticated match result,
// the same "black box behind an interface" treatment proof.Prover gets.
type MPCBroker interface {
	RunMatch(ctx context.Context, requestID, peerID string, party0, party1 match.PartyInput, price float64) (match.AuthenticatedMatchResult, error)
}

// Notifier publishes progress notifications to the pub/sub topics §4.6
// names.
type Notifier interface {
	Publish(topic string, payload interface{})
}

// SettlementJob is what a successful match hands to the dispatcher that
// drives the §4.9 state machine. Defined here (not in the task package)
// so the dependency points one way: task depends on handshake for
// StateIndex/ShootdownByNullifier, not the reverse.
type SettlementJob struct {
	RequestID       string
	Party0WalletID  uuid.UUID
	Party1WalletID  uuid.UUID
	Party0Order     wallet.Order
	Result          match.MatchResult
	ExecutionPrice  float64
	Party0LinkHints []proof.LinkHint
	Party1LinkHints []proof.LinkHint
}

// SettlementDispatcher accepts a completed match for settlement. Returns
// once the job is accepted for processing, not once settlement completes.
type SettlementDispatcher interface {
	Dispatch(ctx context.Context, job SettlementJob) error
}

// Executor drives one request through the dialer-perspective protocol in
// §4.6. A Listener-perspective flow reuses the same Cache/StateIndex but
// responds to an inbound Propose rather than initiating one; the node
// package's stream handler receives it and delegates to a
// HandshakeResponder (task.ListenerResponder), which consults the same
// Cache before answering with a HandshakeAcceptance.
type Executor struct {
	cache      *Cache
	states     *StateIndex
	transport  Transport
	broker     MPCBroker
	priceFeed  price.Feed
	proofs     proof.Gateway
	dispatcher SettlementDispatcher
	notifier   Notifier
	log        *logging.Logger

	maxDeviation  float64
	maxReportAge  int64
	localClusterID string
}

// Config bundles the executor's tunables, all process-wide constants per
// §7's "global constants vs. configuration" note.
type Config struct {
	MaxDeviation   float64
	MaxReportAgeMs int64
	LocalClusterID string
}

// NewExecutor wires an Executor from its collaborators.
func NewExecutor(cache *Cache, states *StateIndex, transport Transport, broker MPCBroker, priceFeed price.Feed, proofs proof.Gateway, dispatcher SettlementDispatcher, notifier Notifier, cfg Config) *Executor {
	return &Executor{
		cache:          cache,
		states:         states,
		transport:      transport,
		broker:         broker,
		priceFeed:      priceFeed,
		proofs:         proofs,
		dispatcher:     dispatcher,
		notifier:       notifier,
		log:            logging.GetDefault().Component("handshake"),
		maxDeviation:   cfg.MaxDeviation,
		maxReportAge:   cfg.MaxReportAgeMs,
		localClusterID: cfg.LocalClusterID,
	}
}

// Run drives requestID's protocol against peerID for localOrder, from the
// dialer's perspective. It returns nil both when a match settles and when
// the handshake terminates cleanly without one (peer rejection,
// non-crossing, price gate failure) — those are not error conditions per
// §7's error table ("Staleness/deviation gate: abort handshake cleanly").
// A cache hit also terminates the handshake as Completed, but returns
// ErrCacheHit so callers can tell a skipped pair from one that ran.
func (e *Executor) Run(ctx context.Context, requestID, peerID string, localWalletID uuid.UUID, localOrder wallet.Order, localOrderID scalar.Scalar, localCommitment scalar.Scalar) error {
	state := e.states.Begin(requestID, peerID, localCommitment)
	e.notifier.Publish("order-state", MatchInProgress{RequestID: requestID, OrderID: localOrderID})

	// Step 1: propose.
	acceptance, err := e.transport.Propose(ctx, peerID, HandshakeProposal{
		RequestID:       requestID,
		OrderID:         localOrderID,
		OrderCommitment: localCommitment,
	})
	if err != nil {
		e.states.Fail(requestID, err.Error())
		return fmt.Errorf("handshake: propose: %w", err)
	}
	if acceptance.Rejected {
		e.terminate(requestID, PhaseCompleted, "")
		return nil
	}

	// Step 2: consult the cache.
	if e.cache.Contains(localOrderID, acceptance.PeerOrderID) {
		e.terminate(requestID, PhaseCompleted, "")
		return fmt.Errorf("%w", ErrCacheHit)
	}
	e.cache.MarkInFlight(localOrderID, acceptance.PeerOrderID)

	// Step 3: agree price.
	dialerReport, err := e.priceFeed.PeekMedian(localOrder.BaseMint.Hex(), localOrder.QuoteMint.Hex())
	if err != nil {
		e.terminate(requestID, PhaseCompleted, err.Error())
		return nil
	}
	peerExchange, err := e.transport.ExchangePrice(ctx, peerID, priceExchangeFrom(requestID, dialerReport))
	if err != nil {
		e.states.Fail(requestID, err.Error())
		return fmt.Errorf("handshake: exchange price: %w", err)
	}
	listenerReport := price.Report{
		Outcome:   price.OutcomeNominal,
		Midpoint:  peerExchange.Midpoint,
		AgeMillis: price.AgeMillisSince(peerExchange.ReportTimeMs, time.Now().UnixMilli()),
	}
	executionPrice, ok, err := price.Gate(dialerReport, listenerReport, e.maxDeviation, e.maxReportAge)
	if !ok {
		e.terminate(requestID, PhaseCompleted, "")
		return nil
	}
	if err != nil {
		e.terminate(requestID, PhaseCompleted, err.Error())
		return nil
	}

	select {
	case <-state.Cancel.Done():
		return e.cancelled(requestID)
	default:
	}

	// Step 4: broker an MPC net. Dialer is party 0.
	if err := e.states.TransitionTo(requestID, PhaseMatchInProgress); err != nil {
		return err
	}
	party0 := match.PartyInput{Order: localOrder, Cap: localOrder.Amount}
	// The peer's cap is only known to the peer; the broker's MPC session
	// supplies party1's authenticated input without revealing it locally.
	authenticated, err := e.broker.RunMatch(ctx, requestID, peerID, party0, match.PartyInput{}, executionPrice)
	if err != nil {
		e.states.Fail(requestID, err.Error())
		return fmt.Errorf("handshake: broker mpc net: %w", err)
	}

	select {
	case <-state.Cancel.Done():
		return e.cancelled(requestID)
	default:
	}

	// Step 5: execute the match, open, and check crossing. The crossing
	// predicate is evaluated inside the MPC itself (ResultShare.Crosses)
	// since the dialer never sees the peer's plaintext order; Open
	// zeroes the result when the reconstructed predicate says no cross.
	result := authenticated.Open()
	if result.IsZero() {
		e.terminate(requestID, PhaseCompleted, "")
		return nil
	}

	// Step 6: dispatch settlement.
	job := SettlementJob{
		RequestID:      requestID,
		Party0WalletID: localWalletID,
		Party1WalletID: acceptance.PeerWalletID,
		Party0Order:    localOrder,
		Result:         result,
		ExecutionPrice: executionPrice,
	}
	if err := e.dispatcher.Dispatch(ctx, job); err != nil {
		e.states.Fail(requestID, err.Error())
		return fmt.Errorf("handshake: dispatch settlement: %w", err)
	}

	e.cache.MarkCompleted(localOrderID, acceptance.PeerOrderID)
	e.terminate(requestID, PhaseCompleted, "")
	return nil
}

func (e *Executor) terminate(requestID string, phase Phase, reason string) {
	if err := e.states.TransitionTo(requestID, phase); err != nil {
		e.log.Warn("terminal transition rejected", "request", requestID, "err", err)
	}
	e.notifier.Publish("handshakes", struct {
		RequestID string
		Phase     Phase
		Reason    string
	}{requestID, phase, reason})
}

func (e *Executor) cancelled(requestID string) error {
	e.states.Fail(requestID, "cancelled")
	e.notifier.Publish("handshakes", struct {
		RequestID string
		Phase     Phase
	}{requestID, PhaseError})
	return context.Canceled
}

func priceExchangeFrom(requestID string, report price.Report) PriceExchange {
	return PriceExchange{RequestID: requestID, Midpoint: report.Midpoint, ReportTimeMs: report.SentAtMs(time.Now().UnixMilli())}
}
