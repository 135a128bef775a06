package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darkpool-labs/relayer/internal/darkpool/handshake"
	"github.com/darkpool-labs/relayer/internal/darkpool/price"
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
)

// Candidate returns one locally-managed order, for the listener side of a
// handshake to offer as its counter-proposal. ok is false if nothing is
// registered. It does not attempt to pick the "best" order among several
// eligible ones; any registered order is a valid counter-proposal.
func (r *OrderRegistry) Candidate() (orderID scalar.Scalar, walletID uuid.UUID, order wallet.Order, commitment scalar.Scalar, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, entry := range r.entries {
		return id, entry.walletID, entry.order, entry.commitment, true
	}
	return scalar.Scalar{}, uuid.UUID{}, wallet.Order{}, scalar.Scalar{}, false
}

// ListenerResponder answers inbound handshake proposals and price
// exchanges from a locally-managed order, implementing
// node.HandshakeResponder by method-set match (the node package defines
// the interface; this package doesn't need to import it).
type ListenerResponder struct {
	registry  *OrderRegistry
	cache     *handshake.Cache
	priceFeed price.Feed

	mu      sync.Mutex
	pending map[string]wallet.Order
}

// NewListenerResponder builds a responder over registry's managed orders.
func NewListenerResponder(registry *OrderRegistry, cache *handshake.Cache, priceFeed price.Feed) *ListenerResponder {
	return &ListenerResponder{
		registry:  registry,
		cache:     cache,
		priceFeed: priceFeed,
		pending:   make(map[string]wallet.Order),
	}
}

// RespondToProposal offers a locally-managed order as the counter-party
// to proposal, rejecting when nothing is eligible or the pair is already
// cached.
func (l *ListenerResponder) RespondToProposal(ctx context.Context, fromPeer string, proposal handshake.HandshakeProposal) (handshake.HandshakeAcceptance, error) {
	orderID, walletID, order, commitment, ok := l.registry.Candidate()
	if !ok || l.cache.Contains(proposal.OrderID, orderID) {
		return handshake.HandshakeAcceptance{RequestID: proposal.RequestID, Rejected: true}, nil
	}

	l.mu.Lock()
	l.pending[proposal.RequestID] = order
	l.mu.Unlock()

	return handshake.HandshakeAcceptance{
		RequestID:               proposal.RequestID,
		PeerOrderID:             orderID,
		PeerWalletID:            walletID,
		PeerCommitmentProofHash: commitment,
	}, nil
}

// RespondToPriceExchange reports this cluster's own median for the pair
// accepted in RespondToProposal.
func (l *ListenerResponder) RespondToPriceExchange(ctx context.Context, fromPeer string, theirs handshake.PriceExchange) (handshake.PriceExchange, error) {
	l.mu.Lock()
	order, ok := l.pending[theirs.RequestID]
	l.mu.Unlock()
	if !ok {
		return handshake.PriceExchange{}, fmt.Errorf("task: no pending order for request %s", theirs.RequestID)
	}

	report, err := l.priceFeed.PeekMedian(order.BaseMint.Hex(), order.QuoteMint.Hex())
	if err != nil {
		return handshake.PriceExchange{}, err
	}
	return handshake.PriceExchange{
		RequestID:    theirs.RequestID,
		Midpoint:     report.Midpoint,
		ReportTimeMs: report.SentAtMs(time.Now().UnixMilli()),
	}, nil
}
