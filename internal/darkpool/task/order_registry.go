package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/darkpool-labs/relayer/internal/darkpool/handshake"
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/scheduler"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
	"github.com/darkpool-labs/relayer/internal/storage"
	"github.com/darkpool-labs/relayer/pkg/logging"
)

// managedEntry is one locally-managed order eligible for scheduling,
// together with enough context to start a handshake for it.
type managedEntry struct {
	walletID   uuid.UUID
	order      wallet.Order
	commitment scalar.Scalar
}

// OrderRegistry tracks the orders this relayer manages locally on behalf
// of its wallets, keyed by an opaque order ID assigned at registration
// time. It implements scheduler.OrderSource directly and adapts
// handshake.Executor into scheduler.Dispatcher, closing the loop between
// "which orders are eligible" (the scheduler's job) and "run the
// protocol for one of them" (the executor's job).
type OrderRegistry struct {
	mu      sync.RWMutex
	entries map[scalar.Scalar]managedEntry

	store *storage.Storage
	log   *logging.Logger
}

// NewOrderRegistry returns an empty registry.
func NewOrderRegistry() *OrderRegistry {
	return &OrderRegistry{
		entries: make(map[scalar.Scalar]managedEntry),
		log:     logging.GetDefault().Component("order-registry"),
	}
}

// SetStorage attaches a database so Register/Unregister persist local
// order-book rows, which storage.Storage.ListLocalBookEntries lists.
// Nothing in the module reads those rows back at startup, so a new
// registry starts empty. Persistence failures are logged
// and otherwise ignored: the in-memory registry stays authoritative for
// the running process either way.
func (r *OrderRegistry) SetStorage(store *storage.Storage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

// Register adds order as eligible for scheduling, returning the order ID
// assigned to it. walletID and commitment identify the wallet and its
// current private-share commitment so a dispatched handshake can be
// built without a further store lookup on the hot path.
func (r *OrderRegistry) Register(walletID uuid.UUID, order wallet.Order, commitment scalar.Scalar) (scalar.Scalar, error) {
	orderID, err := scalar.Random()
	if err != nil {
		return scalar.Scalar{}, fmt.Errorf("task: generating order id: %w", err)
	}

	r.mu.Lock()
	r.entries[orderID] = managedEntry{walletID: walletID, order: order, commitment: commitment}
	store := r.store
	r.mu.Unlock()

	if store != nil {
		entry := storage.BookEntry{
			OrderID:        orderID.Hex(),
			WalletID:       walletID.String(),
			BaseMint:       order.BaseMint.Hex(),
			QuoteMint:      order.QuoteMint.Hex(),
			Side:           uint8(order.Side),
			Amount:         order.Amount,
			WorstCasePrice: order.WorstCasePrice.Repr.Hex(),
			Commitment:     commitment.Hex(),
			IsLocal:        true,
		}
		if err := store.UpsertBookEntry(&entry); err != nil {
			r.log.Warn("Failed to persist order book entry", "order", orderID.Hex(), "error", err)
		}
	}

	return orderID, nil
}

// Unregister removes orderID from the eligible set, e.g. once it settles
// or is cancelled.
func (r *OrderRegistry) Unregister(orderID scalar.Scalar) {
	r.mu.Lock()
	delete(r.entries, orderID)
	store := r.store
	r.mu.Unlock()

	if store != nil {
		if err := store.DeleteBookEntry(orderID.Hex()); err != nil && err != storage.ErrOrderNotFound {
			r.log.Warn("Failed to delete order book entry", "order", orderID.Hex(), "error", err)
		}
	}
}

// ManagedOrders implements scheduler.OrderSource.
func (r *OrderRegistry) ManagedOrders() []scheduler.ManagedOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]scheduler.ManagedOrder, 0, len(r.entries))
	for id, entry := range r.entries {
		out = append(out, scheduler.ManagedOrder{OrderID: id, Commitment: entry.commitment})
	}
	return out
}

// ExecutorDispatcher adapts a handshake.Executor plus an OrderRegistry
// into scheduler.Dispatcher: given an order ID and a peer, it resolves
// the order's wallet/commitment and runs the dialer-perspective
// protocol.
type ExecutorDispatcher struct {
	registry *OrderRegistry
	executor *handshake.Executor
}

// NewExecutorDispatcher builds a scheduler-facing dispatcher.
func NewExecutorDispatcher(registry *OrderRegistry, executor *handshake.Executor) *ExecutorDispatcher {
	return &ExecutorDispatcher{registry: registry, executor: executor}
}

// PerformHandshake implements scheduler.Dispatcher.
func (d *ExecutorDispatcher) PerformHandshake(ctx context.Context, orderID scalar.Scalar, peerID string) error {
	d.registry.mu.RLock()
	entry, ok := d.registry.entries[orderID]
	d.registry.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task: order %s not registered", orderID.Hex())
	}

	requestID := uuid.New().String()
	return d.executor.Run(ctx, requestID, peerID, entry.walletID, entry.order, orderID, entry.commitment)
}
