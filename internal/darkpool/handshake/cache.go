// Package handshake implements the per-order-pair handshake protocol: a
// bounded soft-filter cache (§4.3), a concurrent state machine index
// (§4.4), and the dialer-perspective executor that drives a request
// through proposal, price agreement, MPC brokering, matching, and
// settlement dispatch (§4.6).
package handshake

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

// Tag records why a pair is in the cache.
type Tag int

const (
	InFlight Tag = iota
	Completed
)

// PairKey is the canonical, order-independent identity of an order pair.
type PairKey struct {
	A scalar.Scalar
	B scalar.Scalar
}

// Canonical orders (a, b) deterministically so cache.contains(a, b) ==
// cache.contains(b, a) (§8 "cache symmetry").
func Canonical(a, b scalar.Scalar) PairKey {
	if lessScalar(b, a) {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

func lessScalar(x, y scalar.Scalar) bool {
	return x.ToBigInt().Cmp(y.ToBigInt()) < 0
}

// Cache is a fixed-capacity, LRU-evicted mapping canonical(order_a,
// order_b) -> Tag. It is a soft filter: correctness of the protocol never
// depends on what it contains, only its hit rate affects efficiency.
type Cache struct {
	mu    sync.Mutex
	inner *lru.Cache[PairKey, Tag]
}

// NewCache builds a cache holding at most capacity entries.
func NewCache(capacity int) (*Cache, error) {
	inner, err := lru.New[PairKey, Tag](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// MarkInFlight inserts or refreshes (a, b) as in-flight.
func (c *Cache) MarkInFlight(a, b scalar.Scalar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(Canonical(a, b), InFlight)
}

// MarkCompleted inserts or refreshes (a, b) as completed.
func (c *Cache) MarkCompleted(a, b scalar.Scalar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(Canonical(a, b), Completed)
}

// Contains reports whether the pair has any entry, regardless of tag.
func (c *Cache) Contains(a, b scalar.Scalar) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Contains(Canonical(a, b))
}

// Lookup returns the tag for (a, b) if present.
func (c *Cache) Lookup(a, b scalar.Scalar) (Tag, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(Canonical(a, b))
}

// Len reports the current entry count, for metrics/tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}
