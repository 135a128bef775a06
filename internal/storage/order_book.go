// Package storage - order book persistence.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrOrderNotFound is returned when an order_book lookup misses.
var ErrOrderNotFound = errors.New("order not found")

// BookEntry is one row of the order book: a single order slot, ours or
// announced by a remote peer over the order-book gossip topic. Mint,
// price, and commitment fields are hex-encoded scalar.Scalar values
// (scalar.Hex/scalar.FromHex), matching how they travel over the wire.
type BookEntry struct {
	OrderID string
	WalletID string // empty for a remote order whose owning wallet we don't track
	PeerID   string // empty for a local order

	BaseMint       string
	QuoteMint      string
	Side           uint8
	Amount         uint64
	WorstCasePrice string
	Commitment     string

	IsLocal bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertBookEntry inserts or refreshes one order book row, keyed by
// OrderID. Used both when a local order is registered and when a remote
// order-book announcement is received over gossip.
func (s *Storage) UpsertBookEntry(e *BookEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	isLocal := 0
	if e.IsLocal {
		isLocal = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO order_book (
			order_id, wallet_id, peer_id, base_mint, quote_mint, side,
			amount, worst_case_price, commitment, is_local,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			wallet_id = excluded.wallet_id,
			peer_id = excluded.peer_id,
			amount = excluded.amount,
			worst_case_price = excluded.worst_case_price,
			commitment = excluded.commitment,
			updated_at = excluded.updated_at
	`,
		e.OrderID, nullableString(e.WalletID), nullableString(e.PeerID),
		e.BaseMint, e.QuoteMint, e.Side,
		e.Amount, e.WorstCasePrice, e.Commitment, isLocal,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order book entry: %w", err)
	}
	return nil
}

// GetBookEntry retrieves a single order book row by ID.
func (s *Storage) GetBookEntry(orderID string) (*BookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e BookEntry
	var walletID, peerID sql.NullString
	var createdAt, updatedAt int64
	var isLocal int

	err := s.db.QueryRow(`
		SELECT order_id, wallet_id, peer_id, base_mint, quote_mint, side,
			amount, worst_case_price, commitment, is_local, created_at, updated_at
		FROM order_book WHERE order_id = ?
	`, orderID).Scan(
		&e.OrderID, &walletID, &peerID, &e.BaseMint, &e.QuoteMint, &e.Side,
		&e.Amount, &e.WorstCasePrice, &e.Commitment, &isLocal, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order book entry: %w", err)
	}

	e.WalletID = walletID.String
	e.PeerID = peerID.String
	e.IsLocal = isLocal == 1
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)

	return &e, nil
}

// ListBookEntriesForPair returns every known order (local and remote) for
// a base/quote mint pair, newest first.
func (s *Storage) ListBookEntriesForPair(baseMint, quoteMint string) ([]*BookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT order_id, wallet_id, peer_id, base_mint, quote_mint, side,
			amount, worst_case_price, commitment, is_local, created_at, updated_at
		FROM order_book WHERE base_mint = ? AND quote_mint = ?
		ORDER BY created_at DESC
	`, baseMint, quoteMint)
	if err != nil {
		return nil, fmt.Errorf("failed to list order book entries: %w", err)
	}
	defer rows.Close()

	return scanBookEntries(rows)
}

// ListLocalBookEntries returns every order this relayer owns.
func (s *Storage) ListLocalBookEntries() ([]*BookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT order_id, wallet_id, peer_id, base_mint, quote_mint, side,
			amount, worst_case_price, commitment, is_local, created_at, updated_at
		FROM order_book WHERE is_local = 1
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list local order book entries: %w", err)
	}
	defer rows.Close()

	return scanBookEntries(rows)
}

func scanBookEntries(rows *sql.Rows) ([]*BookEntry, error) {
	var entries []*BookEntry
	for rows.Next() {
		var e BookEntry
		var walletID, peerID sql.NullString
		var createdAt, updatedAt int64
		var isLocal int

		if err := rows.Scan(
			&e.OrderID, &walletID, &peerID, &e.BaseMint, &e.QuoteMint, &e.Side,
			&e.Amount, &e.WorstCasePrice, &e.Commitment, &isLocal, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order book entry: %w", err)
		}

		e.WalletID = walletID.String
		e.PeerID = peerID.String
		e.IsLocal = isLocal == 1
		e.CreatedAt = time.Unix(createdAt, 0)
		e.UpdatedAt = time.Unix(updatedAt, 0)

		entries = append(entries, &e)
	}
	return entries, nil
}

// DeleteBookEntry removes an order book row, called on cancellation or
// when a remote order-cancel announcement arrives.
func (s *Storage) DeleteBookEntry(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM order_book WHERE order_id = ?", orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order book entry: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
