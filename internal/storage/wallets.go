// Package storage - wallet snapshot persistence.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrWalletNotFound is returned when a wallets lookup misses.
var ErrWalletNotFound = errors.New("wallet not found")

// WalletSnapshot is a persisted copy of a wallet.Wallet, stored as JSON
// (scalar.Scalar round-trips through its hex MarshalJSON/UnmarshalJSON)
// so task.WalletStore can be repopulated after a restart without
// replaying on-chain history.
type WalletSnapshot struct {
	ID                uuid.UUID
	PrivateCommitment string // hex-encoded scalar.Scalar
	PublicCommitment  string // hex-encoded scalar.Scalar
	Data              []byte // json.Marshal(*wallet.Wallet)
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SaveWalletSnapshot inserts or refreshes the persisted snapshot for a
// wallet, keyed by ID.
func (s *Storage) SaveWalletSnapshot(snap *WalletSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	_, err := s.db.Exec(`
		INSERT INTO wallets (id, private_commitment, public_commitment, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			private_commitment = excluded.private_commitment,
			public_commitment = excluded.public_commitment,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, snap.ID.String(), snap.PrivateCommitment, snap.PublicCommitment, snap.Data, now, now)
	if err != nil {
		return fmt.Errorf("failed to save wallet snapshot: %w", err)
	}
	return nil
}

// GetWalletSnapshot retrieves a wallet's persisted snapshot by ID.
func (s *Storage) GetWalletSnapshot(id uuid.UUID) (*WalletSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap WalletSnapshot
	var idStr string
	var createdAt, updatedAt int64

	err := s.db.QueryRow(`
		SELECT id, private_commitment, public_commitment, snapshot, created_at, updated_at
		FROM wallets WHERE id = ?
	`, id.String()).Scan(&idStr, &snap.PrivateCommitment, &snap.PublicCommitment, &snap.Data, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet snapshot: %w", err)
	}

	parsed, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse wallet id: %w", err)
	}
	snap.ID = parsed
	snap.CreatedAt = time.Unix(createdAt, 0)
	snap.UpdatedAt = time.Unix(updatedAt, 0)

	return &snap, nil
}

// ListWalletSnapshots returns every persisted wallet snapshot, used at
// startup to repopulate task.WalletStore.
func (s *Storage) ListWalletSnapshots() ([]*WalletSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, private_commitment, public_commitment, snapshot, created_at, updated_at
		FROM wallets
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet snapshots: %w", err)
	}
	defer rows.Close()

	var out []*WalletSnapshot
	for rows.Next() {
		var snap WalletSnapshot
		var idStr string
		var createdAt, updatedAt int64

		if err := rows.Scan(&idStr, &snap.PrivateCommitment, &snap.PublicCommitment, &snap.Data, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet snapshot: %w", err)
		}

		parsed, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse wallet id: %w", err)
		}
		snap.ID = parsed
		snap.CreatedAt = time.Unix(createdAt, 0)
		snap.UpdatedAt = time.Unix(updatedAt, 0)

		out = append(out, &snap)
	}
	return out, nil
}

// DeleteWalletSnapshot removes a wallet's persisted snapshot.
func (s *Storage) DeleteWalletSnapshot(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM wallets WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete wallet snapshot: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// MarshalWalletData is a thin json.Marshal wrapper kept alongside the
// snapshot CRUD so callers never have to import encoding/json themselves
// just to populate WalletSnapshot.Data.
func MarshalWalletData(w interface{}) ([]byte, error) {
	return json.Marshal(w)
}
