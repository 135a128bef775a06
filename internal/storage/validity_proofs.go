// Package storage - validity proof persistence.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrValidityProofNotFound is returned when a validity_proofs lookup misses.
var ErrValidityProofNotFound = errors.New("validity proof not found")

// ValidityProof is a persisted proof.Bundle: the resolved output of one
// VALID COMMITMENTS/REBLIND/MATCH SETTLE/WALLET UPDATE job. The settlement
// task saves one per re-proof; nothing in the module reads the rows back
// at startup, so a restarted relayer requests its proofs anew.
type ValidityProof struct {
	ID             string
	WalletID       uuid.UUID
	Kind           string // proof.JobKind.String()
	CommitmentHash string // hex-encoded scalar.Scalar (the proof's LinkHint)
	Proof          []byte
	CreatedAt      time.Time
}

// SaveValidityProof inserts one resolved proof bundle.
func (s *Storage) SaveValidityProof(p *ValidityProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO validity_proofs (id, wallet_id, kind, commitment_hash, proof, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.WalletID.String(), p.Kind, p.CommitmentHash, p.Proof, p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save validity proof: %w", err)
	}
	return nil
}

// LatestValidityProof returns the most recently created proof of kind for
// walletID, the one still valid against the wallet's current commitments.
func (s *Storage) LatestValidityProof(walletID uuid.UUID, kind string) (*ValidityProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p ValidityProof
	var walletIDStr string
	var createdAt int64

	err := s.db.QueryRow(`
		SELECT id, wallet_id, kind, commitment_hash, proof, created_at
		FROM validity_proofs
		WHERE wallet_id = ? AND kind = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, walletID.String(), kind).Scan(
		&p.ID, &walletIDStr, &p.Kind, &p.CommitmentHash, &p.Proof, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrValidityProofNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get validity proof: %w", err)
	}

	parsed, err := uuid.Parse(walletIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse wallet id: %w", err)
	}
	p.WalletID = parsed
	p.CreatedAt = time.Unix(createdAt, 0)

	return &p, nil
}

// DeleteValidityProofsForWallet removes every persisted proof for a
// wallet. Nothing in the module calls it, so older rows remain after a
// reblind and LatestValidityProof returns the newest of them.
func (s *Storage) DeleteValidityProofsForWallet(walletID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM validity_proofs WHERE wallet_id = ?", walletID.String())
	if err != nil {
		return fmt.Errorf("failed to delete validity proofs: %w", err)
	}
	return nil
}
