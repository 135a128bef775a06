// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the Klingon node.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "klingon.db")

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Known peers table
	CREATE TABLE IF NOT EXISTS peers (
		peer_id TEXT PRIMARY KEY,
		addresses TEXT,
		first_seen INTEGER,
		last_seen INTEGER,
		last_connected INTEGER,
		connection_count INTEGER DEFAULT 0,
		is_bootstrap INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);

	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- =========================================================================
	-- Darkpool wallets, orders, and validity proofs
	-- =========================================================================

	-- Wallets table: one row per MPC-secret-shared wallet this relayer
	-- manages or has cached from a cluster-mate, keyed by wallet UUID. The
	-- full wallet (orders, balances, keychain, shares) is kept as a JSON
	-- snapshot so a restart can repopulate task.WalletStore without
	-- replaying on-chain state.
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		private_commitment TEXT NOT NULL,
		public_commitment TEXT NOT NULL,
		snapshot BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_public_commitment ON wallets(public_commitment);

	-- Order book table: one row per known order slot, ours or a remote
	-- cluster's, as announced over the order-book gossip topic. Unlike a
	-- wallet's own order slots (part of its secret share), this is the
	-- public view the relayer uses to pick match counterparties.
	CREATE TABLE IF NOT EXISTS order_book (
		order_id TEXT PRIMARY KEY,
		wallet_id TEXT,
		peer_id TEXT,

		base_mint TEXT NOT NULL,
		quote_mint TEXT NOT NULL,
		side INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		worst_case_price TEXT NOT NULL,
		commitment TEXT NOT NULL,

		is_local INTEGER NOT NULL DEFAULT 0,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_order_book_pair ON order_book(base_mint, quote_mint);
	CREATE INDEX IF NOT EXISTS idx_order_book_peer ON order_book(peer_id);
	CREATE INDEX IF NOT EXISTS idx_order_book_local ON order_book(is_local);

	-- Validity proofs table: completed VALID COMMITMENTS / VALID REBLIND /
	-- VALID MATCH SETTLE / VALID WALLET UPDATE bundles, written by the
	-- settlement task's re-proof step. Nothing reads them back at startup.
	CREATE TABLE IF NOT EXISTS validity_proofs (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		commitment_hash TEXT NOT NULL,
		proof BLOB NOT NULL,
		created_at INTEGER NOT NULL,

		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	);

	CREATE INDEX IF NOT EXISTS idx_validity_proofs_wallet ON validity_proofs(wallet_id, kind);
	CREATE INDEX IF NOT EXISTS idx_validity_proofs_commitment ON validity_proofs(commitment_hash);

	-- =========================================================================
	-- P2P Message Queue (for reliable direct messaging)
	-- =========================================================================

	-- Outbound message queue (pending delivery with retry)
	CREATE TABLE IF NOT EXISTS message_outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,      -- UUID for deduplication
		request_id TEXT NOT NULL,             -- Associated handshake request
		peer_id TEXT NOT NULL,                -- Target peer
		message_type TEXT NOT NULL,           -- handshake_propose, price_exchange, etc.
		payload BLOB NOT NULL,                -- Full message JSON
		sequence_num INTEGER NOT NULL,        -- Per-request sequence number

		-- Message deadline (for retry decision)
		message_deadline INTEGER NOT NULL,    -- Unix timestamp after which delivery is moot

		-- Retry tracking
		created_at INTEGER NOT NULL,          -- When message was queued
		retry_count INTEGER DEFAULT 0,        -- Number of send attempts
		last_attempt_at INTEGER,              -- Last send attempt timestamp
		next_retry_at INTEGER NOT NULL,       -- When to retry next

		-- Delivery status
		acked_at INTEGER,                     -- When ACK received (NULL until ACKed)
		status TEXT DEFAULT 'pending',        -- pending, sent, acked, failed, expired
		error_message TEXT                    -- Error if failed
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON message_outbox(status, next_retry_at)
		WHERE status = 'pending' OR status = 'sent';
	CREATE INDEX IF NOT EXISTS idx_outbox_request ON message_outbox(request_id);
	CREATE INDEX IF NOT EXISTS idx_outbox_peer ON message_outbox(peer_id, status);
	CREATE INDEX IF NOT EXISTS idx_outbox_message ON message_outbox(message_id);

	-- Inbound message log (for deduplication/idempotency)
	CREATE TABLE IF NOT EXISTS message_inbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,      -- UUID from sender (for dedup)
		request_id TEXT NOT NULL,             -- Associated handshake request
		peer_id TEXT NOT NULL,                -- Sender peer ID
		message_type TEXT NOT NULL,           -- Message type
		sequence_num INTEGER NOT NULL,        -- Sequence number from sender

		-- Processing status
		received_at INTEGER NOT NULL,         -- When received
		processed_at INTEGER,                 -- When handler completed (NULL until done)
		ack_sent INTEGER DEFAULT 0            -- Whether ACK was sent
	);

	CREATE INDEX IF NOT EXISTS idx_inbox_message ON message_inbox(message_id);
	CREATE INDEX IF NOT EXISTS idx_inbox_request ON message_inbox(request_id, sequence_num);
	CREATE INDEX IF NOT EXISTS idx_inbox_peer ON message_inbox(peer_id);

	-- Sequence number tracking per handshake request (for ordering)
	CREATE TABLE IF NOT EXISTS message_sequences (
		request_id TEXT PRIMARY KEY,
		local_seq INTEGER DEFAULT 0,          -- Our next outbound sequence number
		remote_seq INTEGER DEFAULT 0,         -- Last received inbound sequence number
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Run migrations for existing databases
	return s.runMigrations()
}

// runMigrations runs schema migrations for existing databases. There are
// none; it returns nil.
func (s *Storage) runMigrations() error {
	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
