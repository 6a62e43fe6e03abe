// Package walletdb is the wallet state store: a relational store
// for UTxOs, transaction history, recent intersection points, archived
// protocol-parameter updates, and staging transactions.
//
// It opens one WAL-mode SQLite connection pinned to a single writer
// (db.SetMaxOpenConns(1)), creates its schema from a string constant,
// and applies best-effort additive ALTER-TABLE migrations on open.
package walletdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/pkg/logging"
)

// Order selects ascending or descending iteration for the Paginate*
// operations.
type Order int

const (
	Asc Order = iota
	Desc
)

func (o Order) sql() string {
	if o == Desc {
		return "DESC"
	}
	return "ASC"
}

// RecentPointsLimit is the number of recent intersect candidates
// retained per wallet.
const RecentPointsLimit = 10

// Store is the wallet state store.
type Store struct {
	db     *sql.DB
	dbPath string
	log    *logging.Logger
}

// Config holds walletdb configuration.
type Config struct {
	DataDir string
	Logger  *logging.Logger
}

// Open creates or opens the wallet state store at
// <cfg.DataDir>/state.sqlite.
func Open(cfg *Config) (*Store, error) {
	dir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("walletdb: create data directory: %w", cdmerr.ErrStorage)
	}

	dbPath := filepath.Join(dir, "state.sqlite")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("walletdb: open database: %w", cdmerr.ErrStorage)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("walletdb: ping database: %w", cdmerr.ErrStorage)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	s := &Store{db: db, dbPath: dbPath, log: log.Component("walletdb")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("walletdb: init schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers (tests, migrations)
// that need it directly.
func (s *Store) DB() *sql.DB {
	return s.db
}

const schema = `
CREATE TABLE IF NOT EXISTS utxo (
	tx_hash      BLOB NOT NULL,
	txo_index    INTEGER NOT NULL,
	payment_cred BLOB NOT NULL,
	full_address BLOB NOT NULL,
	slot         INTEGER NOT NULL,
	era          INTEGER NOT NULL,
	lovelace     INTEGER NOT NULL DEFAULT 0,
	cbor         BLOB NOT NULL,
	PRIMARY KEY (tx_hash, txo_index)
);
CREATE INDEX IF NOT EXISTS idx_utxo_slot ON utxo(slot);
CREATE INDEX IF NOT EXISTS idx_utxo_payment_cred ON utxo(payment_cred);

CREATE TABLE IF NOT EXISTS tx_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_hash       BLOB NOT NULL,
	slot          INTEGER NOT NULL,
	block_index   INTEGER NOT NULL,
	balance_delta BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tx_history_slot ON tx_history(slot);

CREATE TABLE IF NOT EXISTS recent_points (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	slot       INTEGER NOT NULL,
	block_hash BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recent_points_slot ON recent_points(slot);

CREATE TABLE IF NOT EXISTS protocol_parameters (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	slot        INTEGER NOT NULL,
	block_index INTEGER NOT NULL,
	update_cbor BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_protocol_parameters_slot ON protocol_parameters(slot, block_index);

CREATE TABLE IF NOT EXISTS "transaction" (
	id         TEXT PRIMARY KEY,
	tx_json    BLOB NOT NULL,
	tx_cbor    BLOB,
	status     TEXT NOT NULL DEFAULT 'staging',
	slot       INTEGER,
	hash       TEXT,
	annotation TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transaction_status ON "transaction"(status);
`

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return s.runMigrations()
}

// runMigrations applies best-effort additive column changes, issuing
// ALTER TABLE and ignoring the "duplicate column" error SQLite
// returns when it has already run.
func (s *Store) runMigrations() error {
	migrations := []string{
		`ALTER TABLE "transaction" ADD COLUMN annotation TEXT`,
	}
	for _, m := range migrations {
		_, _ = s.db.Exec(m)
	}
	return nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// newTxID generates a transaction identifier.
func newTxID() string {
	return uuid.NewString()
}
