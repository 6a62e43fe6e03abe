package walletdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// Status is a staging transaction's lifecycle state:
// Staging -> Built -> Signed -> Submitted -> Minted. A Built transaction
// may be submitted without passing through Signed, and removing the
// last signature moves a Signed transaction back to Built.
type Status string

const (
	StatusStaging   Status = "staging"
	StatusBuilt     Status = "built"
	StatusSigned    Status = "signed"
	StatusSubmitted Status = "submitted"
	StatusMinted    Status = "minted"
)

// TransactionRow is the persisted row behind a staging transaction.
// TxJSON holds the staging representation (or the built representation
// once Status has advanced past Staging); TxCBOR is empty until Built.
type TransactionRow struct {
	ID         string
	TxJSON     []byte
	TxCBOR     []byte
	Status     Status
	Slot       *uint64
	Hash       *string
	Annotation *string
	CreatedAt  int64
}

// InsertTransaction creates a new row with status Staging, returning
// its generated id.
func (s *Store) InsertTransaction(txJSON []byte) (string, error) {
	id := newTxID()
	_, err := s.db.Exec(
		`INSERT INTO "transaction" (id, tx_json, status, created_at) VALUES (?, ?, ?, ?)`,
		id, txJSON, StatusStaging, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("walletdb: insert_transaction: %w", cdmerr.ErrStorage)
	}
	return id, nil
}

// FetchByID returns a single transaction row.
func (s *Store) FetchByID(id string) (*TransactionRow, error) {
	var row TransactionRow
	err := s.db.QueryRow(
		`SELECT id, tx_json, tx_cbor, status, slot, hash, annotation, created_at FROM "transaction" WHERE id = ?`, id,
	).Scan(&row.ID, &row.TxJSON, &row.TxCBOR, &row.Status, &row.Slot, &row.Hash, &row.Annotation, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("walletdb: fetch_by_id(%s): %w", id, cdmerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("walletdb: fetch_by_id: %w", cdmerr.ErrStorage)
	}
	return &row, nil
}

// UpdateTransaction overwrites a row in full. A failed build or
// signature must not leave the row partially modified; callers
// construct the full desired row and pass it here as one statement.
func (s *Store) UpdateTransaction(row *TransactionRow) error {
	res, err := s.db.Exec(
		`UPDATE "transaction" SET tx_json = ?, tx_cbor = ?, status = ?, slot = ?, hash = ?, annotation = ? WHERE id = ?`,
		row.TxJSON, row.TxCBOR, row.Status, row.Slot, row.Hash, row.Annotation, row.ID,
	)
	if err != nil {
		return fmt.Errorf("walletdb: update_transaction: %w", cdmerr.ErrStorage)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("walletdb: update_transaction: %w", cdmerr.ErrStorage)
	}
	if n == 0 {
		return fmt.Errorf("walletdb: update_transaction(%s): %w", row.ID, cdmerr.ErrNotFound)
	}
	return nil
}

// RemoveTransaction deletes a staging transaction by id.
func (s *Store) RemoveTransaction(id string) error {
	res, err := s.db.Exec(`DELETE FROM "transaction" WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("walletdb: remove_transaction: %w", cdmerr.ErrStorage)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("walletdb: remove_transaction: %w", cdmerr.ErrStorage)
	}
	if n == 0 {
		return fmt.Errorf("walletdb: remove_transaction(%s): %w", id, cdmerr.ErrNotFound)
	}
	return nil
}

// PaginateTransactions returns up to pageSize rows ordered by
// created_at, starting strictly after afterCreatedAt.
func (s *Store) PaginateTransactions(order Order, pageSize int, afterCreatedAt int64) ([]TransactionRow, error) {
	cmp := ">"
	if order == Desc {
		cmp = "<"
	}
	query := fmt.Sprintf(
		`SELECT id, tx_json, tx_cbor, status, slot, hash, annotation, created_at FROM "transaction" WHERE created_at %s ? ORDER BY created_at %s LIMIT ?`,
		cmp, order.sql())
	rows, err := s.db.Query(query, afterCreatedAt, pageSize)
	if err != nil {
		return nil, fmt.Errorf("walletdb: paginate_transactions: %w", cdmerr.ErrStorage)
	}
	defer rows.Close()

	var result []TransactionRow
	for rows.Next() {
		var row TransactionRow
		if err := rows.Scan(&row.ID, &row.TxJSON, &row.TxCBOR, &row.Status, &row.Slot, &row.Hash, &row.Annotation, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("walletdb: scan transaction: %w", cdmerr.ErrStorage)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("walletdb: scan transaction: %w", cdmerr.ErrStorage)
	}
	return result, nil
}

// RollbackToSlot deletes, in a single transaction, every row with
// slot > s from utxo, tx_history, recent_points, and protocol_parameters.
func (s *Store) RollbackToSlot(slot uint64) error {
	return s.runInTx(func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM utxo WHERE slot > ?`,
			`DELETE FROM tx_history WHERE slot > ?`,
			`DELETE FROM recent_points WHERE slot > ?`,
			`DELETE FROM protocol_parameters WHERE slot > ?`,
		}
		for _, q := range stmts {
			if _, err := tx.Exec(q, slot); err != nil {
				return fmt.Errorf("walletdb: rollback_to_slot: %w", cdmerr.ErrStorage)
			}
		}
		return nil
	})
}

// runInTx runs fn inside a SQL transaction, committing on success and
// rolling back on error or panic.
func (s *Store) runInTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("walletdb: begin transaction: %w", cdmerr.ErrStorage)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}
