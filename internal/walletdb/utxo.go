package walletdb

import (
	"database/sql"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// UTxO is a single unspent transaction output row.
type UTxO struct {
	TxHash      []byte
	TxOIndex    uint32
	PaymentCred []byte
	FullAddress []byte
	Slot        uint64
	Era         uint8
	Lovelace    uint64
	CBOR        []byte
}

// UTxORef identifies a UTxO by its primary key.
type UTxORef struct {
	TxHash   []byte
	TxOIndex uint32
}

// InsertUTXOs inserts a batch of UTxO rows in one transaction. The
// whole batch fails if any row duplicates an existing
// (tx_hash, txo_index).
func (s *Store) InsertUTXOs(rows []UTxO) error {
	if len(rows) == 0 {
		return nil
	}
	return s.runInTx(func(tx *sql.Tx) error {
		return insertUTXOsTx(tx, rows)
	})
}

func insertUTXOsTx(tx *sql.Tx, rows []UTxO) error {
	stmt, err := tx.Prepare(`INSERT INTO utxo (tx_hash, txo_index, payment_cred, full_address, slot, era, lovelace, cbor) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("walletdb: prepare insert_utxos: %w", cdmerr.ErrStorage)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.TxHash, r.TxOIndex, r.PaymentCred, r.FullAddress, r.Slot, r.Era, r.Lovelace, r.CBOR); err != nil {
			return fmt.Errorf("walletdb: insert_utxos duplicate or I/O failure: %w", cdmerr.ErrAlreadyExists)
		}
	}
	return nil
}

// RemoveUTXOs deletes the given refs and returns the rows that were
// removed (possibly fewer than requested, if a ref was already gone).
func (s *Store) RemoveUTXOs(refs []UTxORef) ([]UTxO, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	var removed []UTxO
	err := s.runInTx(func(tx *sql.Tx) error {
		var err error
		removed, err = removeUTXOsTx(tx, refs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func removeUTXOsTx(tx *sql.Tx, refs []UTxORef) ([]UTxO, error) {
	var removed []UTxO
	selectStmt, err := tx.Prepare(`SELECT tx_hash, txo_index, payment_cred, full_address, slot, era, lovelace, cbor FROM utxo WHERE tx_hash = ? AND txo_index = ?`)
	if err != nil {
		return nil, fmt.Errorf("walletdb: prepare remove_utxos select: %w", cdmerr.ErrStorage)
	}
	defer selectStmt.Close()

	deleteStmt, err := tx.Prepare(`DELETE FROM utxo WHERE tx_hash = ? AND txo_index = ?`)
	if err != nil {
		return nil, fmt.Errorf("walletdb: prepare remove_utxos delete: %w", cdmerr.ErrStorage)
	}
	defer deleteStmt.Close()

	for _, ref := range refs {
		var row UTxO
		err := selectStmt.QueryRow(ref.TxHash, ref.TxOIndex).Scan(
			&row.TxHash, &row.TxOIndex, &row.PaymentCred, &row.FullAddress, &row.Slot, &row.Era, &row.Lovelace, &row.CBOR)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("walletdb: remove_utxos select: %w", cdmerr.ErrStorage)
		}
		if _, err := deleteStmt.Exec(ref.TxHash, ref.TxOIndex); err != nil {
			return nil, fmt.Errorf("walletdb: remove_utxos delete: %w", cdmerr.ErrStorage)
		}
		removed = append(removed, row)
	}
	return removed, nil
}

// ResolveUTXO looks up a single UTxO by its primary key.
func (s *Store) ResolveUTXO(txHash []byte, txoIndex uint32) (*UTxO, error) {
	var row UTxO
	err := s.db.QueryRow(
		`SELECT tx_hash, txo_index, payment_cred, full_address, slot, era, lovelace, cbor FROM utxo WHERE tx_hash = ? AND txo_index = ?`,
		txHash, txoIndex,
	).Scan(&row.TxHash, &row.TxOIndex, &row.PaymentCred, &row.FullAddress, &row.Slot, &row.Era, &row.Lovelace, &row.CBOR)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("walletdb: resolve_utxo: %w", cdmerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("walletdb: resolve_utxo: %w", cdmerr.ErrStorage)
	}
	return &row, nil
}

// PaginateUTXOs returns up to pageSize rows ordered by slot, starting
// strictly after afterSlot (use 0 for the first page in Asc order, or
// a value greater than any slot for the first page in Desc order).
func (s *Store) PaginateUTXOs(order Order, pageSize int, afterSlot uint64) ([]UTxO, error) {
	cmp := ">"
	if order == Desc {
		cmp = "<"
	}
	query := fmt.Sprintf(
		`SELECT tx_hash, txo_index, payment_cred, full_address, slot, era, lovelace, cbor FROM utxo WHERE slot %s ? ORDER BY slot %s, tx_hash %s, txo_index %s LIMIT ?`,
		cmp, order.sql(), order.sql(), order.sql())

	rows, err := s.db.Query(query, afterSlot, pageSize)
	if err != nil {
		return nil, fmt.Errorf("walletdb: paginate_utxos: %w", cdmerr.ErrStorage)
	}
	defer rows.Close()
	return scanUTXOs(rows)
}

// FetchAllUTXOs returns every UTxO row in the given order.
func (s *Store) FetchAllUTXOs(order Order) ([]UTxO, error) {
	query := fmt.Sprintf(`SELECT tx_hash, txo_index, payment_cred, full_address, slot, era, lovelace, cbor FROM utxo ORDER BY slot %s, tx_hash %s, txo_index %s`, order.sql(), order.sql(), order.sql())
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("walletdb: fetch_all_utxos: %w", cdmerr.ErrStorage)
	}
	defer rows.Close()
	return scanUTXOs(rows)
}

func scanUTXOs(rows *sql.Rows) ([]UTxO, error) {
	var result []UTxO
	for rows.Next() {
		var r UTxO
		if err := rows.Scan(&r.TxHash, &r.TxOIndex, &r.PaymentCred, &r.FullAddress, &r.Slot, &r.Era, &r.Lovelace, &r.CBOR); err != nil {
			return nil, fmt.Errorf("walletdb: scan utxo: %w", cdmerr.ErrStorage)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("walletdb: scan utxo: %w", cdmerr.ErrStorage)
	}
	return result, nil
}
