package walletdb

import (
	"database/sql"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// TxHistoryEntry records the lovelace balance delta a transaction had
// on the wallet. BalanceDelta is a big-endian
// 128-bit signed integer (see internal/indexer for the encode/decode
// helpers); native-asset deltas are computed by the indexer but not
// persisted here.
type TxHistoryEntry struct {
	ID           int64
	TxHash       []byte
	Slot         uint64
	BlockIndex   uint16
	BalanceDelta []byte
}

// InsertHistoryTx records one transaction's balance delta.
func (s *Store) InsertHistoryTx(hash []byte, slot uint64, blockIndex uint16, delta []byte) error {
	return s.runInTx(func(tx *sql.Tx) error {
		return insertHistoryTxTx(tx, hash, slot, blockIndex, delta)
	})
}

func insertHistoryTxTx(tx *sql.Tx, hash []byte, slot uint64, blockIndex uint16, delta []byte) error {
	_, err := tx.Exec(`INSERT INTO tx_history (tx_hash, slot, block_index, balance_delta) VALUES (?, ?, ?, ?)`,
		hash, slot, blockIndex, delta)
	if err != nil {
		return fmt.Errorf("walletdb: insert_history_tx: %w", cdmerr.ErrStorage)
	}
	return nil
}

// PaginateTxHistory returns up to pageSize rows ordered by id (insertion
// order, which tracks chain order), starting strictly after afterID.
func (s *Store) PaginateTxHistory(order Order, pageSize int, afterID int64) ([]TxHistoryEntry, error) {
	cmp := ">"
	if order == Desc {
		cmp = "<"
	}
	query := fmt.Sprintf(`SELECT id, tx_hash, slot, block_index, balance_delta FROM tx_history WHERE id %s ? ORDER BY id %s LIMIT ?`, cmp, order.sql())
	rows, err := s.db.Query(query, afterID, pageSize)
	if err != nil {
		return nil, fmt.Errorf("walletdb: paginate_tx_history: %w", cdmerr.ErrStorage)
	}
	defer rows.Close()

	var result []TxHistoryEntry
	for rows.Next() {
		var e TxHistoryEntry
		if err := rows.Scan(&e.ID, &e.TxHash, &e.Slot, &e.BlockIndex, &e.BalanceDelta); err != nil {
			return nil, fmt.Errorf("walletdb: scan tx_history: %w", cdmerr.ErrStorage)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("walletdb: scan tx_history: %w", cdmerr.ErrStorage)
	}
	return result, nil
}
