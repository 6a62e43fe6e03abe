package walletdb

import (
	"database/sql"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// BlockTx scopes the per-entity write operations to a single SQL
// transaction, giving the indexer a one-transaction-per-block write
// discipline: every produced/consumed UTxO,
// history entry, protocol-parameter update, and recent-point write for
// one block either all land or none do.
type BlockTx struct {
	tx *sql.Tx
}

// IndexBlock runs fn inside one transaction, exposing a BlockTx bound
// to it. Use this from the indexer instead of the Store's individual
// methods when a single block's worth of writes must be atomic.
func (s *Store) IndexBlock(fn func(b *BlockTx) error) error {
	return s.runInTx(func(tx *sql.Tx) error {
		return fn(&BlockTx{tx: tx})
	})
}

func (b *BlockTx) InsertUTXOs(rows []UTxO) error {
	if len(rows) == 0 {
		return nil
	}
	return insertUTXOsTx(b.tx, rows)
}

func (b *BlockTx) RemoveUTXOs(refs []UTxORef) ([]UTxO, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	return removeUTXOsTx(b.tx, refs)
}

func (b *BlockTx) InsertHistoryTx(hash []byte, slot uint64, blockIndex uint16, delta []byte) error {
	return insertHistoryTxTx(b.tx, hash, slot, blockIndex, delta)
}

func (b *BlockTx) InsertRecentPoint(slot uint64, hash []byte) error {
	return insertRecentPointTx(b.tx, slot, hash)
}

func (b *BlockTx) InsertProtocolParameters(slot uint64, blockIndex int, cbor []byte) error {
	return insertProtocolParametersTx(b.tx, slot, blockIndex, cbor)
}

// RollbackToSlot deletes rows with slot > s from all four chain-position
// tables within this same transaction. (The indexer's rollback uses
// Store.RollbackToSlot, which runs in a transaction of its own.)
func (b *BlockTx) RollbackToSlot(slot uint64) error {
	stmts := []string{
		`DELETE FROM utxo WHERE slot > ?`,
		`DELETE FROM tx_history WHERE slot > ?`,
		`DELETE FROM recent_points WHERE slot > ?`,
		`DELETE FROM protocol_parameters WHERE slot > ?`,
	}
	for _, q := range stmts {
		if _, err := b.tx.Exec(q, slot); err != nil {
			return fmt.Errorf("walletdb: rollback_to_slot: %w", cdmerr.ErrStorage)
		}
	}
	return nil
}
