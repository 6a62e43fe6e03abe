package walletdb

import (
	"database/sql"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// InsertProtocolParameters archives a raw governance-update payload
// observed in a block. The CBOR is not interpreted, merely kept in
// chain order.
func (s *Store) InsertProtocolParameters(slot uint64, blockIndex int, cbor []byte) error {
	return s.runInTx(func(tx *sql.Tx) error {
		return insertProtocolParametersTx(tx, slot, blockIndex, cbor)
	})
}

func insertProtocolParametersTx(tx *sql.Tx, slot uint64, blockIndex int, cbor []byte) error {
	_, err := tx.Exec(`INSERT INTO protocol_parameters (slot, block_index, update_cbor) VALUES (?, ?, ?)`, slot, blockIndex, cbor)
	if err != nil {
		return fmt.Errorf("walletdb: insert_protocol_parameters: %w", cdmerr.ErrStorage)
	}
	return nil
}

// FetchLatestProtocolParameters returns the most recent update by
// (slot, block_index), or ok=false if none have been observed.
func (s *Store) FetchLatestProtocolParameters() ([]byte, bool, error) {
	var cbor []byte
	err := s.db.QueryRow(`SELECT update_cbor FROM protocol_parameters ORDER BY slot DESC, block_index DESC LIMIT 1`).Scan(&cbor)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("walletdb: fetch_latest_protocol_parameters: %w", cdmerr.ErrStorage)
	}
	return cbor, true, nil
}
