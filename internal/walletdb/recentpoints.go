package walletdb

import (
	"database/sql"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// RecentPoint is one of the last K intersect candidates a wallet
// remembers for reconnection.
type RecentPoint struct {
	ID        int64
	Slot      uint64
	BlockHash []byte
}

// InsertRecentPoint records a new candidate point, then
// opportunistically prunes down to RecentPointsLimit rows so the
// table stays bounded.
func (s *Store) InsertRecentPoint(slot uint64, hash []byte) error {
	return s.runInTx(func(tx *sql.Tx) error {
		return insertRecentPointTx(tx, slot, hash)
	})
}

func insertRecentPointTx(tx *sql.Tx, slot uint64, hash []byte) error {
	if _, err := tx.Exec(`INSERT INTO recent_points (slot, block_hash) VALUES (?, ?)`, slot, hash); err != nil {
		return fmt.Errorf("walletdb: insert_recent_point: %w", cdmerr.ErrStorage)
	}
	_, err := tx.Exec(`DELETE FROM recent_points WHERE id NOT IN (SELECT id FROM recent_points ORDER BY slot DESC LIMIT ?)`, RecentPointsLimit)
	if err != nil {
		return fmt.Errorf("walletdb: prune recent_points: %w", cdmerr.ErrStorage)
	}
	return nil
}

// PaginateRecentPoints returns up to pageSize recent points, newest
// (highest slot) first.
func (s *Store) PaginateRecentPoints(pageSize int) ([]RecentPoint, error) {
	rows, err := s.db.Query(`SELECT id, slot, block_hash FROM recent_points ORDER BY slot DESC LIMIT ?`, pageSize)
	if err != nil {
		return nil, fmt.Errorf("walletdb: paginate_recent_points: %w", cdmerr.ErrStorage)
	}
	defer rows.Close()

	var result []RecentPoint
	for rows.Next() {
		var p RecentPoint
		if err := rows.Scan(&p.ID, &p.Slot, &p.BlockHash); err != nil {
			return nil, fmt.Errorf("walletdb: scan recent_points: %w", cdmerr.ErrStorage)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("walletdb: scan recent_points: %w", cdmerr.ErrStorage)
	}
	return result, nil
}

// RemoveRecentPointsBeforeSlot deletes all recent points with slot < s.
func (s *Store) RemoveRecentPointsBeforeSlot(slot uint64) error {
	_, err := s.db.Exec(`DELETE FROM recent_points WHERE slot < ?`, slot)
	if err != nil {
		return fmt.Errorf("walletdb: remove_recent_points_before_slot: %w", cdmerr.ErrStorage)
	}
	return nil
}
