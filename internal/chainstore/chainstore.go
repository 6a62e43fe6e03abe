// Package chainstore is the append-only block log: an embedded
// ordered key/value database keyed by slot, with an inverted hash
// index for containment checks and rollback truncation.
//
// The engine is github.com/dgraph-io/badger/v4: its LSM tree gives
// the ordered-iteration and range-delete primitives an append-only,
// slot-ordered block log needs.
package chainstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/pkg/logging"
)

// Point identifies a block by its slot and 32-byte hash. The zero
// value with Slot == 0 and a nil/empty Hash is Origin, the pre-genesis
// virtual point.
type Point struct {
	Slot uint64
	Hash []byte
}

// IsOrigin reports whether p is the pre-genesis sentinel.
func (p Point) IsOrigin() bool {
	return p.Slot == 0 && len(p.Hash) == 0
}

func (p Point) String() string {
	if p.IsOrigin() {
		return "origin"
	}
	return fmt.Sprintf("(%d, %x)", p.Slot, p.Hash)
}

// Key prefixes for the three mappings: slot→hash, (slot,hash)→bytes,
// and the inverted hash→slot index. A fourth,
// unprefixed meta key caches the current tip so find_tip doesn't need
// a full reverse scan.
const (
	prefixSlotToHash byte = 's'
	prefixBlock      byte = 'b'
	prefixHashToSlot byte = 'h'
)

var tipKey = []byte{'t', 'i', 'p'}

// Store is the block store.
type Store struct {
	db  *badger.DB
	log *logging.Logger
}

// Config holds chainstore configuration.
type Config struct {
	DataDir string
	Logger  *logging.Logger
}

// Open creates or opens the block store rooted at cfg.DataDir.
func Open(cfg *Config) (*Store, error) {
	dir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("chainstore: create data directory: %w", cdmerr.ErrStorage)
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("chainstore: open badger: %w: %w", err, cdmerr.ErrStorage)
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Store{db: db, log: log.Component("chainstore")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func slotKey(prefix byte, slot uint64) []byte {
	k := make([]byte, 9)
	k[0] = prefix
	binary.BigEndian.PutUint64(k[1:], slot)
	return k
}

func blockKey(slot uint64, hash []byte) []byte {
	k := make([]byte, 9+len(hash))
	k[0] = prefixBlock
	binary.BigEndian.PutUint64(k[1:9], slot)
	copy(k[9:], hash)
	return k
}

func hashKey(hash []byte) []byte {
	k := make([]byte, 1+len(hash))
	k[0] = prefixHashToSlot
	copy(k[1:], hash)
	return k
}

// RollForward appends a block, failing with cdmerr.ErrOutOfOrder if
// slot is at or below the current tip.
func (s *Store) RollForward(slot uint64, hash []byte, body []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		tip, ok, err := tipLocked(txn)
		if err != nil {
			return err
		}
		if ok && slot <= tip.Slot {
			return fmt.Errorf("chainstore: roll_forward slot %d at or below tip %d: %w", slot, tip.Slot, cdmerr.ErrOutOfOrder)
		}

		if err := txn.Set(slotKey(prefixSlotToHash, slot), hash); err != nil {
			return err
		}
		if err := txn.Set(blockKey(slot, hash), body); err != nil {
			return err
		}
		if err := txn.Set(hashKey(hash), slotKey(0, slot)[1:]); err != nil {
			return err
		}
		return setTip(txn, Point{Slot: slot, Hash: hash})
	})
}

// RollBack truncates all blocks with slot strictly greater than
// target, returning the new tip (Origin if the store becomes empty).
// Idempotent: rolling back to a slot at or above the current tip is a
// no-op.
func (s *Store) RollBack(target uint64) (Point, error) {
	var newTip Point
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var toDelete [][]byte
		prefix := []byte{prefixSlotToHash}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			slot := binary.BigEndian.Uint64(item.Key()[1:])
			if slot <= target {
				continue
			}
			var hash []byte
			if err := item.Value(func(v []byte) error {
				hash = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			toDelete = append(toDelete, item.KeyCopy(nil))
			toDelete = append(toDelete, blockKey(slot, hash))
			toDelete = append(toDelete, hashKey(hash))
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		tip, ok, err := findTipScan(txn, target)
		if err != nil {
			return err
		}
		if ok {
			newTip = tip
			return setTip(txn, tip)
		}
		newTip = Point{}
		return txn.Delete(tipKey)
	})
	if err != nil {
		return Point{}, fmt.Errorf("chainstore: roll_back: %w", cdmerr.ErrStorage)
	}
	return newTip, nil
}

// RollBackOrigin empties the store entirely.
func (s *Store) RollBackOrigin() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("chainstore: roll_back_origin: %w", cdmerr.ErrStorage)
	}
	return nil
}

// FindTip returns the current tip, or ok=false if the store is empty.
func (s *Store) FindTip() (Point, bool, error) {
	var p Point
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, ok, err = tipLocked(txn)
		return err
	})
	return p, ok, err
}

func tipLocked(txn *badger.Txn) (Point, bool, error) {
	item, err := txn.Get(tipKey)
	if err == badger.ErrKeyNotFound {
		return Point{}, false, nil
	}
	if err != nil {
		return Point{}, false, err
	}
	var p Point
	err = item.Value(func(v []byte) error {
		if len(v) < 8 {
			return fmt.Errorf("chainstore: corrupt tip record")
		}
		p.Slot = binary.BigEndian.Uint64(v[:8])
		p.Hash = append([]byte(nil), v[8:]...)
		return nil
	})
	return p, true, err
}

func setTip(txn *badger.Txn, p Point) error {
	v := make([]byte, 8+len(p.Hash))
	binary.BigEndian.PutUint64(v[:8], p.Slot)
	copy(v[8:], p.Hash)
	return txn.Set(tipKey, v)
}

// findTipScan recomputes the tip as the highest remaining slot after a
// rollback, since badger has no reverse-ordered range delete.
func findTipScan(txn *badger.Txn, target uint64) (Point, bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	seekKey := slotKey(prefixSlotToHash, target)
	for it.Seek(seekKey); it.ValidForPrefix([]byte{prefixSlotToHash}); it.Next() {
		item := it.Item()
		slot := binary.BigEndian.Uint64(item.Key()[1:])
		if slot > target {
			continue
		}
		var hash []byte
		if err := item.Value(func(v []byte) error {
			hash = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return Point{}, false, err
		}
		return Point{Slot: slot, Hash: hash}, true, nil
	}
	return Point{}, false, nil
}

// ChainContains reports whether (slot, hash) is currently stored.
func (s *Store) ChainContains(slot uint64, hash []byte) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(slotKey(prefixSlotToHash, slot))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			found = bytes.Equal(v, hash)
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("chainstore: chain_contains: %w", cdmerr.ErrStorage)
	}
	return found, nil
}

// GetBlock returns the stored body for a block hash, or
// cdmerr.ErrNotFound if it isn't known (the hash→slot index is
// consulted first to locate the slot, then the body is fetched).
func (s *Store) GetBlock(hash []byte) ([]byte, error) {
	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hashKey(hash))
		if err == badger.ErrKeyNotFound {
			return cdmerr.ErrNotFound
		}
		if err != nil {
			return err
		}
		var slot uint64
		if err := item.Value(func(v []byte) error {
			slot = binary.BigEndian.Uint64(v)
			return nil
		}); err != nil {
			return err
		}
		bItem, err := txn.Get(blockKey(slot, hash))
		if err == badger.ErrKeyNotFound {
			return cdmerr.ErrNotFound
		}
		if err != nil {
			return err
		}
		return bItem.Value(func(v []byte) error {
			body = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		if err == cdmerr.ErrNotFound {
			return nil, fmt.Errorf("chainstore: get_block: %w", cdmerr.ErrNotFound)
		}
		return nil, fmt.Errorf("chainstore: get_block: %w", cdmerr.ErrStorage)
	}
	return body, nil
}

// Crawl returns every stored point in ascending slot order. The
// returned slice is a one-shot snapshot, restartable only by calling
// Crawl again.
func (s *Store) Crawl() ([]Point, error) {
	return s.ReadChainRange(nil, Point{})
}

// ReadChainRange returns stored points with slot in [from.Slot,
// to.Slot] in ascending order. A nil from starts at the first stored
// block; a zero-value (Origin) to means "through the current tip".
func (s *Store) ReadChainRange(from *Point, to Point) ([]Point, error) {
	var points []Point
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{prefixSlotToHash}
		start := prefix
		if from != nil {
			start = slotKey(prefixSlotToHash, from.Slot)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			slot := binary.BigEndian.Uint64(item.Key()[1:])
			if !to.IsOrigin() && slot > to.Slot {
				break
			}
			var hash []byte
			if err := item.Value(func(v []byte) error {
				hash = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			points = append(points, Point{Slot: slot, Hash: hash})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chainstore: read_chain_range: %w", cdmerr.ErrStorage)
	}
	return points, nil
}

// IntersectOptions returns the k most recent stored points, newest
// first, for proposing a FindIntersect candidate list.
func (s *Store) IntersectOptions(k int) ([]Point, error) {
	var points []Point
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append([]byte{prefixSlotToHash}, bytes.Repeat([]byte{0xff}, 8)...)
		prefix := []byte{prefixSlotToHash}
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(points) < k; it.Next() {
			item := it.Item()
			slot := binary.BigEndian.Uint64(item.Key()[1:])
			var hash []byte
			if err := item.Value(func(v []byte) error {
				hash = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			points = append(points, Point{Slot: slot, Hash: hash})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chainstore: intersect_options: %w", cdmerr.ErrStorage)
	}
	return points, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
