package walletdb

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(&Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testUTXO(slot uint64, idx byte) UTxO {
	return UTxO{
		TxHash:      []byte{idx, idx, idx},
		TxOIndex:    uint32(idx),
		PaymentCred: make([]byte, 28),
		FullAddress: []byte("addr1..."),
		Slot:        slot,
		Era:         5,
		CBOR:        []byte{0xa0},
	}
}

func TestInsertAndResolveUTXO(t *testing.T) {
	s := openTestStore(t)
	u := testUTXO(10, 1)
	if err := s.InsertUTXOs([]UTxO{u}); err != nil {
		t.Fatalf("InsertUTXOs: %v", err)
	}
	got, err := s.ResolveUTXO(u.TxHash, u.TxOIndex)
	if err != nil {
		t.Fatalf("ResolveUTXO: %v", err)
	}
	if got.Slot != u.Slot {
		t.Fatalf("Slot = %d, want %d", got.Slot, u.Slot)
	}
}

func TestInsertUTXOsDuplicateFailsWholeBatch(t *testing.T) {
	s := openTestStore(t)
	u := testUTXO(10, 1)
	if err := s.InsertUTXOs([]UTxO{u}); err != nil {
		t.Fatalf("InsertUTXOs: %v", err)
	}

	dup := testUTXO(20, 2)
	err := s.InsertUTXOs([]UTxO{dup, u})
	if !errors.Is(err, cdmerr.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	// the whole batch must have been rolled back: dup must not exist
	if _, err := s.ResolveUTXO(dup.TxHash, dup.TxOIndex); !errors.Is(err, cdmerr.ErrNotFound) {
		t.Fatalf("expected dup row rolled back, ResolveUTXO returned %v", err)
	}
}

func TestRemoveUTXOsReturnsRemovedRows(t *testing.T) {
	s := openTestStore(t)
	u1, u2 := testUTXO(1, 1), testUTXO(2, 2)
	if err := s.InsertUTXOs([]UTxO{u1, u2}); err != nil {
		t.Fatalf("InsertUTXOs: %v", err)
	}
	removed, err := s.RemoveUTXOs([]UTxORef{{TxHash: u1.TxHash, TxOIndex: u1.TxOIndex}})
	if err != nil {
		t.Fatalf("RemoveUTXOs: %v", err)
	}
	if len(removed) != 1 || removed[0].Slot != u1.Slot {
		t.Fatalf("removed = %+v, want one row with slot %d", removed, u1.Slot)
	}
	if _, err := s.ResolveUTXO(u1.TxHash, u1.TxOIndex); !errors.Is(err, cdmerr.ErrNotFound) {
		t.Fatalf("expected removed row gone, got %v", err)
	}
}

func TestFetchAllUTXOsOrder(t *testing.T) {
	s := openTestStore(t)
	for i := byte(1); i <= 3; i++ {
		if err := s.InsertUTXOs([]UTxO{testUTXO(uint64(i), i)}); err != nil {
			t.Fatalf("InsertUTXOs: %v", err)
		}
	}
	rows, err := s.FetchAllUTXOs(Asc)
	if err != nil {
		t.Fatalf("FetchAllUTXOs: %v", err)
	}
	if len(rows) != 3 || rows[0].Slot != 1 || rows[2].Slot != 3 {
		t.Fatalf("unexpected order: %+v", rows)
	}
}

func TestRecentPointsPruneToLimit(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(1); i <= RecentPointsLimit+5; i++ {
		if err := s.InsertRecentPoint(i, []byte{byte(i)}); err != nil {
			t.Fatalf("InsertRecentPoint(%d): %v", i, err)
		}
	}
	points, err := s.PaginateRecentPoints(100)
	if err != nil {
		t.Fatalf("PaginateRecentPoints: %v", err)
	}
	if len(points) != RecentPointsLimit {
		t.Fatalf("len(points) = %d, want %d", len(points), RecentPointsLimit)
	}
	if points[0].Slot <= points[len(points)-1].Slot {
		t.Fatalf("expected descending order, got %+v", points)
	}
}

func TestRollbackToSlotInvariant(t *testing.T) {
	s := openTestStore(t)
	for i := byte(1); i <= 5; i++ {
		if err := s.InsertUTXOs([]UTxO{testUTXO(uint64(i), i)}); err != nil {
			t.Fatalf("InsertUTXOs: %v", err)
		}
		if err := s.InsertHistoryTx([]byte{i}, uint64(i), 0, make([]byte, 16)); err != nil {
			t.Fatalf("InsertHistoryTx: %v", err)
		}
		if err := s.InsertRecentPoint(uint64(i), []byte{i}); err != nil {
			t.Fatalf("InsertRecentPoint: %v", err)
		}
	}

	if err := s.RollbackToSlot(3); err != nil {
		t.Fatalf("RollbackToSlot: %v", err)
	}

	utxos, err := s.FetchAllUTXOs(Asc)
	if err != nil {
		t.Fatalf("FetchAllUTXOs: %v", err)
	}
	for _, u := range utxos {
		if u.Slot > 3 {
			t.Fatalf("found utxo with slot %d > 3 after rollback", u.Slot)
		}
	}

	history, err := s.PaginateTxHistory(Asc, 100, 0)
	if err != nil {
		t.Fatalf("PaginateTxHistory: %v", err)
	}
	for _, h := range history {
		if h.Slot > 3 {
			t.Fatalf("found history row with slot %d > 3 after rollback", h.Slot)
		}
	}
}

func TestTransactionLifecycle(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertTransaction([]byte(`{"inputs":[]}`))
	if err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}

	row, err := s.FetchByID(id)
	if err != nil {
		t.Fatalf("FetchByID: %v", err)
	}
	if row.Status != StatusStaging {
		t.Fatalf("Status = %q, want %q", row.Status, StatusStaging)
	}

	slot := uint64(42)
	hash := "deadbeef"
	row.Status = StatusBuilt
	row.TxCBOR = []byte{0x01, 0x02}
	row.Slot = &slot
	row.Hash = &hash
	if err := s.UpdateTransaction(row); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}

	got, err := s.FetchByID(id)
	if err != nil {
		t.Fatalf("FetchByID after update: %v", err)
	}
	if got.Status != StatusBuilt || got.Hash == nil || *got.Hash != hash {
		t.Fatalf("got = %+v", got)
	}

	if err := s.RemoveTransaction(id); err != nil {
		t.Fatalf("RemoveTransaction: %v", err)
	}
	if _, err := s.FetchByID(id); !errors.Is(err, cdmerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestPaginateTransactionsDescending(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.InsertTransaction([]byte(`{}`)); err != nil {
			t.Fatalf("InsertTransaction: %v", err)
		}
	}
	rows, err := s.PaginateTransactions(Desc, 10, math.MaxInt64)
	if err != nil {
		t.Fatalf("PaginateTransactions: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
}

func TestIndexBlockAtomicity(t *testing.T) {
	s := openTestStore(t)
	err := s.IndexBlock(func(b *BlockTx) error {
		if err := b.InsertUTXOs([]UTxO{testUTXO(1, 1)}); err != nil {
			return err
		}
		if err := b.InsertHistoryTx([]byte{1}, 1, 0, make([]byte, 16)); err != nil {
			return err
		}
		return fmt.Errorf("forced failure")
	})
	if err == nil {
		t.Fatal("expected IndexBlock to propagate the forced failure")
	}

	utxos, err := s.FetchAllUTXOs(Asc)
	if err != nil {
		t.Fatalf("FetchAllUTXOs: %v", err)
	}
	if len(utxos) != 0 {
		t.Fatalf("expected no utxos after aborted IndexBlock, got %d", len(utxos))
	}
}
