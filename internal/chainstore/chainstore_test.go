package chainstore

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

func hashOf(b byte) []byte {
	h := make([]byte, 32)
	h[31] = b
	return h
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(&Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRollForwardAndFindTip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.FindTip(); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	if err := s.RollForward(10, hashOf(1), []byte("block-10")); err != nil {
		t.Fatalf("RollForward: %v", err)
	}
	tip, ok, err := s.FindTip()
	if err != nil || !ok {
		t.Fatalf("FindTip: ok=%v err=%v", ok, err)
	}
	if tip.Slot != 10 {
		t.Fatalf("tip.Slot = %d, want 10", tip.Slot)
	}
}

func TestRollForwardOutOfOrder(t *testing.T) {
	s := openTestStore(t)
	if err := s.RollForward(10, hashOf(1), []byte("a")); err != nil {
		t.Fatalf("RollForward: %v", err)
	}
	err := s.RollForward(10, hashOf(2), []byte("b"))
	if !errors.Is(err, cdmerr.ErrOutOfOrder) {
		t.Fatalf("RollForward at same slot: got %v, want ErrOutOfOrder", err)
	}
	err = s.RollForward(5, hashOf(3), []byte("c"))
	if !errors.Is(err, cdmerr.ErrOutOfOrder) {
		t.Fatalf("RollForward below tip: got %v, want ErrOutOfOrder", err)
	}
}

func TestRollBackTruncates(t *testing.T) {
	s := openTestStore(t)
	for slot := uint64(1); slot <= 5; slot++ {
		if err := s.RollForward(slot, hashOf(byte(slot)), []byte{byte(slot)}); err != nil {
			t.Fatalf("RollForward(%d): %v", slot, err)
		}
	}

	tip, err := s.RollBack(3)
	if err != nil {
		t.Fatalf("RollBack: %v", err)
	}
	if tip.Slot != 3 {
		t.Fatalf("tip after rollback = %d, want 3", tip.Slot)
	}

	points, err := s.Crawl()
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("len(points) = %d, want 3", len(points))
	}
	for _, p := range points {
		if p.Slot > 3 {
			t.Fatalf("found slot %d > 3 after rollback", p.Slot)
		}
	}

	if _, err := s.GetBlock(hashOf(5)); !errors.Is(err, cdmerr.ErrNotFound) {
		t.Fatalf("GetBlock(rolled-back hash): got %v, want ErrNotFound", err)
	}
}

func TestRollBackIdempotent(t *testing.T) {
	s := openTestStore(t)
	for slot := uint64(1); slot <= 3; slot++ {
		if err := s.RollForward(slot, hashOf(byte(slot)), []byte{byte(slot)}); err != nil {
			t.Fatalf("RollForward(%d): %v", slot, err)
		}
	}
	if _, err := s.RollBack(10); err != nil {
		t.Fatalf("RollBack above tip: %v", err)
	}
	points, err := s.Crawl()
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("RollBack above tip truncated store: len(points) = %d", len(points))
	}
}

func TestRollBackOriginEmptiesStore(t *testing.T) {
	s := openTestStore(t)
	if err := s.RollForward(1, hashOf(1), []byte("a")); err != nil {
		t.Fatalf("RollForward: %v", err)
	}
	if err := s.RollBackOrigin(); err != nil {
		t.Fatalf("RollBackOrigin: %v", err)
	}
	if _, ok, err := s.FindTip(); err != nil || ok {
		t.Fatalf("expected empty store after roll_back_origin, ok=%v err=%v", ok, err)
	}
}

func TestChainContainsAndGetBlock(t *testing.T) {
	s := openTestStore(t)
	h := hashOf(7)
	if err := s.RollForward(100, h, []byte("body")); err != nil {
		t.Fatalf("RollForward: %v", err)
	}
	ok, err := s.ChainContains(100, h)
	if err != nil || !ok {
		t.Fatalf("ChainContains true case: ok=%v err=%v", ok, err)
	}
	ok, err = s.ChainContains(100, hashOf(8))
	if err != nil || ok {
		t.Fatalf("ChainContains false case: ok=%v err=%v", ok, err)
	}
	body, err := s.GetBlock(h)
	if err != nil || !bytes.Equal(body, []byte("body")) {
		t.Fatalf("GetBlock = %q, %v", body, err)
	}
}

func TestIntersectOptionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for slot := uint64(1); slot <= 20; slot++ {
		if err := s.RollForward(slot, hashOf(byte(slot)), nil); err != nil {
			t.Fatalf("RollForward(%d): %v", slot, err)
		}
	}
	opts, err := s.IntersectOptions(5)
	if err != nil {
		t.Fatalf("IntersectOptions: %v", err)
	}
	if len(opts) != 5 {
		t.Fatalf("len(opts) = %d, want 5", len(opts))
	}
	for i, p := range opts {
		want := uint64(20 - i)
		if p.Slot != want {
			t.Fatalf("opts[%d].Slot = %d, want %d", i, p.Slot, want)
		}
	}
}

func TestReadChainRangeInclusive(t *testing.T) {
	s := openTestStore(t)
	for slot := uint64(1); slot <= 10; slot++ {
		if err := s.RollForward(slot, hashOf(byte(slot)), nil); err != nil {
			t.Fatalf("RollForward(%d): %v", slot, err)
		}
	}
	from := Point{Slot: 3}
	to := Point{Slot: 7}
	points, err := s.ReadChainRange(&from, to)
	if err != nil {
		t.Fatalf("ReadChainRange: %v", err)
	}
	if len(points) != 5 {
		t.Fatalf("len(points) = %d, want 5", len(points))
	}
	if points[0].Slot != 3 || points[len(points)-1].Slot != 7 {
		t.Fatalf("range bounds wrong: first=%d last=%d", points[0].Slot, points[len(points)-1].Slot)
	}
}
