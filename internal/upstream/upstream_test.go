package upstream

import (
	"context"
	"errors"
	"testing"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/chainstore"
)

type fakePeer struct {
	intersectPoint chainstore.Point
	intersectOK    bool
	intersectTip   Tip

	responses []NextResponse
	nextIdx   int

	fetchBodies [][]byte
	fetchErr    error
	closed      bool
}

func (f *fakePeer) FindIntersect(ctx context.Context, candidates []chainstore.Point) (chainstore.Point, bool, Tip, error) {
	return f.intersectPoint, f.intersectOK, f.intersectTip, nil
}

func (f *fakePeer) RequestNext(ctx context.Context) (NextResponse, error) {
	if f.nextIdx >= len(f.responses) {
		return NextResponse{Kind: KindAwait}, nil
	}
	r := f.responses[f.nextIdx]
	f.nextIdx++
	return r, nil
}

func (f *fakePeer) FetchRange(ctx context.Context, oldest, latest chainstore.Point) ([][]byte, error) {
	return f.fetchBodies, f.fetchErr
}

func (f *fakePeer) Close() error {
	f.closed = true
	return nil
}

func openTestStore(t *testing.T) *chainstore.Store {
	t.Helper()
	s, err := chainstore.Open(&chainstore.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("chainstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBootstrapEmptyStoreProposesOrigin(t *testing.T) {
	store := openTestStore(t)
	peer := &fakePeer{intersectOK: false, intersectTip: Tip{Point: chainstore.Point{Slot: 1000}}}

	u, err := Bootstrap(context.Background(), peer, store, BootstrapOptions{}, nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if u.startSlot != 0 {
		t.Fatalf("startSlot = %d, want 0 for origin bootstrap", u.startSlot)
	}
}

func TestBootstrapUsesAfterFallback(t *testing.T) {
	store := openTestStore(t)
	after := chainstore.Point{Slot: 500, Hash: []byte{1}}
	peer := &fakePeer{intersectPoint: after, intersectOK: true}

	u, err := Bootstrap(context.Background(), peer, store, BootstrapOptions{After: &after}, nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if u.startSlot != 500 {
		t.Fatalf("startSlot = %d, want 500", u.startSlot)
	}
}

func TestNextStepRollForwardFillsBuffer(t *testing.T) {
	store := openTestStore(t)
	peer := &fakePeer{
		responses: []NextResponse{
			{Kind: KindRollForward, Point: chainstore.Point{Slot: 1, Hash: []byte{1}}},
		},
	}
	u, err := Bootstrap(context.Background(), peer, store, BootstrapOptions{}, nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if err := u.NextStep(context.Background(), nil); err != nil {
		t.Fatalf("NextStep: %v", err)
	}
	if u.buffer.Size() != 1 {
		t.Fatalf("buffer size = %d, want 1", u.buffer.Size())
	}
	slot, ok := u.CurrentSlot()
	if !ok || slot != 1 {
		t.Fatalf("CurrentSlot = %d, %v, want 1, true", slot, ok)
	}
}

func TestNextStepAwaitSetsIsTip(t *testing.T) {
	store := openTestStore(t)
	peer := &fakePeer{responses: []NextResponse{{Kind: KindAwait}}}
	u, err := Bootstrap(context.Background(), peer, store, BootstrapOptions{}, nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := u.NextStep(context.Background(), nil); err != nil {
		t.Fatalf("NextStep: %v", err)
	}
	if !u.IsAtTip() {
		t.Fatal("expected IsAtTip to be true after Await")
	}
}

func TestNextStepRollBackwardToOrigin(t *testing.T) {
	store := openTestStore(t)
	if err := store.RollForward(1, []byte{1}, []byte("a")); err != nil {
		t.Fatalf("RollForward: %v", err)
	}
	peer := &fakePeer{responses: []NextResponse{{Kind: KindRollBackward, Point: chainstore.Point{}}}}
	u, err := Bootstrap(context.Background(), peer, store, BootstrapOptions{}, nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if err := u.NextStep(context.Background(), nil); err != nil {
		t.Fatalf("NextStep: %v", err)
	}
	if _, ok, err := store.FindTip(); err != nil || ok {
		t.Fatalf("expected store emptied by rollback to origin, ok=%v err=%v", ok, err)
	}
}

func TestFetchBlocksPersistsAndInspects(t *testing.T) {
	store := openTestStore(t)

	orig := decodeBlockPoint
	defer func() { decodeBlockPoint = orig }()
	decodeBlockPoint = func(body []byte) (uint64, []byte, error) {
		if len(body) == 0 {
			return 0, nil, errors.New("empty body")
		}
		return uint64(body[0]), body[1:], nil
	}

	peer := &fakePeer{fetchBodies: [][]byte{{1, 0xaa}, {2, 0xbb}}}
	u, err := Bootstrap(context.Background(), peer, store, BootstrapOptions{}, nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	for i := 0; i < FetchBatchSize; i++ {
		u.buffer.RollForward(chainstore.Point{Slot: uint64(i + 1)})
	}

	var inspected []uint64
	err = u.NextStep(context.Background(), func(slot uint64, hash, body []byte) error {
		inspected = append(inspected, slot)
		return nil
	})
	if err != nil {
		t.Fatalf("NextStep (fetch_blocks): %v", err)
	}
	if len(inspected) != 2 || inspected[0] != 1 || inspected[1] != 2 {
		t.Fatalf("inspected = %v, want [1 2]", inspected)
	}
	if u.buffer.Size() != 0 {
		t.Fatalf("buffer should be cleared after fetch_blocks, size=%d", u.buffer.Size())
	}

	tip, ok, err := store.FindTip()
	if err != nil || !ok || tip.Slot != 2 {
		t.Fatalf("store tip = %v, ok=%v err=%v, want slot 2", tip, ok, err)
	}
}

func TestNextStepUnrecognizedKindIsProtocolError(t *testing.T) {
	store := openTestStore(t)
	peer := &fakePeer{responses: []NextResponse{{Kind: ResponseKind(99)}}}
	u, err := Bootstrap(context.Background(), peer, store, BootstrapOptions{}, nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	err = u.NextStep(context.Background(), nil)
	if !errors.Is(err, cdmerr.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}
