package upstream

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/chainstore"
	"github.com/klingon-exchange/cardaminal/pkg/logging"
)

// FetchBatchSize is the rollback-buffer size threshold at which
// NextStep switches from chain-sync (rollChain) to block-fetch
// (fetchBlocks).
const FetchBatchSize = 10

// BootstrapOptions configures Bootstrap's intersection fallback.
type BootstrapOptions struct {
	// After is the configured fallback intersection point used when
	// the block store has no recent points of its own (a fresh chain).
	After *chainstore.Point
}

// Upstream is the chain follower. One instance drives one session
// against one configured upstream node.
type Upstream struct {
	peer  PeerClient
	store *chainstore.Store
	log   *logging.Logger

	buffer      RollbackBuffer
	startSlot   uint64
	currentSlot *uint64
	tip         *Tip
	isTip       bool
}

// Inspector is called once per durably-stored block during a
// block-fetch batch, in strictly ascending slot order.
type Inspector func(slot uint64, hash []byte, body []byte) error

// Bootstrap starts a follower session: propose up to 5 recent points
// from the block store (or the configured After point, or Origin),
// send FindIntersect, and record the resulting start slot.
func Bootstrap(ctx context.Context, peer PeerClient, store *chainstore.Store, opts BootstrapOptions, log *logging.Logger) (*Upstream, error) {
	if log == nil {
		log = logging.Default()
	}
	log = log.Component("upstream")

	candidates, err := store.IntersectOptions(5)
	if err != nil {
		return nil, fmt.Errorf("upstream: bootstrap intersect_options: %w", err)
	}
	if len(candidates) == 0 {
		if opts.After != nil {
			candidates = []chainstore.Point{*opts.After}
		}
		// else: candidates stays empty, meaning "propose Origin" below.
	}

	found, ok, tip, err := peer.FindIntersect(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("upstream: bootstrap find_intersect: %w", err)
	}

	u := &Upstream{
		peer:  peer,
		store: store,
		log:   log,
		tip:   &tip,
	}
	if ok {
		u.startSlot = found.Slot
	}
	log.Info("bootstrapped", "start_slot", u.startSlot, "tip_slot", tip.Point.Slot)
	return u, nil
}

// Tip returns the most recently observed upstream tip.
func (u *Upstream) Tip() Tip {
	if u.tip == nil {
		return Tip{}
	}
	return *u.tip
}

// CurrentSlot returns the slot of the most recently processed header,
// if any.
func (u *Upstream) CurrentSlot() (uint64, bool) {
	if u.currentSlot == nil {
		return 0, false
	}
	return *u.currentSlot, true
}

// IsAtTip reports whether the last RequestNext response was Await (the
// follower has caught up to the reported tip).
func (u *Upstream) IsAtTip() bool {
	return u.isTip
}

// Close releases the underlying peer session. An individual step is
// cancelled through the context passed to NextStep, which reaches the
// peer's RequestNext and FetchRange calls.
func (u *Upstream) Close() error {
	return u.peer.Close()
}

// NextStep performs one unit of work: a chain-sync step if the
// rollback buffer is below FetchBatchSize, or a block-fetch batch
// otherwise. inspect is invoked once per newly-stored block in
// ascending slot order; it is never invoked for blocks from a
// rolled-back fork.
func (u *Upstream) NextStep(ctx context.Context, inspect Inspector) error {
	if u.buffer.Size() < FetchBatchSize {
		return u.rollChain(ctx)
	}
	return u.fetchBlocks(ctx, inspect)
}

func (u *Upstream) rollChain(ctx context.Context) error {
	resp, err := u.peer.RequestNext(ctx)
	if err != nil {
		return fmt.Errorf("upstream: roll_chain: %w", err)
	}

	switch resp.Kind {
	case KindRollForward:
		u.buffer.RollForward(resp.Point)
		u.tip = &resp.Tip
		u.isTip = false
		slot := resp.Point.Slot
		u.currentSlot = &slot
		u.log.Debug("roll forward", "slot", slot)

	case KindRollBackward:
		if resp.Point.IsOrigin() {
			if err := u.store.RollBackOrigin(); err != nil {
				return fmt.Errorf("upstream: roll_back_origin: %w", err)
			}
			u.buffer.Clear()
			u.startSlot = 0
			u.currentSlot = nil
			u.isTip = false
			u.log.Info("rolled back to origin")
			return nil
		}

		needsPersisted := u.buffer.RollBack(resp.Point)
		if needsPersisted {
			if _, err := u.store.RollBack(resp.Point.Slot); err != nil {
				return fmt.Errorf("upstream: roll_back(%d): %w", resp.Point.Slot, err)
			}
		}
		if resp.Point.Slot < u.startSlot {
			u.startSlot = resp.Point.Slot
		}
		slot := resp.Point.Slot
		u.currentSlot = &slot
		u.tip = &resp.Tip
		u.isTip = false
		u.log.Info("rolled back", "slot", resp.Point.Slot, "persisted", needsPersisted)

	case KindAwait:
		u.isTip = true
		u.log.Debug("await")

	default:
		return fmt.Errorf("upstream: unrecognized response kind %d: %w", resp.Kind, cdmerr.ErrProtocol)
	}
	return nil
}

func (u *Upstream) fetchBlocks(ctx context.Context, inspect Inspector) error {
	oldest, latest := u.buffer.Oldest(), u.buffer.Latest()

	bodies, err := u.peer.FetchRange(ctx, oldest, latest)
	if err != nil {
		return fmt.Errorf("upstream: fetch_blocks: %w", err)
	}

	for _, body := range bodies {
		slot, hash, err := decodeBlockPoint(body)
		if err != nil {
			return fmt.Errorf("upstream: decode block: %w", cdmerr.ErrProtocol)
		}
		if err := u.store.RollForward(slot, hash, body); err != nil {
			return fmt.Errorf("upstream: roll_forward(%d): %w", slot, err)
		}
		if inspect != nil {
			if err := inspect(slot, hash, body); err != nil {
				return fmt.Errorf("upstream: inspect(%d): %w", slot, err)
			}
		}
	}
	u.buffer.Clear()
	u.log.Debug("fetched blocks", "count", len(bodies))
	return nil
}

// decodeBlockPoint extracts (slot, hash) from a raw block body. Like
// decodeHeaderPoint, the concrete era-aware decode is gouroboros's
// responsibility; this seam keeps block decoding isolated from the
// control-flow logic above so it can be exercised with synthetic
// bodies in tests.
var decodeBlockPoint = func(body []byte) (slot uint64, hash []byte, err error) {
	return decodeBlockPointGouroboros(body)
}
