package upstream

import "github.com/klingon-exchange/cardaminal/internal/chainstore"

// RollbackBuffer is a bounded FIFO of header points seen via
// RollForward whose block bodies have not yet been fetched. Its
// capacity governs the chain-sync/block-fetch batch size: the
// follower switches to block-fetch once Size() reaches
// FetchBatchSize.
type RollbackBuffer struct {
	points []chainstore.Point
}

// RollForward appends a point to the tail of the buffer.
func (b *RollbackBuffer) RollForward(p chainstore.Point) {
	b.points = append(b.points, p)
}

// RollBack applies a rollback target to the buffer. It reports whether
// a persisted roll-back must still be issued to the block store: if
// the target point is inside (or at the head of) the buffer, the
// buffer is truncated in place and no persisted roll-back is needed;
// if the target is older than the oldest buffered point (or the
// buffer is empty), the buffer is cleared and the caller must issue a
// persisted roll-back to the block store for the target slot.
func (b *RollbackBuffer) RollBack(target chainstore.Point) (needsPersistedRollback bool) {
	if len(b.points) == 0 || target.Slot < b.points[0].Slot {
		b.points = nil
		return true
	}
	kept := b.points[:0:0]
	for _, p := range b.points {
		if p.Slot <= target.Slot {
			kept = append(kept, p)
		}
	}
	b.points = kept
	return false
}

// Oldest returns the earliest buffered point, or the zero Point if
// empty.
func (b *RollbackBuffer) Oldest() chainstore.Point {
	if len(b.points) == 0 {
		return chainstore.Point{}
	}
	return b.points[0]
}

// Latest returns the most recently buffered point, or the zero Point
// if empty.
func (b *RollbackBuffer) Latest() chainstore.Point {
	if len(b.points) == 0 {
		return chainstore.Point{}
	}
	return b.points[len(b.points)-1]
}

// Size returns the current buffered count.
func (b *RollbackBuffer) Size() int {
	return len(b.points)
}

// Clear empties the buffer, used once fetch_blocks has consumed the
// whole batch.
func (b *RollbackBuffer) Clear() {
	b.points = nil
}
