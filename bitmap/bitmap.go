package bitmap

import (
	"github.com/joeycumines/go-qdisc/alphabeta"
)

// Bitmap is the public façade over the Cluster/InternalNode tree:
// a concurrent hierarchical bitmap supporting O(log56 N) indexed access,
// with structural mutation (insert/remove/grow/shrink) serialized as
// alpha operations and single-bit read/write serialized as beta
// operations against the same [alphabeta.Lock], so that a structural
// shift never races a concurrent bit flip.
type Bitmap struct {
	lock *alphabeta.Lock
	root node
}

// New creates an empty Bitmap with the given initial logical length.
func New(initialLength int) *Bitmap {
	b := &Bitmap{lock: alphabeta.New()}
	b.root = NewCluster(initialLength)
	return b
}

// Length returns the current logical bit length. Reading length takes no
// lock: it is a beta-safe, racy-but-monotonic-under-a-single-writer read
// matching the other index-bearing accessors.
func (b *Bitmap) Length() int {
	return b.root.BitSize()
}

// IsEmpty reports whether every live bit is clear.
func (b *Bitmap) IsEmpty() bool {
	return b.root.IsEmpty()
}

// PopCount returns the total number of set bits.
func (b *Bitmap) PopCount() int {
	return b.root.PopCount()
}

// IsBitSet reads logical bit i under beta access.
func (b *Bitmap) IsBitSet(i int) (bool, error) {
	ticket, err := b.lock.EnterBeta(nil, -1)
	if err != nil {
		return false, err
	}
	defer b.lock.ExitBeta(ticket)
	return b.root.IsBitSet(i), nil
}

// GetToken returns the guard token covering logical bit i, for use with
// a subsequent TryUpdateBit.
func (b *Bitmap) GetToken(i int) (uint8, error) {
	ticket, err := b.lock.EnterBeta(nil, -1)
	if err != nil {
		return 0, err
	}
	defer b.lock.ExitBeta(ticket)
	return b.root.GetToken(i), nil
}

// UpdateBit unconditionally sets logical bit i, under beta access.
func (b *Bitmap) UpdateBit(i int, v bool) error {
	ticket, err := b.lock.EnterBeta(nil, -1)
	if err != nil {
		return err
	}
	defer b.lock.ExitBeta(ticket)
	b.root.UpdateBit(i, v)
	return nil
}

// TryUpdateBit performs a token-guarded conditional update of logical
// bit i under beta access. Returns false on token mismatch (the caller
// lost the race and should re-read and retry).
func (b *Bitmap) TryUpdateBit(i int, token uint8, v bool) (bool, error) {
	ticket, err := b.lock.EnterBeta(nil, -1)
	if err != nil {
		return false, err
	}
	defer b.lock.ExitBeta(ticket)
	return b.root.TryUpdateBit(i, token, v), nil
}

// InsertBitAt inserts a bit at logical index i, shifting everything from
// i onward up by one and growing the logical length by one bit. This is
// an alpha (structural) operation.
func (b *Bitmap) InsertBitAt(i int, v bool) error {
	ticket, err := b.lock.EnterAlpha(nil, -1)
	if err != nil {
		return err
	}
	defer b.lock.ExitAlpha(ticket)

	// Insertion grows the logical length by one bit; growing the root's
	// size first guarantees the subsequent shift has a free top slot, so
	// nothing is ever actually discarded by the overflow path below.
	b.growRootLocked(1)
	b.root.InsertBitAt(i, v)
	return nil
}

// RemoveBitAt removes the bit at logical index i, shifting everything
// above it down by one. If shrink is true the tree's capacity is also
// trimmed to fit the new length (replacing a degenerate single-child
// root with that child, per the structural collapse rule); otherwise the
// freed capacity is left in place for reuse by a future insert. This is
// an alpha (structural) operation.
func (b *Bitmap) RemoveBitAt(i int, shrink bool) (removed bool, err error) {
	ticket, err := b.lock.EnterAlpha(nil, -1)
	if err != nil {
		return false, err
	}
	defer b.lock.ExitAlpha(ticket)

	removed = b.root.RemoveBitAt(i, false)
	if shrink {
		b.root.Shrink(1)
		b.collapseRootLocked()
	}
	return removed, nil
}

// Grow increases the logical length by additionalBits, allocating tree
// structure as needed. This is an alpha (structural) operation.
func (b *Bitmap) Grow(additionalBits int) error {
	ticket, err := b.lock.EnterAlpha(nil, -1)
	if err != nil {
		return err
	}
	defer b.lock.ExitAlpha(ticket)

	b.growRootLocked(additionalBits)
	return nil
}

// Shrink decreases the logical length by removalBits, collapsing
// degenerate internal levels. This is an alpha (structural) operation.
func (b *Bitmap) Shrink(removalBits int) error {
	ticket, err := b.lock.EnterAlpha(nil, -1)
	if err != nil {
		return err
	}
	defer b.lock.ExitAlpha(ticket)

	b.root.Shrink(removalBits)
	b.collapseRootLocked()
	return nil
}

// RefreshState forces a full re-scan of the tree's EMPTY/FULL tracking
// starting at the given logical index. Exposed for callers (such as the
// GFQ qdisc) that perform a burst of low-level structural edits and want
// a single authoritative resync rather than per-edit incremental CAS
// traffic.
func (b *Bitmap) RefreshState(start int) error {
	ticket, err := b.lock.EnterAlpha(nil, -1)
	if err != nil {
		return err
	}
	defer b.lock.ExitAlpha(ticket)

	b.root.RefreshState(start)
	return nil
}

// growRootLocked grows the tree by additionalBits, wrapping the current
// root in a new InternalNode level whenever the root is already at
// capacity. Callers must hold the alpha ticket.
func (b *Bitmap) growRootLocked(additionalBits int) {
	remaining := additionalBits
	for remaining > 0 {
		got := b.root.Grow(remaining)
		remaining -= got
		if remaining <= 0 {
			return
		}
		// Root is at capacity and still has unabsorbed bits: wrap it in
		// a new level so the old root becomes the first child.
		wrapped := newInternalNode([]node{b.root})
		wrapped.parent = b
		b.root = wrapped
	}
}

// collapseRootLocked replaces the root with its sole child, repeatedly,
// whenever the root has degenerated to a single child: the same collapse
// an InternalNode applies to one of its own children, applied at the root
// since the root has no parent to do the replacing for it.
func (b *Bitmap) collapseRootLocked() {
	for {
		in, ok := b.root.(*InternalNode)
		if !ok {
			return
		}
		child, ok := in.singleChild()
		if !ok {
			return
		}
		b.root = child
	}
}
