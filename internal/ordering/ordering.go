// Package ordering computes order keys for columns and for tasks within a
// column. Keys come from a dense float64 domain: inserting between two
// neighbors takes their midpoint, so a move never rewrites the keys of
// untouched siblings. When two neighbors become so close that no midpoint
// is representable, the container is rebalanced with integer-spaced keys
// and the insertion is applied on top.
package ordering

import "sort"

// Step is the gap between keys assigned on rebalance and the distance used
// when inserting before the first or after the last sibling.
const Step = 1024.0

// Item pairs an entity id with its current order key.
type Item struct {
	ID  string
	Key float64
}

// Placement is the outcome of a move computation.
type Placement struct {
	// Key is the order key the moved item must take.
	Key float64
	// NoOp is set when the move leaves the item exactly where it is; the
	// caller should skip persistence entirely.
	NoOp bool
	// Rekeyed holds every sibling with its replacement key when a
	// rebalance was required, in container order. Nil otherwise. The moved
	// item itself is not included.
	Rekeyed []Item
}

// Initial returns the key for the first item placed in an empty container.
func Initial() float64 {
	return Step
}

// KeyBefore returns a key ordered before min.
func KeyBefore(min float64) float64 {
	return min - Step
}

// KeyAfter returns a key ordered after max.
func KeyAfter(max float64) float64 {
	return max + Step
}

// Between returns a key strictly between a and b. The second return is
// false when float64 precision is exhausted and no key strictly between
// the two exists, which signals the caller to rebalance.
func Between(a, b float64) (float64, bool) {
	mid := a + (b-a)/2
	if mid <= a || mid >= b {
		return 0, false
	}
	return mid, true
}

// Spaced returns n integer-spaced keys starting at Step.
func Spaced(n int) []float64 {
	keys := make([]float64, n)
	for i := range keys {
		keys[i] = Step * float64(i+1)
	}
	return keys
}

// Sort orders items by key ascending, breaking ties by id so the sequence
// is always a strict total order.
func Sort(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Key != items[j].Key {
			return items[i].Key < items[j].Key
		}
		return items[i].ID < items[j].ID
	})
}

// Place computes the key for itemID landing at targetIndex among siblings.
// siblings must be the target container's items sorted by key ascending;
// itemID may be absent from them (a cross-container move). targetIndex is
// clamped to the valid range. The computation is deterministic, so a retry
// with the same inputs yields the same placement.
func Place(siblings []Item, itemID string, targetIndex int) Placement {
	current := -1
	for i, s := range siblings {
		if s.ID == itemID {
			current = i
			break
		}
	}

	// Work against the sequence without the moved item, so targetIndex
	// means "index after the move" for same-container moves too.
	rest := siblings
	if current >= 0 {
		rest = make([]Item, 0, len(siblings)-1)
		rest = append(rest, siblings[:current]...)
		rest = append(rest, siblings[current+1:]...)
	}

	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(rest) {
		targetIndex = len(rest)
	}

	if current >= 0 && targetIndex == current {
		return Placement{Key: siblings[current].Key, NoOp: true}
	}

	if key, ok := keyAt(rest, targetIndex); ok {
		return Placement{Key: key}
	}

	// Precision exhausted between the target neighbors: reassign
	// integer-spaced keys to every sibling in current order, then insert.
	rekeyed := make([]Item, len(rest))
	for i, k := range Spaced(len(rest)) {
		rekeyed[i] = Item{ID: rest[i].ID, Key: k}
	}
	key, _ := keyAt(rekeyed, targetIndex)
	return Placement{Key: key, Rekeyed: rekeyed}
}

// keyAt picks the key for an insertion at index into the ordered sequence.
func keyAt(ordered []Item, index int) (float64, bool) {
	if len(ordered) == 0 {
		return Initial(), true
	}
	if index <= 0 {
		return KeyBefore(ordered[0].Key), true
	}
	if index >= len(ordered) {
		return KeyAfter(ordered[len(ordered)-1].Key), true
	}
	return Between(ordered[index-1].Key, ordered[index].Key)
}
