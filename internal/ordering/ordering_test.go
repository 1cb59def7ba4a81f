package ordering

import (
	"math"
	"math/rand"
	"testing"
)

func items(pairs ...interface{}) []Item {
	out := make([]Item, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Item{ID: pairs[i].(string), Key: pairs[i+1].(float64)})
	}
	return out
}

// apply applies a placement to a container and returns the new ordered set.
func apply(container []Item, id string, p Placement) []Item {
	if p.NoOp {
		return container
	}
	next := make([]Item, 0, len(container)+1)
	for _, it := range container {
		if it.ID == id {
			continue
		}
		next = append(next, it)
	}
	if p.Rekeyed != nil {
		byID := make(map[string]float64, len(p.Rekeyed))
		for _, it := range p.Rekeyed {
			byID[it.ID] = it.Key
		}
		for i := range next {
			if k, ok := byID[next[i].ID]; ok {
				next[i].Key = k
			}
		}
	}
	next = append(next, Item{ID: id, Key: p.Key})
	Sort(next)
	return next
}

func ids(container []Item) []string {
	out := make([]string, len(container))
	for i, it := range container {
		out[i] = it.ID
	}
	return out
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPlaceEmptyContainer(t *testing.T) {
	p := Place(nil, "t1", 0)
	if p.NoOp || p.Rekeyed != nil {
		t.Fatalf("expected plain placement, got %+v", p)
	}
	if p.Key != Initial() {
		t.Errorf("expected initial key %v, got %v", Initial(), p.Key)
	}
}

func TestPlaceBoundaries(t *testing.T) {
	siblings := items("a", 1024.0, "b", 2048.0, "c", 3072.0)

	tests := []struct {
		name   string
		index  int
		verify func(t *testing.T, key float64)
	}{
		{
			name:  "index zero goes below current minimum",
			index: 0,
			verify: func(t *testing.T, key float64) {
				if key >= 1024.0 {
					t.Errorf("key %v not below min 1024", key)
				}
			},
		},
		{
			name:  "end index goes above current maximum",
			index: 3,
			verify: func(t *testing.T, key float64) {
				if key <= 3072.0 {
					t.Errorf("key %v not above max 3072", key)
				}
			},
		},
		{
			name:  "middle index takes the midpoint",
			index: 1,
			verify: func(t *testing.T, key float64) {
				if key <= 1024.0 || key >= 2048.0 {
					t.Errorf("key %v not strictly between neighbors", key)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Place(siblings, "x", tt.index)
			if p.NoOp {
				t.Fatal("unexpected no-op")
			}
			if p.Rekeyed != nil {
				t.Fatal("unexpected rebalance")
			}
			tt.verify(t, p.Key)
		})
	}
}

func TestPlaceNoOp(t *testing.T) {
	siblings := items("a", 1024.0, "b", 2048.0, "c", 3072.0)

	tests := []struct {
		name  string
		id    string
		index int
		noop  bool
	}{
		{"same position is a no-op", "b", 1, true},
		{"first stays first", "a", 0, true},
		{"last stays last", "c", 2, true},
		{"actual move is not a no-op", "a", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Place(siblings, tt.id, tt.index)
			if p.NoOp != tt.noop {
				t.Errorf("NoOp = %v, want %v", p.NoOp, tt.noop)
			}
			if tt.noop {
				var current float64
				for _, s := range siblings {
					if s.ID == tt.id {
						current = s.Key
					}
				}
				if p.Key != current {
					t.Errorf("no-op key %v differs from current %v", p.Key, current)
				}
			}
		})
	}
}

func TestPlaceCrossContainer(t *testing.T) {
	siblings := items("a", 1024.0, "b", 2048.0)

	p := Place(siblings, "incoming", 1)
	if p.NoOp {
		t.Fatal("cross-container move can never be a no-op")
	}
	if p.Key <= 1024.0 || p.Key >= 2048.0 {
		t.Errorf("key %v not between existing siblings", p.Key)
	}
}

func TestPlaceClampsIndex(t *testing.T) {
	siblings := items("a", 1024.0, "b", 2048.0)

	if p := Place(siblings, "x", -5); p.Key >= 1024.0 {
		t.Errorf("negative index should clamp to front, got key %v", p.Key)
	}
	if p := Place(siblings, "x", 99); p.Key <= 2048.0 {
		t.Errorf("oversized index should clamp to end, got key %v", p.Key)
	}
}

func TestPlaceDeterministic(t *testing.T) {
	siblings := items("a", 1024.0, "b", 2048.0, "c", 3072.0)

	first := Place(siblings, "x", 2)
	second := Place(siblings, "x", 2)
	if first.Key != second.Key || first.NoOp != second.NoOp {
		t.Errorf("placement not deterministic: %+v vs %+v", first, second)
	}
}

func TestBetweenPrecisionExhaustion(t *testing.T) {
	a := 1024.0
	b := math.Nextafter(a, math.MaxFloat64)

	if _, ok := Between(a, b); ok {
		t.Error("expected no representable midpoint between adjacent floats")
	}
	if mid, ok := Between(1024.0, 2048.0); !ok || mid != 1536.0 {
		t.Errorf("expected midpoint 1536, got %v (ok=%v)", mid, ok)
	}
}

// ==================== REBALANCE ====================

func TestRepeatedBoundaryInsertionTriggersRebalance(t *testing.T) {
	container := items("first", 1024.0, "last", 2048.0)

	rebalanced := false
	var inserted []string
	for i := 0; i < 200 && !rebalanced; i++ {
		id := "t" + string(rune('A'+i%26)) + string(rune('0'+i/26))
		p := Place(container, id, 1)
		if p.Rekeyed != nil {
			rebalanced = true

			if len(p.Rekeyed) != len(container) {
				t.Fatalf("rebalance rekeyed %d items, container has %d", len(p.Rekeyed), len(container))
			}
			for j, it := range p.Rekeyed {
				want := Step * float64(j+1)
				if it.Key != want {
					t.Errorf("rekeyed[%d] = %v, want integer-spaced %v", j, it.Key, want)
				}
				if it.ID != container[j].ID {
					t.Errorf("rebalance reordered siblings: got %s at %d, want %s", it.ID, j, container[j].ID)
				}
			}
		}
		container = apply(container, id, p)
		inserted = append(inserted, id)
	}

	if !rebalanced {
		t.Fatal("200 boundary insertions never exhausted precision")
	}

	// Order must survive the rebalance: first, then insertions newest
	// first, then last.
	got := ids(container)
	want := []string{"first"}
	for i := len(inserted) - 1; i >= 0; i-- {
		want = append(want, inserted[i])
	}
	want = append(want, "last")
	if !sameIDs(got, want) {
		t.Errorf("order corrupted after rebalance:\n got %v\nwant %v", got, want)
	}

	// Keys must remain a strict total order.
	for i := 1; i < len(container); i++ {
		if container[i-1].Key >= container[i].Key {
			t.Fatalf("keys not strictly increasing at %d: %v >= %v", i, container[i-1].Key, container[i].Key)
		}
	}
}

// ==================== MOVE SEQUENCE PROPERTY ====================

// Any sequence of moves must keep the keyed order identical to a plain
// remove-and-insert reference model applying the same requested indexes.
func TestMoveSequencesMatchReferenceModel(t *testing.T) {
	container := items("a", 1024.0, "b", 2048.0, "c", 3072.0, "d", 4096.0, "e", 5120.0, "f", 6144.0)
	reference := ids(container)

	rng := rand.New(rand.NewSource(42))
	for step := 0; step < 500; step++ {
		id := reference[rng.Intn(len(reference))]
		target := rng.Intn(len(reference) + 1)

		p := Place(container, id, target)
		container = apply(container, id, p)

		next := make([]string, 0, len(reference))
		for _, r := range reference {
			if r != id {
				next = append(next, r)
			}
		}
		if target > len(next) {
			target = len(next)
		}
		next = append(next[:target], append([]string{id}, next[target:]...)...)
		reference = next

		if got := ids(container); !sameIDs(got, reference) {
			t.Fatalf("step %d: keyed order diverged from reference\n got %v\nwant %v", step, got, reference)
		}
	}
}

func TestSpaced(t *testing.T) {
	keys := Spaced(4)
	want := []float64{1024, 2048, 3072, 4096}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Spaced(4)[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestSortBreaksTiesByID(t *testing.T) {
	set := items("b", 100.0, "a", 100.0)
	Sort(set)
	if set[0].ID != "a" || set[1].ID != "b" {
		t.Errorf("tied keys must order by id, got %v", ids(set))
	}
}
