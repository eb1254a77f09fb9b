package heap

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/dchristini-lab/apdcore/errs"
)

func TestInsertDeleteMinNonDecreasing(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	const n = 500
	h := New(n)
	keys := make([]Key, n)
	for i := 0; i < n; i++ {
		k := Key(r.Intn(10000))
		keys[i] = k
		if err := h.Insert(int64(i), k); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var got []Key
	for h.Len() > 0 {
		_, k := mustDeleteMin(t, h)
		got = append(got, k)
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("delete-min order not non-decreasing at %d: %v then %v", i, got[i-1], got[i])
		}
	}
	if len(got) != n {
		t.Fatalf("expected %d items, got %d", n, len(got))
	}
}

func mustDeleteMin(t *testing.T, h *Heap) (int64, Key) {
	t.Helper()
	k, ok := h.MinKey()
	if !ok {
		t.Fatal("heap unexpectedly empty")
	}
	id, ok := h.DeleteMin()
	if !ok {
		t.Fatal("delete-min failed")
	}
	return id, k
}

func TestInsertFullReturnsNoSpace(t *testing.T) {
	h := New(2)
	if err := h.Insert(0, 1); err != nil {
		t.Fatal(err)
	}
	if err := h.Insert(1, 2); err != nil {
		t.Fatal(err)
	}
	if err := h.Insert(0, 3); err != errs.NoSpace {
		t.Fatalf("expected errs.NoSpace inserting into a full heap, got %v", err)
	}
}

func TestDeleteByID(t *testing.T) {
	h := New(10)
	for i := 0; i < 10; i++ {
		if err := h.Insert(int64(i), Key(10-i)); err != nil {
			t.Fatal(err)
		}
	}
	h.Delete(9) // the id holding the minimum key (1)
	min, ok := h.Min()
	if !ok || min != 8 {
		t.Fatalf("expected new min id 8 (key 2), got %d ok=%v", min, ok)
	}
}

func TestDecreaseKey(t *testing.T) {
	h := New(5)
	for i := 0; i < 5; i++ {
		_ = h.Insert(int64(i), Key(100+i))
	}
	h.DecreaseKey(4, 0)
	id, ok := h.Min()
	if !ok || id != 4 {
		t.Fatalf("expected id 4 after decrease-key, got %d", id)
	}
}

func TestDuplicateKeysAllowed(t *testing.T) {
	h := New(3)
	_ = h.Insert(0, 5)
	_ = h.Insert(1, 5)
	_ = h.Insert(2, 5)
	seen := map[int64]bool{}
	for h.Len() > 0 {
		id, _ := h.DeleteMin()
		if seen[id] {
			t.Fatalf("id %d returned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct ids, got %d", len(seen))
	}
}
