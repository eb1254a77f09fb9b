// Package heap implements the binary min-heap used to order scheduled
// commands by scan index (spec.md C1).
//
// This is a direct port of the array-based binary heap from bheap.c
// (itself credited there to Shane Saunders): a 1-indexed slice of
// (id, key) pairs plus a position side-array for O(log n) delete-by-id
// and decrease-key. No allocation happens after New.
package heap

import "github.com/dchristini-lab/apdcore/errs"

// Key is the 64-bit sort key; scan indices fit comfortably.
type Key = uint64

type node struct {
	id  int64
	key Key
}

// Heap is a min-heap over a fixed universe of ids in [0, capacity).
// Duplicate keys are permitted.
type Heap struct {
	a   []node // a[1..n]; a[0] is unused padding, as in bheap.c
	pos []int  // pos[id] = index into a, or 0 if id is absent
	n   int
	cap int
}

// New allocates a heap that can hold up to capacity items with ids in
// [0, capacity).
func New(capacity int) *Heap {
	return &Heap{
		a:   make([]node, capacity+1),
		pos: make([]int, capacity),
		cap: capacity,
	}
}

// Len reports the number of items currently in the heap.
func (h *Heap) Len() int { return h.n }

// Has reports whether id is currently present in the heap.
func (h *Heap) Has(id int64) bool {
	return id >= 0 && int(id) < h.cap && h.pos[id] > 0
}

// Min returns the id with the minimum key, and false if the heap is empty.
func (h *Heap) Min() (int64, bool) {
	if h.n == 0 {
		return 0, false
	}
	return h.a[1].id, true
}

// MinKey returns the key of the minimum item, and false if the heap is empty.
func (h *Heap) MinKey() (Key, bool) {
	if h.n == 0 {
		return 0, false
	}
	return h.a[1].key, true
}

// Insert adds id with the given key. It returns errs.NoSpace if the heap
// is full and errs.InvalidArgument if id is out of range or already present.
func (h *Heap) Insert(id int64, key Key) error {
	if id < 0 || int(id) >= h.cap {
		return errs.InvalidArgument
	}
	if h.n >= h.cap {
		return errs.NoSpace
	}
	if h.pos[id] > 0 {
		return errs.InvalidArgument
	}
	h.n++
	i := h.n
	for i >= 2 {
		j := i / 2
		y := h.a[j]
		if key >= y.key {
			break
		}
		h.a[i] = y
		h.pos[y.id] = i
		i = j
	}
	h.a[i] = node{id: id, key: key}
	h.pos[id] = i
	return nil
}

// Delete removes id from the heap. It is a no-op if id is not present.
func (h *Heap) Delete(id int64) {
	if !h.Has(id) {
		return
	}
	n := h.n - 1
	p := h.pos[id]
	h.pos[id] = 0
	h.n = n
	if p > n {
		return
	}
	last := h.a[n+1]
	if h.a[p].key <= last.key {
		h.a[p] = last
		h.pos[last.id] = p
		h.siftDown(p, n)
	} else {
		// sift up via insert: temporarily shrink, then re-insert.
		h.n = p - 1
		h.insertExisting(last.id, last.key)
		h.n = n
	}
}

// DecreaseKey lowers id's key and relocates it. Behavior is undefined if
// newKey is not less than or equal to the current key.
func (h *Heap) DecreaseKey(id int64, newKey Key) {
	if !h.Has(id) {
		return
	}
	n := h.n
	h.n = h.pos[id] - 1
	h.pos[id] = 0
	h.insertExisting(id, newKey)
	h.n = n
}

// insertExisting is Insert without the "already present" guard, used
// internally by Delete/DecreaseKey which manage h.pos themselves.
func (h *Heap) insertExisting(id int64, key Key) {
	h.n++
	i := h.n
	for i >= 2 {
		j := i / 2
		y := h.a[j]
		if key >= y.key {
			break
		}
		h.a[i] = y
		h.pos[y.id] = i
		i = j
	}
	h.a[i] = node{id: id, key: key}
	h.pos[id] = i
}

// siftDown considers the sub-tree rooted at p (bounded by q) and sinks the
// root, pulling the smaller child up, until the heap property holds.
func (h *Heap) siftDown(p, q int) {
	y := h.a[p]
	j := p
	k := 2 * p
	for k <= q {
		z := h.a[k]
		if k < q && z.key > h.a[k+1].key {
			k++
			z = h.a[k]
		}
		if y.key <= z.key {
			break
		}
		h.a[j] = z
		h.pos[z.id] = j
		j = k
		k = 2 * j
	}
	h.a[j] = y
	h.pos[y.id] = j
}

// DeleteMin removes and returns the id with the minimum key.
func (h *Heap) DeleteMin() (int64, bool) {
	id, ok := h.Min()
	if !ok {
		return 0, false
	}
	h.Delete(id)
	return id, true
}

// Ops is the narrow interface sched.Handle depends on, mirroring the
// original's heap_info_t vtable indirection over bheap.c/bheap.h: it lets
// a different priority-queue implementation stand in for Heap without
// touching the command scheduler.
type Ops interface {
	Insert(id int64, key Key) error
	DeleteMin() (int64, bool)
	Delete(id int64)
	DecreaseKey(id int64, newKey Key)
	MinKey() (Key, bool)
	Len() int
}

var _ Ops = (*Heap)(nil)
