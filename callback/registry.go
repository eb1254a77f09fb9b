// Package callback is the Callback Registry (spec.md C7): an ordered list
// of functions the acquisition engine invokes once per scan, or at a
// caller-specified sub-rate, in registration order.
//
// Registration, deregistration, and frequency changes are queued on a
// single-writer channel and applied by the RT thread at the top of each
// iteration, per spec.md §9's rewrite of the priority-inversion risk
// (SPEC_FULL.md REDESIGN FLAGS): this replaces the original's mutex
// checked with a try-lock-and-skip in the RT loop with a design that
// never gives the RT thread anything to block on.
package callback

import (
	"github.com/dchristini-lab/apdcore/ctrlfifo"
	"github.com/dchristini-lab/apdcore/errs"
)

// Func is one registered callback; scanIndex is the scan at which it fires.
type Func func(scanIndex uint64)

type entry struct {
	id            uint64
	active        bool
	fn            Func
	periodUS      uint64 // 0 means "every scan"
	nextFireIndex uint64
}

type reqKind int

const (
	reqRegister reqKind = iota
	reqUnregister
	reqSetActive
	reqSetFrequency
)

type request struct {
	kind   reqKind
	id     uint64
	fn     Func
	active bool
	freqHz uint64
}

// Registry is the C7 Callback Registry.
type Registry struct {
	entries []entry
	nextID  uint64
	pending chan request
	busy    bool
}

// NewRegistry creates an empty registry. backlog bounds how many pending
// requests may queue before a caller on another goroutine blocks waiting
// for room; 0 picks a sensible default.
func NewRegistry(backlog int) *Registry {
	if backlog <= 0 {
		backlog = 64
	}
	return &Registry{pending: make(chan request, backlog)}
}

// SetBusy marks the registry as initializing or tearing down, per spec.md
// §4.6: registration is rejected outright, not merely queued, while busy.
func (r *Registry) SetBusy(busy bool) { r.busy = busy }

// Register enqueues fn to be appended to the registry — so registration
// order equals call order (spec.md §5) — the next time DrainPending runs.
// It returns the id the entry will be given. Safe to call from any
// goroutine other than the RT thread mid-iteration.
func (r *Registry) Register(fn Func) (uint64, error) {
	if r.busy {
		return 0, errs.NotReady
	}
	r.nextID++
	id := r.nextID
	r.pending <- request{kind: reqRegister, id: id, fn: fn, active: true}
	return id, nil
}

// Unregister enqueues removal of id.
func (r *Registry) Unregister(id uint64) {
	r.pending <- request{kind: reqUnregister, id: id}
}

// SetActive enqueues an active-flag change for id.
func (r *Registry) SetActive(id uint64, active bool) {
	r.pending <- request{kind: reqSetActive, id: id, active: active}
}

// SetFrequency enqueues a callback-frequency change for id: freqHz is
// normalized exactly as a sampling rate is (spec.md §4.6 reuses the same
// clamp-and-snap rule), then converted to a period in microseconds.
func (r *Registry) SetFrequency(id uint64, freqHz uint64) {
	r.pending <- request{kind: reqSetFrequency, id: id, freqHz: freqHz}
}

// DrainPending applies every queued request without blocking. The RT loop
// calls this once at the top of each iteration, before Walk.
func (r *Registry) DrainPending() {
	for {
		select {
		case req := <-r.pending:
			r.apply(req)
		default:
			return
		}
	}
}

func (r *Registry) apply(req request) {
	switch req.kind {
	case reqRegister:
		r.entries = append(r.entries, entry{id: req.id, active: req.active, fn: req.fn})
	case reqUnregister:
		r.removeByID(req.id)
	case reqSetActive:
		if e := r.find(req.id); e != nil {
			e.active = req.active
		}
	case reqSetFrequency:
		if e := r.find(req.id); e != nil {
			hz := ctrlfifo.NormalizeSamplingRate(req.freqHz)
			if hz > 0 {
				e.periodUS = 1_000_000 / hz
			}
		}
	}
}

func (r *Registry) find(id uint64) *entry {
	for i := range r.entries {
		if r.entries[i].id == id {
			return &r.entries[i]
		}
	}
	return nil
}

func (r *Registry) removeByID(id uint64) {
	for i := range r.entries {
		if r.entries[i].id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Walk invokes every active, due entry in registration order (spec.md
// §4.6, §5): an entry with period 0 fires every scan; one with a nonzero
// period fires once its next-fire index has been reached, then
// reschedules by periodUS / (nanosPerScan/1000) scans, integer division
// exactly as spec.md §4.6 specifies (not periodUS*1000/nanosPerScan,
// which rounds differently).
func (r *Registry) Walk(scanIndex, nanosPerScan uint64) {
	for i := range r.entries {
		e := &r.entries[i]
		if !e.active {
			continue
		}
		if e.periodUS != 0 && e.nextFireIndex > scanIndex {
			continue
		}
		e.fn(scanIndex)
		if e.periodUS != 0 {
			if denom := nanosPerScan / 1000; denom > 0 {
				e.nextFireIndex = scanIndex + e.periodUS/denom
			}
		}
	}
}

// Len reports how many entries are currently registered.
func (r *Registry) Len() int { return len(r.entries) }
