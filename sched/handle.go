// Package sched is the Command Scheduler (spec.md C8): a per-handle queue
// of time-stamped commands (AO-write, AI-read, callback) ordered by
// scheduled scan index in a min-heap, drained once per RT iteration.
package sched

import (
	"math"

	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/errs"
	"github.com/dchristini-lab/apdcore/heap"
)

// CmdType tags a Command's payload (spec.md §3's tagged union).
type CmdType int

const (
	AOWrite CmdType = iota
	AIRead
	CmdCallback
)

// Command is one scheduled action. WhenMS is relative to the scan at
// which Register/RegisterRT is called. The caller guarantees the Command
// stays alive until it fires (spec.md §3).
type Command struct {
	Type   CmdType
	WhenMS float64

	AO    aio.Chanspec
	AORaw aio.Raw

	AI aio.Chanspec
	// AIOut receives the raw sample read for an AIRead command — Go's
	// closure-based stand-in for the original's out-pointer payload.
	AIOut func(aio.Raw)

	Fn func()
}

// Driver is the narrow AIO boundary the scheduler drives commands
// against: an immediate write and an immediate (non-delayed) read.
// *aio.Facade satisfies this directly.
type Driver interface {
	Write(cs aio.Chanspec, raw aio.Raw) error
	Read(cs aio.Chanspec) (aio.Raw, error)
}

type slot struct {
	cmd *Command
}

type registerRequest struct {
	cmds []*Command
	resp chan error
}

// Handle is the C8 command-handle: a fixed-capacity command array, a
// free-slot bitmap, and a min-heap over used slots keyed by fire-scan.
type Handle struct {
	driver Driver
	cmds   []slot
	free   []bool
	heap   heap.Ops

	pending  chan registerRequest
	deferred []func()
}

// NewHandle allocates a handle that can hold up to capacity in-flight
// commands. A nil heapImpl uses the built-in heap.Heap.
func NewHandle(capacity int, driver Driver, heapImpl heap.Ops) *Handle {
	if heapImpl == nil {
		heapImpl = heap.New(capacity)
	}
	free := make([]bool, capacity)
	for i := range free {
		free[i] = true
	}
	return &Handle{
		driver:  driver,
		cmds:    make([]slot, capacity),
		free:    free,
		heap:    heapImpl,
		pending: make(chan registerRequest, 64),
	}
}

// Cap reports the handle's fixed command-slot capacity.
func (h *Handle) Cap() int { return len(h.cmds) }

// PendingCount reports how many registration requests from non-RT
// goroutines are queued, waiting for the next DrainPending. stim.Stimulator
// uses this as the "handle-list lock busy" signal the original checked,
// adapted to the channel-based redesign (SPEC_FULL.md REDESIGN FLAGS).
func (h *Handle) PendingCount() int { return len(h.pending) }

// Register enqueues cmds for insertion the next time DrainPending runs,
// and blocks the caller (not the RT thread) until that happens. Call this
// from any goroutine other than the RT thread itself; a callback invoked
// from within Process (e.g. a stimulator's reaper) must use RegisterRT
// instead, to avoid deadlocking waiting on its own drain.
func (h *Handle) Register(cmds []*Command) error {
	resp := make(chan error, 1)
	h.pending <- registerRequest{cmds: cmds, resp: resp}
	return <-resp
}

// DrainPending applies every queued Register call without blocking. The
// RT loop calls this once at the top of each iteration (spec.md §9's
// rewrite of the priority-inversion risk).
func (h *Handle) DrainPending(currentScan, nanosPerScan uint64) {
	for {
		select {
		case req := <-h.pending:
			req.resp <- h.RegisterRT(req.cmds, currentScan, nanosPerScan)
		default:
			return
		}
	}
}

// RegisterRT registers cmds immediately against currentScan/nanosPerScan.
// Only call this from the RT goroutine (the acquisition loop, or a
// callback/reaper it invokes synchronously): it mutates the handle's
// state with no locking, relying on there being exactly one RT goroutine.
func (h *Handle) RegisterRT(cmds []*Command, currentScan, nanosPerScan uint64) error {
	if cmds == nil {
		return nil
	}
	free := h.freeCount()
	if len(cmds) > free {
		return errs.NoSpace
	}
	for _, c := range cmds {
		if c == nil {
			return errs.InvalidArgument
		}
		switch c.Type {
		case AOWrite, AIRead, CmdCallback:
		default:
			return errs.InvalidArgument
		}
	}
	for _, c := range cmds {
		pos := h.alloc()
		h.cmds[pos].cmd = c
		whenMS := c.WhenMS
		if whenMS < 0 {
			whenMS = 0
		}
		fireScan := currentScan
		if nanosPerScan > 0 {
			fireScan += uint64(math.Round(whenMS * 1e6 / float64(nanosPerScan)))
		}
		_ = h.heap.Insert(int64(pos), fireScan)
	}
	return nil
}

func (h *Handle) freeCount() int {
	n := 0
	for _, f := range h.free {
		if f {
			n++
		}
	}
	return n
}

func (h *Handle) alloc() int {
	for i, f := range h.free {
		if f {
			h.free[i] = false
			return i
		}
	}
	return -1
}

func (h *Handle) release(pos int) {
	h.cmds[pos].cmd = nil
	h.free[pos] = true
}

// Process drains every command whose fire-scan has arrived, in
// non-decreasing fire-scan order (spec.md §4.7, §8): AO_WRITE and AI_READ
// execute against Driver immediately; CALLBACK is deferred into a batch
// buffer and invoked only after the heap has been fully drained for this
// scan — so a callback that re-registers a command for "now" during the
// drain doesn't fire out of turn. Deferred callbacks run in the order they
// came off the heap (non-decreasing fire-scan, ties in heap order), which
// is not necessarily the order they were registered in.
func (h *Handle) Process(currentScan uint64) {
	for h.heap.Len() > 0 {
		minKey, ok := h.heap.MinKey()
		if !ok || minKey > currentScan {
			break
		}
		id, ok := h.heap.DeleteMin()
		if !ok {
			break
		}
		pos := int(id)
		cmd := h.cmds[pos].cmd
		h.execute(cmd)
		h.release(pos)
	}
	deferred := h.deferred
	h.deferred = nil
	for _, fn := range deferred {
		fn()
	}
}

func (h *Handle) execute(cmd *Command) {
	switch cmd.Type {
	case AOWrite:
		_ = h.driver.Write(cmd.AO, cmd.AORaw)
	case AIRead:
		raw, err := h.driver.Read(cmd.AI)
		if err == nil && cmd.AIOut != nil {
			cmd.AIOut(raw)
		}
	case CmdCallback:
		if cmd.Fn != nil {
			h.deferred = append(h.deferred, cmd.Fn)
		}
	}
}
