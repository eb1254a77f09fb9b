package rtos

import (
	"sync/atomic"

	"github.com/dchristini-lab/apdcore/errs"
)

// Fifo is a lock-free single-producer/single-consumer byte ring buffer,
// the Go-side stand-in for the RTOS middleware's FIFO channel (spec.md C2):
// the RT thread is always the producer, a non-RT reader the consumer (or
// the reverse, for the control FIFO). Capacity is fixed at construction;
// Write never blocks, it fails with errs.NoSpace on overrun so the caller
// can count and drop, per spec.md §5's FIFO-overrun policy.
//
// The wraparound bookkeeping mirrors buffer.SampleBuff.NextSliceFor: a
// single write/read position that resets to zero rather than being masked,
// since FIFO capacities here are not constrained to powers of two.
type Fifo struct {
	buf  []byte
	size uint64

	head uint64 // next byte index to write; producer-owned
	tail uint64 // next byte index to read; consumer-owned

	// count is maintained separately from head-tail because both wrap
	// at size rather than growing unbounded, so head==tail is ambiguous
	// between empty and full.
	count int64 // atomic; bytes currently queued
}

// NewFifo allocates a FIFO with room for sizeBytes bytes.
func NewFifo(sizeBytes int) *Fifo {
	if sizeBytes <= 0 {
		sizeBytes = 1
	}
	return &Fifo{buf: make([]byte, sizeBytes), size: uint64(sizeBytes)}
}

// Cap returns the FIFO's total byte capacity.
func (f *Fifo) Cap() int { return len(f.buf) }

// Len returns the number of bytes currently queued.
func (f *Fifo) Len() int { return int(atomic.LoadInt64(&f.count)) }

// Write appends p to the FIFO. It is all-or-nothing: if there isn't room
// for the whole of p, nothing is written and errs.NoSpace is returned.
// Only the producer goroutine may call Write.
func (f *Fifo) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	used := atomic.LoadInt64(&f.count)
	if used+int64(len(p)) > int64(f.size) {
		return 0, errs.NoSpace
	}
	h := f.head
	for i := 0; i < len(p); i++ {
		f.buf[h] = p[i]
		h++
		if h == f.size {
			h = 0
		}
	}
	f.head = h
	atomic.AddInt64(&f.count, int64(len(p)))
	return len(p), nil
}

// Read copies up to len(p) queued bytes into p and returns how many were
// read. Only the consumer goroutine may call Read.
func (f *Fifo) Read(p []byte) (int, error) {
	n, _ := f.Peek(p)
	f.Discard(n)
	return n, nil
}

// Peek copies up to len(p) queued bytes into p without consuming them,
// so a reader can validate a record's framing before committing to it.
// Only the consumer goroutine may call Peek.
func (f *Fifo) Peek(p []byte) (int, error) {
	avail := atomic.LoadInt64(&f.count)
	if avail == 0 || len(p) == 0 {
		return 0, nil
	}
	n := len(p)
	if int64(n) > avail {
		n = int(avail)
	}
	t := f.tail
	for i := 0; i < n; i++ {
		p[i] = f.buf[t]
		t++
		if t == f.size {
			t = 0
		}
	}
	return n, nil
}

// Discard drops up to n queued bytes without copying them, for skipping a
// malformed record byte-by-byte while resynchronizing on the next sentinel.
func (f *Fifo) Discard(n int) int {
	avail := int(atomic.LoadInt64(&f.count))
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0
	}
	f.tail = (f.tail + uint64(n)) % f.size
	atomic.AddInt64(&f.count, -int64(n))
	return n
}
