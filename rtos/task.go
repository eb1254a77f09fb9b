package rtos

import (
	"sync/atomic"
	"time"
)

// PeriodicTask carries the deadline/stop-flag bookkeeping for the
// acquisition loop's single RT thread (spec.md §4.5, §5): a monotonically
// advancing absolute deadline, and a stop flag polled once per iteration
// rather than a cancellation that can interrupt mid-iteration.
type PeriodicTask struct {
	Clock    Clock
	Period   time.Duration
	stopped  int32
	deadline time.Time
}

// NewPeriodicTask creates a task with the given nominal period. Call Arm
// once before the first iteration to set the initial deadline.
func NewPeriodicTask(clock Clock, period time.Duration) *PeriodicTask {
	return &PeriodicTask{Clock: clock, Period: period}
}

// Arm sets the next absolute deadline to start from now.
func (t *PeriodicTask) Arm() {
	t.deadline = t.Clock.Now().Add(t.Period)
}

// SetPeriod changes the nominal period applied by the next Advance call,
// without touching the already-armed deadline (spec.md §4.5 step 3: a
// sampling-rate change takes effect on the *next* deadline, not the
// current one).
func (t *PeriodicTask) SetPeriod(period time.Duration) {
	t.Period = period
}

// Advance pushes the deadline forward by one period and returns it.
func (t *PeriodicTask) Advance() time.Time {
	t.deadline = t.deadline.Add(t.Period)
	return t.deadline
}

// Deadline returns the current absolute deadline.
func (t *PeriodicTask) Deadline() time.Time { return t.deadline }

// SleepUntilDeadline suspends until the current deadline. This is the
// loop's only suspension point (spec.md §5).
func (t *PeriodicTask) SleepUntilDeadline() {
	t.Clock.SleepUntil(t.deadline)
}

// Stop requests that the loop exit at the top of its next iteration.
func (t *PeriodicTask) Stop() {
	atomic.StoreInt32(&t.stopped, 1)
}

// Stopped reports whether Stop has been called.
func (t *PeriodicTask) Stopped() bool {
	return atomic.LoadInt32(&t.stopped) != 0
}
