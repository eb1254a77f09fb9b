// Package errs defines the sentinel error kinds the RT core signals.
// See spec.md §7 for the propagation policy: the RT loop never aborts
// on any of these, it reports them to the caller or drops the affected
// sample/command and continues.
package errs

import "errors"

var (
	// NotReady is returned when an operation is attempted while the
	// module is initializing or tearing down.
	NotReady = errors.New("apdcore: not ready")
	// Busy is returned when a resource (stimulator, channel) is already active.
	Busy = errors.New("apdcore: busy")
	// NoSpace is returned when a bounded queue or heap is full.
	NoSpace = errors.New("apdcore: no space")
	// InvalidArgument covers unknown command tags, out-of-range channels,
	// a nil buffer with count>0, or a voltage that makes no sense in context.
	InvalidArgument = errors.New("apdcore: invalid argument")
	// RangeNotFound is returned when no voltage range brackets a requested voltage.
	RangeNotFound = errors.New("apdcore: no range brackets requested voltage")
	// RateTooLow is returned when the sampling rate is below what a feature requires.
	RateTooLow = errors.New("apdcore: sampling rate too low")
	// ResourceMissing is returned when a shared-memory region or FIFO could not be attached.
	ResourceMissing = errors.New("apdcore: resource missing")
	// NotFound is returned when a function is not present in the callback registry.
	NotFound = errors.New("apdcore: not found")
	// Again is returned when an operation requires a resource to be idle
	// and it currently isn't (e.g. changing a stimulator's context while active).
	Again = errors.New("apdcore: try again")
)
