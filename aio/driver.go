package aio

import (
	"context"
	"time"
)

// Krange is one channel's voltage (or current) window, expressed in the
// driver's native tick units. It is cached from the driver once at startup
// and never touched again on the RT path (spec.md §4.2).
type Krange struct {
	MinTicks int32
	MaxTicks int32
	Unit     Unit
}

// Unit says whether a Krange's ticks are scaled to volts or milliamps,
// mirroring comedi's UNIT_volt/UNIT_mA range descriptors.
type Unit int

const (
	UnitVolts Unit = iota
	UnitMilliamps
)

// EnumResult is what a Driver reports for one namespace: how many channels
// it has, and each channel's available ranges and maximum raw sample value.
type EnumResult struct {
	NChannels int
	Kranges   [][]Krange
	Maxdata   []Raw
}

// Driver is the opaque analog I/O boundary (spec.md C3's collaborator).
// It is shaped after periph.io/x/periph/conn/analog's ADC/DAC split,
// generalized from "one pin, one reading" to "one of NChannels, one of
// several cached ranges" to match the multi-channel multiplexed hardware
// spec.md describes.
type Driver interface {
	// Enumerate reports every channel's range table for the given
	// namespace. Called once at startup; the Facade caches the result.
	Enumerate(ns Namespace) (EnumResult, error)

	// ReadDelayed samples one AI channel after waiting out settling,
	// the inter-channel multiplexer settle time (spec.md §4.2).
	ReadDelayed(ctx context.Context, cs Chanspec, settling time.Duration) (Raw, error)

	// Write drives one AO channel to raw immediately.
	Write(cs Chanspec, raw Raw) error
}
