package aio

import (
	"context"
	"math"
	"time"

	"periph.io/x/periph/conn/physic"

	"github.com/dchristini-lab/apdcore/errs"
)

// voltsPerTick and mAFactor are the fixed conversion constants spec.md §4.2
// fixes for every channel: one tick is one microvolt, and a milliamp-range
// Krange additionally carries a 1/1000 scale.
const voltsPerTick = 1e-6
const mAFactor = 1e-3

// rangeTolerance is how far outside [MinTicks,MaxTicks] a desired voltage
// is still allowed to fall when FindAndSetBestRange is choosing a range,
// to absorb floating point error at a range's exact edge (spec.md §8).
const rangeTolerance = 1e-4

// Facade is the C3 AIO Driver Facade: it enumerates a Driver's channels
// once at construction, then answers every raw<->volts conversion and
// range-selection question against that cached table instead of asking
// the driver again.
type Facade struct {
	driver Driver
	enum   map[Namespace]EnumResult
}

// NewFacade enumerates both namespaces of d and returns a ready Facade.
func NewFacade(d Driver) (*Facade, error) {
	f := &Facade{driver: d, enum: make(map[Namespace]EnumResult, 2)}
	for _, ns := range []Namespace{AI, AO} {
		r, err := d.Enumerate(ns)
		if err != nil {
			return nil, err
		}
		f.enum[ns] = r
	}
	return f, nil
}

// Enumeration returns the cached enumeration for ns.
func (f *Facade) Enumeration(ns Namespace) EnumResult { return f.enum[ns] }

func (f *Facade) krange(ns Namespace, cs Chanspec) (Krange, Raw, error) {
	e, ok := f.enum[ns]
	if !ok || cs.Channel < 0 || cs.Channel >= e.NChannels {
		return Krange{}, 0, errs.InvalidArgument
	}
	ranges := e.Kranges[cs.Channel]
	if cs.Range < 0 || cs.Range >= len(ranges) {
		return Krange{}, 0, errs.InvalidArgument
	}
	return ranges[cs.Range], e.Maxdata[cs.Channel], nil
}

func rangeVolts(k Krange) (min, max float64) {
	min = float64(k.MinTicks) * voltsPerTick
	max = float64(k.MaxTicks) * voltsPerTick
	if k.Unit == UnitMilliamps {
		min *= mAFactor
		max *= mAFactor
	}
	return min, max
}

// RawToVolts converts one raw sample from channel cs's currently selected
// range into volts (spec.md §4.2's linear raw<->volts mapping).
func (f *Facade) RawToVolts(ns Namespace, cs Chanspec, raw Raw) (float64, error) {
	k, maxdata, err := f.krange(ns, cs)
	if err != nil {
		return 0, err
	}
	if maxdata == 0 {
		return 0, errs.InvalidArgument
	}
	minV, maxV := rangeVolts(k)
	frac := float64(raw) / float64(maxdata)
	return minV + frac*(maxV-minV), nil
}

// VoltsToRaw is RawToVolts's inverse, clamped to [0, maxdata] so a
// caller's rounding error can't produce an out-of-range raw word.
func (f *Facade) VoltsToRaw(ns Namespace, cs Chanspec, volts float64) (Raw, error) {
	k, maxdata, err := f.krange(ns, cs)
	if err != nil {
		return 0, err
	}
	minV, maxV := rangeVolts(k)
	if maxV == minV {
		return 0, errs.InvalidArgument
	}
	frac := (volts - minV) / (maxV - minV)
	raw := math.Round(frac * float64(maxdata))
	if raw < 0 {
		raw = 0
	}
	if raw > float64(maxdata) {
		raw = float64(maxdata)
	}
	return Raw(raw), nil
}

// ElectricPotential is RawToVolts with its result expressed as periph's
// physic.ElectricPotential. The acquisition engine and the APD controller
// carry volts as float64 and call RawToVolts directly.
func (f *Facade) ElectricPotential(ns Namespace, cs Chanspec, raw Raw) (physic.ElectricPotential, error) {
	v, err := f.RawToVolts(ns, cs, raw)
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(v * float64(physic.Volt)), nil
}

// FindAndSetBestRange picks, among cs.Channel's cached ranges, the
// tightest one that brackets desired within rangeTolerance, and writes
// its index into cs.Range. It returns errs.RangeNotFound if none does
// (spec.md §4.2, §8).
func (f *Facade) FindAndSetBestRange(ns Namespace, cs *Chanspec, desired physic.ElectricPotential) error {
	e, ok := f.enum[ns]
	if !ok || cs.Channel < 0 || cs.Channel >= e.NChannels {
		return errs.InvalidArgument
	}
	desiredVolts := float64(desired) / float64(physic.Volt)
	best := -1
	bestWidth := math.Inf(1)
	for r, k := range e.Kranges[cs.Channel] {
		minV, maxV := rangeVolts(k)
		if desiredVolts < minV-rangeTolerance || desiredVolts > maxV+rangeTolerance {
			continue
		}
		width := maxV - minV
		if width < bestWidth {
			best = r
			bestWidth = width
		}
	}
	if best == -1 {
		return errs.RangeNotFound
	}
	cs.Range = best
	return nil
}

// ReadDelayed samples one AI channel through the underlying driver.
func (f *Facade) ReadDelayed(ctx context.Context, cs Chanspec, settling time.Duration) (Raw, error) {
	return f.driver.ReadDelayed(ctx, cs, settling)
}

// Write drives one AO channel through the underlying driver.
func (f *Facade) Write(cs Chanspec, raw Raw) error {
	return f.driver.Write(cs, raw)
}

// Read samples one AI channel with no settling delay: the command
// scheduler's AI_READ commands fire at a specific scheduled scan, not
// after a multiplexer settle, so they bypass ReadDelayed's wait.
func (f *Facade) Read(cs Chanspec) (Raw, error) {
	return f.driver.ReadDelayed(context.Background(), cs, 0)
}
