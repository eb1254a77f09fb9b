// Package shared is the Shared State Region (spec.md C4): a single
// fixed-layout block the RT acquisition loop and the control FIFO
// dispatcher both touch. The teacher's cross-process mmap arena has no
// in-process analogue here, so Region is an ordinary struct guarded field
// by field according to spec.md §3's ownership rules: the fields the RT
// loop alone writes use plain values (the RT loop is a single goroutine),
// the fields a concurrent reader (a diagnostics client, cmd/apdctl) may
// peek at without going through the control FIFO use atomics, and the
// configuration fields spec.md documents as dispatcher-only-writable are
// exported as "ViaControlFifo" setters to mark them as such — Go has no
// friend-package access control, so the boundary is enforced by naming
// and by every real writer in this codebase living in package ctrlfifo.
package shared

import (
	"sync/atomic"

	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/errs"
)

// MaxChannels bounds the AI and AO channel namespaces (spec.md §3).
const MaxChannels = 256

// Magic and RegionVersion identify the region layout to an external reader,
// mirroring the teacher's FPGA register block's implicit addressing
// contract (spec.md §4.3).
const (
	Magic          uint32 = 0xAC1DCA7E
	RegionVersion  uint32 = 1
	RegionVersion1        = RegionVersion
)

// Region is the C4 Shared State Region.
type Region struct {
	magic   uint32
	version uint32

	aiChanspec [MaxChannels]aio.Chanspec
	aoChanspec [MaxChannels]aio.Chanspec
	aiEnable   Bitset
	aoEnable   Bitset

	samplingRateHz atomic.Uint64
	nanosPerScan   atomic.Uint64

	aiSubdevicePath string
	aoSubdevicePath string

	aiFIFOID      int
	aoFIFOID      int
	controlFIFOID int
	replyFIFOID   int
	apdFIFOID     int

	spikeConfig [MaxChannels]SpikeConfig
	spikeState  [MaxChannels]SpikeRTState

	attachedPID atomic.Int64

	scanIndex atomic.Uint64
	jitterNS  atomic.Int64

	wallClockMS atomic.Int64
	wallClockUS atomic.Int64
}

// NewRegion builds a Region covering MaxChannels channels per namespace,
// sampling initially at samplingRateHz, with the FIFO identifiers the core
// assigned at startup.
func NewRegion(samplingRateHz uint64, aiFIFOID, aoFIFOID, controlFIFOID, replyFIFOID, apdFIFOID int) *Region {
	r := &Region{
		magic:         Magic,
		version:       RegionVersion,
		aiFIFOID:      aiFIFOID,
		aoFIFOID:      aoFIFOID,
		controlFIFOID: controlFIFOID,
		replyFIFOID:   replyFIFOID,
		apdFIFOID:     apdFIFOID,
	}
	r.samplingRateHz.Store(samplingRateHz)
	if samplingRateHz > 0 {
		r.nanosPerScan.Store(1_000_000_000 / samplingRateHz)
	}
	return r
}

// MagicValue and VersionValue are total getters over the region header.
func (r *Region) MagicValue() uint32   { return r.magic }
func (r *Region) VersionValue() uint32 { return r.version }

// SamplingRateHz returns the current, already-normalized sampling rate.
func (r *Region) SamplingRateHz() uint64 { return r.samplingRateHz.Load() }

// NanosPerScan returns the current scan period in nanoseconds.
func (r *Region) NanosPerScan() uint64 { return r.nanosPerScan.Load() }

// SetSamplingRateViaControlFifo installs an already-normalized sampling
// rate and recomputes nanos-per-scan (spec.md §4.4). Only ctrlfifo.Dispatcher
// calls this.
func (r *Region) SetSamplingRateViaControlFifo(hz uint64) {
	r.samplingRateHz.Store(hz)
	if hz > 0 {
		r.nanosPerScan.Store(1_000_000_000 / hz)
	}
}

// ScanIndex returns the current scan index.
func (r *Region) ScanIndex() uint64 { return r.scanIndex.Load() }

// AdvanceScanIndex increments the scan index by one. RT-only.
func (r *Region) AdvanceScanIndex() uint64 { return r.scanIndex.Add(1) }

// SetScanIndexDangerous overwrites the scan index directly; ctrlfifo.Dispatcher
// calls it for the set-scan-index command. spec.md §4.4 documents this as
// dangerous: every in-flight scheduled command's fire-scan was computed
// against the old index.
func (r *Region) SetScanIndexDangerous(idx uint64) { r.scanIndex.Store(idx) }

// JitterNS/UpdateJitterNS track the largest observed loop jitter (spec.md
// §4.5 step 2). RT-only writer.
func (r *Region) JitterNS() int64 { return r.jitterNS.Load() }
func (r *Region) UpdateJitterNS(observed int64) {
	for {
		cur := r.jitterNS.Load()
		if observed <= cur {
			return
		}
		if r.jitterNS.CompareAndSwap(cur, observed) {
			return
		}
	}
}

// WallClockMS/WallClockUS report the loop's wall-clock counters (spec.md
// §4.5 step 4). RT-only writer.
func (r *Region) WallClockMS() int64 { return r.wallClockMS.Load() }
func (r *Region) WallClockUS() int64 { return r.wallClockUS.Load() }
func (r *Region) SetWallClock(ms, us int64) {
	r.wallClockMS.Store(ms)
	r.wallClockUS.Store(us)
}

// AttachedPID returns the process identifier the control FIFO last set,
// or 0 if none has attached.
func (r *Region) AttachedPID() int64 { return r.attachedPID.Load() }

// SetAttachedPIDViaControlFifo records the attaching process's PID.
func (r *Region) SetAttachedPIDViaControlFifo(pid int64) { r.attachedPID.Store(pid) }

// AIEnable/AOEnable return a copy of the enable mask for the given
// namespace.
func (r *Region) AIEnable() Bitset { return r.aiEnable }
func (r *Region) AOEnable() Bitset { return r.aoEnable }

func (r *Region) enableMask(ns aio.Namespace) *Bitset {
	if ns == aio.AO {
		return &r.aoEnable
	}
	return &r.aiEnable
}

// SetChannelEnableViaControlFifo sets or clears one channel's enable bit.
func (r *Region) SetChannelEnableViaControlFifo(ns aio.Namespace, ch int, enabled bool) error {
	if ch < 0 || ch >= MaxChannels {
		return errs.InvalidArgument
	}
	m := r.enableMask(ns)
	if enabled {
		m.Set(ch)
	} else {
		m.Clear(ch)
	}
	return nil
}

// Chanspec returns channel ch's current chanspec in namespace ns.
func (r *Region) Chanspec(ns aio.Namespace, ch int) (aio.Chanspec, error) {
	if ch < 0 || ch >= MaxChannels {
		return aio.Chanspec{}, errs.InvalidArgument
	}
	if ns == aio.AO {
		return r.aoChanspec[ch], nil
	}
	return r.aiChanspec[ch], nil
}

// SetChanspecViaControlFifo installs channel ch's chanspec in namespace ns.
func (r *Region) SetChanspecViaControlFifo(ns aio.Namespace, ch int, cs aio.Chanspec) error {
	if ch < 0 || ch >= MaxChannels {
		return errs.InvalidArgument
	}
	if ns == aio.AO {
		r.aoChanspec[ch] = cs
	} else {
		r.aiChanspec[ch] = cs
	}
	return nil
}

// SpikeConfig returns channel ch's dispatcher-guarded spike configuration.
func (r *Region) SpikeConfig(ch int) (SpikeConfig, error) {
	if ch < 0 || ch >= MaxChannels {
		return SpikeConfig{}, errs.InvalidArgument
	}
	return r.spikeConfig[ch], nil
}

// SetSpikeConfigViaControlFifo replaces channel ch's spike configuration.
func (r *Region) SetSpikeConfigViaControlFifo(ch int, cfg SpikeConfig) error {
	if ch < 0 || ch >= MaxChannels {
		return errs.InvalidArgument
	}
	r.spikeConfig[ch] = cfg
	return nil
}

// SpikeState returns a pointer to channel ch's RT-only spike state, for
// the acquisition engine's detectSpikes callback to mutate in place.
func (r *Region) SpikeState(ch int) *SpikeRTState {
	if ch < 0 || ch >= MaxChannels {
		return nil
	}
	return &r.spikeState[ch]
}

// FIFO identifiers, assigned once at construction and read-only after.
func (r *Region) AIFIFOID() int      { return r.aiFIFOID }
func (r *Region) AOFIFOID() int      { return r.aoFIFOID }
func (r *Region) ControlFIFOID() int { return r.controlFIFOID }
func (r *Region) ReplyFIFOID() int   { return r.replyFIFOID }
func (r *Region) APDFIFOID() int     { return r.apdFIFOID }

// Subdevice paths, set once at construction.
func (r *Region) AISubdevicePath() string { return r.aiSubdevicePath }
func (r *Region) AOSubdevicePath() string { return r.aoSubdevicePath }

// SetSubdevicePaths records the AI/AO subdevice paths at init time; this
// is a startup-only call, not a control-FIFO command.
func (r *Region) SetSubdevicePaths(ai, ao string) {
	r.aiSubdevicePath = ai
	r.aoSubdevicePath = ao
}
