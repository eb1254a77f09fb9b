// Package acq is the Acquisition Engine (spec.md C6): the periodic RT loop
// that drives one scan per iteration through three always-active built-in
// callbacks (scan, detect spikes, enqueue), and hosts the Callback Registry
// and Control FIFO Dispatcher every other per-scan producer registers into.
package acq

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/callback"
	"github.com/dchristini-lab/apdcore/ctrlfifo"
	"github.com/dchristini-lab/apdcore/rtos"
	"github.com/dchristini-lab/apdcore/shared"
)

// Engine is the C6 Acquisition Engine.
type Engine struct {
	facade     *aio.Facade
	region     *shared.Region
	registry   *callback.Registry
	dispatcher *ctrlfifo.Dispatcher
	aiFIFO     *rtos.Fifo
	clock      rtos.Clock
	task       *rtos.PeriodicTask
	settling   time.Duration

	epoch time.Time

	ms       *MultiSample
	scanMask shared.Bitset
	acqStart time.Time
	acqEnd   time.Time

	lastLoopStart time.Time
	haveLast      bool

	droppedSamples atomic.Uint64
}

// DroppedSamples reports how many samples have been silently dropped by
// enqueueForUserland on AI FIFO overrun (spec.md §7: a FIFO overrun is
// dropped but counted, never aborts the loop).
func (e *Engine) DroppedSamples() uint64 { return e.droppedSamples.Load() }

// NewEngine builds an Engine and registers its three built-in callbacks
// (spec.md §4.5), in order, always active. Callers add further per-scan
// producers (a Stimulator's Process, an apd.Controller's Process) by
// registering their own callback.Func against the same registry afterward.
func NewEngine(facade *aio.Facade, region *shared.Region, registry *callback.Registry, dispatcher *ctrlfifo.Dispatcher, aiFIFO *rtos.Fifo, clock rtos.Clock, settling time.Duration) *Engine {
	e := &Engine{
		facade:     facade,
		region:     region,
		registry:   registry,
		dispatcher: dispatcher,
		aiFIFO:     aiFIFO,
		clock:      clock,
		settling:   settling,
		ms:         NewMultiSample(shared.MaxChannels),
	}
	period := time.Duration(1 * time.Millisecond)
	if nps := region.NanosPerScan(); nps > 0 {
		period = time.Duration(nps)
	}
	e.task = rtos.NewPeriodicTask(clock, period)

	_, _ = registry.Register(e.scanChannels)
	_, _ = registry.Register(e.detectSpikes)
	_, _ = registry.Register(e.enqueueForUserland)
	return e
}

// Task exposes the underlying PeriodicTask so a caller can Stop the loop.
func (e *Engine) Task() *rtos.PeriodicTask { return e.task }

// Samples returns a copy of the current scan's filled-in AI samples. A
// callback registered after the engine's built-ins (the APD controller,
// in particular) calls this from within its own invocation to see this
// scan's readings; enqueueForUserland leaves the buffer intact, and it is
// refilled only by the next scan's scanChannels (spec.md §4.9).
func (e *Engine) Samples() []Sample {
	out := make([]Sample, e.ms.Len())
	for i := range out {
		out[i] = e.ms.At(i)
	}
	return out
}

// Run executes the RT loop until Stop is called on e.Task(), performing the
// eight steps of spec.md §4.5 every iteration.
func (e *Engine) Run() {
	e.epoch = e.clock.Now()
	e.task.Arm()

	for !e.task.Stopped() {
		e.iterate()
		e.task.SleepUntilDeadline()
	}
}

func (e *Engine) iterate() {
	loopStart := e.clock.Now()
	scanIndex := e.region.ScanIndex()

	if scanIndex > 1 && e.haveLast {
		expected := e.lastLoopStart.Add(e.task.Period)
		jitter := loopStart.Sub(expected)
		if jitter < 0 {
			jitter = -jitter
		}
		e.region.UpdateJitterNS(int64(jitter))
	}
	e.lastLoopStart = loopStart
	e.haveLast = true

	if nps := e.region.NanosPerScan(); nps > 0 {
		newPeriod := time.Duration(nps)
		if newPeriod != e.task.Period {
			e.task.SetPeriod(newPeriod)
		}
	}
	e.task.Advance()

	elapsed := loopStart.Sub(e.epoch)
	e.region.SetWallClock(elapsed.Milliseconds(), elapsed.Microseconds())

	e.registry.DrainPending()
	e.registry.Walk(scanIndex, e.region.NanosPerScan())

	e.dispatcher.Drain()

	e.region.AdvanceScanIndex()
}

// scanChannels copies the AI enable mask into a scan-local mask, reads each
// enabled channel, and fills ms in place with sample records (spec.md §4.5).
func (e *Engine) scanChannels(scanIndex uint64) {
	e.ms.Reset()
	e.scanMask = e.region.AIEnable()
	e.acqStart = e.clock.Now()
	e.scanMask.Each(func(ch int) {
		cs, err := e.region.Chanspec(aio.AI, ch)
		if err != nil {
			return
		}
		raw, err := e.facade.ReadDelayed(context.Background(), cs, e.settling)
		if err != nil {
			return
		}
		volts, err := e.facade.RawToVolts(aio.AI, cs, raw)
		if err != nil {
			return
		}
		e.ms.Append(Sample{Channel: ch, ScanIndex: scanIndex, Volts: volts, Magic: Magic})
	})
	e.acqEnd = e.clock.Now()
}

// detectSpikes estimates each sample's acquisition time as a fraction of
// the scan's [acqStart, acqEnd] span, then runs the per-channel spike state
// machine against it (spec.md §4.5's explicit uniform-spacing approximation).
func (e *Engine) detectSpikes(scanIndex uint64) {
	n := e.ms.Len()
	if n == 0 {
		return
	}
	span := e.acqEnd.Sub(e.acqStart)
	for i := 0; i < n; i++ {
		s := e.ms.At(i)
		acqTime := e.acqStart.Add(time.Duration(float64(span) * float64(i) / float64(n)))
		if spiked, periodMS := e.evaluateSpike(s.Channel, s.Volts, acqTime); spiked {
			s.Spike = true
			s.SpikePeriodMS = periodMS
			e.ms.Set(i, s)
		}
	}
}

// evaluateSpike runs one channel's spike state machine (spec.md §4.5).
func (e *Engine) evaluateSpike(ch int, volts float64, now time.Time) (spiked bool, periodMS float64) {
	cfg, err := e.region.SpikeConfig(ch)
	if err != nil {
		return false, 0
	}
	st := e.region.SpikeState(ch)
	if st == nil {
		return false, 0
	}
	nowNS := now.UnixNano()

	if !st.InSpike {
		if !cfg.Enabled {
			return false, 0
		}
		blankingNS := int64(cfg.BlankingMS * 1e6)
		if st.LastSpikeEndedNS != 0 && nowNS-st.LastSpikeEndedNS < blankingNS {
			return false, 0
		}
		crossed := (cfg.Polarity == shared.PolarityPositive && volts >= cfg.ThresholdVolts) ||
			(cfg.Polarity == shared.PolarityNegative && volts <= cfg.ThresholdVolts)
		if !crossed {
			return false, 0
		}
		st.SavedPolarity = cfg.Polarity
		st.SavedThreshold = cfg.ThresholdVolts
		st.InSpike = true
		if st.LastSpikeBeginNS != 0 {
			periodMS = float64(nowNS-st.LastSpikeBeginNS) * 1e-6
			st.PeriodMS = periodMS
		}
		st.LastSpikeBeginNS = nowNS
		return true, periodMS
	}

	if st.SavedPolarity != cfg.Polarity || st.SavedThreshold != cfg.ThresholdVolts {
		st.InSpike = false
		st.LastSpikeEndedNS = nowNS
		return false, 0
	}
	exited := (st.SavedPolarity == shared.PolarityPositive && volts <= st.SavedThreshold) ||
		(st.SavedPolarity == shared.PolarityNegative && volts >= st.SavedThreshold)
	if exited {
		st.InSpike = false
		st.LastSpikeEndedNS = nowNS
	}
	return false, 0
}

// enqueueForUserland writes every sample in ms to the AI FIFO in ascending
// channel order, stopping on the first write failure (spec.md §4.5, §5).
func (e *Engine) enqueueForUserland(scanIndex uint64) {
	for i := 0; i < e.ms.Len(); i++ {
		if _, err := e.aiFIFO.Write(encodeSample(e.ms.At(i))); err != nil {
			e.droppedSamples.Add(uint64(e.ms.Len() - i))
			return
		}
	}
}
