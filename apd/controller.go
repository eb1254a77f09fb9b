// Package apd is the APD Detector & Controller (spec.md C10): a per-AI-
// channel action-potential-duration detector (threshold crossing → peak
// search → repolarization to APDxx) and a per-AO-channel proportional
// pacing-interval controller with automatic gain adaptation.
//
// Grounded on trunk/rtlab_exp_tk/apd_control.c for the canonical 2-AO-
// channel control gate and AO1-linked-to-AO0 mode; map_control.c for the
// single-channel detector shape the newer file generalizes.
package apd

import (
	"math"
	"sync/atomic"

	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/errs"
	"github.com/dchristini-lab/apdcore/rtos"
)

// PeakSearchWindowMS and StimPulseWidthMS are spec.md §6 constants. The
// controller is invoked at 1kHz (spec.md §4.9), so both are expressed and
// tracked in invocation counts, which equal milliseconds at that rate.
const (
	PeakSearchWindowMS = 25
	StimPulseWidthMS   = 2
)

// MCDeltaGMin and MCDeltaGMax bound automatic gain adaptation (spec.md §6).
const (
	MCDeltaGMin = 0.001
	MCDeltaGMax = 0.5
)

// resetBaseline and resetVAPA are sentinel "nothing tracked yet" values,
// grounded on map_control.c's RESET_V_BASELINE/RESET_V_APA constants.
const (
	resetBaseline = 999.0
	resetVAPA     = -999.0
)

// GAdjustmentMode selects manual vs. automatic gain adaptation.
type GAdjustmentMode int

const (
	GAdjustManual GAdjustmentMode = iota
	GAdjustAutomatic
)

// AIChannel is one AI channel's APD detector state (spec.md §3).
type AIChannel struct {
	Enabled bool
	AOLink  int // index into Controller.AO this channel's APDs drive, or -1

	findPeak int64 // 0 = idle; 1..PeakSearchWindowMS while searching

	apTi int64 // AP start, in controller-invocation units
	apTf int64 // AP end

	vBaselineRunningMin float64 // running min since last threshold crossing
	vBaselineNMinus1    float64
	vBaselineNMinus2    float64
	vAPA                float64 // peak voltage since last crossing

	vXXCache             float64 // apd_xx threshold voltage, latched at findPeak==PeakSearchWindowMS
	vBaselineForSnapshot float64 // the baseline actually used to compute vXXCache

	APD         int64
	PreviousAPD int64
	DI          int64
	PreviousDI  int64
}

func newAIChannel() AIChannel {
	return AIChannel{
		AOLink:              -1,
		vBaselineRunningMin: resetBaseline,
		vBaselineNMinus1:    resetBaseline,
		vBaselineNMinus2:    resetBaseline,
		vAPA:                resetVAPA,
	}
}

// AOChannel is one AO channel's pacing/control stim state (spec.md §3).
type AOChannel struct {
	Chanspec aio.Chanspec

	PacingOn            bool
	ControlOn           bool
	ContinueUnderlying  bool
	OnlyNegativePerturb bool
	TargetShorter       bool
	GAdjustmentMode     GAdjustmentMode

	NominalPI int64 // ms
	GVal      float64
	DeltaG    float64

	pacingPulseWidthCounter  int64
	pacingIntervalCounter    int64
	controlStimArmed         bool
	controlIntervalCounter   int64
	controlPulseWidthCounter int64

	DeltaPI             int64
	PerturbSignRing     [4]int
	ConsecAlternating   int
}

func newAOChannel() AOChannel {
	return AOChannel{}
}

// Snapshot is the record pushed to the APD FIFO on each finalized AP
// (spec.md §4.9).
type Snapshot struct {
	APDChannel int
	AOChan     int // -1 if unlinked
	ScanIndex  uint64
	ApdXXPct   float64
	VAPA       float64
	VBaseline  float64
	APTi       int64
	APTf       int64
	APD        int64
	DI         int64
	LinkFlag   bool
	CondTimeMS int64

	// Populated only when AOChan >= 0 (spec.md §4.9).
	NominalPI         int64
	PI                int64
	DeltaPI           int64
	ControlOn         bool
	OnlyNegative      bool
	PacingOn          bool
	ContinueUnderlying bool
	TargetShorter     bool
	ConsecAlternating int
	DeltaG            float64
	G                 float64
}

// Driver is the narrow AIO boundary the controller drives pacing/control
// pulses against.
type Driver interface {
	Write(cs aio.Chanspec, raw aio.Raw) error
}

// Controller is the C10 APD Detector & Controller.
type Controller struct {
	facade *aio.Facade
	driver Driver
	fifo   *rtos.Fifo

	AI []AIChannel
	AO []AOChannel

	ApdXX float64 // e.g. 0.1 for APD90

	LinkAO1ToAO0     bool
	AO0AO1CondTimeMS int64

	stimRaw, restRaw []aio.Raw // per AO channel, cached raw AO levels

	scan uint64 // controller-local invocation counter

	droppedSnapshots atomic.Uint64
}

// DroppedSnapshots reports how many APD snapshots have been silently
// dropped on APD-FIFO overrun (spec.md §7).
func (c *Controller) DroppedSnapshots() uint64 { return c.droppedSnapshots.Load() }

// NewController builds a Controller for nAI input channels and the given
// AO channels with their pacing/control chanspecs, pushing snapshots to
// fifo. stimVolts/restVolts give the on/off voltage for every AO channel.
func NewController(facade *aio.Facade, driver Driver, fifo *rtos.Fifo, nAI int, aoChanspecs []aio.Chanspec, apdXX float64, stimVolts, restVolts float64) (*Controller, error) {
	if apdXX <= 0 || apdXX >= 1 {
		return nil, errs.InvalidArgument
	}
	c := &Controller{
		facade: facade,
		driver: driver,
		fifo:   fifo,
		ApdXX:  apdXX,
		AI:     make([]AIChannel, nAI),
		AO:     make([]AOChannel, len(aoChanspecs)),
	}
	for i := range c.AI {
		c.AI[i] = newAIChannel()
	}
	c.stimRaw = make([]aio.Raw, len(aoChanspecs))
	c.restRaw = make([]aio.Raw, len(aoChanspecs))
	for i, cs := range aoChanspecs {
		c.AO[i] = newAOChannel()
		c.AO[i].Chanspec = cs
		raw, err := facade.VoltsToRaw(aio.AO, cs, stimVolts)
		if err != nil {
			return nil, err
		}
		c.stimRaw[i] = raw
		raw, err = facade.VoltsToRaw(aio.AO, cs, restVolts)
		if err != nil {
			return nil, err
		}
		c.restRaw[i] = raw
	}
	return c, nil
}

// ChannelSample is one AI channel's latest reading, supplied to Process
// by the acquisition engine each invocation (spec.md §4.9 §1's "invoked
// from the callback registry at 1kHz").
type ChannelSample struct {
	Channel int
	Volts   float64
	Spike   bool
}

// Process runs one 1kHz invocation of the controller: pacing, APD
// detection, control, and control-pulse emission, in that order (spec.md
// §4.9). scanIndex is the acquisition engine's scan index, recorded in
// any snapshot emitted this invocation.
func (c *Controller) Process(scanIndex uint64, samples []ChannelSample) {
	c.scan++

	for i := range c.AO {
		ao := &c.AO[i]
		ao.DeltaG = clamp(ao.DeltaG, MCDeltaGMin, MCDeltaGMax)
	}

	c.runPacingPhase()

	for _, s := range samples {
		if s.Channel < 0 || s.Channel >= len(c.AI) {
			continue
		}
		c.detectAndControl(scanIndex, s)
	}

	c.runControlPulseEmission()
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// runPacingPhase implements spec.md §4.9 step 2, independently per AO
// channel.
func (c *Controller) runPacingPhase() {
	for i := range c.AO {
		ao := &c.AO[i]
		if ao.pacingIntervalCounter == 0 && ao.PacingOn {
			c.writeAO(i, c.stimRaw[i])
			ao.pacingPulseWidthCounter = StimPulseWidthMS
			ao.pacingIntervalCounter = ao.NominalPI
		}
		if ao.pacingPulseWidthCounter == 0 {
			c.writeAO(i, c.restRaw[i])
		}
		if ao.pacingPulseWidthCounter > 0 {
			ao.pacingPulseWidthCounter--
		}
		if ao.pacingIntervalCounter > 0 {
			ao.pacingIntervalCounter--
		}
	}
}

func (c *Controller) writeAO(aoIdx int, raw aio.Raw) {
	if c.driver == nil {
		return
	}
	_ = c.driver.Write(c.AO[aoIdx].Chanspec, raw)
}

// detectAndControl runs the per-channel APD state machine (spec.md §4.9
// steps 3-4) for one sample.
func (c *Controller) detectAndControl(scanIndex uint64, s ChannelSample) {
	ai := &c.AI[s.Channel]
	if !ai.Enabled {
		return
	}

	if s.Volts < ai.vBaselineRunningMin {
		ai.vBaselineRunningMin = s.Volts
	}

	if s.Spike {
		ai.findPeak = 1
		ai.apTi = c.scan
		ai.vBaselineNMinus2 = ai.vBaselineNMinus1
		ai.vBaselineNMinus1 = ai.vBaselineRunningMin
		ai.vBaselineRunningMin = s.Volts
		ai.vAPA = resetVAPA
	}

	if ai.findPeak >= 1 && ai.findPeak < PeakSearchWindowMS {
		if s.Volts > ai.vAPA {
			ai.vAPA = s.Volts
		}
		ai.findPeak++
		return
	}
	if ai.findPeak == PeakSearchWindowMS {
		// Preserved Open Question: use the larger of the two previous
		// baselines, though a source comment suggests "<" was intended
		// (spec.md §9 Open Questions). A slot still holding resetBaseline
		// (the first AP after startup) has no measured baseline and is
		// not a candidate.
		baseline := ai.vBaselineNMinus1
		if ai.vBaselineNMinus2 > baseline && ai.vBaselineNMinus2 != resetBaseline {
			baseline = ai.vBaselineNMinus2
		}
		ai.vXXCache = c.ApdXX*(ai.vAPA-baseline) + baseline
		ai.vBaselineForSnapshot = baseline
		ai.findPeak++
		return
	}
	if ai.findPeak < PeakSearchWindowMS {
		// Idle: no spike seen yet, nothing to search for.
		return
	}

	// First sample after the peak-search window where voltage drops
	// below v_xx finalizes the AP (spec.md §4.9 step 3).
	if s.Volts >= ai.vXXCache {
		return
	}
	ai.findPeak = 0
	ai.PreviousAPD = ai.APD
	ai.PreviousDI = ai.DI
	ai.DI = ai.apTi - ai.apTf
	ai.apTf = c.scan
	ai.APD = ai.apTf - ai.apTi

	c.finalizeAP(scanIndex, s.Channel, ai)
}

// finalizeAP runs the control step (spec.md §4.9 step 4) when the
// finalizing channel drives an AO channel, then always pushes a snapshot.
func (c *Controller) finalizeAP(scanIndex uint64, aiIdx int, ai *AIChannel) {
	aoIdx := ai.AOLink
	if aoIdx < 0 || aoIdx >= len(c.AO) {
		c.pushSnapshot(scanIndex, aiIdx, ai, -1, nil)
		return
	}
	ao := &c.AO[aoIdx]

	copy(ao.PerturbSignRing[:3], ao.PerturbSignRing[1:])
	deltaPI := -int64(math.Round(ao.GVal * float64(ai.PreviousAPD-ai.APD)))
	ao.DeltaPI = deltaPI

	if !ao.OnlyNegativePerturb || deltaPI <= -1 {
		ao.controlIntervalCounter = ao.pacingIntervalCounter + deltaPI
		ao.controlStimArmed = true
		ao.PerturbSignRing[3] = 0
	} else {
		ao.PerturbSignRing[3] = 1
	}

	if c.LinkAO1ToAO0 && aoIdx == 0 && len(c.AO) > 1 {
		ao1 := &c.AO[1]
		linkedDelta := clampInt(ao1.DeltaPI, -c.AO0AO1CondTimeMS+1, c.AO0AO1CondTimeMS-1)
		ao1.DeltaPI = linkedDelta
		ao1.controlIntervalCounter = ao.pacingIntervalCounter + ao.DeltaPI + ao1.DeltaPI
		ao1.controlStimArmed = true
	}

	if deltaPI > 0 && !ao.ContinueUnderlying {
		ao.pacingIntervalCounter = ao.controlIntervalCounter + 1
	}

	if ao.GAdjustmentMode == GAdjustAutomatic {
		c.adaptG(ao)
	}

	c.pushSnapshot(scanIndex, aiIdx, ai, aoIdx, ao)
}

func clampInt(x, lo, hi int64) int64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// adaptG implements spec.md §4.9's automatic gain adaptation: four
// alternating perturbation signs increase g by delta_g; any two adjacent
// equal signs decrease it, clamped at 0.
func (c *Controller) adaptG(ao *AOChannel) {
	r := ao.PerturbSignRing
	overPerturbing := r[0] == r[1] || r[1] == r[2] || r[2] == r[3]
	if overPerturbing {
		ao.GVal -= ao.DeltaG
		if ao.GVal < 0 {
			ao.GVal = 0
		}
		ao.ConsecAlternating = 0
	} else {
		ao.GVal += ao.DeltaG
		ao.ConsecAlternating = 4
	}
}

// runControlPulseEmission implements spec.md §4.9 step 5.
func (c *Controller) runControlPulseEmission() {
	for i := range c.AO {
		ao := &c.AO[i]
		if ao.controlIntervalCounter == 0 && ao.controlStimArmed {
			c.writeAO(i, c.stimRaw[i])
			ao.controlPulseWidthCounter = StimPulseWidthMS
			if !ao.ContinueUnderlying {
				ao.pacingIntervalCounter = ao.NominalPI
			}
		}
		if ao.controlPulseWidthCounter == 0 && ao.controlStimArmed {
			c.writeAO(i, c.restRaw[i])
			ao.controlStimArmed = false
		}
		if ao.controlPulseWidthCounter > 0 {
			ao.controlPulseWidthCounter--
		}
		if ao.controlIntervalCounter > 0 {
			ao.controlIntervalCounter--
		}
	}
}
