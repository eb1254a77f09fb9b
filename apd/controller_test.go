package apd

import (
	"testing"

	"github.com/dchristini-lab/apdcore/aio"
)

func newTestController(t *testing.T, nAI int, aoChanspecs []aio.Chanspec) (*Controller, *aio.SimDriver) {
	t.Helper()
	d := aio.NewSimDriver(nAI, len(aoChanspecs), aio.Krange{MinTicks: 0, MaxTicks: 5_000_000, Unit: aio.UnitVolts}, 4095)
	f, err := aio.NewFacade(d)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewController(f, d, nil, nAI, aoChanspecs, 0.1, 5.0, 0.0)
	if err != nil {
		t.Fatal(err)
	}
	return c, d
}

// TestAPDFinalizationMatchesSyntheticInput reproduces spec.md §8's end-to-
// end scenario: threshold-crosses at t0, peaks 10ms later at A above
// baseline B, then decays past the apd_xx threshold at t0+K.
func TestAPDFinalizationMatchesSyntheticInput(t *testing.T) {
	c, _ := newTestController(t, 1, nil)
	c.AI[0].Enabled = true

	const B, A = 0.0, 1.0
	const K = 40

	for i := 0; i < 5; i++ {
		c.Process(0, []ChannelSample{{Channel: 0, Volts: B}})
	}

	tCross := c.scan + 1
	c.Process(0, []ChannelSample{{Channel: 0, Volts: B, Spike: true}})
	if c.AI[0].apTi != tCross {
		t.Fatalf("expected apTi=%d, got %d", tCross, c.AI[0].apTi)
	}

	for step := 1; step < K; step++ {
		volts := A
		if step <= 10 {
			volts = B + (A-B)*float64(step)/10
		}
		c.Process(0, []ChannelSample{{Channel: 0, Volts: volts}})
	}
	c.Process(0, []ChannelSample{{Channel: 0, Volts: B}})

	if c.AI[0].apTf != tCross+K {
		t.Fatalf("expected apTf=%d, got %d", tCross+K, c.AI[0].apTf)
	}
	if c.AI[0].APD != K {
		t.Fatalf("expected apd=%d, got %d", K, c.AI[0].APD)
	}
}

func TestAdaptGMonotonicity(t *testing.T) {
	c, _ := newTestController(t, 1, []aio.Chanspec{{Channel: 0}})
	ao := &c.AO[0]
	ao.GVal = 0.5
	ao.DeltaG = 0.01
	ao.PerturbSignRing = [4]int{0, 1, 0, 1}
	c.adaptG(ao)
	if ao.GVal != 0.51 {
		t.Fatalf("expected g=0.51 after perfect alternation, got %v", ao.GVal)
	}
	if ao.ConsecAlternating != 4 {
		t.Fatalf("expected consec_alternating=4, got %d", ao.ConsecAlternating)
	}

	ao.PerturbSignRing = [4]int{0, 0, 1, 0}
	c.adaptG(ao)
	if ao.GVal != 0.50 {
		t.Fatalf("expected g=0.50 after a repeated sign, got %v", ao.GVal)
	}
	if ao.ConsecAlternating != 0 {
		t.Fatalf("expected consec_alternating reset to 0, got %d", ao.ConsecAlternating)
	}
}

func TestAdaptGClampsAtZero(t *testing.T) {
	c, _ := newTestController(t, 1, []aio.Chanspec{{Channel: 0}})
	ao := &c.AO[0]
	ao.GVal = 0.005
	ao.DeltaG = 0.01
	ao.PerturbSignRing = [4]int{1, 1, 0, 1}
	c.adaptG(ao)
	if ao.GVal != 0 {
		t.Fatalf("expected g clamped to 0, got %v", ao.GVal)
	}
}

// TestOnlyNegativePerturbationsGatesPositivePerturbations grounds the
// canonical-gate Open Question resolution (trunk/apd_control.c, not
// map_control.c's always-true branch): a positive delta_pi is suppressed
// when the flag is set, armed when it's clear.
func TestOnlyNegativePerturbationsGatesPositivePerturbations(t *testing.T) {
	c, _ := newTestController(t, 1, []aio.Chanspec{{Channel: 0}})
	c.AI[0].Enabled = true
	c.AI[0].AOLink = 0
	ao := &c.AO[0]
	ao.OnlyNegativePerturb = true
	ao.pacingIntervalCounter = 100
	ao.NominalPI = 100

	ai := &c.AI[0]
	ai.PreviousAPD = 180 // previous - current < 0 => positive delta_pi (PI wants to lengthen)
	ai.APD = 200
	ao.GVal = 1.0

	c.finalizeAP(0, 0, ai)
	if ao.controlStimArmed {
		t.Fatal("expected a positive perturbation to be suppressed when only_negative_perturbations is set")
	}
	if ao.PerturbSignRing[3] != 1 {
		t.Fatalf("expected ring[3]=1 for a suppressed perturbation, got %d", ao.PerturbSignRing[3])
	}

	ao.OnlyNegativePerturb = false
	c.finalizeAP(0, 0, ai)
	if !ao.controlStimArmed {
		t.Fatal("expected the same positive perturbation to arm once only_negative_perturbations is cleared")
	}
	if ao.PerturbSignRing[3] != 0 {
		t.Fatalf("expected ring[3]=0 for an armed perturbation, got %d", ao.PerturbSignRing[3])
	}
}

func TestPacingEmitsOnAndRestPulses(t *testing.T) {
	c, d := newTestController(t, 1, []aio.Chanspec{{Channel: 0}})
	ao := &c.AO[0]
	ao.PacingOn = true
	ao.NominalPI = 5

	for i := 0; i < 1; i++ {
		c.Process(0, nil)
	}
	if raw := d.LastWrite(0); raw == 0 {
		t.Fatal("expected an on-pulse AO write on the first pacing invocation")
	}
	for i := 0; i < StimPulseWidthMS; i++ {
		c.Process(0, nil)
	}
	if raw := d.LastWrite(0); raw != 0 {
		t.Fatalf("expected rest level (0) after the pulse width elapses, got %d", raw)
	}
}
