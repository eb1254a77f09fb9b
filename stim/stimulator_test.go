package stim

import (
	"testing"

	"periph.io/x/periph/conn/physic"

	"github.com/dchristini-lab/apdcore/aio"
)

func newTestFacade(t *testing.T) *aio.Facade {
	t.Helper()
	d := aio.NewSimDriver(1, 1, aio.Krange{MinTicks: 0, MaxTicks: 5_000_000, Unit: aio.UnitVolts}, 4095)
	f, err := aio.NewFacade(d)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func fixedClock(scan, nanosPerScan uint64) Clock {
	return func() (uint64, uint64) { return scan, nanosPerScan }
}

func TestStimulatePulseTrainSchedule(t *testing.T) {
	f := newTestFacade(t)
	cs := aio.Chanspec{Channel: 0}
	// The RT loop drives the handle itself in real use; here we simulate
	// it by calling Process for every scan between 0 and the last fire.
	scan := uint64(0)
	clock := func() (uint64, uint64) { return scan, 1_000_000 } // 1kHz, 1ms/scan
	s := NewStimulator(f, aio.AO, cs, 8, clock)

	completed := false
	s.SetCompletionCallback(func() { completed = true })

	params := Params{
		OnVoltage:    5 * physic.Volt,
		OffVoltage:   0,
		WhenMS:       0,
		DurationMS:   1,
		SpacingMS:    4,
		EndSilenceMS: 0,
		NumPerTrain:  3,
		NumTrains:    1,
	}
	if err := s.Stimulate(params); err != nil {
		t.Fatal(err)
	}
	if !s.Active() {
		t.Fatal("expected stimulator to be active after Stimulate")
	}

	// Expected AO writes at ms: 0(5V),1(0V),5(5V),6(0V),10(5V),11(0V), reaper at 11.
	h := s.handle
	for scan = 0; scan <= 11; scan++ {
		h.Process(scan)
	}
	if !completed {
		t.Fatal("expected completion callback to fire after single train")
	}
	if s.Active() {
		t.Fatal("expected stimulator inactive after train completes")
	}
}

func TestStimulateRejectsWhileActive(t *testing.T) {
	f := newTestFacade(t)
	cs := aio.Chanspec{Channel: 0}
	s := NewStimulator(f, aio.AO, cs, 4, fixedClock(0, 1_000_000))
	params := Params{OnVoltage: 5 * physic.Volt, NumPerTrain: 1, NumTrains: 1, DurationMS: 1}
	if err := s.Stimulate(params); err != nil {
		t.Fatal(err)
	}
	if err := s.Stimulate(params); err == nil {
		t.Fatal("expected Busy error on second Stimulate while active")
	}
}

func TestSetContextRejectedWhileActive(t *testing.T) {
	f := newTestFacade(t)
	cs := aio.Chanspec{Channel: 0}
	s := NewStimulator(f, aio.AO, cs, 4, fixedClock(0, 1_000_000))
	params := Params{OnVoltage: 5 * physic.Volt, NumPerTrain: 1, NumTrains: 1, DurationMS: 1}
	if err := s.Stimulate(params); err != nil {
		t.Fatal(err)
	}
	if err := s.SetContext(aio.Chanspec{Channel: 0}); err == nil {
		t.Fatal("expected error setting context while active")
	}
}

func TestContinuousStimRearmsAndCancelStopsAfterCurrentTrain(t *testing.T) {
	f := newTestFacade(t)
	cs := aio.Chanspec{Channel: 0}
	scan := uint64(0)
	clock := func() (uint64, uint64) { return scan, 1_000_000 }
	s := NewStimulator(f, aio.AO, cs, 8, clock)

	completions := 0
	s.SetCompletionCallback(func() { completions++ })

	params := Params{
		OnVoltage: 5 * physic.Volt, OffVoltage: 0,
		DurationMS: 1, SpacingMS: 4, EndSilenceMS: 2,
		NumPerTrain: 2, NumTrains: -1,
	}
	if err := s.Stimulate(params); err != nil {
		t.Fatal(err)
	}

	h := s.handle
	for scan = 0; scan <= 8; scan++ {
		h.Process(scan)
	}
	if completions == 0 {
		t.Fatal("expected at least one completion callback for continuous stim's first train")
	}
	if !s.Active() {
		t.Fatal("expected continuous stim to still be active")
	}

	s.Cancel()
	for scan = 9; scan <= 25; scan++ {
		h.Process(scan)
	}
	if s.Active() {
		t.Fatal("expected stimulator to go inactive once the reaper observes cancellation")
	}
}
