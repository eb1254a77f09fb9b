package acq

import (
	"testing"
	"time"

	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/callback"
	"github.com/dchristini-lab/apdcore/ctrlfifo"
	"github.com/dchristini-lab/apdcore/rtos"
	"github.com/dchristini-lab/apdcore/shared"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time          { return c.t }
func (c *stepClock) SleepUntil(time.Time)    {}
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T, nAI int) (*Engine, *aio.SimDriver, *shared.Region, *stepClock) {
	t.Helper()
	d := aio.NewSimDriver(nAI, 1, aio.Krange{MinTicks: -5_000_000, MaxTicks: 5_000_000, Unit: aio.UnitVolts}, 4095)
	f, err := aio.NewFacade(d)
	if err != nil {
		t.Fatal(err)
	}
	region := shared.NewRegion(1000, 1, 2, 3, 4, 5)
	registry := callback.NewRegistry(0)
	aiFIFO := rtos.NewFifo(1 << 16)
	controlIn := rtos.NewFifo(4096)
	reply := rtos.NewFifo(256)
	dispatcher := ctrlfifo.NewDispatcher(controlIn, reply, region)
	clock := &stepClock{t: time.Unix(1, 0)}
	e := NewEngine(f, region, registry, dispatcher, aiFIFO, clock, 0)
	return e, d, region, clock
}

func TestScanChannelsFillsEnabledChannelsOnlyInAscendingOrder(t *testing.T) {
	e, d, region, _ := newTestEngine(t, 3)
	_ = region.SetChannelEnableViaControlFifo(aio.AI, 0, true)
	_ = region.SetChannelEnableViaControlFifo(aio.AI, 2, true)
	_ = region.SetChanspecViaControlFifo(aio.AI, 0, aio.Chanspec{Channel: 0})
	_ = region.SetChanspecViaControlFifo(aio.AI, 2, aio.Chanspec{Channel: 2})
	d.SetWaveform(0, func(time.Time) aio.Raw { return 1000 })
	d.SetWaveform(2, func(time.Time) aio.Raw { return 2000 })

	e.scanChannels(7)
	if e.ms.Len() != 2 {
		t.Fatalf("expected 2 samples (only enabled channels), got %d", e.ms.Len())
	}
	if e.ms.At(0).Channel != 0 || e.ms.At(1).Channel != 2 {
		t.Fatalf("expected ascending channel order 0,2, got %d,%d", e.ms.At(0).Channel, e.ms.At(1).Channel)
	}
	if e.ms.At(0).ScanIndex != 7 || e.ms.At(1).ScanIndex != 7 {
		t.Fatal("expected every sample stamped with the current scan index")
	}
}

func TestEvaluateSpikeEmitsOnceAndReportsBeginToBeginPeriod(t *testing.T) {
	e, _, region, _ := newTestEngine(t, 1)
	cfg, _ := region.SpikeConfig(0)
	cfg.Enabled = true
	cfg.Polarity = shared.PolarityPositive
	cfg.ThresholdVolts = 1.0
	cfg.BlankingMS = 10
	_ = region.SetSpikeConfigViaControlFifo(0, cfg)

	base := time.Unix(1, 0)
	if spiked, _ := e.evaluateSpike(0, 0.0, base); spiked {
		t.Fatal("expected no spike below threshold")
	}
	spiked, period := e.evaluateSpike(0, 1.5, base.Add(2*time.Millisecond))
	if !spiked {
		t.Fatal("expected a spike crossing threshold")
	}
	if period != 0 {
		t.Fatalf("expected period 0 on the first ever spike, got %v", period)
	}
	if spiked, _ := e.evaluateSpike(0, 1.5, base.Add(3*time.Millisecond)); spiked {
		t.Fatal("expected no re-trigger while still above threshold (in-spike)")
	}
	if spiked, _ := e.evaluateSpike(0, 0.5, base.Add(4*time.Millisecond)); spiked {
		t.Fatal("exiting a spike never itself reports a new spike")
	}
	spiked, period = e.evaluateSpike(0, 1.5, base.Add(204*time.Millisecond))
	if !spiked {
		t.Fatal("expected a second spike 200ms later")
	}
	if diff := period - 202.0; diff < -0.01 || diff > 0.01 {
		t.Fatalf("expected period ~202ms (begin-to-begin), got %v", period)
	}
}

func TestBlankingSuppressesRetriggerRightAfterSpikeEnds(t *testing.T) {
	e, _, region, _ := newTestEngine(t, 1)
	cfg, _ := region.SpikeConfig(0)
	cfg.Enabled = true
	cfg.Polarity = shared.PolarityPositive
	cfg.ThresholdVolts = 1.0
	cfg.BlankingMS = 50
	_ = region.SetSpikeConfigViaControlFifo(0, cfg)

	base := time.Unix(1, 0)
	e.evaluateSpike(0, 1.5, base)
	e.evaluateSpike(0, 0.0, base.Add(5*time.Millisecond)) // exits the spike

	if spiked, _ := e.evaluateSpike(0, 1.5, base.Add(10*time.Millisecond)); spiked {
		t.Fatal("expected blanking to suppress an immediate re-trigger")
	}
	if spiked, _ := e.evaluateSpike(0, 1.5, base.Add(60*time.Millisecond)); !spiked {
		t.Fatal("expected a spike once the blanking window has elapsed")
	}
}

func TestNegativePolarityUsesInvertedComparisons(t *testing.T) {
	e, _, region, _ := newTestEngine(t, 1)
	cfg, _ := region.SpikeConfig(0)
	cfg.Enabled = true
	cfg.Polarity = shared.PolarityNegative
	cfg.ThresholdVolts = -1.0
	_ = region.SetSpikeConfigViaControlFifo(0, cfg)

	base := time.Unix(1, 0)
	if spiked, _ := e.evaluateSpike(0, 0.0, base); spiked {
		t.Fatal("expected no spike above a negative threshold")
	}
	if spiked, _ := e.evaluateSpike(0, -1.5, base.Add(time.Millisecond)); !spiked {
		t.Fatal("expected a spike once voltage drops past the negative threshold")
	}
}

func TestEnqueueForUserlandStopsOnFirstFIFOFailure(t *testing.T) {
	e, _, _, _ := newTestEngine(t, 2)
	e.ms.Reset()
	e.ms.Append(Sample{Channel: 0, ScanIndex: 1, Volts: 1.0, Magic: Magic})
	e.ms.Append(Sample{Channel: 1, ScanIndex: 1, Volts: 2.0, Magic: Magic})

	one := encodeSample(e.ms.At(0))
	e.aiFIFO = rtos.NewFifo(len(one))
	e.enqueueForUserland(1)
	if e.aiFIFO.Len() != len(one) {
		t.Fatalf("expected exactly one sample's worth of bytes queued, got %d", e.aiFIFO.Len())
	}
}

func TestIterateAdvancesScanIndex(t *testing.T) {
	e, _, region, clock := newTestEngine(t, 1)
	before := region.ScanIndex()
	clock.advance(time.Millisecond)
	e.iterate()
	if region.ScanIndex() != before+1 {
		t.Fatalf("expected scan index to advance by one, got %d -> %d", before, region.ScanIndex())
	}
}
