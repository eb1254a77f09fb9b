package shared

import (
	"testing"

	"github.com/dchristini-lab/apdcore/aio"
)

func TestSamplingRateDerivesNanosPerScan(t *testing.T) {
	r := NewRegion(1000, 1, 2, 3, 4, 5)
	if r.NanosPerScan() != 1_000_000 {
		t.Fatalf("expected 1ms period at 1kHz, got %d", r.NanosPerScan())
	}
	r.SetSamplingRateViaControlFifo(2000)
	if r.SamplingRateHz() != 2000 || r.NanosPerScan() != 500_000 {
		t.Fatalf("rate change not reflected: rate=%d nanos=%d", r.SamplingRateHz(), r.NanosPerScan())
	}
}

func TestChannelEnableAndChanspecRoundTrip(t *testing.T) {
	r := NewRegion(1000, 1, 2, 3, 4, 5)
	if err := r.SetChannelEnableViaControlFifo(aio.AI, 3, true); err != nil {
		t.Fatal(err)
	}
	if !r.AIEnable().Test(3) {
		t.Fatal("expected channel 3 enabled")
	}
	cs := aio.Chanspec{Channel: 3, Range: 1, Aref: aio.RefDifferential}
	if err := r.SetChanspecViaControlFifo(aio.AI, 3, cs); err != nil {
		t.Fatal(err)
	}
	got, err := r.Chanspec(aio.AI, 3)
	if err != nil || got != cs {
		t.Fatalf("chanspec mismatch: got %+v err %v", got, err)
	}
}

func TestInvalidChannelRejected(t *testing.T) {
	r := NewRegion(1000, 1, 2, 3, 4, 5)
	if err := r.SetChannelEnableViaControlFifo(aio.AI, -1, true); err == nil {
		t.Fatal("expected error for negative channel")
	}
	if err := r.SetChannelEnableViaControlFifo(aio.AI, MaxChannels, true); err == nil {
		t.Fatal("expected error for out-of-range channel")
	}
}

func TestJitterTracksMaximum(t *testing.T) {
	r := NewRegion(1000, 1, 2, 3, 4, 5)
	r.UpdateJitterNS(500)
	r.UpdateJitterNS(200)
	r.UpdateJitterNS(900)
	if r.JitterNS() != 900 {
		t.Fatalf("expected jitter to track max 900, got %d", r.JitterNS())
	}
}

func TestBitsetEachAscending(t *testing.T) {
	var b Bitset
	b.Set(5)
	b.Set(1)
	b.Set(200)
	var got []int
	b.Each(func(ch int) { got = append(got, ch) })
	want := []int{1, 5, 200}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
