package ctrlfifo

import (
	"testing"

	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/rtos"
	"github.com/dchristini-lab/apdcore/shared"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *rtos.Fifo, *rtos.Fifo, *shared.Region) {
	t.Helper()
	in := rtos.NewFifo(4096)
	reply := rtos.NewFifo(256)
	region := shared.NewRegion(1000, 1, 2, 3, 4, 5)
	return NewDispatcher(in, reply, region), in, reply, region
}

func TestDispatcherAppliesChannelEnableAndAcks(t *testing.T) {
	d, in, reply, region := newTestDispatcher(t)
	rec := Record{Version: ProtocolVersion, Tag: TagSetChannelEnable, Namespace: aio.AI, Channel: 3, BoolArg: true}
	if _, err := in.Write(encode(rec)); err != nil {
		t.Fatal(err)
	}
	d.Drain()
	if !region.AIEnable().Test(3) {
		t.Fatal("expected channel 3 enabled")
	}
	if reply.Len() != 1 {
		t.Fatalf("expected one ack byte, got %d", reply.Len())
	}
}

func TestDispatcherAllChannelsSentinelAppliesToEvery(t *testing.T) {
	d, in, _, region := newTestDispatcher(t)
	rec := Record{Version: ProtocolVersion, Tag: TagSetChannelEnable, Namespace: aio.AO, Channel: allChannels, BoolArg: true}
	if _, err := in.Write(encode(rec)); err != nil {
		t.Fatal(err)
	}
	d.Drain()
	if !region.AOEnable().Test(0) || !region.AOEnable().Test(shared.MaxChannels-1) {
		t.Fatal("expected every AO channel enabled")
	}
}

func TestDispatcherSetsChanspecAndGain(t *testing.T) {
	d, in, _, region := newTestDispatcher(t)
	rec := Record{Version: ProtocolVersion, Tag: TagSetChanspec, Namespace: aio.AI, Channel: 2, Range: 1, Aref: aio.RefDifferential}
	if _, err := in.Write(encode(rec)); err != nil {
		t.Fatal(err)
	}
	d.Drain()
	cs, err := region.Chanspec(aio.AI, 2)
	if err != nil {
		t.Fatal(err)
	}
	if cs.Range != 1 || cs.Aref != aio.RefDifferential {
		t.Fatalf("unexpected chanspec: %+v", cs)
	}

	gain := Record{Version: ProtocolVersion, Tag: TagSetGain, Namespace: aio.AI, Channel: 2, Range: 3}
	if _, err := in.Write(encode(gain)); err != nil {
		t.Fatal(err)
	}
	d.Drain()
	cs, err = region.Chanspec(aio.AI, 2)
	if err != nil {
		t.Fatal(err)
	}
	if cs.Range != 3 || cs.Aref != aio.RefDifferential {
		t.Fatalf("expected gain to change only the range, got %+v", cs)
	}
}

func TestDispatcherSamplingRateIsNormalized(t *testing.T) {
	d, in, _, region := newTestDispatcher(t)
	rec := Record{Version: ProtocolVersion, Tag: TagSetSamplingRate, IntArg: 2900}
	if _, err := in.Write(encode(rec)); err != nil {
		t.Fatal(err)
	}
	d.Drain()
	if region.SamplingRateHz() != 3000 {
		t.Fatalf("expected normalized rate 3000, got %d", region.SamplingRateHz())
	}
}

func TestDispatcherSpikeConfigRoundTrips(t *testing.T) {
	d, in, _, region := newTestDispatcher(t)
	rec := Record{Version: ProtocolVersion, Tag: TagSetSpikeThreshold, Channel: 5, FloatArg: -0.25}
	if _, err := in.Write(encode(rec)); err != nil {
		t.Fatal(err)
	}
	d.Drain()
	cfg, err := region.SpikeConfig(5)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ThresholdVolts != -0.25 {
		t.Fatalf("expected threshold -0.25, got %v", cfg.ThresholdVolts)
	}
}

func TestDispatcherMalformedRecordIsDiscardedAndResyncs(t *testing.T) {
	d, in, reply, region := newTestDispatcher(t)
	garbage := make([]byte, recordSize)
	for i := range garbage {
		garbage[i] = 0xff
	}
	good := encode(Record{Version: ProtocolVersion, Tag: TagSetAttachedPID, IntArg: 42})
	if _, err := in.Write(garbage); err != nil {
		t.Fatal(err)
	}
	if _, err := in.Write(good); err != nil {
		t.Fatal(err)
	}
	d.Drain()
	if region.AttachedPID() != 42 {
		t.Fatalf("expected the valid record after garbage to still apply, got pid=%d", region.AttachedPID())
	}
	if reply.Len() != 1 {
		t.Fatalf("expected exactly one ack (for the valid record), got %d", reply.Len())
	}
}

func TestDispatcherSetScanIndexDangerousBypassesNormalAdvance(t *testing.T) {
	d, in, _, region := newTestDispatcher(t)
	region.AdvanceScanIndex()
	rec := Record{Version: ProtocolVersion, Tag: TagSetScanIndex, IntArg: 999}
	if _, err := in.Write(encode(rec)); err != nil {
		t.Fatal(err)
	}
	d.Drain()
	if region.ScanIndex() != 999 {
		t.Fatalf("expected scan index 999, got %d", region.ScanIndex())
	}
}
