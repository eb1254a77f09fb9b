package ctrlfifo

import (
	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/rtos"
	"github.com/dchristini-lab/apdcore/shared"
)

// ack is the single byte written to the reply FIFO for every accepted
// record (spec.md §4.4, §6).
const ack byte = 1

// Dispatcher is the C5 Control FIFO Dispatcher: once per RT iteration it
// drains in, decoding and applying each record to region, and writes one
// ack byte to reply per accepted record. Malformed windows are discarded
// byte-by-byte until the stream resynchronizes on the next begin sentinel
// (spec.md §6: "malformed records are skipped").
type Dispatcher struct {
	in     *rtos.Fifo
	reply  *rtos.Fifo
	region *shared.Region
	window []byte
}

// NewDispatcher builds a Dispatcher draining in, applying accepted
// records to region, and acking through reply.
func NewDispatcher(in, reply *rtos.Fifo, region *shared.Region) *Dispatcher {
	return &Dispatcher{
		in:     in,
		reply:  reply,
		region: region,
		window: make([]byte, recordSize),
	}
}

// Drain consumes every fully-buffered record currently queued on in. It
// never blocks: once fewer than recordSize bytes remain queued, it stops
// and leaves them for the next iteration's Drain to complete.
func (d *Dispatcher) Drain() {
	for {
		if d.in.Len() < recordSize {
			return
		}
		n, _ := d.in.Peek(d.window)
		if n < recordSize {
			return
		}
		rec, ok := decode(d.window)
		if !ok {
			// Resynchronize: drop one byte and retry, rather than the
			// whole window, so a single corrupted byte doesn't cost an
			// otherwise-valid record immediately following it.
			d.in.Discard(1)
			continue
		}
		d.in.Discard(recordSize)
		if d.apply(rec) {
			_, _ = d.reply.Write([]byte{ack})
		}
	}
}

// apply mutates region per rec's tag, ignoring invalid channels per
// spec.md §4.4. It reports whether the command was accepted (and so
// should be acked).
func (d *Dispatcher) apply(rec Record) bool {
	switch rec.Tag {
	case TagSetChannelEnable:
		return d.forEachChannel(rec, func(ns aio.Namespace, ch int) error {
			return d.region.SetChannelEnableViaControlFifo(ns, ch, rec.BoolArg)
		})
	case TagSetChanspec:
		return d.forEachChannel(rec, func(ns aio.Namespace, ch int) error {
			cs := aio.Chanspec{Channel: ch, Range: int(rec.Range), Aref: rec.Aref}
			return d.region.SetChanspecViaControlFifo(ns, ch, cs)
		})
	case TagSetAref:
		return d.forEachChannel(rec, func(ns aio.Namespace, ch int) error {
			cs, err := d.region.Chanspec(ns, ch)
			if err != nil {
				return err
			}
			cs.Aref = rec.Aref
			return d.region.SetChanspecViaControlFifo(ns, ch, cs)
		})
	case TagSetGain:
		return d.forEachChannel(rec, func(ns aio.Namespace, ch int) error {
			cs, err := d.region.Chanspec(ns, ch)
			if err != nil {
				return err
			}
			cs.Range = int(rec.Range)
			return d.region.SetChanspecViaControlFifo(ns, ch, cs)
		})
	case TagSetSpikeEnable:
		return d.forEachSpikeChannel(rec, func(cfg *shared.SpikeConfig) { cfg.Enabled = rec.BoolArg })
	case TagSetSpikePolarity:
		return d.forEachSpikeChannel(rec, func(cfg *shared.SpikeConfig) {
			cfg.Polarity = shared.Polarity(rec.Polarity)
		})
	case TagSetSpikeBlanking:
		return d.forEachSpikeChannel(rec, func(cfg *shared.SpikeConfig) { cfg.BlankingMS = rec.FloatArg })
	case TagSetSpikeThreshold:
		return d.forEachSpikeChannel(rec, func(cfg *shared.SpikeConfig) { cfg.ThresholdVolts = rec.FloatArg })
	case TagSetAttachedPID:
		d.region.SetAttachedPIDViaControlFifo(rec.IntArg)
		return true
	case TagSetSamplingRate:
		if rec.IntArg < 0 {
			return false
		}
		d.region.SetSamplingRateViaControlFifo(NormalizeSamplingRate(uint64(rec.IntArg)))
		return true
	case TagSetScanIndex:
		// Documented dangerous (spec.md §4.3): bypasses every in-flight
		// scheduled command's fire-scan, but the wire command exists.
		d.region.SetScanIndexDangerous(uint64(rec.IntArg))
		return true
	default:
		return false
	}
}

// forEachChannel applies fn to rec.Channel, or to every channel in
// rec.Namespace when rec.Channel == allChannels. Invalid channels are
// ignored individually; the record as a whole is accepted (and acked) as
// long as at least one channel was valid.
func (d *Dispatcher) forEachChannel(rec Record, fn func(ns aio.Namespace, ch int) error) bool {
	if rec.Channel != allChannels {
		return fn(rec.Namespace, int(rec.Channel)) == nil
	}
	accepted := false
	for ch := 0; ch < shared.MaxChannels; ch++ {
		if fn(rec.Namespace, ch) == nil {
			accepted = true
		}
	}
	return accepted
}

func (d *Dispatcher) forEachSpikeChannel(rec Record, fn func(cfg *shared.SpikeConfig)) bool {
	apply := func(ch int) bool {
		cfg, err := d.region.SpikeConfig(ch)
		if err != nil {
			return false
		}
		fn(&cfg)
		return d.region.SetSpikeConfigViaControlFifo(ch, cfg) == nil
	}
	if rec.Channel != allChannels {
		return apply(int(rec.Channel))
	}
	accepted := false
	for ch := 0; ch < shared.MaxChannels; ch++ {
		if apply(ch) {
			accepted = true
		}
	}
	return accepted
}
