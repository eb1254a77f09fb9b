package acq

import (
	"bytes"
	"encoding/binary"
)

// Magic is the fixed sentinel every wire Sample carries, letting a userland
// reader resynchronize the AI FIFO byte stream after an overrun (spec.md §3).
const Magic uint32 = 0x5A4D504C

// Sample is one channel's reading for one scan (spec.md §3).
type Sample struct {
	Channel       int
	ScanIndex     uint64
	Volts         float64
	Spike         bool
	SpikePeriodMS float64
	Magic         uint32
}

// wireSample is Sample's fixed-width wire shape, the same flat-record style
// ctrlfifo.wireRecord and apd.wireSnapshot use for their FIFO payloads.
type wireSample struct {
	Channel       int32
	_             [4]byte
	ScanIndex     uint64
	Volts         float64
	SpikePeriodMS float64
	Spike         uint8
	_             [3]byte
	Magic         uint32
}

func encodeSample(s Sample) []byte {
	w := wireSample{
		Channel:       int32(s.Channel),
		ScanIndex:     s.ScanIndex,
		Volts:         s.Volts,
		SpikePeriodMS: s.SpikePeriodMS,
		Magic:         s.Magic,
	}
	if s.Spike {
		w.Spike = 1
	}
	buf := new(bytes.Buffer)
	buf.Grow(binary.Size(w))
	_ = binary.Write(buf, binary.BigEndian, &w)
	return buf.Bytes()
}

// MultiSample is a fixed-capacity, in-place-reused buffer of Samples for one
// scan: scanChannels fills it, detectSpikes annotates it, enqueueForUserland
// drains it — the same "never allocate mid-loop, overwrite in place" shape
// as buffer.go's SampleBuff.NextSliceFor ring, sized to one scan instead of
// wrapping across many.
type MultiSample struct {
	buf []Sample
	n   int
}

// NewMultiSample allocates a MultiSample that can hold up to capacity
// samples, reused scan after scan.
func NewMultiSample(capacity int) *MultiSample {
	return &MultiSample{buf: make([]Sample, capacity)}
}

// Reset clears the buffer for a new scan without releasing storage.
func (m *MultiSample) Reset() { m.n = 0 }

// Append adds s, reporting false if the buffer is already full.
func (m *MultiSample) Append(s Sample) bool {
	if m.n >= len(m.buf) {
		return false
	}
	m.buf[m.n] = s
	m.n++
	return true
}

// Len reports how many samples the current scan filled in.
func (m *MultiSample) Len() int { return m.n }

// At returns a copy of the i'th sample in this scan.
func (m *MultiSample) At(i int) Sample { return m.buf[i] }

// Set overwrites the i'th sample in place, for detectSpikes annotating a
// sample scanChannels already filled in.
func (m *MultiSample) Set(i int, s Sample) { m.buf[i] = s }
