// Package ctrlfifo is the Control FIFO Dispatcher (spec.md C5): it drains
// sentinel-framed command records from a byte FIFO, once per RT iteration,
// and is the sole writer of shared.Region's dispatcher-guarded fields.
package ctrlfifo

import (
	"bytes"
	"encoding/binary"

	"github.com/dchristini-lab/apdcore/aio"
)

// beginSentinel and endSentinel bracket every wire record (spec.md §6).
const (
	beginSentinel uint16 = 0xfade
	endSentinel   uint16 = 0xedaf
)

// ProtocolVersion must match shared.RegionVersion; a record carrying a
// different version is treated as malformed.
const ProtocolVersion uint32 = 1

// Tag identifies a command's payload shape.
type Tag uint8

const (
	TagSetChannelEnable Tag = iota
	TagSetChanspec
	TagSetAref
	TagSetGain
	TagSetSpikeEnable
	TagSetSpikePolarity
	TagSetSpikeBlanking
	TagSetSpikeThreshold
	TagSetAttachedPID
	TagSetSamplingRate
	TagSetScanIndex
)

// allChannels is the Channel sentinel meaning "apply to every channel in
// the namespace" for the per-channel-or-all commands (spec.md §4.4).
const allChannels int32 = -1

// Record is the fixed-size tagged-union command the wire format carries.
// Unlike a true union, every field is always present; only the fields a
// given Tag defines are meaningful, the same flat-record style buffer.go
// and map_control.c use for their fixed-size wire structs.
type Record struct {
	Version   uint32
	Tag       Tag
	Namespace aio.Namespace
	Channel   int32 // channel index, or allChannels
	BoolArg   bool
	IntArg    int64 // PID, scan index, or sampling rate (Hz)
	FloatArg  float64
	Range     int32
	Aref      aio.AnalogReference
	Polarity  int32
}

// wireRecord is Record's fixed-width on-the-wire shape, bracketed by the
// begin/end sentinels.
type wireRecord struct {
	Begin     uint16
	Version   uint32
	Tag       uint8
	Namespace uint8
	Channel   int32
	BoolArg   uint8
	Pad       [3]uint8 // keeps IntArg 8-byte aligned in the byte stream
	IntArg    int64
	FloatArg  float64
	Range     int32
	Aref      int32
	Polarity  int32
	End       uint16
}

// recordSize is the fixed byte length of one wire record.
var recordSize = binary.Size(wireRecord{})

// RecordSize is the fixed byte length of one wire Record, exported so a
// control-FIFO client (cmd/apdctl) can frame reads against the same
// bridge stream the Dispatcher drains (spec.md §6).
func RecordSize() int { return recordSize }

// Encode is the exported form of encode, for a non-RT client building a
// wire record to send to a running core's control FIFO.
func Encode(rec Record) []byte { return encode(rec) }

// Decode is the exported form of decode, for symmetry with Encode; most
// callers outside this package only ever need Encode, since the core is
// always the one decoding inbound control records.
func Decode(raw []byte) (Record, bool) { return decode(raw) }

func encode(rec Record) []byte {
	w := wireRecord{
		Begin:     beginSentinel,
		Version:   rec.Version,
		Tag:       uint8(rec.Tag),
		Namespace: uint8(rec.Namespace),
		Channel:   rec.Channel,
		IntArg:    rec.IntArg,
		FloatArg:  rec.FloatArg,
		Range:     rec.Range,
		Aref:      int32(rec.Aref),
		Polarity:  rec.Polarity,
		End:       endSentinel,
	}
	if rec.BoolArg {
		w.BoolArg = 1
	}
	buf := new(bytes.Buffer)
	buf.Grow(recordSize)
	_ = binary.Write(buf, binary.BigEndian, &w)
	return buf.Bytes()
}

// decode parses a full, correctly-sized window of bytes into a Record.
// It returns ok=false if the sentinels or version don't match, meaning
// the caller should treat this window as a malformed record.
func decode(raw []byte) (rec Record, ok bool) {
	if len(raw) != recordSize {
		return Record{}, false
	}
	var w wireRecord
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &w); err != nil {
		return Record{}, false
	}
	if w.Begin != beginSentinel || w.End != endSentinel {
		return Record{}, false
	}
	if w.Version != ProtocolVersion {
		return Record{}, false
	}
	rec = Record{
		Version:   w.Version,
		Tag:       Tag(w.Tag),
		Namespace: aio.Namespace(w.Namespace),
		Channel:   w.Channel,
		BoolArg:   w.BoolArg != 0,
		IntArg:    w.IntArg,
		FloatArg:  w.FloatArg,
		Range:     w.Range,
		Aref:      aio.AnalogReference(w.Aref),
		Polarity:  w.Polarity,
	}
	return rec, true
}
