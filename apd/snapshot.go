package apd

import (
	"bytes"
	"encoding/binary"
)

// wireSnapshot is Snapshot's fixed-width wire shape, the same flat-record
// style ctrlfifo.wireRecord and acq.wireSample use: every field is always
// present, even when only meaningful for a linked AO channel.
type wireSnapshot struct {
	APDChannel int32
	AOChan     int32
	ScanIndex  uint64
	ApdXXPct   float64
	VAPA       float64
	VBaseline  float64
	APTi       int64
	APTf       int64
	APD        int64
	DI         int64
	LinkFlag   uint8
	_          [7]byte // padding to keep CondTimeMS 8-byte aligned
	CondTimeMS int64

	NominalPI          int64
	PI                 int64
	DeltaPI            int64
	ControlOn          uint8
	OnlyNegative       uint8
	PacingOn           uint8
	ContinueUnderlying uint8
	TargetShorter      uint8
	_                  [3]byte
	ConsecAlternating  int32
	DeltaG             float64
	G                  float64
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func encodeSnapshot(s Snapshot) []byte {
	w := wireSnapshot{
		APDChannel:         int32(s.APDChannel),
		AOChan:             int32(s.AOChan),
		ScanIndex:          s.ScanIndex,
		ApdXXPct:           s.ApdXXPct,
		VAPA:               s.VAPA,
		VBaseline:          s.VBaseline,
		APTi:               s.APTi,
		APTf:               s.APTf,
		APD:                s.APD,
		DI:                 s.DI,
		LinkFlag:           boolByte(s.LinkFlag),
		CondTimeMS:         s.CondTimeMS,
		NominalPI:          s.NominalPI,
		PI:                 s.PI,
		DeltaPI:            s.DeltaPI,
		ControlOn:          boolByte(s.ControlOn),
		OnlyNegative:       boolByte(s.OnlyNegative),
		PacingOn:           boolByte(s.PacingOn),
		ContinueUnderlying: boolByte(s.ContinueUnderlying),
		TargetShorter:      boolByte(s.TargetShorter),
		ConsecAlternating:  int32(s.ConsecAlternating),
		DeltaG:             s.DeltaG,
		G:                  s.G,
	}
	buf := new(bytes.Buffer)
	buf.Grow(binary.Size(w))
	_ = binary.Write(buf, binary.BigEndian, &w)
	return buf.Bytes()
}

// pushSnapshot builds and writes a Snapshot for a just-finalized AP,
// populating the AO-linked fields only when aoIdx >= 0 (spec.md §4.9).
// A full APD FIFO silently drops the snapshot, counted, per spec.md §7.
func (c *Controller) pushSnapshot(scanIndex uint64, aiIdx int, ai *AIChannel, aoIdx int, ao *AOChannel) {
	snap := Snapshot{
		APDChannel: aiIdx,
		AOChan:     aoIdx,
		ScanIndex:  scanIndex,
		ApdXXPct:   c.ApdXX,
		VAPA:       ai.vAPA,
		VBaseline:  ai.vBaselineForSnapshot,
		APTi:       ai.apTi,
		APTf:       ai.apTf,
		APD:        ai.APD,
		DI:         ai.DI,
		LinkFlag:   c.LinkAO1ToAO0,
		CondTimeMS: c.AO0AO1CondTimeMS,
	}
	if ao != nil {
		snap.NominalPI = ao.NominalPI
		snap.PI = ai.PreviousAPD + ai.DI
		snap.DeltaPI = ao.DeltaPI
		snap.ControlOn = ao.ControlOn
		snap.OnlyNegative = ao.OnlyNegativePerturb
		snap.PacingOn = ao.PacingOn
		snap.ContinueUnderlying = ao.ContinueUnderlying
		snap.TargetShorter = ao.TargetShorter
		snap.ConsecAlternating = ao.ConsecAlternating
		snap.DeltaG = ao.DeltaG
		snap.G = ao.GVal
	}
	if c.fifo == nil {
		return
	}
	if _, err := c.fifo.Write(encodeSnapshot(snap)); err != nil {
		c.droppedSnapshots.Add(1)
	}
}
