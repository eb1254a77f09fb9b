package aio

import (
	"context"
	"sync"
	"time"

	"github.com/dchristini-lab/apdcore/errs"
)

// SimDriver is an in-memory Driver for tests and for running the rest of
// the stack without real hardware attached. It plays back a scriptable
// waveform per AI channel and records every AO write, the same role
// buffer.go's fixed-size Sweep ring plays for the teacher's scanline
// pipeline: a stand-in the rest of the code can't tell from the real thing.
type SimDriver struct {
	mu      sync.Mutex
	aiKr    [][]Krange
	aoKr    [][]Krange
	aiMax   []Raw
	aoMax   []Raw
	aiFunc  []func(now time.Time) Raw
	aoWrite []Raw
}

// NewSimDriver builds a SimDriver with nAI input and nAO output channels,
// every channel sharing the single range krange with maxdata full-scale.
func NewSimDriver(nAI, nAO int, krange Krange, maxdata Raw) *SimDriver {
	d := &SimDriver{
		aiKr:    make([][]Krange, nAI),
		aoKr:    make([][]Krange, nAO),
		aiMax:   make([]Raw, nAI),
		aoMax:   make([]Raw, nAO),
		aiFunc:  make([]func(now time.Time) Raw, nAI),
		aoWrite: make([]Raw, nAO),
	}
	for i := 0; i < nAI; i++ {
		d.aiKr[i] = []Krange{krange}
		d.aiMax[i] = maxdata
	}
	for i := 0; i < nAO; i++ {
		d.aoKr[i] = []Krange{krange}
		d.aoMax[i] = maxdata
	}
	return d
}

// SetWaveform installs a function generating channel ch's raw sample as a
// function of wall time, for scripting test scenarios (spike trains, APD
// traces, and so on).
func (d *SimDriver) SetWaveform(ch int, fn func(now time.Time) Raw) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aiFunc[ch] = fn
}

// LastWrite returns the most recent raw value written to AO channel ch.
func (d *SimDriver) LastWrite(ch int) Raw {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aoWrite[ch]
}

func (d *SimDriver) Enumerate(ns Namespace) (EnumResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ns == AO {
		return EnumResult{NChannels: len(d.aoKr), Kranges: d.aoKr, Maxdata: d.aoMax}, nil
	}
	return EnumResult{NChannels: len(d.aiKr), Kranges: d.aiKr, Maxdata: d.aiMax}, nil
}

func (d *SimDriver) ReadDelayed(ctx context.Context, cs Chanspec, settling time.Duration) (Raw, error) {
	if settling > 0 {
		timer := time.NewTimer(settling)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cs.Channel < 0 || cs.Channel >= len(d.aiFunc) {
		return 0, errs.InvalidArgument
	}
	fn := d.aiFunc[cs.Channel]
	if fn == nil {
		return 0, nil
	}
	return fn(time.Now()), nil
}

func (d *SimDriver) Write(cs Chanspec, raw Raw) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cs.Channel < 0 || cs.Channel >= len(d.aoWrite) {
		return errs.InvalidArgument
	}
	d.aoWrite[cs.Channel] = raw
	return nil
}

var _ Driver = (*SimDriver)(nil)
