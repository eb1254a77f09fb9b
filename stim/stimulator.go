// Package stim is the Stimulator (spec.md C9): it expands a pulse-train
// specification into a sequence of AO-write/callback commands submitted
// to a sched.Handle, rearming itself for multi-train and continuous runs.
// Grounded on rtlab_exp_tk/stimulator.c's stim_create_cmds/stim_reaper.
package stim

import (
	"periph.io/x/periph/conn/physic"

	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/errs"
	"github.com/dchristini-lab/apdcore/sched"
)

// Params is a pulse-train specification (spec.md §3). NumTrains < 0 means
// continuous.
type Params struct {
	OnVoltage    physic.ElectricPotential
	OffVoltage   physic.ElectricPotential
	WhenMS       float64
	DurationMS   float64
	SpacingMS    float64
	EndSilenceMS float64
	NumPerTrain  int
	NumTrains    int
}

// Clock supplies the RT loop's current scan index and scan period, so the
// stimulator can compute absolute fire-scans the way sched.Handle expects.
type Clock func() (scan uint64, nanosPerScan uint64)

// Stimulator is the C9 Stimulator: one chanspec, one command handle sized
// for 2*maxTrainSize+1 commands, an active flag, and an optional
// completion callback.
type Stimulator struct {
	facade       *aio.Facade
	ns           aio.Namespace
	chanspec     aio.Chanspec
	handle       *sched.Handle
	maxTrainSize int
	clock        Clock

	params   Params
	active   bool
	callback func()
}

// NewStimulator builds a Stimulator driving chanspec in namespace ns,
// supporting trains of up to maxTrainSize pulses.
func NewStimulator(facade *aio.Facade, ns aio.Namespace, chanspec aio.Chanspec, maxTrainSize int, clock Clock) *Stimulator {
	handle := sched.NewHandle(2*maxTrainSize+1, facade, nil)
	return &Stimulator{
		facade:       facade,
		ns:           ns,
		chanspec:     chanspec,
		handle:       handle,
		maxTrainSize: maxTrainSize,
		clock:        clock,
	}
}

// Active reports whether a pulse train is currently running.
func (s *Stimulator) Active() bool { return s.active }

// SetCompletionCallback installs the function invoked after each
// finished train (continuous mode) or after the final train (finite
// mode) or on cancellation.
func (s *Stimulator) SetCompletionCallback(fn func()) { s.callback = fn }

// SetContext changes the output chanspec. Allowed only while inactive
// (spec.md §4.8).
func (s *Stimulator) SetContext(cs aio.Chanspec) error {
	if s.active {
		return errs.Again
	}
	s.chanspec = cs
	return nil
}

// Stimulate validates params and starts a pulse train. Must be called
// from the RT goroutine (directly, or from a callback/command it
// invokes), since it registers commands via sched.Handle.RegisterRT.
func (s *Stimulator) Stimulate(params Params) error {
	if s.active {
		return errs.Busy
	}
	if params.WhenMS < 0 {
		return errs.InvalidArgument
	}
	if params.NumPerTrain < 0 || params.NumPerTrain > s.maxTrainSize {
		return errs.InvalidArgument
	}
	cs := s.chanspec
	if err := s.facade.FindAndSetBestRange(s.ns, &cs, params.OnVoltage); err != nil {
		return err
	}
	s.chanspec = cs
	s.params = params
	scan, nanosPerScan := s.clock()
	if err := s.buildAndSubmit(scan, nanosPerScan); err != nil {
		return err
	}
	s.active = true
	return nil
}

// Process drains any cross-goroutine command registrations queued against
// this stimulator's handle and fires every command due by scanIndex. The
// acquisition engine calls this once per scan for every live Stimulator,
// typically from a callback it registers on the stimulator's behalf.
func (s *Stimulator) Process(scanIndex uint64) {
	_, nanosPerScan := s.clock()
	s.handle.DrainPending(scanIndex, nanosPerScan)
	s.handle.Process(scanIndex)
}

// Cancel marks the stimulator inactive; the pending on/off edges of the
// current train still fire, and the completion callback runs on the next
// stim_reaper invocation (spec.md §4.8, §5: no mid-train preemption).
func (s *Stimulator) Cancel() { s.active = false }

func voltsOf(v physic.ElectricPotential) float64 { return float64(v) / float64(physic.Volt) }

// buildAndSubmit expands the current Params into exactly 2N+1 commands —
// stim_create_cmds's alternating on/off construction — and registers them
// against the handle at (scan, nanosPerScan).
func (s *Stimulator) buildAndSubmit(scan, nanosPerScan uint64) error {
	n := s.params.NumPerTrain
	onRaw, err := s.facade.VoltsToRaw(s.ns, s.chanspec, voltsOf(s.params.OnVoltage))
	if err != nil {
		return err
	}
	offRaw, err := s.facade.VoltsToRaw(s.ns, s.chanspec, voltsOf(s.params.OffVoltage))
	if err != nil {
		return err
	}

	total := 2*n + 1
	cmds := make([]*sched.Command, 0, total)
	t := s.params.WhenMS
	isAttack := true
	remaining := total
	for remaining > 0 {
		switch {
		case remaining == 1:
			cmds = append(cmds, &sched.Command{Type: sched.CmdCallback, WhenMS: t, Fn: s.reap})
		case isAttack:
			cmds = append(cmds, &sched.Command{Type: sched.AOWrite, WhenMS: t, AO: s.chanspec, AORaw: onRaw})
		default:
			cmds = append(cmds, &sched.Command{Type: sched.AOWrite, WhenMS: t, AO: s.chanspec, AORaw: offRaw})
		}
		remaining--
		isAttack = !isAttack
		switch {
		case remaining == 1:
			t += s.params.EndSilenceMS
		case isAttack:
			t += s.params.SpacingMS
		default:
			t += s.params.DurationMS
		}
	}
	return s.handle.RegisterRT(cmds, scan, nanosPerScan)
}

// reap is stim_reaper: it runs as the final CALLBACK command of every
// train. It rearms finite/continuous trains, retires exhausted ones, and
// honors cancellation observed at this call (spec.md §4.8).
func (s *Stimulator) reap() {
	scan, nanosPerScan := s.clock()

	// stim_create_cmds's single registration call never overflows the
	// handle, so contention here can only come from a concurrent non-RT
	// Register — the original's handle-list-lock-busy case. Re-register
	// one scan later rather than spin, exactly as stimulator.c does.
	if s.handle.PendingCount() > 0 {
		_ = s.handle.RegisterRT([]*sched.Command{{Type: sched.CmdCallback, WhenMS: 1, Fn: s.reap}}, scan, nanosPerScan)
		return
	}

	if !s.active {
		if s.callback != nil {
			s.callback()
		}
		return
	}

	if s.params.NumTrains > 0 {
		s.params.NumTrains--
		if s.params.NumTrains == 0 {
			s.active = false
			if s.callback != nil {
				s.callback()
			}
			return
		}
	} else if s.params.NumTrains < 0 && s.callback != nil {
		s.callback()
	}

	s.params.WhenMS = 0
	if err := s.buildAndSubmit(scan, nanosPerScan); err != nil {
		s.active = false
		if s.callback != nil {
			s.callback()
		}
	}
}
