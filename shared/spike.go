package shared

// Polarity selects which side of threshold a spike crosses.
type Polarity int

const (
	PolarityPositive Polarity = iota
	PolarityNegative
)

// SpikeConfig is the dispatcher-guarded half of per-channel spike params
// (spec.md §3): every field here is written only through the control FIFO
// dispatcher (C5) and only read by the RT loop.
type SpikeConfig struct {
	Enabled        bool
	Polarity       Polarity
	BlankingMS     float64
	ThresholdVolts float64
}

// SpikeRTState is the RT-only half of per-channel spike params: mutated
// exclusively by detectSpikes, never touched by the dispatcher. Times are
// nanoseconds from the acquisition loop's monotonic clock (rt_process.c's
// hrtime_t), not scan indices: spike period is a wall-clock quantity.
type SpikeRTState struct {
	LastSpikeBeginNS int64
	LastSpikeEndedNS int64
	PeriodMS         float64
	InSpike          bool

	// SavedPolarity/SavedThreshold snapshot the Config values in effect
	// when the current spike began, so a live config change mid-spike is
	// detected by comparison rather than by missing the exit edge
	// (spec.md §4.5's spike state machine).
	SavedPolarity  Polarity
	SavedThreshold float64
}
