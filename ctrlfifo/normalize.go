package ctrlfifo

import "math"

// MinSamplingRateHz and MaxSamplingRateHz bound the accepted sampling
// rate (spec.md §4.4's clamp step). The APD controller additionally
// requires at least 1kHz (errs.RateTooLow), enforced by its own caller.
const (
	MinSamplingRateHz uint64 = 100
	MaxSamplingRateHz uint64 = 100_000
)

// divisorsOf1000 are the integer divisors of 1000, in ascending order,
// used as snap targets for rates at or below 1000 Hz.
var divisorsOf1000 = []uint64{1, 2, 4, 5, 8, 10, 20, 25, 40, 50, 100, 125, 200, 250, 500, 1000}

// NormalizeSamplingRate clamps x to [MinSamplingRateHz, MaxSamplingRateHz]
// then snaps it to a multiple of 1000 (rates above 1000) or the nearest
// divisor of 1000 (rates at or below 1000), per spec.md §4.4. It is
// idempotent: NormalizeSamplingRate(NormalizeSamplingRate(x)) ==
// NormalizeSamplingRate(x) for all x (spec.md §8).
func NormalizeSamplingRate(x uint64) uint64 {
	if x < MinSamplingRateHz {
		x = MinSamplingRateHz
	}
	if x > MaxSamplingRateHz {
		x = MaxSamplingRateHz
	}
	if x > 1000 {
		return uint64(math.Round(float64(x)/1000)) * 1000
	}
	return nearestDivisorOf1000(x)
}

func nearestDivisorOf1000(x uint64) uint64 {
	best := divisorsOf1000[0]
	bestDiff := absDiff(x, best)
	for _, d := range divisorsOf1000[1:] {
		if diff := absDiff(x, d); diff < bestDiff {
			best, bestDiff = d, diff
		}
	}
	return best
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
