package tester

import (
	"math"

	"github.com/Alice39s/aqua-speed/pkg/models"
)

// metricsWindow is how many recent samples feed trend and variance.
const metricsWindow = 5

// minSizerSamples is the cold-start guard: with fewer samples the sizer
// leaves the thread count untouched.
const minSizerSamples = 3

// threadSizer proposes the next round's concurrency from recent round
// samples and the current convergence state, bounded by the configured
// thread hint.
type threadSizer struct {
	min int
	max int
}

func newThreadSizer(configured int) *threadSizer {
	max := 2 * configured
	if max > 12 {
		max = 12
	}
	min := configured / 4
	if min < 1 {
		min = 1
	}
	return &threadSizer{min: min, max: max}
}

func (s *threadSizer) clamp(n int) int {
	if n < s.min {
		return s.min
	}
	if n > s.max {
		return s.max
	}
	return n
}

// next decides the thread count for the coming round. First matching
// rule wins:
//  1. far above target error on a stable link: scale up aggressively
//  2. well under target error on a very stable link: scale down
//  3. unstable conditions: signed step toward the target with
//     congestion/stability/trend penalties
//  4. otherwise hold
func (s *threadSizer) next(samples []float64, current int, st models.SpeedStats, targetError float64) int {
	if len(samples) < minSizerSamples {
		return current
	}

	m := computeNetworkMetrics(samples, st)

	switch {
	case st.Error > 2*targetError && m.Stability > 0.6:
		return s.clamp(current + 2)

	case st.Error < 0.5*targetError && m.Stability > 0.8:
		return s.clamp(current - 1)
	}

	errDev := st.Error - targetError
	unstable := math.Abs(errDev) > 0.3*targetError ||
		math.Abs(m.Trend) > 0.15 ||
		m.Stability < 0.5 ||
		m.Congestion > 0.7
	if !unstable {
		return s.clamp(current)
	}

	step := 1
	if math.Abs(errDev) > 0.5*targetError {
		step = 2
	}
	adjust := step
	if errDev < 0 {
		adjust = -step
	}

	if m.Congestion > 0.8 {
		adjust--
	}
	if m.Stability < 0.3 {
		adjust--
	}
	if m.Trend < -0.2 {
		adjust--
	}
	if m.Trend > 0.2 && m.Stability > 0.6 {
		adjust++
	}

	return s.clamp(current + adjust)
}

// computeNetworkMetrics derives stability, congestion, trend and
// variance from the recent sample window. Variance is normalized by the
// window mean so the figures are scale-invariant across link speeds.
func computeNetworkMetrics(samples []float64, st models.SpeedStats) models.NetworkMetrics {
	recent := samples
	if len(recent) > metricsWindow {
		recent = recent[len(recent)-metricsWindow:]
	}

	trend := 0.0
	pairs := 0
	for i := 1; i < len(recent); i++ {
		if recent[i-1] > 0 {
			trend += (recent[i] - recent[i-1]) / recent[i-1]
			pairs++
		}
	}
	if pairs > 0 {
		trend /= float64(pairs)
	}

	mean := 0.0
	for _, s := range recent {
		mean += s
	}
	mean /= float64(len(recent))

	variance := 0.0
	if mean > 0 {
		for _, s := range recent {
			d := s/mean - 1
			variance += d * d
		}
		variance /= float64(len(recent))
	}

	stability := ((1 - variance) + (1 - st.Error)) / 2
	stability = clamp01(stability)

	congestionTrend := 0.0
	if trend < 0 {
		congestionTrend = math.Min(1, -trend/0.5)
	}
	congestion := (congestionTrend + math.Min(1, 2*st.Error)) / 2

	return models.NetworkMetrics{
		Stability:  stability,
		Congestion: congestion,
		Trend:      trend,
		Variance:   variance,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
