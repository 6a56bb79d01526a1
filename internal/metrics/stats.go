package metrics

import (
	"math"

	"github.com/Alice39s/aqua-speed/pkg/models"
)

// zScore95 is the normal z value for a 95% confidence interval.
const zScore95 = 1.96

// CalculateStats aggregates a sample set into min/avg/max/stddev and a
// 95%-confidence relative error. Non-positive samples are dropped before
// aggregation; if nothing valid remains the result is all-zero with
// Error = 1 so callers keep sampling instead of converging on garbage.
func CalculateStats(samples []float64) models.SpeedStats {
	valid := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s > 0 {
			valid = append(valid, s)
		}
	}

	if len(valid) == 0 {
		return models.SpeedStats{Error: 1}
	}

	min, max := valid[0], valid[0]
	sum := 0.0
	for _, s := range valid {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += s
	}
	avg := sum / float64(len(valid))

	variance := 0.0
	for _, s := range valid {
		d := s - avg
		variance += d * d
	}
	variance /= float64(len(valid))
	stdDev := math.Sqrt(variance)

	relErr := 0.0
	if avg > 0 {
		relErr = (stdDev / avg) * (zScore95 / math.Sqrt(float64(len(valid))))
	}

	return models.SpeedStats{
		Min:     min,
		Avg:     avg,
		Max:     max,
		StdDev:  stdDev,
		Error:   relErr,
		Samples: valid,
	}
}
