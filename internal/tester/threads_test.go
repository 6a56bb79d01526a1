package tester

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Alice39s/aqua-speed/internal/metrics"
	"github.com/Alice39s/aqua-speed/pkg/models"
)

func TestSizerBounds(t *testing.T) {
	cases := []struct {
		configured, min, max int
	}{
		{1, 1, 2},
		{4, 1, 8},
		{6, 1, 12},
		{8, 2, 12},
		{32, 8, 12},
	}
	for _, c := range cases {
		s := newThreadSizer(c.configured)
		assert.Equal(t, c.min, s.min, "configured=%d", c.configured)
		assert.Equal(t, c.max, s.max, "configured=%d", c.configured)
	}
}

func TestSizerColdStartGuard(t *testing.T) {
	s := newThreadSizer(4)

	st := models.SpeedStats{Error: 0.9}
	assert.Equal(t, 7, s.next(nil, 7, st, 0.01))
	assert.Equal(t, 7, s.next([]float64{1e6}, 7, st, 0.01))
	assert.Equal(t, 7, s.next([]float64{1e6, 2e6}, 7, st, 0.01))
}

func TestSizerNeverLeavesBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 500; trial++ {
		configured := 1 + rng.Intn(32)
		s := newThreadSizer(configured)

		n := 3 + rng.Intn(10)
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = rng.Float64() * 1e9
		}
		st := metrics.CalculateStats(samples)
		current := 1 + rng.Intn(16)
		target := rng.Float64()*0.5 + 0.001

		got := s.next(samples, current, st, target)
		assert.GreaterOrEqual(t, got, s.min)
		assert.LessOrEqual(t, got, s.max)
	}
}

func TestSizerScalesUpOnHighErrorStableLink(t *testing.T) {
	s := newThreadSizer(6)

	// Nearly identical samples: stable, but pretend error is high.
	samples := []float64{1e6, 1.01e6, 0.99e6, 1e6}
	st := models.SpeedStats{Error: 0.3}
	got := s.next(samples, 4, st, 0.05)
	assert.Equal(t, 6, got)
}

func TestSizerScalesDownWhenComfortablyConverged(t *testing.T) {
	s := newThreadSizer(6)

	samples := []float64{1e6, 1e6, 1e6, 1e6}
	st := models.SpeedStats{Error: 0.001}
	got := s.next(samples, 4, st, 0.05)
	assert.Equal(t, 3, got)
}

func TestComputeNetworkMetricsTrend(t *testing.T) {
	// Steadily climbing samples: positive trend, no congestion signal
	// from the trend side.
	m := computeNetworkMetrics([]float64{100, 110, 121, 133.1}, models.SpeedStats{Error: 0})
	assert.InDelta(t, 0.1, m.Trend, 0.001)
	assert.GreaterOrEqual(t, m.Stability, 0.0)
	assert.LessOrEqual(t, m.Congestion, 0.5)

	// Collapsing samples: negative trend drives congestion up.
	m = computeNetworkMetrics([]float64{1000, 500, 250, 125}, models.SpeedStats{Error: 0.5})
	assert.Less(t, m.Trend, -0.2)
	assert.Greater(t, m.Congestion, 0.7)
}
