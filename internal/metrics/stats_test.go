package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateStatsConstantSamples(t *testing.T) {
	st := CalculateStats([]float64{100, 100, 100})

	assert.Equal(t, 100.0, st.Min)
	assert.Equal(t, 100.0, st.Avg)
	assert.Equal(t, 100.0, st.Max)
	assert.Equal(t, 0.0, st.StdDev)
	assert.Equal(t, 0.0, st.Error)
}

func TestCalculateStatsEmpty(t *testing.T) {
	st := CalculateStats(nil)

	assert.Equal(t, 1.0, st.Error)
	assert.Zero(t, st.Min)
	assert.Zero(t, st.Avg)
	assert.Zero(t, st.Max)
	assert.Zero(t, st.StdDev)
}

func TestCalculateStatsDropsNonPositive(t *testing.T) {
	st := CalculateStats([]float64{-5, 0, 200, 400})

	require.Len(t, st.Samples, 2)
	assert.Equal(t, 200.0, st.Min)
	assert.Equal(t, 400.0, st.Max)
	assert.Equal(t, 300.0, st.Avg)
}

func TestCalculateStatsAllInvalid(t *testing.T) {
	st := CalculateStats([]float64{-1, -1, 0})

	assert.Equal(t, 1.0, st.Error)
	assert.Zero(t, st.Avg)
}

func TestCalculateStatsOrdering(t *testing.T) {
	sets := [][]float64{
		{1},
		{1, 2, 3},
		{5, 5, 10, 20},
		{0.001, 1000000},
		{-3, 7, 2, 9},
	}
	for _, samples := range sets {
		st := CalculateStats(samples)
		assert.LessOrEqual(t, st.Min, st.Avg)
		assert.LessOrEqual(t, st.Avg, st.Max)
		assert.GreaterOrEqual(t, st.StdDev, 0.0)
	}
}
