package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats(t *testing.T) {
	data := []float64{4, 1, 3, 2}

	assert.Equal(t, 4.0, Max(data...))
	assert.Equal(t, 1.0, Min(data...))
	assert.Equal(t, 2.5, Median(data...))
	assert.Equal(t, 2.5, Avg(data...))
	assert.Equal(t, []float64{4, 1, 3, 2}, data, "input must not be reordered")

	assert.Equal(t, 3.0, Median(5, 3, 1))
	assert.Equal(t, 4.0, Percentile(100, data...))
	assert.Equal(t, 2.0, Percentile(50, data...))
	assert.Equal(t, 1.0, Percentile(1, data...))
}

func TestStatsEmpty(t *testing.T) {
	for _, f := range []func(...float64) float64{Max, Min, Median, Avg} {
		assert.Equal(t, -1.0, f())
	}
	assert.Equal(t, -1.0, Percentile(99))
}
