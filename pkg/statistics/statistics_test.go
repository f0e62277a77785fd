package statistics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{-20, -10, -15})
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, -15.0, s.Mean, 1e-9)
	assert.Equal(t, -20.0, s.Min)
	assert.Equal(t, -10.0, s.Max)
	assert.InDelta(t, 5.0, s.StdDev, 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, Summary{}, s)
}

func TestSummarizeSingleValue(t *testing.T) {
	s := Summarize([]float64{-7.5})
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, -7.5, s.Mean)
	assert.Equal(t, 0.0, s.StdDev, "stddev of a single observation is reported as zero, not NaN")
}
