// Package statistics provides the numeric summary helpers used by the
// dashboard surfaces. Deviation history is summarized here before it is
// served; nothing in the trading path depends on this package.
package statistics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}

// Summary is the descriptive-statistics block the deviation dashboard
// renders for one bot's recent candidate evaluations.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes a Summary over data. An empty input yields the
// zero Summary rather than NaNs.
func Summarize(data []float64) Summary {
	if len(data) == 0 {
		return Summary{}
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	s := Summary{
		Count: len(data),
		Mean:  Mean(data),
		Min:   min,
		Max:   max,
	}
	if len(data) > 1 {
		s.StdDev = StdDev(data)
	}
	return s
}
