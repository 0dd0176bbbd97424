// Package deviation computes how far tracked objects strayed from their
// smoothed history paths and from the motion forecasts made for them.
package deviation

import (
	"fmt"
	"math"
)

// Metric kind names. Predicted-path channels carry a horizon suffix, e.g.
// "predicted_path_deviation_5.00".
const (
	KindLateral       = "lateral_deviation"
	KindYaw           = "yaw_deviation"
	KindPredictedPath = "predicted_path_deviation"
)

// PredictedPathKind returns the metric channel name for a horizon in seconds.
func PredictedPathKind(horizonSeconds float64) string {
	return fmt.Sprintf("%s_%.2f", KindPredictedPath, horizonSeconds)
}

// Stat summarises one metric channel over a single evaluation pass.
type Stat struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stddev"`
}

// accumulator builds a Stat incrementally without retaining samples.
type accumulator struct {
	count  int
	sum    float64
	sumSq  float64
	minVal float64
	maxVal float64
}

func (a *accumulator) add(v float64) {
	if a.count == 0 || v < a.minVal {
		a.minVal = v
	}
	if a.count == 0 || v > a.maxVal {
		a.maxVal = v
	}
	a.count++
	a.sum += v
	a.sumSq += v * v
}

func (a *accumulator) stat() Stat {
	if a.count == 0 {
		return Stat{}
	}
	mean := a.sum / float64(a.count)
	variance := a.sumSq/float64(a.count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Stat{
		Count:  a.count,
		Mean:   mean,
		Min:    a.minVal,
		Max:    a.maxVal,
		StdDev: math.Sqrt(variance),
	}
}
