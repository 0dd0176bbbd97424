// Package smoothing rebuilds noisy track paths into stable reference paths.
package smoothing

import (
	"github.com/banshee-data/deviation.report/internal/perception"
)

// headingHoldDistance is the minimum spacing between consecutive smoothed
// points for a fresh heading to be derived. Below it the previous heading is
// held, which keeps headings stable through jittery near-stationary stretches.
const headingHoldDistance = 0.1

// AveragePath smooths the positions of a path with a centered moving average
// and rebuilds headings from the smoothed geometry. The window is clamped at
// both ends of the path, so edge points average over fewer neighbours. The
// input path is not modified. A single-point path comes back unchanged.
func AveragePath(path []perception.Pose, windowSize int) []perception.Pose {
	n := len(path)
	if n == 0 {
		return nil
	}

	halfWindow := windowSize / 2
	smoothed := make([]perception.Pose, n)

	for i := 0; i < n; i++ {
		lo := i - halfWindow
		if lo < 0 {
			lo = 0
		}
		hi := i + halfWindow
		if hi > n-1 {
			hi = n - 1
		}

		var sumX, sumY, sumZ float64
		for j := lo; j <= hi; j++ {
			sumX += path[j].X
			sumY += path[j].Y
			sumZ += path[j].Z
		}
		count := float64(hi - lo + 1)
		smoothed[i] = perception.Pose{
			X:   sumX / count,
			Y:   sumY / count,
			Z:   sumZ / count,
			Yaw: path[i].Yaw,
		}
	}

	for i := 0; i < n; i++ {
		if i > 0 && perception.Dist2D(smoothed[i-1], smoothed[i]) < headingHoldDistance {
			smoothed[i].Yaw = smoothed[i-1].Yaw
			continue
		}
		if i < n-1 {
			smoothed[i].Yaw = perception.AzimuthTo(smoothed[i], smoothed[i+1])
		} else if n > 1 {
			smoothed[i].Yaw = smoothed[i-1].Yaw
		}
	}

	return smoothed
}
