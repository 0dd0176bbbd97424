package perception

import "math"

// Pose is a planar pose: position plus heading. Z is carried through for
// display but all deviation math is 2-D.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z,omitempty"`
	Yaw float64 `json:"yaw"`
}

// Dist2D returns the planar distance between two poses.
func Dist2D(a, b Pose) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// AzimuthTo returns the heading of the vector from a to b.
func AzimuthTo(a, b Pose) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X)
}

// NormalizeRadian wraps an angle into (-pi, pi].
func NormalizeRadian(rad float64) float64 {
	m := math.Mod(rad+math.Pi, 2*math.Pi)
	if m <= 0 {
		m += 2 * math.Pi
	}
	return m - math.Pi
}

// SignedLateralOffset returns the signed perpendicular offset of target from
// the line through ref along ref's heading. Positive is to the left of the
// heading direction.
func SignedLateralOffset(ref Pose, target Pose) float64 {
	dx := target.X - ref.X
	dy := target.Y - ref.Y
	return math.Cos(ref.Yaw)*dy - math.Sin(ref.Yaw)*dx
}

// YawDeviation returns the signed smallest-angle difference from ref's
// heading to target's heading.
func YawDeviation(ref Pose, target Pose) float64 {
	return NormalizeRadian(target.Yaw - ref.Yaw)
}

// NearestPoseIndex returns the index of the pose in path closest to p by
// planar distance, or -1 for an empty path. The first minimum wins on ties.
func NearestPoseIndex(path []Pose, p Pose) int {
	if len(path) == 0 {
		return -1
	}
	best := 0
	bestDist := Dist2D(path[0], p)
	for i := 1; i < len(path); i++ {
		if d := Dist2D(path[i], p); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}
