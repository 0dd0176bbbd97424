package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/deviation.report/internal/perception"
)

// ScenarioKind names a synthetic trajectory shape.
type ScenarioKind string

// Supported scenario kinds. Straight drives +x with zero deviation; deviated
// shifts the whole trajectory by a constant lateral offset; oscillate weaves
// sinusoidally around the lane centre; rotate drives straight with the
// heading twisted away from the direction of travel.
const (
	ScenarioStraight  ScenarioKind = "straight"
	ScenarioDeviated  ScenarioKind = "deviated"
	ScenarioOscillate ScenarioKind = "oscillate"
	ScenarioRotate    ScenarioKind = "rotate"
)

// ValidScenarioKinds lists the accepted -scenario flag values.
var ValidScenarioKinds = []ScenarioKind{ScenarioStraight, ScenarioDeviated, ScenarioOscillate, ScenarioRotate}

// ParseScenarioKind validates a scenario name.
func ParseScenarioKind(s string) (ScenarioKind, error) {
	for _, k := range ValidScenarioKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown scenario %q (valid: straight, deviated, oscillate, rotate)", s)
}

// Scenario produces batches of objects driving parallel lanes along +x.
// Unlike Generator's circular demo track, scenario trajectories have
// closed-form poses, which makes them usable as ground truth for checking
// deviation metrics end to end.
type Scenario struct {
	Kind            ScenarioKind
	ObjectCount     int           // parallel lanes, 4 m apart
	FrameRate       float64       // batches per second
	VelocityMPS     float64       // speed along the lane
	Deviation       float64       // metres, lateral offset / weave amplitude
	RotationRad     float64       // radians, heading twist (rotate scenario)
	OscillatePeriod float64       // seconds per full weave cycle
	ForecastHorizon float64       // seconds of forecast per object
	ForecastStep    time.Duration // spacing of forecast poses

	start time.Time
	frame uint64
	ids   []string
}

// NewScenario creates a scenario with defaults matching the evaluator's
// default horizons.
func NewScenario(kind ScenarioKind) *Scenario {
	return &Scenario{
		Kind:            kind,
		ObjectCount:     1,
		FrameRate:       2.0,
		VelocityMPS:     2.0,
		Deviation:       1.0,
		RotationRad:     math.Pi / 4,
		OscillatePeriod: 8.0,
		ForecastHorizon: 5.0,
		ForecastStep:    500 * time.Millisecond,
		start:           time.Now(),
	}
}

// SetStart pins the stamp of the first batch, as with Generator.
func (s *Scenario) SetStart(start time.Time) {
	s.start = start
}

// NextBatch generates the next batch. Object ids are stable UUIDs minted on
// first use.
func (s *Scenario) NextBatch() perception.Batch {
	if s.ids == nil {
		s.ids = make([]string, s.ObjectCount)
		for i := range s.ids {
			s.ids[i] = uuid.New().String()
		}
	}

	elapsed := float64(s.frame) / s.FrameRate
	s.frame++

	objects := make([]perception.TrackedObject, s.ObjectCount)
	for i := range objects {
		objects[i] = s.object(i, elapsed)
	}
	return perception.Batch{
		Stamp:   s.start.Add(time.Duration(elapsed * float64(time.Second))),
		Objects: objects,
	}
}

// poseAt is the closed-form pose of lane i at time t.
func (s *Scenario) poseAt(i int, t float64) perception.Pose {
	laneY := float64(i) * 4.0
	x := s.VelocityMPS * t
	y := laneY
	yaw := 0.0

	switch s.Kind {
	case ScenarioDeviated:
		y += s.Deviation
	case ScenarioOscillate:
		omega := 2 * math.Pi / s.OscillatePeriod
		y += s.Deviation * math.Sin(omega*t)
		// Heading follows the actual velocity vector.
		yaw = math.Atan2(s.Deviation*omega*math.Cos(omega*t), s.VelocityMPS)
	case ScenarioRotate:
		yaw = s.RotationRad
	}
	return perception.Pose{X: x, Y: y, Yaw: yaw}
}

func (s *Scenario) object(i int, elapsed float64) perception.TrackedObject {
	pose := s.poseAt(i, elapsed)

	stepSecs := s.ForecastStep.Seconds()
	n := int(s.ForecastHorizon/stepSecs) + 1
	poses := make([]perception.Pose, n)
	for j := 0; j < n; j++ {
		poses[j] = s.poseAt(i, elapsed+float64(j)*stepSecs)
	}

	return perception.TrackedObject{
		ObjectID: s.ids[i],
		Class:    perception.ClassCar,
		Pose:     pose,
		Twist:    perception.Twist{VX: s.VelocityMPS},
		Forecasts: []perception.Forecast{{
			Confidence: 1.0,
			TimeStep:   s.ForecastStep,
			Poses:      poses,
		}},
	}
}
