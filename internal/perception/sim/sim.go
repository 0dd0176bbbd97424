// Package sim generates synthetic tracker batches for demos, load tests and
// recorded sample logs.
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/deviation.report/internal/perception"
)

// Generator produces batches of objects circling a fixed track. Forecasts
// carry two branches per object: one that follows the circle and one that
// extrapolates the current heading, so downstream consumers always have a
// best and a worst branch to choose between.
type Generator struct {
	source string
	start  time.Time
	frame  uint64

	// Configuration
	ObjectCount     int           // number of moving objects
	FrameRate       float64       // batches per second
	TrackRadius     float64       // metres, radius of the circular path
	SpeedMPS        float64       // metres per second along the path
	PositionJitter  float64       // metres, gaussian noise on reported positions
	ForecastHorizon float64       // seconds of forecast per object
	ForecastStep    time.Duration // spacing of forecast poses

	rng *rand.Rand
}

var classCycle = []string{
	perception.ClassCar,
	perception.ClassTruck,
	perception.ClassBicycle,
	perception.ClassPedestrian,
	perception.ClassBus,
	perception.ClassMotorcycle,
}

// NewGenerator creates a generator with demo defaults.
func NewGenerator(source string) *Generator {
	return &Generator{
		source:          source,
		start:           time.Now(),
		ObjectCount:     6,
		FrameRate:       10.0,
		TrackRadius:     20.0,
		SpeedMPS:        5.0,
		PositionJitter:  0.05,
		ForecastHorizon: 5.0,
		ForecastStep:    500 * time.Millisecond,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Source returns the generator's source label.
func (g *Generator) Source() string {
	return g.source
}

// SetStart pins the stamp of the first batch. Stamps advance from here at
// FrameRate regardless of wall time, which keeps recordings replayable.
func (g *Generator) SetStart(start time.Time) {
	g.start = start
}

// Seed reseeds the position jitter so runs are reproducible.
func (g *Generator) Seed(seed int64) {
	g.rng = rand.New(rand.NewSource(seed))
}

// NextBatch generates the next batch.
func (g *Generator) NextBatch() perception.Batch {
	elapsed := float64(g.frame) / g.FrameRate
	g.frame++

	objects := make([]perception.TrackedObject, g.ObjectCount)
	for i := range objects {
		objects[i] = g.object(i, elapsed)
	}

	return perception.Batch{
		Stamp:   g.start.Add(time.Duration(elapsed * float64(time.Second))),
		Objects: objects,
	}
}

func (g *Generator) object(i int, elapsedSecs float64) perception.TrackedObject {
	baseAngle := float64(i) * 2 * math.Pi / float64(g.ObjectCount)
	angularSpeed := g.SpeedMPS / g.TrackRadius
	angle := baseAngle + elapsedSecs*angularSpeed

	x := g.TrackRadius * math.Cos(angle)
	y := g.TrackRadius * math.Sin(angle)

	// Heading tangent to the circle, counter-clockwise.
	heading := perception.NormalizeRadian(angle + math.Pi/2)

	return perception.TrackedObject{
		ObjectID: fmt.Sprintf("sim-%03d", i+1),
		Class:    classCycle[i%len(classCycle)],
		Pose: perception.Pose{
			X:   x + g.rng.NormFloat64()*g.PositionJitter,
			Y:   y + g.rng.NormFloat64()*g.PositionJitter,
			Yaw: heading,
		},
		Twist:     perception.Twist{VX: g.SpeedMPS},
		Forecasts: g.forecasts(angle, x, y, heading),
	}
}

// forecasts builds the two motion branches from the un-jittered position.
func (g *Generator) forecasts(angle, x, y, heading float64) []perception.Forecast {
	stepSecs := g.ForecastStep.Seconds()
	n := int(g.ForecastHorizon/stepSecs) + 1
	angularSpeed := g.SpeedMPS / g.TrackRadius

	arc := make([]perception.Pose, n)
	tangent := make([]perception.Pose, n)
	for j := 0; j < n; j++ {
		t := float64(j) * stepSecs
		a := angle + t*angularSpeed
		arc[j] = perception.Pose{
			X:   g.TrackRadius * math.Cos(a),
			Y:   g.TrackRadius * math.Sin(a),
			Yaw: perception.NormalizeRadian(a + math.Pi/2),
		}
		tangent[j] = perception.Pose{
			X:   x + t*g.SpeedMPS*math.Cos(heading),
			Y:   y + t*g.SpeedMPS*math.Sin(heading),
			Yaw: heading,
		}
	}

	return []perception.Forecast{
		{Confidence: 0.7, TimeStep: g.ForecastStep, Poses: arc},
		{Confidence: 0.3, TimeStep: g.ForecastStep, Poses: tangent},
	}
}
