// Package perception defines the tracked-object model shared by the history
// store, the deviation engine and the transport layers.
package perception

import (
	"fmt"
	"math"
	"time"
)

// Object class labels. These mirror the classification emitted by the
// upstream tracker and are matched case-sensitively.
const (
	ClassUnknown    = "unknown"
	ClassCar        = "car"
	ClassTruck      = "truck"
	ClassBus        = "bus"
	ClassTrailer    = "trailer"
	ClassMotorcycle = "motorcycle"
	ClassBicycle    = "bicycle"
	ClassPedestrian = "pedestrian"
)

// Twist is the planar velocity of an object in its local frame.
type Twist struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// Speed returns the planar speed magnitude.
func (t Twist) Speed() float64 {
	return math.Hypot(t.VX, t.VY)
}

// Forecast is one predicted motion branch for an object. Poses are spaced
// TimeStep apart starting at the stamp of the observation that carried the
// forecast.
type Forecast struct {
	Confidence float64       `json:"confidence"`
	TimeStep   time.Duration `json:"time_step"`
	Poses      []Pose        `json:"poses"`
}

// TrackedObject is a single object observation as reported by the upstream
// tracker: where it is, how it moves, and where it is predicted to go.
type TrackedObject struct {
	ObjectID  string     `json:"object_id"`
	Class     string     `json:"class"`
	Pose      Pose       `json:"pose"`
	Twist     Twist      `json:"twist"`
	Forecasts []Forecast `json:"forecasts,omitempty"`

	// Stamp overrides the batch stamp for this observation when non-zero.
	Stamp time.Time `json:"stamp,omitempty"`
}

// StampOr returns the object's own stamp, or fallback when none is set.
func (o TrackedObject) StampOr(fallback time.Time) time.Time {
	if o.Stamp.IsZero() {
		return fallback
	}
	return o.Stamp
}

// Batch is one tracker output frame: all objects observed at a common stamp.
type Batch struct {
	Stamp   time.Time       `json:"stamp"`
	Objects []TrackedObject `json:"objects"`
}

// Validate checks that a batch is well formed enough to ingest.
func (b Batch) Validate() error {
	if b.Stamp.IsZero() {
		return fmt.Errorf("batch stamp is zero")
	}
	for i, obj := range b.Objects {
		if obj.ObjectID == "" {
			return fmt.Errorf("object %d has empty id", i)
		}
		for j, fc := range obj.Forecasts {
			if len(fc.Poses) > 0 && fc.TimeStep <= 0 {
				return fmt.Errorf("object %s forecast %d has non-positive time step", obj.ObjectID, j)
			}
		}
	}
	return nil
}
