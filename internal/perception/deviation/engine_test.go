package deviation

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/deviation.report/internal/perception"
)

const (
	testDelay    = 5.0
	testStep     = 0.5
	testHorizon  = 10.0
	testVelocity = 2.0

	exact = 1e-6
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func stampAt(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Params{
		SmoothingWindowSize: 11,
		PredictionHorizons:  []float64{testDelay},
	})
	require.NoError(t, err)
	return e
}

// straightBatch builds one tracker frame for a single object driving +x at
// constant speed with a constant lateral offset, forecasting the same line.
func straightBatch(id string, sec, offset float64) perception.Batch {
	n := int(testHorizon/testStep) + 1
	poses := make([]perception.Pose, 0, n)
	for i := 0; i < n; i++ {
		poses = append(poses, perception.Pose{
			X: testVelocity * (sec + float64(i)*testStep),
			Y: offset,
		})
	}
	obj := perception.TrackedObject{
		ObjectID: id,
		Class:    perception.ClassCar,
		Pose:     poses[0],
		Twist:    perception.Twist{VX: testVelocity},
		Forecasts: []perception.Forecast{{
			Confidence: 1.0,
			TimeStep:   500 * time.Millisecond,
			Poses:      poses,
		}},
	}
	return perception.Batch{Stamp: stampAt(sec), Objects: []perception.TrackedObject{obj}}
}

// rotated returns a copy of the batch with every object's heading replaced.
func rotated(batch perception.Batch, yaw float64) perception.Batch {
	out := batch
	out.Objects = append([]perception.TrackedObject(nil), batch.Objects...)
	for i := range out.Objects {
		out.Objects[i].Pose.Yaw = yaw
	}
	return out
}

func evaluateMean(t *testing.T, e *Engine, channel string) float64 {
	t.Helper()
	snap, ok := e.Evaluate()
	require.True(t, ok, "engine not ready")
	stat, ok := snap.Metrics[channel]
	require.True(t, ok, "missing channel %s", channel)
	require.Greater(t, stat.Count, 0, "channel %s is empty", channel)
	return stat.Mean
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	t.Run("no horizons", func(t *testing.T) {
		_, err := NewEngine(Params{SmoothingWindowSize: 11})
		assert.Error(t, err)
	})

	t.Run("non-positive horizon", func(t *testing.T) {
		_, err := NewEngine(Params{SmoothingWindowSize: 11, PredictionHorizons: []float64{5, -1}})
		assert.Error(t, err)
	})

	t.Run("zero window", func(t *testing.T) {
		_, err := NewEngine(Params{PredictionHorizons: []float64{5}})
		assert.Error(t, err)
	})

	t.Run("even window", func(t *testing.T) {
		_, err := NewEngine(Params{SmoothingWindowSize: 10, PredictionHorizons: []float64{5}})
		assert.Error(t, err)
	})

	t.Run("retention below one", func(t *testing.T) {
		_, err := NewEngine(Params{
			SmoothingWindowSize: 11,
			PredictionHorizons:  []float64{5},
			RetentionMultiplier: 0.5,
		})
		assert.Error(t, err)
	})

	t.Run("zero retention selects default", func(t *testing.T) {
		e, err := NewEngine(Params{SmoothingWindowSize: 11, PredictionHorizons: []float64{5}})
		require.NoError(t, err)
		assert.Equal(t, 2.0, e.Params().RetentionMultiplier)
	})
}

func TestEvaluateWarmup(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	_, ok := e.Evaluate()
	assert.False(t, ok, "empty engine must not be ready")

	for sec := 0.0; sec < testDelay; sec += testStep {
		e.Ingest(straightBatch("obj", sec, 0))
		_, ok := e.Evaluate()
		assert.False(t, ok, "engine ready during warm-up at t=%v", sec)
	}

	e.Ingest(straightBatch("obj", testDelay, 0))
	_, ok = e.Evaluate()
	assert.True(t, ok, "engine must be ready once the delay has elapsed")
}

func TestEvaluateSnapshotStamps(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	for sec := 0.0; sec <= testDelay; sec += testStep {
		e.Ingest(straightBatch("obj", sec, 0))
	}

	snap, ok := e.Evaluate()
	require.True(t, ok)
	assert.Equal(t, stampAt(testDelay), snap.Stamp)
	assert.Equal(t, stampAt(0), snap.TargetStamp)
}

func TestLateralDeviation(t *testing.T) {
	t.Parallel()

	t.Run("straight track", func(t *testing.T) {
		e := newTestEngine(t)
		e.Ingest(straightBatch("obj", 0, 0))
		for sec := 0.0; sec < testDelay; sec += testStep {
			e.Ingest(straightBatch("obj", sec, 0))
		}
		e.Ingest(straightBatch("obj", testDelay, 0))

		assert.InDelta(t, 0.0, evaluateMean(t, e, KindLateral), exact)
	})

	t.Run("constant offset", func(t *testing.T) {
		e := newTestEngine(t)
		e.Ingest(straightBatch("obj", 0, 0))
		for sec := 0.0; sec < testDelay; sec += testStep {
			e.Ingest(straightBatch("obj", sec, 1))
		}
		e.Ingest(straightBatch("obj", 2*testDelay, 1))

		assert.InDelta(t, 0.0, evaluateMean(t, e, KindLateral), exact)
	})

	t.Run("oscillation cancels", func(t *testing.T) {
		e := newTestEngine(t)
		e.Ingest(straightBatch("obj", 0, 0))
		sign := 1.0
		for sec := 0.0; sec < 2*testDelay; sec += testStep {
			if sec == testDelay {
				e.Ingest(straightBatch("obj", sec, 0))
			} else {
				e.Ingest(straightBatch("obj", sec, sign))
				sign = -sign
			}
		}
		e.Ingest(straightBatch("obj", 2*testDelay, 1))

		assert.InDelta(t, 0.0, evaluateMean(t, e, KindLateral), exact)
	})

	t.Run("short distortion survives smoothing", func(t *testing.T) {
		e := newTestEngine(t)
		e.Ingest(straightBatch("obj", 0, 0))
		for sec := 0.0; sec < 2*testDelay; sec += testStep {
			switch sec {
			case testDelay:
				e.Ingest(straightBatch("obj", sec, 1))
			case testDelay + testStep:
				e.Ingest(straightBatch("obj", sec, -1))
			default:
				e.Ingest(straightBatch("obj", sec, 0))
			}
		}
		e.Ingest(straightBatch("obj", 2*testDelay, 1))

		assert.InDelta(t, 1.0, evaluateMean(t, e, KindLateral), exact)
	})
}

func TestYawDeviation(t *testing.T) {
	t.Parallel()

	t.Run("straight track", func(t *testing.T) {
		e := newTestEngine(t)
		e.Ingest(straightBatch("obj", 0, 0))
		for sec := 0.0; sec < testDelay; sec += testStep {
			e.Ingest(straightBatch("obj", sec, 0))
		}
		e.Ingest(straightBatch("obj", testDelay, 0))

		assert.InDelta(t, 0.0, evaluateMean(t, e, KindYaw), exact)
	})

	t.Run("constant offset", func(t *testing.T) {
		e := newTestEngine(t)
		e.Ingest(straightBatch("obj", 0, 0))
		for sec := 0.0; sec < testDelay; sec += testStep {
			e.Ingest(straightBatch("obj", sec, 1))
		}
		e.Ingest(straightBatch("obj", testDelay, 1))

		assert.InDelta(t, 0.0, evaluateMean(t, e, KindYaw), exact)
	})

	t.Run("oscillation", func(t *testing.T) {
		e := newTestEngine(t)
		e.Ingest(straightBatch("obj", 0, 0))
		sign := 1.0
		for sec := 0.0; sec < 2*testDelay; sec += testStep {
			if sec == testDelay {
				e.Ingest(straightBatch("obj", sec, 0))
			} else {
				e.Ingest(straightBatch("obj", sec, sign))
				sign = -sign
			}
		}
		e.Ingest(straightBatch("obj", 2*testDelay, 1))

		assert.InDelta(t, 0.0, evaluateMean(t, e, KindYaw), exact)
	})

	t.Run("distortion", func(t *testing.T) {
		e := newTestEngine(t)
		e.Ingest(straightBatch("obj", 0, 0))
		for sec := 0.0; sec < 2*testDelay; sec += testStep {
			switch sec {
			case testDelay:
				e.Ingest(straightBatch("obj", sec, 1))
			case testDelay + testStep:
				e.Ingest(straightBatch("obj", sec, -1))
			default:
				e.Ingest(straightBatch("obj", sec, 0))
			}
		}
		e.Ingest(straightBatch("obj", 2*testDelay, 1))

		assert.InDelta(t, 0.0, evaluateMean(t, e, KindYaw), exact)
	})

	t.Run("rotation against rebuilt headings", func(t *testing.T) {
		// Raw headings are noise; the reference heading comes from the
		// smoothed geometry, so only the target tick's rotation shows up.
		e := newTestEngine(t)
		rng := rand.New(rand.NewSource(7))
		e.Ingest(straightBatch("obj", 0, 0))
		sign := 1.0
		for sec := 0.0; sec < 2*testDelay; sec += testStep {
			if sec == testDelay {
				e.Ingest(rotated(straightBatch("obj", sec, 0), math.Pi/4))
			} else {
				e.Ingest(rotated(straightBatch("obj", sec, sign), rng.Float64()*2*math.Pi))
				sign = -sign
			}
		}
		e.Ingest(rotated(straightBatch("obj", 2*testDelay, 1), rng.Float64()*2*math.Pi))

		assert.InDelta(t, math.Pi/4, evaluateMean(t, e, KindYaw), exact)
	})

	t.Run("rotation with distortion", func(t *testing.T) {
		e := newTestEngine(t)
		rng := rand.New(rand.NewSource(11))
		e.Ingest(straightBatch("obj", 0, 0))
		for sec := 0.0; sec < 2*testDelay; sec += testStep {
			switch sec {
			case testDelay:
				e.Ingest(rotated(straightBatch("obj", sec, 1), math.Pi/4))
			case testDelay + testStep:
				e.Ingest(rotated(straightBatch("obj", sec, -1), rng.Float64()*2*math.Pi))
			default:
				e.Ingest(rotated(straightBatch("obj", sec, 0), rng.Float64()*2*math.Pi))
			}
		}
		e.Ingest(rotated(straightBatch("obj", 2*testDelay, 1), rng.Float64()*2*math.Pi))

		assert.InDelta(t, math.Pi/4, evaluateMean(t, e, KindYaw), exact)
	})
}

func TestPredictedPathDeviation(t *testing.T) {
	t.Parallel()

	channel := PredictedPathKind(testDelay)

	for _, dev := range []float64{0, 1, 2} {
		t.Run(fmt.Sprintf("offset %.0fm", dev), func(t *testing.T) {
			e := newTestEngine(t)
			e.Ingest(straightBatch("obj", 0, 0))
			for sec := testStep; sec < testDelay; sec += testStep {
				e.Ingest(straightBatch("obj", sec, dev))
			}
			e.Ingest(straightBatch("obj", testDelay, dev))

			// The forecast pose at the target tick itself always matches,
			// so one of num_points samples contributes zero.
			numPoints := testDelay/testStep + 1
			want := dev * (numPoints - 1) / numPoints
			assert.InDelta(t, want, evaluateMean(t, e, channel), exact)
		})
	}

	t.Run("two-tick distortion", func(t *testing.T) {
		// The target object's forecast is a clean straight line; the track
		// then swerves +1/-1 for two ticks. Only those two of num_points
		// samples deviate, so the mean sits strictly between clean and the
		// full swerve amplitude.
		e := newTestEngine(t)
		e.Ingest(straightBatch("obj", 0, 0))
		for sec := testStep; sec < testDelay; sec += testStep {
			switch sec {
			case 2.0:
				e.Ingest(straightBatch("obj", sec, 1))
			case 2.5:
				e.Ingest(straightBatch("obj", sec, -1))
			default:
				e.Ingest(straightBatch("obj", sec, 0))
			}
		}
		e.Ingest(straightBatch("obj", testDelay, 0))

		numPoints := testDelay/testStep + 1
		mean := evaluateMean(t, e, channel)
		assert.InDelta(t, 2.0/numPoints, mean, exact)
		assert.Greater(t, mean, 0.0)
		assert.Less(t, mean, 1.0)
	})
}

func TestPredictedPathIgnoresPreTrackingSamples(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	// "anchor" pins early history and the final current stamp; "late" is
	// first observed 0.2 s after the delayed target stamp, so its first
	// entry resolves as the globally closest stamp to the target.
	for sec := 0.0; sec <= 2.0; sec += testStep {
		e.Ingest(straightBatch("anchor", sec, 0))
	}

	first := straightBatch("late", 5.2, 0)
	// A wildly wrong forecast pose at the one sample time that precedes
	// tracking: it must never be scored against a later observation.
	first.Objects[0].Forecasts[0].Poses[0].Y += 7
	e.Ingest(first)
	for k := 1; k < 10; k++ {
		e.Ingest(straightBatch("late", 5.2+float64(k)*testStep, 0))
	}
	e.Ingest(straightBatch("anchor", 10.0, 0))

	snap, ok := e.Evaluate()
	require.True(t, ok)

	// Samples at 5.5..9.5 score against the 5.7..9.7 observations; the
	// sample at 5.0 is dropped, not matched to the 5.2 entry.
	stat := snap.Metrics[PredictedPathKind(testDelay)]
	assert.Equal(t, 9, stat.Count)
	assert.InDelta(t, 0.0, stat.Mean, exact)
}

func TestPredictedPathPicksBestBranch(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	// The first branch forecasts a parallel line 5 m off; the second matches
	// the track exactly but carries lower confidence. Branch choice is by
	// summed deviation, so the accurate branch must win.
	first := straightBatch("obj", 0, 0)
	accurate := first.Objects[0].Forecasts[0]
	accurate.Confidence = 0.1
	wild := perception.Forecast{
		Confidence: 1.0,
		TimeStep:   accurate.TimeStep,
		Poses:      make([]perception.Pose, len(accurate.Poses)),
	}
	for i, p := range accurate.Poses {
		p.Y += 5
		wild.Poses[i] = p
	}
	first.Objects[0].Forecasts = []perception.Forecast{wild, accurate}

	e.Ingest(first)
	for sec := testStep; sec < testDelay; sec += testStep {
		e.Ingest(straightBatch("obj", sec, 0))
	}
	e.Ingest(straightBatch("obj", testDelay, 0))

	channel := PredictedPathKind(testDelay)
	snap, ok := e.Evaluate()
	require.True(t, ok)
	stat := snap.Metrics[channel]
	assert.Equal(t, 11, stat.Count)
	assert.InDelta(t, 0.0, stat.Mean, exact)
}

func TestPredictedPathSkipsMissingSamples(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	// "b" is observed only once, at the target tick. Its forecast can be
	// scored against that single observation; later samples are missing and
	// must be skipped, never zero-filled.
	first := straightBatch("a", 0, 0)
	bPoses := make([]perception.Pose, len(first.Objects[0].Forecasts[0].Poses))
	for i, p := range first.Objects[0].Forecasts[0].Poses {
		p.Y = 3
		bPoses[i] = p
	}
	first.Objects = append(first.Objects, perception.TrackedObject{
		ObjectID: "b",
		Class:    perception.ClassCar,
		Pose:     bPoses[0],
		Forecasts: []perception.Forecast{{
			Confidence: 1.0,
			TimeStep:   500 * time.Millisecond,
			Poses:      bPoses,
		}},
	})

	e.Ingest(first)
	for sec := testStep; sec < testDelay; sec += testStep {
		e.Ingest(straightBatch("a", sec, 0))
	}
	e.Ingest(straightBatch("a", testDelay, 0))

	snap, ok := e.Evaluate()
	require.True(t, ok)

	predicted := snap.Metrics[PredictedPathKind(testDelay)]
	assert.Equal(t, 12, predicted.Count, "a contributes 11 samples, b exactly 1")
	assert.InDelta(t, 0.0, predicted.Mean, exact)

	// Both objects appear in the lateral channel; b's single-point path
	// references itself.
	lateral := snap.Metrics[KindLateral]
	assert.Equal(t, 2, lateral.Count)
	assert.InDelta(t, 0.0, lateral.Mean, exact)
}

func TestDebugTargets(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	for sec := 0.0; sec <= testDelay; sec += testStep {
		e.Ingest(straightBatch("obj", sec, 0))
	}

	_, ok := e.Evaluate()
	require.True(t, ok)

	targets := e.DebugTargets()
	require.Contains(t, targets, "obj")
	dt := targets["obj"]
	assert.Equal(t, "obj", dt.Object.ObjectID)
	assert.Len(t, dt.Pairs, 11)
	for _, pair := range dt.Pairs {
		assert.InDelta(t, pair.Forecast.X, pair.Observed.X, exact)
		assert.InDelta(t, pair.Forecast.Y, pair.Observed.Y, exact)
	}
}

func TestRetentionBound(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	for sec := 0.0; sec <= 30; sec += testStep {
		e.Ingest(straightBatch("obj", sec, 0))
	}

	// Retention keeps twice the delay: entries at [20, 30] in 0.5 s steps.
	assert.Equal(t, 21, e.History().EntryCount())
	assert.False(t, e.History().HasHistoryUntil("obj", stampAt(19.5)))
	assert.True(t, e.History().HasHistoryUntil("obj", stampAt(20)))
}

func TestVanishedObjectIsForgotten(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	first := straightBatch("stay", 0, 0)
	gone := straightBatch("gone", 0, 2).Objects[0]
	first.Objects = append(first.Objects, gone)
	e.Ingest(first)
	require.NotNil(t, e.SmoothedPathOf("gone"))

	for sec := testStep; sec <= 20; sec += testStep {
		e.Ingest(straightBatch("stay", sec, 0))
	}

	// cutoff at 20-10=10 is far past "gone"'s only entry.
	assert.Equal(t, 1, e.History().ObjectCount())
	assert.Nil(t, e.SmoothedPathOf("gone"))
	assert.NotContains(t, e.DebugTargets(), "gone")
}

func TestEvaluateKind(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	for sec := 0.0; sec <= testDelay; sec += testStep {
		e.Ingest(straightBatch("obj", sec, 0))
	}

	t.Run("lateral", func(t *testing.T) {
		stats, ok := e.EvaluateKind(KindLateral)
		require.True(t, ok)
		require.Len(t, stats, 1)
		assert.Contains(t, stats, KindLateral)
	})

	t.Run("yaw", func(t *testing.T) {
		stats, ok := e.EvaluateKind(KindYaw)
		require.True(t, ok)
		assert.Contains(t, stats, KindYaw)
	})

	t.Run("predicted path expands horizons", func(t *testing.T) {
		stats, ok := e.EvaluateKind(KindPredictedPath)
		require.True(t, ok)
		require.Len(t, stats, 1)
		assert.Contains(t, stats, PredictedPathKind(testDelay))
	})

	t.Run("unknown kind", func(t *testing.T) {
		stats, ok := e.EvaluateKind("nope")
		assert.False(t, ok)
		assert.Nil(t, stats)
	})
}

func TestMetricNames(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(Params{
		SmoothingWindowSize: 11,
		PredictionHorizons:  []float64{5, 1, 3},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"lateral_deviation",
		"yaw_deviation",
		"predicted_path_deviation_1.00",
		"predicted_path_deviation_3.00",
		"predicted_path_deviation_5.00",
	}, e.MetricNames())
}

func TestMultipleHorizons(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(Params{
		SmoothingWindowSize: 11,
		PredictionHorizons:  []float64{2.5, 5.0},
	})
	require.NoError(t, err)

	dev := 1.0
	e.Ingest(straightBatch("obj", 0, 0))
	for sec := testStep; sec < testDelay; sec += testStep {
		e.Ingest(straightBatch("obj", sec, dev))
	}
	e.Ingest(straightBatch("obj", testDelay, dev))

	snap, ok := e.Evaluate()
	require.True(t, ok)

	// Delay follows the largest horizon, so the 2.5 s channel walks only
	// 6 forecast samples of the same target object.
	short := snap.Metrics[PredictedPathKind(2.5)]
	long := snap.Metrics[PredictedPathKind(5.0)]
	require.Equal(t, 6, short.Count)
	require.Equal(t, 11, long.Count)
	assert.InDelta(t, dev*5/6, short.Mean, exact)
	assert.InDelta(t, dev*10/11, long.Mean, exact)
}
