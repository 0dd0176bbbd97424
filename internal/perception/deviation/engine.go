package deviation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banshee-data/deviation.report/internal/perception"
	"github.com/banshee-data/deviation.report/internal/perception/history"
	"github.com/banshee-data/deviation.report/internal/perception/smoothing"
)

// Params configures an Engine.
type Params struct {
	// SmoothingWindowSize is the moving-average window applied to history
	// paths before they are used as deviation references.
	SmoothingWindowSize int

	// PredictionHorizons lists the forecast horizons to evaluate, in
	// seconds. The largest horizon also sets the evaluation delay: objects
	// are evaluated once their full forecast window has elapsed.
	PredictionHorizons []float64

	// RetentionMultiplier scales how much history is kept relative to the
	// evaluation delay. Zero selects the default of 2.
	RetentionMultiplier float64
}

// PosePair couples a forecast pose with the observation recorded where the
// object actually ended up.
type PosePair struct {
	Forecast perception.Pose `json:"forecast"`
	Observed perception.Pose `json:"observed"`
}

// DebugTarget captures, for one object, the evaluated observation and the
// sampled pose pairs of the forecast branch that scored best.
type DebugTarget struct {
	Object perception.TrackedObject `json:"object"`
	Pairs  []PosePair               `json:"pairs"`
}

// Snapshot is the result of one evaluation pass.
type Snapshot struct {
	// Stamp is the current stamp at the time of evaluation.
	Stamp time.Time `json:"stamp"`
	// TargetStamp is the delayed stamp the metrics were computed at.
	TargetStamp time.Time `json:"target_stamp"`
	// Metrics maps channel name to its aggregate.
	Metrics map[string]Stat `json:"metrics"`
}

// Engine ingests tracker batches and evaluates deviation metrics against the
// delayed view of each object. It keeps no locks of its own: callers
// serialise access.
type Engine struct {
	params Params
	store  *history.Store

	// smoothedPaths caches the smoothed history path per object. Rebuilt on
	// every ingest so paths always reflect the pruned store.
	smoothedPaths map[string][]perception.Pose

	debugTargets map[string]DebugTarget
}

// NewEngine validates params and returns a ready engine. An empty horizon
// list is a configuration error: without horizons there is no evaluation
// delay and nothing to evaluate.
func NewEngine(params Params) (*Engine, error) {
	if len(params.PredictionHorizons) == 0 {
		return nil, fmt.Errorf("deviation: no prediction horizons configured")
	}
	for _, h := range params.PredictionHorizons {
		if h <= 0 {
			return nil, fmt.Errorf("deviation: prediction horizon must be positive, got %f", h)
		}
	}
	// The smoothing window is centered, so it has to be odd: an even window
	// would silently average asymmetrically around each point.
	if params.SmoothingWindowSize < 1 || params.SmoothingWindowSize%2 == 0 {
		return nil, fmt.Errorf("deviation: smoothing window must be an odd positive integer, got %d", params.SmoothingWindowSize)
	}
	if params.RetentionMultiplier == 0 {
		params.RetentionMultiplier = 2
	}
	if params.RetentionMultiplier < 1 {
		return nil, fmt.Errorf("deviation: retention multiplier must be at least 1, got %f", params.RetentionMultiplier)
	}

	return &Engine{
		params:        params,
		store:         history.NewStore(),
		smoothedPaths: make(map[string][]perception.Pose),
		debugTargets:  make(map[string]DebugTarget),
	}, nil
}

// Params returns the engine's configuration.
func (e *Engine) Params() Params {
	return e.params
}

// History exposes the underlying store for read access.
func (e *Engine) History() *history.Store {
	return e.store
}

// timeDelay is the evaluation delay: the largest configured horizon.
func (e *Engine) timeDelay() time.Duration {
	maxH := e.params.PredictionHorizons[0]
	for _, h := range e.params.PredictionHorizons[1:] {
		if h > maxH {
			maxH = h
		}
	}
	return time.Duration(maxH * float64(time.Second))
}

// Ingest records a tracker batch: it advances the current stamp, stores each
// observation, drops history older than the retention window and rebuilds
// the smoothed history paths.
func (e *Engine) Ingest(batch perception.Batch) {
	e.store.SetCurrent(batch.Stamp)

	for _, obj := range batch.Objects {
		stamp := obj.StampOr(batch.Stamp)
		obj.Stamp = stamp
		e.store.Upsert(obj.ObjectID, stamp, obj)
	}

	retention := time.Duration(e.params.RetentionMultiplier * float64(e.timeDelay()))
	cutoff := batch.Stamp.Add(-retention)
	for _, id := range e.store.PruneOlderThan(cutoff) {
		delete(e.smoothedPaths, id)
		delete(e.debugTargets, id)
	}

	// Pruning can shorten any object's raw path, so every path is rebuilt,
	// not just the ones touched by this batch.
	for _, id := range e.store.ObjectIDs() {
		e.smoothedPaths[id] = smoothing.AveragePath(e.store.PathOf(id), e.params.SmoothingWindowSize)
	}
}

// targetBatch resolves the delayed evaluation stamp and the objects recorded
// around it. ok is false while the store is empty or no object's history
// reaches back to the target yet.
func (e *Engine) targetBatch() (perception.Batch, bool) {
	if e.store.ObjectCount() == 0 {
		return perception.Batch{}, false
	}
	target := e.store.Current().Add(-e.timeDelay())
	if !e.store.HasAnyHistoryUntil(target) {
		return perception.Batch{}, false
	}
	return e.store.BatchAt(target), true
}

// Evaluate runs all metric channels against the delayed view. ok is false
// while the engine is still warming up, which is expected for the first
// max-horizon seconds of input.
func (e *Engine) Evaluate() (Snapshot, bool) {
	batch, ok := e.targetBatch()
	if !ok {
		return Snapshot{}, false
	}

	metrics := make(map[string]Stat)
	metrics[KindLateral] = e.lateralStat(batch)
	metrics[KindYaw] = e.yawStat(batch)
	for name, stat := range e.predictedPathStats(batch) {
		metrics[name] = stat
	}

	return Snapshot{
		Stamp:       e.store.Current(),
		TargetStamp: batch.Stamp,
		Metrics:     metrics,
	}, true
}

// EvaluateKind runs a single metric family. For KindPredictedPath the result
// holds one channel per configured horizon.
func (e *Engine) EvaluateKind(kind string) (map[string]Stat, bool) {
	batch, ok := e.targetBatch()
	if !ok {
		return nil, false
	}

	switch kind {
	case KindLateral:
		return map[string]Stat{KindLateral: e.lateralStat(batch)}, true
	case KindYaw:
		return map[string]Stat{KindYaw: e.yawStat(batch)}, true
	case KindPredictedPath:
		return e.predictedPathStats(batch), true
	default:
		return nil, false
	}
}

// lateralStat aggregates the absolute lateral offset of each delayed object
// from its own smoothed history path.
func (e *Engine) lateralStat(batch perception.Batch) Stat {
	var acc accumulator
	for _, obj := range batch.Objects {
		if !e.store.HasHistoryUntil(obj.ObjectID, batch.Stamp) {
			continue
		}
		path := e.smoothedPaths[obj.ObjectID]
		if len(path) == 0 {
			continue
		}
		i := perception.NearestPoseIndex(path, obj.Pose)
		acc.add(math.Abs(perception.SignedLateralOffset(path[i], obj.Pose)))
	}
	return acc.stat()
}

// yawStat aggregates the absolute heading difference of each delayed object
// from its own smoothed history path.
func (e *Engine) yawStat(batch perception.Batch) Stat {
	var acc accumulator
	for _, obj := range batch.Objects {
		if !e.store.HasHistoryUntil(obj.ObjectID, batch.Stamp) {
			continue
		}
		path := e.smoothedPaths[obj.ObjectID]
		if len(path) == 0 {
			continue
		}
		i := perception.NearestPoseIndex(path, obj.Pose)
		acc.add(math.Abs(perception.YawDeviation(path[i], obj.Pose)))
	}
	return acc.stat()
}

// predictedPathStats walks each object's forecast branches over every
// configured horizon, compares forecast poses with what was actually
// recorded, and aggregates the best-matching branch per object. Missing
// samples are skipped, never substituted.
func (e *Engine) predictedPathStats(batch perception.Batch) map[string]Stat {
	out := make(map[string]Stat, len(e.params.PredictionHorizons))

	for _, horizon := range e.params.PredictionHorizons {
		horizonDur := time.Duration(horizon * float64(time.Second))
		var acc accumulator

		for _, obj := range batch.Objects {
			deviations, pairs, ok := e.bestForecastBranch(obj, batch.Stamp, horizonDur)
			if !ok {
				continue
			}
			for _, d := range deviations {
				acc.add(d)
			}
			e.debugTargets[obj.ObjectID] = DebugTarget{Object: obj, Pairs: pairs}
		}

		out[PredictedPathKind(horizon)] = acc.stat()
	}
	return out
}

// bestForecastBranch scores every forecast branch of an object against the
// recorded history and returns the sample deviations of the branch with the
// smallest summed deviation. Branches that produced no samples cannot win;
// ok is false when none did.
func (e *Engine) bestForecastBranch(obj perception.TrackedObject, anchor time.Time, horizon time.Duration) ([]float64, []PosePair, bool) {
	var (
		bestSum   float64
		bestDevs  []float64
		bestPairs []PosePair
		found     bool
	)

	for _, branch := range obj.Forecasts {
		var (
			sum   float64
			devs  []float64
			pairs []PosePair
		)
		for j, forecastPose := range branch.Poses {
			elapsed := time.Duration(j) * branch.TimeStep
			if elapsed > horizon {
				break
			}
			at := anchor.Add(elapsed)
			// An observation made after the object first appeared must not
			// stand in for a sample time before tracking began.
			if !e.store.HasHistoryUntil(obj.ObjectID, at) {
				continue
			}
			sampled, ok := e.store.SampleAt(obj.ObjectID, at)
			if !ok {
				continue
			}
			d := perception.Dist2D(forecastPose, sampled.Pose)
			sum += d
			devs = append(devs, d)
			pairs = append(pairs, PosePair{Forecast: forecastPose, Observed: sampled.Pose})
		}
		if len(devs) == 0 {
			continue
		}
		if !found || sum < bestSum {
			bestSum, bestDevs, bestPairs, found = sum, devs, pairs, true
		}
	}
	return bestDevs, bestPairs, found
}

// SmoothedPathOf returns a copy of the object's smoothed history path.
func (e *Engine) SmoothedPathOf(id string) []perception.Pose {
	path, ok := e.smoothedPaths[id]
	if !ok {
		return nil
	}
	out := make([]perception.Pose, len(path))
	copy(out, path)
	return out
}

// DebugTargets returns a copy of the latest per-object forecast debug
// captures, keyed by object id.
func (e *Engine) DebugTargets() map[string]DebugTarget {
	out := make(map[string]DebugTarget, len(e.debugTargets))
	for id, dt := range e.debugTargets {
		out[id] = dt
	}
	return out
}

// MetricNames lists every channel this engine can produce, in stable order.
func (e *Engine) MetricNames() []string {
	names := []string{KindLateral, KindYaw}
	horizons := append([]float64(nil), e.params.PredictionHorizons...)
	sort.Float64s(horizons)
	for _, h := range horizons {
		names = append(names, PredictedPathKind(h))
	}
	return names
}
