package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/deviation.report/internal/perception"
	"github.com/banshee-data/deviation.report/internal/perception/deviation"
	"github.com/banshee-data/deviation.report/internal/perception/evlog"
	"github.com/banshee-data/deviation.report/internal/timeutil"
)

// TrackSummary is a per-object rollup of what the history store currently
// holds for that object.
type TrackSummary struct {
	ObjectID     string    `json:"object_id"`
	Class        string    `json:"class"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Observations int       `json:"observations"`
	PathLength   float64   `json:"path_length_m"`
	LatestSpeed  float64   `json:"latest_speed_mps"`
}

// SnapshotSink persists evaluation results. Implementations must be safe for
// use from the runtime's background goroutines.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap deviation.Snapshot) error
	SaveTrackSummaries(ctx context.Context, summaries []TrackSummary) error
}

// Config holds dependencies for the evaluation runtime.
type Config struct {
	Engine   *deviation.Engine
	Filter   *perception.ObjectFilter // optional class/speed gate
	Recorder *evlog.Recorder          // optional raw batch log
	Sink     SnapshotSink             // optional persistence

	// Clock drives the periodic persistence loop. Nil selects the real
	// clock.
	Clock timeutil.Clock

	// QueueSize bounds the async ingest queue. Zero selects 256.
	QueueSize int

	// FlushInterval is the persistence cadence. Zero disables the periodic
	// loop; a final flush still runs on Close.
	FlushInterval time.Duration
}

// Runtime serialises all engine access behind one mutex and fans batches in
// from an async queue. Producers that cannot block use Enqueue; replay and
// tests use the synchronous Ingest.
type Runtime struct {
	cfg   Config
	clock timeutil.Clock

	mu           sync.Mutex // guards engine and lastSnapshot
	lastSnapshot deviation.Snapshot
	hasSnapshot  bool

	pub *publisher

	queue   chan perception.Batch
	lifeMu  sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool

	ingested  atomic.Uint64
	evaluated atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
}

// RuntimeStats is a point-in-time view of the runtime's counters.
type RuntimeStats struct {
	Ingested   uint64 `json:"ingested"`
	Evaluated  uint64 `json:"evaluated"`
	Dropped    uint64 `json:"dropped"`
	Rejected   uint64 `json:"rejected"`
	QueueDepth int    `json:"queue_depth"`
	QueueCap   int    `json:"queue_cap"`
}

// NewRuntime validates the config and returns a runtime ready to Start.
func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("pipeline: engine is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	return &Runtime{
		cfg:   cfg,
		clock: cfg.Clock,
		pub:   newPublisher(),
		queue: make(chan perception.Batch, cfg.QueueSize),
	}, nil
}

// Start launches the ingest worker and, when a sink and interval are
// configured, the periodic persistence loop. Safe to call once per runtime.
func (r *Runtime) Start() {
	r.lifeMu.Lock()
	if r.running {
		r.lifeMu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.lifeMu.Unlock()

	r.wg.Add(1)
	go r.ingestLoop(stopCh)

	if r.cfg.FlushInterval > 0 && r.cfg.Sink != nil {
		r.wg.Add(1)
		go r.flushLoop(stopCh)
	}

	diagf("runtime started: queue=%d flush=%v", cap(r.queue), r.cfg.FlushInterval)
}

// Close stops the background loops, drains the queue and runs a final flush.
// Safe to call multiple times.
func (r *Runtime) Close() error {
	r.lifeMu.Lock()
	if !r.running {
		r.lifeMu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.lifeMu.Unlock()

	r.wg.Wait()
	err := r.flush()
	diagf("runtime stopped: ingested=%d dropped=%d", r.ingested.Load(), r.dropped.Load())
	return err
}

// Enqueue queues a batch for async ingestion without blocking. The batch is
// dropped, and false returned, when the queue is full.
func (r *Runtime) Enqueue(batch perception.Batch) bool {
	select {
	case r.queue <- batch:
		return true
	default:
		dropped := r.dropped.Add(1)
		if dropped%50 == 1 {
			opsf("ingest queue full, dropped %d batches so far", dropped)
		}
		return false
	}
}

// Ingest processes a batch synchronously and returns the evaluation snapshot
// it produced. ok is false while the engine is warming up or when the batch
// was rejected.
func (r *Runtime) Ingest(batch perception.Batch) (deviation.Snapshot, bool) {
	return r.process(batch)
}

func (r *Runtime) process(batch perception.Batch) (deviation.Snapshot, bool) {
	if err := batch.Validate(); err != nil {
		rejected := r.rejected.Add(1)
		opsf("rejected batch: %v (%d rejected so far)", err, rejected)
		return deviation.Snapshot{}, false
	}

	// Record the raw input so replays reproduce the full stream, not the
	// filtered view.
	if r.cfg.Recorder != nil {
		if err := r.cfg.Recorder.Record(batch); err != nil {
			opsf("record batch: %v", err)
		}
	}

	if r.cfg.Filter != nil {
		batch = r.cfg.Filter.Apply(batch)
	}

	r.mu.Lock()
	r.cfg.Engine.Ingest(batch)
	snap, ok := r.cfg.Engine.Evaluate()
	if ok {
		r.lastSnapshot = snap
		r.hasSnapshot = true
	}
	r.mu.Unlock()

	r.ingested.Add(1)
	if ok {
		r.evaluated.Add(1)
		r.pub.publish(snap)
		tracef("batch %s: %d objects, %d metric channels", batch.Stamp.Format(time.RFC3339Nano), len(batch.Objects), len(snap.Metrics))
	} else {
		tracef("batch %s: %d objects, warming up", batch.Stamp.Format(time.RFC3339Nano), len(batch.Objects))
	}
	return snap, ok
}

func (r *Runtime) ingestLoop(stopCh <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-stopCh:
			// Drain what is already queued so the final flush sees it.
			for {
				select {
				case batch := <-r.queue:
					r.process(batch)
				default:
					return
				}
			}
		case batch := <-r.queue:
			r.process(batch)
		}
	}
}

func (r *Runtime) flushLoop(stopCh <-chan struct{}) {
	defer r.wg.Done()
	ticker := r.clock.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C():
			if err := r.flush(); err != nil {
				opsf("periodic flush: %v", err)
			}
		}
	}
}

// Flush persists the latest snapshot and track summaries immediately.
func (r *Runtime) Flush() error {
	return r.flush()
}

func (r *Runtime) flush() error {
	if r.cfg.Sink == nil {
		return nil
	}

	r.mu.Lock()
	snap, ok := r.lastSnapshot, r.hasSnapshot
	summaries := r.trackSummariesLocked()
	r.mu.Unlock()

	if !ok && len(summaries) == 0 {
		return nil
	}

	ctx := context.Background()
	if ok {
		if err := r.cfg.Sink.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}
	if len(summaries) > 0 {
		if err := r.cfg.Sink.SaveTrackSummaries(ctx, summaries); err != nil {
			return fmt.Errorf("persist track summaries: %w", err)
		}
	}
	diagf("persisted %d metric channels and %d track summaries", len(snap.Metrics), len(summaries))
	return nil
}

// TrackSummaries returns the current per-object rollups.
func (r *Runtime) TrackSummaries() []TrackSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trackSummariesLocked()
}

func (r *Runtime) trackSummariesLocked() []TrackSummary {
	store := r.cfg.Engine.History()
	ids := store.ObjectIDs()
	out := make([]TrackSummary, 0, len(ids))
	for _, id := range ids {
		entries := store.Entries(id)
		if len(entries) == 0 {
			continue
		}
		latest := entries[len(entries)-1].Object

		var pathLen float64
		path := r.cfg.Engine.SmoothedPathOf(id)
		for i := 1; i < len(path); i++ {
			pathLen += perception.Dist2D(path[i-1], path[i])
		}

		out = append(out, TrackSummary{
			ObjectID:     id,
			Class:        latest.Class,
			FirstSeen:    entries[0].Stamp,
			LastSeen:     entries[len(entries)-1].Stamp,
			Observations: len(entries),
			PathLength:   pathLen,
			LatestSpeed:  latest.Twist.Speed(),
		})
	}
	return out
}

// LatestSnapshot returns the most recent evaluation result.
func (r *Runtime) LatestSnapshot() (deviation.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSnapshot, r.hasSnapshot
}

// WithEngine runs fn with exclusive access to the engine. Handlers use this
// for queries that read engine state beyond the snapshot.
func (r *Runtime) WithEngine(fn func(*deviation.Engine)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.cfg.Engine)
}

// Stats returns the runtime counters.
func (r *Runtime) Stats() RuntimeStats {
	return RuntimeStats{
		Ingested:   r.ingested.Load(),
		Evaluated:  r.evaluated.Load(),
		Dropped:    r.dropped.Load(),
		Rejected:   r.rejected.Load(),
		QueueDepth: len(r.queue),
		QueueCap:   cap(r.queue),
	}
}
