package sqlite

import (
	"context"
	"database/sql"

	"github.com/banshee-data/deviation.report/internal/perception/deviation"
	"github.com/banshee-data/deviation.report/internal/perception/pipeline"
)

// Sink bundles the metric and track stores into the pipeline's persistence
// interface.
type Sink struct {
	Metrics *MetricStore
	Tracks  *TrackStore
}

// NewSink creates a Sink with both stores over the same database.
func NewSink(db *sql.DB) *Sink {
	return &Sink{
		Metrics: NewMetricStore(db),
		Tracks:  NewTrackStore(db),
	}
}

// SaveSnapshot implements pipeline.SnapshotSink.
func (s *Sink) SaveSnapshot(ctx context.Context, snap deviation.Snapshot) error {
	return s.Metrics.InsertSnapshot(ctx, snap)
}

// SaveTrackSummaries implements pipeline.SnapshotSink.
func (s *Sink) SaveTrackSummaries(ctx context.Context, summaries []pipeline.TrackSummary) error {
	return s.Tracks.UpsertSummaries(ctx, summaries)
}
