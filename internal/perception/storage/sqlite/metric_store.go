package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/deviation.report/internal/perception/deviation"
)

// MetricRow is one persisted metric channel from one evaluation pass.
type MetricRow struct {
	SnapshotID   string  `json:"snapshot_id"`
	RecordedAtNs int64   `json:"recorded_at_ns"`
	TargetAtNs   int64   `json:"target_at_ns"`
	Metric       string  `json:"metric"`
	SampleCount  int     `json:"sample_count"`
	Mean         float64 `json:"mean"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	StdDev       float64 `json:"stddev"`
}

// Stat converts the row back to the reporting shape.
func (r MetricRow) Stat() deviation.Stat {
	return deviation.Stat{
		Count:  r.SampleCount,
		Mean:   r.Mean,
		Min:    r.Min,
		Max:    r.Max,
		StdDev: r.StdDev,
	}
}

// MetricStore persists evaluation snapshots.
type MetricStore struct {
	db *sql.DB
}

// NewMetricStore creates a MetricStore backed by the given database.
func NewMetricStore(db *sql.DB) *MetricStore {
	return &MetricStore{db: db}
}

// InsertSnapshot stores every metric channel of an evaluation pass. One row
// per channel, all sharing the snapshot's stamps; each row gets its own UUID.
func (s *MetricStore) InsertSnapshot(ctx context.Context, snap deviation.Snapshot) error {
	if len(snap.Metrics) == 0 {
		return nil
	}

	recordedNs := snap.Stamp.UnixNano()
	targetNs := snap.TargetStamp.UnixNano()

	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin snapshot tx: %w", err)
		}
		defer tx.Rollback()

		for metric, stat := range snap.Metrics {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO metric_snapshots (
					snapshot_id, recorded_at_ns, target_at_ns, metric,
					sample_count, mean, min, max, stddev
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.New().String(), recordedNs, targetNs, metric,
				stat.Count, stat.Mean, stat.Min, stat.Max, stat.StdDev,
			)
			if err != nil {
				return fmt.Errorf("insert metric %s: %w", metric, err)
			}
		}
		return tx.Commit()
	})
}

// ListMetric returns persisted rows for one metric channel, newest first.
// sinceNs filters on recorded_at_ns; limit <= 0 selects the default of 100.
func (s *MetricStore) ListMetric(ctx context.Context, metric string, sinceNs int64, limit int) ([]MetricRow, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, recorded_at_ns, target_at_ns, metric,
		       sample_count, mean, min, max, stddev
		FROM metric_snapshots
		WHERE metric = ? AND recorded_at_ns >= ?
		ORDER BY recorded_at_ns DESC
		LIMIT ?`, metric, sinceNs, limit)
	if err != nil {
		return nil, fmt.Errorf("query metric %s: %w", metric, err)
	}
	defer rows.Close()

	var out []MetricRow
	for rows.Next() {
		var r MetricRow
		err := rows.Scan(
			&r.SnapshotID, &r.RecordedAtNs, &r.TargetAtNs, &r.Metric,
			&r.SampleCount, &r.Mean, &r.Min, &r.Max, &r.StdDev,
		)
		if err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MeansSince returns the recorded per-tick means of one metric channel since
// sinceNs, in time order. Channels with zero samples are excluded so summary
// statistics are not diluted by empty warm-up ticks.
func (s *MetricStore) MeansSince(ctx context.Context, metric string, sinceNs int64) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mean
		FROM metric_snapshots
		WHERE metric = ? AND recorded_at_ns >= ? AND sample_count > 0
		ORDER BY recorded_at_ns ASC`, metric, sinceNs)
	if err != nil {
		return nil, fmt.Errorf("query means for %s: %w", metric, err)
	}
	defer rows.Close()

	var means []float64
	for rows.Next() {
		var m float64
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan mean: %w", err)
		}
		means = append(means, m)
	}
	return means, rows.Err()
}

// MetricNames returns the distinct persisted metric channels, sorted.
func (s *MetricStore) MetricNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT metric FROM metric_snapshots ORDER BY metric`)
	if err != nil {
		return nil, fmt.Errorf("query metric names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan metric name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PruneBefore deletes rows recorded before cutoffNs and reports how many
// were removed.
func (s *MetricStore) PruneBefore(ctx context.Context, cutoffNs int64) (int64, error) {
	var removed int64
	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM metric_snapshots WHERE recorded_at_ns < ?`, cutoffNs)
		if err != nil {
			return fmt.Errorf("prune metric snapshots: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}
