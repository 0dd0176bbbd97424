package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/deviation.report/internal/perception/pipeline"
)

// TrackRow is the persisted rollup of one tracked object.
type TrackRow struct {
	ObjectID       string  `json:"object_id"`
	Class          string  `json:"class"`
	FirstSeenNs    int64   `json:"first_seen_ns"`
	LastSeenNs     int64   `json:"last_seen_ns"`
	Observations   int     `json:"observations"`
	PathLengthM    float64 `json:"path_length_m"`
	LatestSpeedMPS float64 `json:"latest_speed_mps"`
	UpdatedAtNs    int64   `json:"updated_at_ns"`
}

// TrackStore persists per-object track summaries.
type TrackStore struct {
	db *sql.DB
}

// NewTrackStore creates a TrackStore backed by the given database.
func NewTrackStore(db *sql.DB) *TrackStore {
	return &TrackStore{db: db}
}

// UpsertSummaries writes the current rollups. Rows are keyed by object id:
// an object seen across many flushes keeps one row that tracks its latest
// state.
func (s *TrackStore) UpsertSummaries(ctx context.Context, summaries []pipeline.TrackSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	now := time.Now().UnixNano()

	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin summaries tx: %w", err)
		}
		defer tx.Rollback()

		for _, sum := range summaries {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO track_summaries (
					object_id, class, first_seen_ns, last_seen_ns,
					observations, path_length_m, latest_speed_mps, updated_at_ns
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(object_id) DO UPDATE SET
					class = excluded.class,
					last_seen_ns = excluded.last_seen_ns,
					observations = excluded.observations,
					path_length_m = excluded.path_length_m,
					latest_speed_mps = excluded.latest_speed_mps,
					updated_at_ns = excluded.updated_at_ns`,
				sum.ObjectID, sum.Class, sum.FirstSeen.UnixNano(), sum.LastSeen.UnixNano(),
				sum.Observations, sum.PathLength, sum.LatestSpeed, now,
			)
			if err != nil {
				return fmt.Errorf("upsert summary %s: %w", sum.ObjectID, err)
			}
		}
		return tx.Commit()
	})
}

// List returns all persisted track summaries, most recently seen first.
func (s *TrackStore) List(ctx context.Context) ([]TrackRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_id, class, first_seen_ns, last_seen_ns,
		       observations, path_length_m, latest_speed_mps, updated_at_ns
		FROM track_summaries
		ORDER BY last_seen_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("query track summaries: %w", err)
	}
	defer rows.Close()

	var out []TrackRow
	for rows.Next() {
		var r TrackRow
		err := rows.Scan(
			&r.ObjectID, &r.Class, &r.FirstSeenNs, &r.LastSeenNs,
			&r.Observations, &r.PathLengthM, &r.LatestSpeedMPS, &r.UpdatedAtNs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan track summary: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one object's persisted summary.
func (s *TrackStore) Get(ctx context.Context, objectID string) (TrackRow, error) {
	var r TrackRow
	err := s.db.QueryRowContext(ctx, `
		SELECT object_id, class, first_seen_ns, last_seen_ns,
		       observations, path_length_m, latest_speed_mps, updated_at_ns
		FROM track_summaries
		WHERE object_id = ?`, objectID).Scan(
		&r.ObjectID, &r.Class, &r.FirstSeenNs, &r.LastSeenNs,
		&r.Observations, &r.PathLengthM, &r.LatestSpeedMPS, &r.UpdatedAtNs,
	)
	if err == sql.ErrNoRows {
		return TrackRow{}, fmt.Errorf("track summary %s not found", objectID)
	}
	if err != nil {
		return TrackRow{}, fmt.Errorf("scan track summary: %w", err)
	}
	return r, nil
}
