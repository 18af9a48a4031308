package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/KU-AILAB/CCTV-Timeline/internal/cloud"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
)

// Record is the persisted form of a review session.
type Record struct {
	VideoID    string
	SourcePath string
	State      State
	StartTime  float64
	Duration   float64
	Intervals  []segments.Interval
	Detection  *cloud.DetectionResult
	Artifacts  *Artifacts
	UpdatedAt  time.Time
}

// Store persists review sessions so a restarted agent can reopen the last one.
type Store interface {
	SaveReview(ctx context.Context, rec *Record) error
	LoadLatest(ctx context.Context) (*Record, error)
}

// timeLayout has fixed-width fractions so updated_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) SaveReview(ctx context.Context, rec *Record) error {
	intervals := rec.Intervals
	if intervals == nil {
		intervals = []segments.Interval{}
	}
	ivJSON, err := json.Marshal(intervals)
	if err != nil {
		return fmt.Errorf("marshal intervals: %w", err)
	}
	detection, err := marshalNullable(rec.Detection)
	if err != nil {
		return fmt.Errorf("marshal detection: %w", err)
	}
	artifacts, err := marshalNullable(rec.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reviews (video_id, source_path, state, start_time, duration, intervals, detection, artifacts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			source_path = excluded.source_path,
			state = excluded.state,
			start_time = excluded.start_time,
			duration = excluded.duration,
			intervals = excluded.intervals,
			detection = excluded.detection,
			artifacts = excluded.artifacts,
			updated_at = excluded.updated_at
	`, rec.VideoID, rec.SourcePath, string(rec.State), rec.StartTime, rec.Duration,
		string(ivJSON), detection, artifacts, rec.UpdatedAt.UTC().Format(timeLayout))
	return err
}

func (s *SQLiteStore) LoadLatest(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT video_id, source_path, state, start_time, duration, intervals, detection, artifacts, updated_at
		FROM reviews ORDER BY updated_at DESC LIMIT 1
	`)

	var rec Record
	var sourcePath, detection, artifacts sql.NullString
	var state, ivJSON, updatedAt string
	err := row.Scan(&rec.VideoID, &sourcePath, &state, &rec.StartTime, &rec.Duration,
		&ivJSON, &detection, &artifacts, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.SourcePath = sourcePath.String
	rec.State = State(state)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if err := json.Unmarshal([]byte(ivJSON), &rec.Intervals); err != nil {
		return nil, fmt.Errorf("decode intervals of %s: %w", rec.VideoID, err)
	}
	if detection.Valid {
		rec.Detection = &cloud.DetectionResult{}
		if err := json.Unmarshal([]byte(detection.String), rec.Detection); err != nil {
			return nil, fmt.Errorf("decode detection of %s: %w", rec.VideoID, err)
		}
	}
	if artifacts.Valid {
		rec.Artifacts = &Artifacts{}
		if err := json.Unmarshal([]byte(artifacts.String), rec.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts of %s: %w", rec.VideoID, err)
		}
	}
	return &rec, nil
}

func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
