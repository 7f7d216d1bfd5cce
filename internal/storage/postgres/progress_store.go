package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
)

// Ensure the stores implement the lesson interfaces.
var (
	_ lesson.Source        = (*LessonStore)(nil)
	_ lesson.ProgressStore = (*ProgressStore)(nil)
)

// ProgressStore records completed markers in PostgreSQL.
type ProgressStore struct {
	pool *pgxpool.Pool
}

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(pool *pgxpool.Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

// RecordCompletion stores a completion. The first completion of a marker wins.
func (s *ProgressStore) RecordCompletion(ctx context.Context, e domain.ExerciseCompletedEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO completions (lesson_id, marker_id, exercise_id, view_id, xp_awarded, attempt_number, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (lesson_id, marker_id) DO NOTHING`,
		e.LessonID, e.MarkerID, e.ExerciseID, e.AggregateID().String(),
		e.Verdict.XPAwarded, e.Verdict.AttemptNumber, e.OccurredAt(),
	)
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

// CompletedMarkers lists the completed markers of a lesson.
func (s *ProgressStore) CompletedMarkers(ctx context.Context, lessonID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT marker_id FROM completions WHERE lesson_id = $1 ORDER BY marker_id`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	var markers []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// Completions lists every stored completion of a lesson.
func (s *ProgressStore) Completions(ctx context.Context, lessonID string) ([]domain.Completion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lesson_id, marker_id, exercise_id, xp_awarded, attempt_number, completed_at
		 FROM completions WHERE lesson_id = $1 ORDER BY completed_at, marker_id`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	var out []domain.Completion
	for rows.Next() {
		var c domain.Completion
		if err := rows.Scan(&c.LessonID, &c.MarkerID, &c.ExerciseID, &c.XPAwarded, &c.AttemptNumber, &c.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Summary totals completions across every lesson.
func (s *ProgressStore) Summary(ctx context.Context) (*domain.ProgressSummary, error) {
	var sum domain.ProgressSummary
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT lesson_id), COUNT(*), COALESCE(SUM(xp_awarded), 0)::INTEGER FROM completions`,
	).Scan(&sum.Lessons, &sum.Completions, &sum.XPEarned)
	if err != nil {
		return nil, fmt.Errorf("summarize completions: %w", err)
	}
	return &sum, nil
}

// Reset forgets a lesson's completions.
func (s *ProgressStore) Reset(ctx context.Context, lessonID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM completions WHERE lesson_id = $1`, lessonID); err != nil {
		return fmt.Errorf("reset completions: %w", err)
	}
	return nil
}
