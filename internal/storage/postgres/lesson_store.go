package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
	"github.com/felixgeelhaar/checkpoint/internal/segment"
)

// LessonStore handles lesson data access.
type LessonStore struct {
	pool *pgxpool.Pool
}

// NewLessonStore creates a new LessonStore.
func NewLessonStore(pool *pgxpool.Pool) *LessonStore {
	return &LessonStore{pool: pool}
}

// Import upserts a lesson and replaces its exercise records.
func (s *LessonStore) Import(ctx context.Context, b lesson.Bundle) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO lessons (id, title, markup)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, markup = EXCLUDED.markup, updated_at = now()`,
			b.Lesson.ID, b.Lesson.Title, b.Lesson.Markup,
		); err != nil {
			return fmt.Errorf("upsert lesson: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM exercise_records WHERE lesson_id = $1`, b.Lesson.ID); err != nil {
			return fmt.Errorf("clear records: %w", err)
		}

		batch := &pgx.Batch{}
		for i, r := range b.Records {
			options := r.Options
			if options == nil {
				options = []string{}
			}
			batch.Queue(
				`INSERT INTO exercise_records (id, lesson_id, position, question, answer_type, options,
					hint1, hint2, difficulty, xp_reward, original_position)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				r.ID, b.Lesson.ID, i, r.Question, string(r.AnswerType), options,
				r.Hint1, r.Hint2, string(r.Difficulty), r.XPReward, r.OriginalPosition,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert records: %w", err)
		}
		return nil
	})
}

// GetLesson retrieves a lesson by ID.
func (s *LessonStore) GetLesson(ctx context.Context, id string) (*domain.Lesson, error) {
	var l domain.Lesson
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, markup, created_at, updated_at FROM lessons WHERE id = $1`, id,
	).Scan(&l.ID, &l.Title, &l.Markup, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	return &l, nil
}

// ListLessons returns lesson summaries ordered by ID.
func (s *LessonStore) ListLessons(ctx context.Context) ([]domain.LessonSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, markup FROM lessons ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	var out []domain.LessonSummary
	for rows.Next() {
		var (
			sum    domain.LessonSummary
			markup string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &markup); err != nil {
			return nil, err
		}
		sum.ExerciseCount = segment.CountMarkers(markup)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListRecords returns a lesson's exercise records in import order.
func (s *LessonStore) ListRecords(ctx context.Context, lessonID string) ([]domain.ExerciseRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lesson_id, question, answer_type, options, hint1, hint2, difficulty, xp_reward, original_position
		 FROM exercise_records WHERE lesson_id = $1
		 ORDER BY position`, lessonID,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []domain.ExerciseRecord
	for rows.Next() {
		var (
			r          domain.ExerciseRecord
			answerType string
			difficulty string
		)
		if err := rows.Scan(&r.ID, &r.LessonID, &r.Question, &answerType, &r.Options,
			&r.Hint1, &r.Hint2, &difficulty, &r.XPReward, &r.OriginalPosition); err != nil {
			return nil, err
		}
		r.AnswerType = domain.ParseAnswerType(answerType)
		r.Difficulty = domain.Difficulty(difficulty)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteLesson removes a lesson and its records.
func (s *LessonStore) DeleteLesson(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLessonNotFound
	}
	return nil
}
