package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
	"github.com/felixgeelhaar/checkpoint/internal/segment"
)

// LessonStore implements lesson persistence backed by SQLite.
type LessonStore struct {
	db *DB
}

// NewLessonStore creates a new SQLite-backed lesson store.
func NewLessonStore(db *DB) *LessonStore {
	return &LessonStore{db: db}
}

// Import upserts a lesson and replaces its exercise records.
func (s *LessonStore) Import(ctx context.Context, b lesson.Bundle) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lessons (id, title, markup, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, markup=excluded.markup, updated_at=excluded.updated_at`,
		b.Lesson.ID, b.Lesson.Title, b.Lesson.Markup, now, now,
	); err != nil {
		return fmt.Errorf("upsert lesson: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM exercise_records WHERE lesson_id = ?", b.Lesson.ID); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	for i, r := range b.Records {
		options, err := json.Marshal(r.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exercise_records (id, lesson_id, position, question, answer_type, options,
				hint1, hint2, difficulty, xp_reward, original_position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, b.Lesson.ID, i, r.Question, string(r.AnswerType), string(options),
			r.Hint1, r.Hint2, string(r.Difficulty), r.XPReward, r.OriginalPosition,
		); err != nil {
			return fmt.Errorf("insert record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

// GetLesson retrieves a lesson by ID.
func (s *LessonStore) GetLesson(ctx context.Context, id string) (*domain.Lesson, error) {
	var l domain.Lesson
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, markup, created_at, updated_at FROM lessons WHERE id = ?`, id,
	).Scan(&l.ID, &l.Title, &l.Markup, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	return &l, nil
}

// ListLessons returns lesson summaries ordered by ID.
func (s *LessonStore) ListLessons(ctx context.Context) ([]domain.LessonSummary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, markup FROM lessons ORDER BY id")
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
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		sum.ExerciseCount = segment.CountMarkers(markup)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListRecords returns a lesson's exercise records in import order.
func (s *LessonStore) ListRecords(ctx context.Context, lessonID string) ([]domain.ExerciseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lesson_id, question, answer_type, options, hint1, hint2,
			difficulty, xp_reward, original_position
		FROM exercise_records WHERE lesson_id = ? ORDER BY position`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []domain.ExerciseRecord
	for rows.Next() {
		var (
			r          domain.ExerciseRecord
			answerType string
			options    string
			difficulty string
		)
		if err := rows.Scan(&r.ID, &r.LessonID, &r.Question, &answerType, &options,
			&r.Hint1, &r.Hint2, &difficulty, &r.XPReward, &r.OriginalPosition); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.AnswerType = domain.ParseAnswerType(answerType)
		r.Difficulty = domain.Difficulty(difficulty)
		if err := json.Unmarshal([]byte(options), &r.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteLesson removes a lesson and its records.
func (s *LessonStore) DeleteLesson(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM lessons WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrLessonNotFound
	}
	return nil
}
