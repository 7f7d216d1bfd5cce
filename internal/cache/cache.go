// Package cache puts a Redis read-through cache in front of a lesson source.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "checkpoint:"

// LessonKey is the cache key of a lesson body.
func LessonKey(lessonID string) string {
	return keyPrefix + "lesson:" + lessonID
}

// RecordsKey is the cache key of a lesson's exercise records.
func RecordsKey(lessonID string) string {
	return keyPrefix + "records:" + lessonID
}

// LessonsKey is the cache key of the lesson listing.
func LessonsKey() string {
	return keyPrefix + "lessons"
}

// NewClient creates and validates a Redis client connection.
func NewClient(ctx context.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if logger != nil {
		logger.Info("redis connected", "addr", opt.Addr, "db", opt.DB)
	}
	return rdb, nil
}

// Source wraps a lesson.Source and caches its reads in Redis.
// Cache failures are logged and fall through to the wrapped source.
type Source struct {
	next   lesson.Source
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

var _ lesson.Source = (*Source)(nil)

// NewSource creates a caching source. A nil client disables caching.
func NewSource(next lesson.Source, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Source {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

// GetLesson returns a lesson, reading through the cache.
func (s *Source) GetLesson(ctx context.Context, id string) (*domain.Lesson, error) {
	var l domain.Lesson
	if s.get(ctx, LessonKey(id), &l) {
		return &l, nil
	}
	got, err := s.next.GetLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, LessonKey(id), got)
	return got, nil
}

// ListLessons returns lesson summaries, reading through the cache.
func (s *Source) ListLessons(ctx context.Context) ([]domain.LessonSummary, error) {
	var list []domain.LessonSummary
	if s.get(ctx, LessonsKey(), &list) {
		return list, nil
	}
	got, err := s.next.ListLessons(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, LessonsKey(), got)
	return got, nil
}

// ListRecords returns exercise records, reading through the cache.
func (s *Source) ListRecords(ctx context.Context, lessonID string) ([]domain.ExerciseRecord, error) {
	var records []domain.ExerciseRecord
	if s.get(ctx, RecordsKey(lessonID), &records) {
		return records, nil
	}
	got, err := s.next.ListRecords(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, RecordsKey(lessonID), got)
	return got, nil
}

// Invalidate drops a lesson's cached entries along with the listing.
func (s *Source) Invalidate(ctx context.Context, lessonID string) error {
	if s.rdb == nil {
		return nil
	}
	if err := s.rdb.Del(ctx, LessonKey(lessonID), RecordsKey(lessonID), LessonsKey()).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", lessonID, err)
	}
	return nil
}

func (s *Source) get(ctx context.Context, key string, dst any) bool {
	if s.rdb == nil {
		return false
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Source) set(ctx context.Context, key string, v any) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
