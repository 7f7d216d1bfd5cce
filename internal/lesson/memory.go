package lesson

import (
	"context"
	"sort"
	"sync"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/segment"
)

// Bundle is a lesson together with its exercise records
type Bundle struct {
	Lesson  domain.Lesson
	Records []domain.ExerciseRecord
}

// MemorySource is an in-process Source
type MemorySource struct {
	mu      sync.RWMutex
	bundles map[string]Bundle
}

// NewMemorySource creates a source holding the given bundles
func NewMemorySource(bundles ...Bundle) *MemorySource {
	m := &MemorySource{bundles: make(map[string]Bundle)}
	for _, b := range bundles {
		m.Put(b)
	}
	return m
}

// Put adds or replaces a bundle
func (m *MemorySource) Put(b Bundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[b.Lesson.ID] = b
}

func (m *MemorySource) GetLesson(_ context.Context, id string) (*domain.Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bundles[id]
	if !ok {
		return nil, domain.ErrLessonNotFound
	}
	lesson := b.Lesson
	return &lesson, nil
}

func (m *MemorySource) ListLessons(_ context.Context) ([]domain.LessonSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.LessonSummary, 0, len(m.bundles))
	for _, b := range m.bundles {
		out = append(out, domain.LessonSummary{
			ID:            b.Lesson.ID,
			Title:         b.Lesson.Title,
			ExerciseCount: segment.CountMarkers(b.Lesson.Markup),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemorySource) ListRecords(_ context.Context, lessonID string) ([]domain.ExerciseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bundles[lessonID]
	if !ok {
		return nil, domain.ErrLessonNotFound
	}
	out := make([]domain.ExerciseRecord, len(b.Records))
	copy(out, b.Records)
	return out, nil
}
