// Package lesson mounts lessons into views and aggregates their progress.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/gateway"
	"github.com/felixgeelhaar/checkpoint/internal/runtime"
)

// Source resolves lessons and their independently stored exercise records
type Source interface {
	GetLesson(ctx context.Context, id string) (*domain.Lesson, error)
	ListLessons(ctx context.Context) ([]domain.LessonSummary, error)
	ListRecords(ctx context.Context, lessonID string) ([]domain.ExerciseRecord, error)
}

// CompletionPublisher forwards completion events outside the process
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, event domain.ExerciseCompletedEvent) error
}

// ProgressStore persists completed markers per lesson
type ProgressStore interface {
	CompletedMarkers(ctx context.Context, lessonID string) ([]string, error)
	RecordCompletion(ctx context.Context, event domain.ExerciseCompletedEvent) error
}

// MountRequest describes a view to mount
type MountRequest struct {
	LessonID string       `json:"lessonId" validate:"required"`
	Mode     runtime.Mode `json:"mode,omitempty" validate:"omitempty,oneof=inline modal"`
}

// Service mounts and tracks lesson views
type Service struct {
	source     Source
	gateway    gateway.Gateway
	runtime    runtime.Options
	dispatcher *domain.EventDispatcher
	publisher  CompletionPublisher
	progress   ProgressStore
	logger     *slog.Logger

	mu       sync.RWMutex
	views    map[uuid.UUID]*View
	watchers map[uuid.UUID]map[int]chan struct{}
	nextW    int
}

// NewService creates a new lesson service
func NewService(source Source, gw gateway.Gateway, opts runtime.Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:     source,
		gateway:    gw,
		runtime:    opts,
		dispatcher: domain.NewEventDispatcher(),
		logger:     logger,
		views:      make(map[uuid.UUID]*View),
		watchers:   make(map[uuid.UUID]map[int]chan struct{}),
	}
}

// SetPublisher sets the completion publisher
func (s *Service) SetPublisher(p CompletionPublisher) {
	s.publisher = p
}

// SetProgressStore sets the store used to seed and record completions
func (s *Service) SetProgressStore(p ProgressStore) {
	s.progress = p
}

// Events returns the dispatcher view events are published on
func (s *Service) Events() *domain.EventDispatcher {
	return s.dispatcher
}

// Lessons lists available lessons
func (s *Service) Lessons(ctx context.Context) ([]domain.LessonSummary, error) {
	return s.source.ListLessons(ctx)
}

// Lesson returns a lesson with its records
func (s *Service) Lesson(ctx context.Context, id string) (*domain.Lesson, []domain.ExerciseRecord, error) {
	lesson, err := s.source.GetLesson(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.source.ListRecords(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list records: %w", err)
	}
	return lesson, records, nil
}

// Mount renders a lesson into a new view
func (s *Service) Mount(ctx context.Context, req MountRequest) (*View, error) {
	lesson, records, err := s.Lesson(ctx, req.LessonID)
	if err != nil {
		return nil, err
	}

	var seed []string
	if s.progress != nil {
		seed, err = s.progress.CompletedMarkers(ctx, lesson.ID)
		if err != nil {
			s.logger.Warn("failed to load lesson progress", "lesson", lesson.ID, "error", err)
			seed = nil
		}
	}

	opts := s.runtime
	if req.Mode != "" {
		opts.Mode = req.Mode
	}

	view := NewView(lesson, records, s.gateway, ViewOptions{
		Runtime:            opts,
		Seed:               seed,
		Logger:             s.logger,
		OnExerciseComplete: s.onExerciseComplete,
		OnSubmissionFailed: s.onSubmissionFailed,
		OnChange:           s.onChange,
	})

	s.mu.Lock()
	s.views[view.ID] = view
	s.mu.Unlock()

	progress := view.Progress()
	s.logger.Info("lesson view mounted",
		"view", view.ID.String(),
		"lesson", lesson.ID,
		"exercises", progress.Exercises,
		"degraded", progress.Degraded)
	s.dispatcher.Publish(domain.NewViewMountedEvent(view.ID, lesson.ID, progress.Exercises, progress.Degraded))

	return view, nil
}

// Get returns a mounted view
func (s *Service) Get(id uuid.UUID) (*View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.views[id]
	if !ok {
		return nil, domain.ErrViewNotFound
	}
	return view, nil
}

// Views returns mounted views, oldest first
func (s *Service) Views() []*View {
	s.mu.RLock()
	views := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].MountedAt.Before(views[j].MountedAt)
	})
	return views
}

// Unmount tears a view down
func (s *Service) Unmount(id uuid.UUID) error {
	s.mu.Lock()
	view, ok := s.views[id]
	delete(s.views, id)
	s.mu.Unlock()

	if !ok {
		return domain.ErrViewNotFound
	}

	view.Unmount()
	s.closeWatchers(id)
	progress := view.Progress()
	duration := s.now().Sub(view.MountedAt)

	s.logger.Info("lesson view unmounted",
		"view", id.String(),
		"lesson", view.LessonID,
		"completed", progress.Completed,
		"xp", progress.XPEarned)
	s.dispatcher.Publish(domain.NewViewUnmountedEvent(id, view.LessonID, progress.Completed, progress.XPEarned, duration))
	return nil
}

// Close unmounts every view
func (s *Service) Close() {
	for _, v := range s.Views() {
		if err := s.Unmount(v.ID); err != nil && !errors.Is(err, domain.ErrViewNotFound) {
			s.logger.Warn("failed to unmount view", "view", v.ID.String(), "error", err)
		}
	}
}

// Exercise resolves an instance inside a mounted view
func (s *Service) Exercise(viewID uuid.UUID, instanceID string) (*runtime.Runtime, error) {
	view, err := s.Get(viewID)
	if err != nil {
		return nil, err
	}
	return view.Instance(instanceID)
}

func (s *Service) onExerciseComplete(v *View, markerID string, verdict domain.Verdict) {
	exerciseID := ""
	for _, seg := range v.segments {
		if seg.MarkerID == markerID && seg.Record != nil {
			exerciseID = seg.Record.ID
			break
		}
	}

	event := domain.NewExerciseCompletedEvent(v.ID, v.LessonID, markerID, exerciseID, verdict)
	s.dispatcher.Publish(event)

	ctx := context.Background()
	if s.progress != nil {
		if err := s.progress.RecordCompletion(ctx, event); err != nil {
			s.logger.Warn("failed to record completion", "lesson", v.LessonID, "marker", markerID, "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishCompletion(ctx, event); err != nil {
			s.logger.Warn("failed to publish completion", "lesson", v.LessonID, "marker", markerID, "error", err)
		}
	}
}

func (s *Service) onSubmissionFailed(v *View, markerID string) {
	s.dispatcher.Publish(domain.NewSubmissionFailedEvent(v.ID, v.LessonID, markerID, "grading service unavailable"))
}

// Watch returns a channel signalled whenever an instance of the view changes.
// Signals coalesce; the channel is closed when the view unmounts or cancel is called.
func (s *Service) Watch(viewID uuid.UUID) (<-chan struct{}, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.views[viewID]; !ok {
		return nil, nil, domain.ErrViewNotFound
	}

	ch := make(chan struct{}, 1)
	s.nextW++
	key := s.nextW
	if s.watchers[viewID] == nil {
		s.watchers[viewID] = make(map[int]chan struct{})
	}
	s.watchers[viewID][key] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.watchers[viewID][key]; ok {
			delete(s.watchers[viewID], key)
			close(c)
		}
	}
	return ch, cancel, nil
}

func (s *Service) onChange(v *View, _ runtime.State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers[v.ID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Service) closeWatchers(viewID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[viewID] {
		close(ch)
	}
	delete(s.watchers, viewID)
}

func (s *Service) now() time.Time {
	if s.runtime.Clock != nil {
		return s.runtime.Clock.Now()
	}
	return time.Now()
}
