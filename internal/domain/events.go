package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is something that happened to a lesson view. Events are delivered
// synchronously to subscribers in publish order.
type Event interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
}

// BaseEvent carries the fields every view event shares
type BaseEvent struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateUUID uuid.UUID `json:"aggregate_id"`
	AggregateName string    `json:"aggregate_type"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType, aggregateType string, aggregateID uuid.UUID) BaseEvent {
	return BaseEvent{
		ID:            uuid.New(),
		Type:          eventType,
		Timestamp:     time.Now(),
		AggregateUUID: aggregateID,
		AggregateName: aggregateType,
	}
}

func (e BaseEvent) EventID() uuid.UUID     { return e.ID }
func (e BaseEvent) EventType() string      { return e.Type }
func (e BaseEvent) OccurredAt() time.Time  { return e.Timestamp }
func (e BaseEvent) AggregateID() uuid.UUID { return e.AggregateUUID }
func (e BaseEvent) AggregateType() string  { return e.AggregateName }

// EventHandler receives published events
type EventHandler func(event Event)

// EventDispatcher fans events out to per-type and catch-all subscribers
type EventDispatcher struct {
	mu          sync.RWMutex
	handlers    map[string][]EventHandler
	allHandlers []EventHandler // handlers for all events
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type
func (d *EventDispatcher) Subscribe(eventType string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (d *EventDispatcher) SubscribeAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allHandlers = append(d.allHandlers, handler)
}

// Publish dispatches an event to all registered handlers
func (d *EventDispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Call type-specific handlers
	if handlers, ok := d.handlers[event.EventType()]; ok {
		for _, h := range handlers {
			h(event)
		}
	}

	// Call all-event handlers
	for _, h := range d.allHandlers {
		h(event)
	}
}

// PublishAll dispatches multiple events
func (d *EventDispatcher) PublishAll(events []Event) {
	for _, event := range events {
		d.Publish(event)
	}
}

const (
	EventViewMounted       = "view.mounted"
	EventViewUnmounted     = "view.unmounted"
	EventExerciseCompleted = "exercise.completed"
	EventSubmissionFailed  = "exercise.submission_failed"
)

// ViewMountedEvent is published when a lesson view is rendered
type ViewMountedEvent struct {
	BaseEvent
	LessonID  string `json:"lesson_id"`
	Exercises int    `json:"exercises"`
	Degraded  int    `json:"degraded"`
}

// NewViewMountedEvent creates a new view mounted event
func NewViewMountedEvent(viewID uuid.UUID, lessonID string, exercises, degraded int) ViewMountedEvent {
	return ViewMountedEvent{
		BaseEvent: NewBaseEvent(EventViewMounted, "LessonView", viewID),
		LessonID:  lessonID,
		Exercises: exercises,
		Degraded:  degraded,
	}
}

// ViewUnmountedEvent is published when a lesson view is torn down
type ViewUnmountedEvent struct {
	BaseEvent
	LessonID  string        `json:"lesson_id"`
	Completed int           `json:"completed"`
	XPEarned  int           `json:"xp_earned"`
	Duration  time.Duration `json:"duration"`
}

// NewViewUnmountedEvent creates a new view unmounted event
func NewViewUnmountedEvent(viewID uuid.UUID, lessonID string, completed, xp int, duration time.Duration) ViewUnmountedEvent {
	return ViewUnmountedEvent{
		BaseEvent: NewBaseEvent(EventViewUnmounted, "LessonView", viewID),
		LessonID:  lessonID,
		Completed: completed,
		XPEarned:  xp,
		Duration:  duration,
	}
}

// ExerciseCompletedEvent is published once per marker instance entering Correct
type ExerciseCompletedEvent struct {
	BaseEvent
	LessonID   string  `json:"lesson_id"`
	MarkerID   string  `json:"marker_id"`
	ExerciseID string  `json:"exercise_id,omitempty"`
	Verdict    Verdict `json:"verdict"`
}

// NewExerciseCompletedEvent creates a new exercise completed event
func NewExerciseCompletedEvent(viewID uuid.UUID, lessonID, markerID, exerciseID string, verdict Verdict) ExerciseCompletedEvent {
	return ExerciseCompletedEvent{
		BaseEvent:  NewBaseEvent(EventExerciseCompleted, "LessonView", viewID),
		LessonID:   lessonID,
		MarkerID:   markerID,
		ExerciseID: exerciseID,
		Verdict:    verdict,
	}
}

// SubmissionFailedEvent is published when the grading service could not be reached
type SubmissionFailedEvent struct {
	BaseEvent
	LessonID string `json:"lesson_id"`
	MarkerID string `json:"marker_id"`
	Reason   string `json:"reason"`
}

// NewSubmissionFailedEvent creates a new submission failed event
func NewSubmissionFailedEvent(viewID uuid.UUID, lessonID, markerID, reason string) SubmissionFailedEvent {
	return SubmissionFailedEvent{
		BaseEvent: NewBaseEvent(EventSubmissionFailed, "LessonView", viewID),
		LessonID:  lessonID,
		MarkerID:  markerID,
		Reason:    reason,
	}
}
