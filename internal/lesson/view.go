package lesson

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/gateway"
	"github.com/felixgeelhaar/checkpoint/internal/runtime"
	"github.com/felixgeelhaar/checkpoint/internal/segment"
)

// Part is one rendered piece of a lesson view
type Part struct {
	Kind       domain.SegmentKind `json:"kind"`
	HTML       string             `json:"html,omitempty"`
	InstanceID string             `json:"instanceId,omitempty"`
	Exercise   *runtime.Snapshot  `json:"exercise,omitempty"`
}

// Progress aggregates completion across a view
type Progress struct {
	Exercises int      `json:"exercises"`
	Degraded  int      `json:"degraded"`
	Completed int      `json:"completed"`
	XPEarned  int      `json:"xpEarned"`
	Markers   []string `json:"completedMarkers"`
}

// Snapshot is the full render model of a mounted lesson
type Snapshot struct {
	ID        uuid.UUID    `json:"id"`
	LessonID  string       `json:"lessonId"`
	Title     string       `json:"title"`
	Mode      runtime.Mode `json:"mode"`
	MountedAt time.Time    `json:"mountedAt"`
	Parts     []Part       `json:"parts"`
	Progress  Progress     `json:"progress"`
}

// ViewOptions configures a mounted view
type ViewOptions struct {
	Runtime runtime.Options

	// Seed lists markers already completed before mounting
	Seed []string

	// OnExerciseComplete is bubbled from every instance
	OnExerciseComplete func(v *View, markerID string, verdict domain.Verdict)

	// OnSubmissionFailed is called when an instance enters the error phase
	OnSubmissionFailed func(v *View, markerID string)

	// OnChange is called after any instance changes
	OnChange func(v *View, st runtime.State)

	Logger *slog.Logger
}

// View is a mounted lesson: its segments, one runtime per exercise segment
// and the completion set they share
type View struct {
	ID        uuid.UUID
	LessonID  string
	Title     string
	Mode      runtime.Mode
	MountedAt time.Time

	segments    []domain.Segment
	completions *CompletionSet
	instances   map[string]*runtime.Runtime
	order       []string

	mu        sync.Mutex
	xp        map[string]int
	unmounted bool
}

// InstanceID names the runtime mounted for the segment at index
func InstanceID(index int) string {
	return "seg-" + strconv.Itoa(index)
}

// NewView segments the lesson and mounts a runtime for every exercise segment
func NewView(lesson *domain.Lesson, records []domain.ExerciseRecord, gw gateway.Gateway, opts ViewOptions) *View {
	index := domain.RecordIndex(records)
	segments := segment.Segment(lesson.Markup, index)

	mode := opts.Runtime.Mode
	if mode == "" {
		mode = runtime.ModeInline
	}
	mountedAt := time.Now()
	if opts.Runtime.Clock != nil {
		mountedAt = opts.Runtime.Clock.Now()
	}

	v := &View{
		ID:          uuid.New(),
		LessonID:    lesson.ID,
		Title:       lesson.Title,
		Mode:        mode,
		MountedAt:   mountedAt,
		segments:    segments,
		completions: NewCompletionSet(opts.Seed...),
		instances:   make(map[string]*runtime.Runtime),
		xp:          make(map[string]int),
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("view", v.ID.String(), "lesson", lesson.ID)

	for i, seg := range segments {
		if !seg.IsExercise() {
			continue
		}
		id := InstanceID(i)

		rtOpts := opts.Runtime
		rtOpts.Mode = mode
		rtOpts.Logger = logger
		rtOpts.OnComplete = func(markerID string, verdict domain.Verdict) {
			if !v.recordXP(markerID, verdict.XPAwarded) {
				return
			}
			if opts.OnExerciseComplete != nil {
				opts.OnExerciseComplete(v, markerID, verdict)
			}
		}

		rt := runtime.New(id, lesson.ID, seg, gw, v.completions, rtOpts)
		markerID := seg.MarkerID
		rt.OnChange(func(st runtime.State) {
			if st.Phase == runtime.PhaseError && opts.OnSubmissionFailed != nil {
				opts.OnSubmissionFailed(v, markerID)
			}
			if opts.OnChange != nil {
				opts.OnChange(v, st)
			}
		})

		v.instances[id] = rt
		v.order = append(v.order, id)
	}

	return v
}

// recordXP tallies a marker once. Duplicate markers share one entry.
func (v *View) recordXP(markerID string, xp int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unmounted {
		return false
	}
	if _, seen := v.xp[markerID]; seen {
		return false
	}
	v.xp[markerID] = xp
	return true
}

// Segments returns the segment sequence
func (v *View) Segments() []domain.Segment {
	out := make([]domain.Segment, len(v.segments))
	copy(out, v.segments)
	return out
}

// Completions returns the view's shared completion set
func (v *View) Completions() *CompletionSet {
	return v.completions
}

// Instance returns the runtime mounted under id
func (v *View) Instance(id string) (*runtime.Runtime, error) {
	v.mu.Lock()
	gone := v.unmounted
	v.mu.Unlock()
	if gone {
		return nil, fmt.Errorf("%w: %s", domain.ErrViewNotFound, v.ID)
	}

	rt, ok := v.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}
	return rt, nil
}

// Instances returns the runtimes in document order
func (v *View) Instances() []*runtime.Runtime {
	out := make([]*runtime.Runtime, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.instances[id])
	}
	return out
}

// Progress aggregates completion and XP
func (v *View) Progress() Progress {
	total, degraded := segment.CountExercises(v.segments)

	v.mu.Lock()
	xp := 0
	for _, n := range v.xp {
		xp += n
	}
	v.mu.Unlock()

	markers := v.completions.IDs()
	return Progress{
		Exercises: total,
		Degraded:  degraded,
		Completed: len(markers),
		XPEarned:  xp,
		Markers:   markers,
	}
}

// Snapshot renders every part of the view
func (v *View) Snapshot() Snapshot {
	parts := make([]Part, 0, len(v.segments))
	for i, seg := range v.segments {
		if !seg.IsExercise() {
			parts = append(parts, Part{Kind: domain.SegmentMarkup, HTML: seg.HTML})
			continue
		}
		id := InstanceID(i)
		snap := v.instances[id].Snapshot()
		parts = append(parts, Part{Kind: domain.SegmentExercise, InstanceID: id, Exercise: &snap})
	}

	return Snapshot{
		ID:        v.ID,
		LessonID:  v.LessonID,
		Title:     v.Title,
		Mode:      v.Mode,
		MountedAt: v.MountedAt,
		Parts:     parts,
		Progress:  v.Progress(),
	}
}

// Unmount disposes every instance. In-flight submissions finish but their
// responses are discarded.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	v.mu.Unlock()

	for _, id := range v.order {
		v.instances[id].Dispose()
	}
}
