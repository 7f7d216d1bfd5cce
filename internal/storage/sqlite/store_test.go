package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
)

func testBundle() lesson.Bundle {
	return lesson.Bundle{
		Lesson: domain.Lesson{
			ID:     "colors",
			Title:  "Colors",
			Markup: `<p>Pick</p><span class="interactive-exercise" data-exercise-id="ex-1" data-type="MULTIPLE_CHOICE">Sky?</span>`,
		},
		Records: []domain.ExerciseRecord{
			{
				ID:               "rec-1",
				Question:         "What color is the sky?",
				AnswerType:       domain.AnswerSelection,
				Options:          []string{"red", "blue"},
				Hint1:            "Look up",
				Difficulty:       domain.DifficultyBeginner,
				XPReward:         10,
				OriginalPosition: "ex-1",
			},
		},
	}
}

func TestLessonStore_ImportGet(t *testing.T) {
	ctx := context.Background()
	store := NewLessonStore(openTestDB(t))

	if err := store.Import(ctx, testBundle()); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	l, err := store.GetLesson(ctx, "colors")
	if err != nil {
		t.Fatalf("GetLesson() error = %v", err)
	}
	if l.Title != "Colors" || l.Markup != testBundle().Lesson.Markup {
		t.Errorf("lesson = %+v", l)
	}

	records, err := store.ListRecords(ctx, "colors")
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ListRecords() = %d; want 1", len(records))
	}
	r := records[0]
	if r.LessonID != "colors" || r.AnswerType != domain.AnswerSelection || len(r.Options) != 2 || r.Options[1] != "blue" {
		t.Errorf("record = %+v", r)
	}

	summaries, err := store.ListLessons(ctx)
	if err != nil {
		t.Fatalf("ListLessons() error = %v", err)
	}
	if len(summaries) != 1 || summaries[0].ExerciseCount != 1 {
		t.Errorf("ListLessons() = %+v", summaries)
	}
}

func TestLessonStore_ImportReplacesRecords(t *testing.T) {
	ctx := context.Background()
	store := NewLessonStore(openTestDB(t))

	b := testBundle()
	store.Import(ctx, b)

	b.Lesson.Title = "Colours"
	b.Records = nil
	if err := store.Import(ctx, b); err != nil {
		t.Fatalf("re-Import() error = %v", err)
	}

	l, _ := store.GetLesson(ctx, "colors")
	if l.Title != "Colours" {
		t.Errorf("Title = %q; want Colours", l.Title)
	}
	records, _ := store.ListRecords(ctx, "colors")
	if len(records) != 0 {
		t.Errorf("ListRecords() = %d; want 0", len(records))
	}
}

func TestLessonStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewLessonStore(openTestDB(t))

	if _, err := store.GetLesson(ctx, "missing"); !errors.Is(err, domain.ErrLessonNotFound) {
		t.Errorf("GetLesson() error = %v; want ErrLessonNotFound", err)
	}
	if err := store.DeleteLesson(ctx, "missing"); !errors.Is(err, domain.ErrLessonNotFound) {
		t.Errorf("DeleteLesson() error = %v; want ErrLessonNotFound", err)
	}
}

func TestLessonStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewLessonStore(db)
	store.Import(ctx, testBundle())

	if err := store.DeleteLesson(ctx, "colors"); err != nil {
		t.Fatalf("DeleteLesson() error = %v", err)
	}

	var n int
	db.QueryRow("SELECT COUNT(*) FROM exercise_records").Scan(&n)
	if n != 0 {
		t.Errorf("exercise_records = %d after delete; want 0", n)
	}
}

func completedEvent(lessonID, markerID string, xp int) domain.ExerciseCompletedEvent {
	return domain.NewExerciseCompletedEvent(uuid.New(), lessonID, markerID, "rec-"+markerID, domain.Verdict{
		IsCorrect:     true,
		XPAwarded:     xp,
		AttemptNumber: 1,
	})
}

func TestProgressStore(t *testing.T) {
	ctx := context.Background()
	store := NewProgressStore(openTestDB(t))

	for _, e := range []domain.ExerciseCompletedEvent{
		completedEvent("colors", "ex-2", 5),
		completedEvent("colors", "ex-1", 10),
		completedEvent("colors", "ex-1", 10),
		completedEvent("shapes", "ex-1", 3),
	} {
		if err := store.RecordCompletion(ctx, e); err != nil {
			t.Fatalf("RecordCompletion() error = %v", err)
		}
	}

	markers, err := store.CompletedMarkers(ctx, "colors")
	if err != nil {
		t.Fatalf("CompletedMarkers() error = %v", err)
	}
	if len(markers) != 2 || markers[0] != "ex-1" || markers[1] != "ex-2" {
		t.Errorf("CompletedMarkers() = %v", markers)
	}

	sum, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.Lessons != 2 || sum.Completions != 3 || sum.XPEarned != 18 {
		t.Errorf("Summary() = %+v", sum)
	}

	completions, _ := store.Completions(ctx, "shapes")
	if len(completions) != 1 || completions[0].ExerciseID != "rec-ex-1" {
		t.Errorf("Completions() = %+v", completions)
	}

	if err := store.Reset(ctx, "colors"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if markers, _ := store.CompletedMarkers(ctx, "colors"); len(markers) != 0 {
		t.Errorf("CompletedMarkers() after reset = %v", markers)
	}
}

func TestAnalyticsStore(t *testing.T) {
	ctx := context.Background()
	store := NewAnalyticsStore(openTestDB(t))

	viewID := uuid.New()
	dispatcher := domain.NewEventDispatcher()
	dispatcher.SubscribeAll(store.Handler(func(err error) { t.Errorf("record: %v", err) }))

	dispatcher.Publish(domain.NewViewMountedEvent(viewID, "colors", 1, 0))
	dispatcher.Publish(domain.NewSubmissionFailedEvent(viewID, "colors", "ex-1", "timeout"))
	dispatcher.Publish(domain.NewSubmissionFailedEvent(uuid.New(), "colors", "ex-1", "timeout"))

	n, err := store.Count(ctx, domain.EventSubmissionFailed)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d; want 2", n)
	}

	events, err := store.Query(ctx, domain.EventSubmissionFailed, viewID.String(), time.Time{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 1 || events[0].ViewID != viewID.String() {
		t.Errorf("Query() = %+v", events)
	}

	pruned, err := store.Prune(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 3 {
		t.Errorf("Prune() = %d; want 3", pruned)
	}
}
