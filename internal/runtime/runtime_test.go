package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/checkpoint/internal/clock"
	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/feedback"
	"github.com/felixgeelhaar/checkpoint/internal/gateway"
)

type testSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newTestSet() *testSet { return &testSet{ids: make(map[string]bool)} }

func (s *testSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id]
}

func (s *testSet) Mark(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] {
		return false
	}
	s.ids[id] = true
	return true
}

func mathSegment() domain.Segment {
	return domain.Segment{
		Kind:         domain.SegmentExercise,
		MarkerID:     "ex-1",
		ExerciseType: domain.ExerciseMathProblem,
		QuestionText: "2+2=?",
		Record: &domain.ExerciseRecord{
			ID:               "rec-1",
			Question:         "What is 2+2?",
			AnswerType:       domain.AnswerNumber,
			Hint1:            "Think pairs",
			Hint2:            "Count on your fingers",
			XPReward:         10,
			OriginalPosition: "ex-1",
		},
	}
}

type fixture struct {
	rt        *Runtime
	clock     *clock.Fake
	gw        *gateway.Scripted
	set       *testSet
	completed []string
}

func newFixture(t *testing.T, mode Mode, seg domain.Segment, gw *gateway.Scripted) *fixture {
	t.Helper()
	f := &fixture{clock: clock.NewFake(), gw: gw, set: newTestSet()}
	opts := DefaultOptions()
	opts.Mode = mode
	opts.Clock = f.clock
	opts.OnComplete = func(markerID string, v domain.Verdict) {
		f.completed = append(f.completed, markerID)
	}
	f.rt = New("seg-1", "lesson-1", seg, gw, f.set, opts)
	t.Cleanup(f.rt.Dispose)
	return f
}

func (f *fixture) answer(t *testing.T, value string) State {
	t.Helper()
	if _, err := f.rt.SetAnswer(value); err != nil {
		t.Fatalf("SetAnswer(%q) error = %v", value, err)
	}
	st, err := f.rt.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return st
}

func TestNew_StartingPhase(t *testing.T) {
	inline := newFixture(t, ModeInline, mathSegment(), gateway.NewScripted())
	if got := inline.rt.State().Phase; got != PhaseCollapsed {
		t.Errorf("inline phase = %s, want collapsed", got)
	}

	modal := newFixture(t, ModeModal, mathSegment(), gateway.NewScripted())
	if got := modal.rt.State().Phase; got != PhaseIdle {
		t.Errorf("modal phase = %s, want idle", got)
	}
}

func TestExpand_Idempotent(t *testing.T) {
	for _, mode := range []Mode{ModeInline, ModeModal} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, mode, mathSegment(), gateway.NewScripted())

			first := f.rt.Expand()
			second := f.rt.Expand()

			if first.Phase != PhaseIdle || second.Phase != PhaseIdle {
				t.Errorf("phases = %s, %s; want idle twice", first.Phase, second.Phase)
			}
			if !second.Open {
				t.Error("instance should be open")
			}
		})
	}
}

func TestScenarioB_CorrectAutoCloses(t *testing.T) {
	gw := gateway.NewScripted().Reply(domain.Verdict{IsCorrect: true, XPAwarded: 10, AttemptNumber: 1})
	f := newFixture(t, ModeInline, mathSegment(), gw)

	f.rt.Expand()
	st := f.answer(t, "4")

	if st.Phase != PhaseCorrect {
		t.Fatalf("phase = %s, want correct", st.Phase)
	}
	if st.XPAwarded != 10 || st.AttemptNumber != 1 {
		t.Errorf("xp = %d attempt = %d", st.XPAwarded, st.AttemptNumber)
	}
	if st.AutoCloseRemaining != 10 {
		t.Errorf("AutoCloseRemaining = %d, want 10", st.AutoCloseRemaining)
	}
	if len(f.completed) != 1 || f.completed[0] != "ex-1" {
		t.Errorf("completions = %v", f.completed)
	}
	if !f.set.Has("ex-1") {
		t.Error("marker missing from completion set")
	}

	snap := f.rt.Snapshot()
	if snap.Feedback.Celebration == nil {
		t.Error("celebration should be showing")
	}

	f.clock.Advance(9 * time.Second)
	if got := f.rt.State(); got.Phase != PhaseCorrect || got.AutoCloseRemaining != 1 {
		t.Fatalf("after 9 ticks: phase = %s remaining = %d", got.Phase, got.AutoCloseRemaining)
	}

	f.clock.Advance(time.Second)
	if got := f.rt.State().Phase; got != PhaseCompleted {
		t.Errorf("after 10 ticks phase = %s, want completed", got)
	}
	if len(f.completed) != 1 {
		t.Errorf("completion fired %d times", len(f.completed))
	}
}

func TestScenarioC_IncorrectShowsFirstHint(t *testing.T) {
	gw := gateway.NewScripted().Reply(domain.Verdict{
		IsCorrect: false, Feedback: "Not quite!", ShowHint: 1, AttemptNumber: 1,
	})
	f := newFixture(t, ModeInline, mathSegment(), gw)

	f.rt.Expand()
	st := f.answer(t, "5")

	if st.Phase != PhaseIncorrect {
		t.Fatalf("phase = %s, want incorrect", st.Phase)
	}
	if st.HintLevel != domain.HintFirst || st.Feedback != "Not quite!" {
		t.Errorf("state = %+v", st)
	}

	view := f.rt.Snapshot().Feedback
	if view.Hint == nil || view.Hint.Text != "Think pairs" {
		t.Errorf("Hint = %+v, want hint1", view.Hint)
	}
	if !view.Has(feedback.ActionTryAgain) {
		t.Error("Try Again should be offered")
	}
	if len(f.completed) != 0 {
		t.Error("incorrect verdict fired completion")
	}
}

func TestScenarioD_ExhaustedOffersOnlyDismiss(t *testing.T) {
	gw := gateway.NewScripted().
		Reply(domain.Verdict{ShowHint: 1, AttemptNumber: 1}).
		Reply(domain.Verdict{ShowHint: 2, AttemptNumber: 2}).
		Reply(domain.Verdict{
			AttemptNumber: 3,
			CorrectAnswer: domain.StringPtr("4"),
			Explanation:   domain.StringPtr("2+2 is 4"),
		})
	f := newFixture(t, ModeModal, mathSegment(), gw)
	f.rt.Expand()

	for _, wrong := range []string{"5", "6"} {
		f.answer(t, wrong)
		if _, err := f.rt.Retry(); err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
	}
	st := f.answer(t, "7")

	if st.AttemptNumber != 3 || !st.Exhausted() {
		t.Fatalf("state = %+v", st)
	}
	if st.HintLevel != domain.HintSecond {
		t.Errorf("HintLevel = %d, want 2", st.HintLevel)
	}

	view := f.rt.Snapshot().Feedback
	if view.Has(feedback.ActionTryAgain) {
		t.Error("Try Again must be absent")
	}
	if len(view.Actions) != 1 || view.Actions[0].Label != feedback.LabelGotIt {
		t.Errorf("Actions = %+v", view.Actions)
	}

	if _, err := f.rt.Retry(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Retry() on exhausted error = %v", err)
	}

	f.rt.Close()
	if st := f.rt.Expand(); st.Phase != PhaseIncorrect || !st.Exhausted() {
		t.Errorf("reopened state = %+v, want exhausted disclosure", st)
	}
}

func TestSubmit_BlankNeverReachesGateway(t *testing.T) {
	gw := gateway.NewScripted().Reply(domain.Verdict{IsCorrect: true})
	f := newFixture(t, ModeInline, mathSegment(), gw)
	f.rt.Expand()

	for _, blank := range []string{"", "   ", "\t\n"} {
		f.rt.SetAnswer(blank)
		if _, err := f.rt.Submit(context.Background()); !errors.Is(err, domain.ErrBlankAnswer) {
			t.Errorf("Submit(%q) error = %v, want ErrBlankAnswer", blank, err)
		}
	}
	if n := len(gw.Calls()); n != 0 {
		t.Errorf("gateway called %d times", n)
	}
	if got := f.rt.State().Phase; got != PhaseIdle {
		t.Errorf("phase = %s, want idle", got)
	}
}

func TestSubmit_TrimsAndAddressesRecord(t *testing.T) {
	gw := gateway.NewScripted().Reply(domain.Verdict{IsCorrect: true, AttemptNumber: 1})
	f := newFixture(t, ModeInline, mathSegment(), gw)
	f.rt.Expand()
	f.answer(t, "  4  ")

	calls := gw.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].Answer != "4" || calls[0].ExerciseID != "rec-1" || calls[0].LessonID != "" {
		t.Errorf("submission = %+v", calls[0])
	}
}

func TestSubmit_DegradedMarkerSendsLessonID(t *testing.T) {
	seg := domain.Segment{Kind: domain.SegmentExercise, MarkerID: "ex-9", ExerciseType: domain.ExerciseShortAnswer}
	gw := gateway.NewScripted().Reply(domain.Verdict{ShowHint: 1, AttemptNumber: 1})
	f := newFixture(t, ModeInline, seg, gw)
	f.rt.Expand()

	st := f.answer(t, "maybe")
	if st.Phase != PhaseIncorrect {
		t.Errorf("phase = %s", st.Phase)
	}
	if c := gw.Calls()[0]; c.ExerciseID != "ex-9" || c.LessonID != "lesson-1" {
		t.Errorf("submission = %+v", c)
	}
	if f.rt.Snapshot().Feedback.Hint != nil {
		t.Error("degraded exercise must not show hints")
	}
}

func TestSubmit_ErrorPreservesAnswerAndAttempt(t *testing.T) {
	gw := gateway.NewScripted().
		Reply(domain.Verdict{ShowHint: 1, AttemptNumber: 1}).
		Fail(errors.New("connection reset")).
		Reply(domain.Verdict{IsCorrect: true, XPAwarded: 5, AttemptNumber: 2})
	f := newFixture(t, ModeInline, mathSegment(), gw)
	f.rt.Expand()

	f.answer(t, "5")
	f.rt.Retry()

	st := f.answer(t, "4")
	if st.Phase != PhaseError {
		t.Fatalf("phase = %s, want error", st.Phase)
	}
	if st.Answer != "4" {
		t.Errorf("Answer = %q, want preserved", st.Answer)
	}
	if st.AttemptNumber != 1 {
		t.Errorf("AttemptNumber = %d, want unchanged 1", st.AttemptNumber)
	}

	view := f.rt.Snapshot().Feedback
	if !view.Has(feedback.ActionRetry) || !view.Has(feedback.ActionDismiss) {
		t.Errorf("error actions = %+v", view.Actions)
	}

	st, err := f.rt.Retry()
	if err != nil || st.Phase != PhaseIdle || st.Answer != "4" {
		t.Fatalf("Retry() = %+v, %v", st, err)
	}

	st, err = f.rt.Submit(context.Background())
	if err != nil || st.Phase != PhaseCorrect || st.AttemptNumber != 2 {
		t.Errorf("resubmit = %+v, %v", st, err)
	}
}

func TestRetry_ClearsAnswerKeepsHint(t *testing.T) {
	gw := gateway.NewScripted().Reply(domain.Verdict{ShowHint: 2, AttemptNumber: 2})
	f := newFixture(t, ModeInline, mathSegment(), gw)
	f.rt.Expand()
	f.answer(t, "5")

	st, err := f.rt.Retry()
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if st.Answer != "" || st.Phase != PhaseIdle {
		t.Errorf("state = %+v", st)
	}
	if st.HintLevel != domain.HintSecond || st.AttemptNumber != 2 {
		t.Errorf("hint = %d attempt = %d", st.HintLevel, st.AttemptNumber)
	}
}

func TestHintLevel_NeverDecreases(t *testing.T) {
	gw := gateway.NewScripted().
		Reply(domain.Verdict{ShowHint: 2, AttemptNumber: 1}).
		Reply(domain.Verdict{ShowHint: 1, AttemptNumber: 2})
	f := newFixture(t, ModeInline, mathSegment(), gw)
	f.rt.Expand()

	f.answer(t, "1")
	f.rt.Retry()
	st := f.answer(t, "2")

	if st.HintLevel != domain.HintSecond {
		t.Errorf("HintLevel = %d, want 2", st.HintLevel)
	}
}

func TestCompleted_IsPermanent(t *testing.T) {
	gw := gateway.NewScripted().Reply(domain.Verdict{IsCorrect: true, XPAwarded: 10, AttemptNumber: 1})
	f := newFixture(t, ModeInline, mathSegment(), gw)
	f.rt.Expand()
	f.answer(t, "4")

	st, err := f.rt.Close()
	if err != nil || st.Phase != PhaseCompleted {
		t.Fatalf("Close() = %s, %v", st.Phase, err)
	}

	if _, err := f.rt.Submit(context.Background()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Submit() after completion error = %v", err)
	}
	if _, err := f.rt.Retry(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Retry() after completion error = %v", err)
	}
	if st := f.rt.Expand(); st.Phase != PhaseCompleted {
		t.Errorf("Expand() after completion phase = %s", st.Phase)
	}
	if st, _ := f.rt.Close(); st.Phase != PhaseCompleted {
		t.Errorf("Close() after completion phase = %s", st.Phase)
	}
	if len(gw.Calls()) != 1 {
		t.Errorf("gateway calls = %d, want 1", len(gw.Calls()))
	}
}

func TestExpand_AlreadyCompletedMarker(t *testing.T) {
	f := newFixture(t, ModeInline, mathSegment(), gateway.NewScripted())
	f.set.Mark("ex-1")

	st := f.rt.Expand()
	if st.Phase != PhaseCompleted {
		t.Errorf("phase = %s, want completed", st.Phase)
	}
	if len(f.completed) != 0 {
		t.Error("completion callback fired retroactively")
	}
}

func TestClose_ByMode(t *testing.T) {
	tests := []struct {
		mode Mode
		want Phase
	}{
		{ModeInline, PhaseCollapsed},
		{ModeModal, PhaseIdle},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			gw := gateway.NewScripted().Reply(domain.Verdict{ShowHint: 1, AttemptNumber: 1})
			f := newFixture(t, tt.mode, mathSegment(), gw)
			f.rt.Expand()
			f.answer(t, "5")

			st, err := f.rt.Close()
			if err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if st.Phase != tt.want || st.Open {
				t.Errorf("state = %s open=%v, want %s closed", st.Phase, st.Open, tt.want)
			}
		})
	}
}

func TestSubmit_NoReentrantSubmission(t *testing.T) {
	gw := gateway.NewScripted().Reply(domain.Verdict{IsCorrect: true, AttemptNumber: 1})
	release := gw.Hold()
	f := newFixture(t, ModeInline, mathSegment(), gw)
	f.rt.Expand()
	f.rt.SetAnswer("4")

	submitting := make(chan struct{})
	f.rt.OnChange(func(st State) {
		if st.Phase == PhaseSubmitting {
			close(submitting)
		}
	})

	done := make(chan State)
	go func() {
		st, _ := f.rt.Submit(context.Background())
		done <- st
	}()
	<-submitting

	if _, err := f.rt.Submit(context.Background()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second Submit() error = %v", err)
	}
	if _, err := f.rt.SetAnswer("5"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("SetAnswer() while submitting error = %v", err)
	}
	if _, err := f.rt.Close(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Close() while submitting error = %v", err)
	}

	release()
	if st := <-done; st.Phase != PhaseCorrect {
		t.Errorf("phase = %s, want correct", st.Phase)
	}
	if n := len(gw.Calls()); n != 1 {
		t.Errorf("gateway calls = %d, want 1", n)
	}
}

func TestDispose_DiscardsStaleResponse(t *testing.T) {
	gw := gateway.NewScripted().Reply(domain.Verdict{IsCorrect: true, XPAwarded: 10, AttemptNumber: 1})
	release := gw.Hold()
	f := newFixture(t, ModeInline, mathSegment(), gw)
	f.rt.Expand()
	f.rt.SetAnswer("4")

	submitting := make(chan struct{})
	f.rt.OnChange(func(st State) {
		if st.Phase == PhaseSubmitting {
			close(submitting)
		}
	})

	type result struct {
		st  State
		err error
	}
	done := make(chan result)
	go func() {
		st, err := f.rt.Submit(context.Background())
		done <- result{st, err}
	}()
	<-submitting

	f.rt.Dispose()
	release()

	res := <-done
	if !errors.Is(res.err, domain.ErrStaleResponse) {
		t.Errorf("error = %v, want ErrStaleResponse", res.err)
	}
	if res.st.Phase != PhaseSubmitting {
		t.Errorf("phase = %s, stale response must not mutate state", res.st.Phase)
	}
	if len(f.completed) != 0 || f.set.Has("ex-1") {
		t.Error("stale response recorded a completion")
	}
	if f.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want no timers", f.clock.Pending())
	}
}

func TestDispose_CancelsCountdown(t *testing.T) {
	gw := gateway.NewScripted().Reply(domain.Verdict{IsCorrect: true, XPAwarded: 10, AttemptNumber: 1})
	f := newFixture(t, ModeInline, mathSegment(), gw)
	f.rt.Expand()
	f.answer(t, "4")

	f.rt.Dispose()
	f.clock.Advance(time.Minute)

	if got := f.rt.State().Phase; got != PhaseCorrect {
		t.Errorf("phase = %s, disposed instance must not auto-close", got)
	}
}

func TestSetAnswer_SelectionOptions(t *testing.T) {
	seg := domain.Segment{
		Kind:         domain.SegmentExercise,
		MarkerID:     "ex-2",
		ExerciseType: domain.ExerciseMultipleChoice,
		Record: &domain.ExerciseRecord{
			ID:         "rec-2",
			AnswerType: domain.AnswerSelection,
			Options:    []string{"red", "green", "blue"},
		},
	}
	f := newFixture(t, ModeInline, seg, gateway.NewScripted())
	f.rt.Expand()

	if _, err := f.rt.SetAnswer("green"); err != nil {
		t.Fatalf("SetAnswer(green) error = %v", err)
	}
	st, err := f.rt.SetAnswer("purple")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("SetAnswer(purple) error = %v", err)
	}
	if st.Answer != "green" {
		t.Errorf("Answer = %q, want green", st.Answer)
	}
	st, _ = f.rt.SetAnswer("blue")
	if st.Answer != "blue" {
		t.Errorf("Answer = %q, want blue", st.Answer)
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("MODAL") != ModeModal || ParseMode("") != ModeInline || ParseMode("x") != ModeInline {
		t.Error("ParseMode mapping wrong")
	}
}
