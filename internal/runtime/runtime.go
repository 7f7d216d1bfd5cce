// Package runtime drives one exercise instance from first render to completion.
// Inline and modal presentations share the same transitions; the mode only
// changes the starting phase and what closing looks like.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/checkpoint/internal/clock"
	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/feedback"
	"github.com/felixgeelhaar/checkpoint/internal/gateway"
	"github.com/felixgeelhaar/checkpoint/internal/input"
)

// Mode is the presentation an instance is rendered in
type Mode string

const (
	ModeInline Mode = "inline"
	ModeModal  Mode = "modal"
)

// ParseMode maps a string to a Mode, defaulting to inline
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == ModeModal {
		return ModeModal
	}
	return ModeInline
}

// Phase is the lifecycle position of an instance
type Phase string

const (
	PhaseCollapsed  Phase = "collapsed"
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseCorrect    Phase = "correct"
	PhaseIncorrect  Phase = "incorrect"
	PhaseError      Phase = "error"
	PhaseCompleted  Phase = "completed"
)

// CompletionSet is the lesson-scoped record of finished markers, shared by
// every instance of a view
type CompletionSet interface {
	Has(markerID string) bool
	Mark(markerID string) bool
}

// CompletionFunc receives a marker's verified-correct verdict
type CompletionFunc func(markerID string, verdict domain.Verdict)

// State is a point-in-time copy of an instance
type State struct {
	InstanceID         string           `json:"instanceId"`
	MarkerID           string           `json:"markerId"`
	Mode               Mode             `json:"mode"`
	Phase              Phase            `json:"phase"`
	Open               bool             `json:"open"`
	Answer             string           `json:"answer"`
	AttemptNumber      int              `json:"attemptNumber"`
	HintLevel          domain.HintLevel `json:"hintLevel"`
	AutoCloseRemaining int              `json:"autoCloseRemainingSeconds"`
	XPAwarded          int              `json:"xpAwarded"`
	Feedback           string           `json:"feedback,omitempty"`
	CorrectAnswer      *string          `json:"correctAnswer,omitempty"`
	Explanation        *string          `json:"explanation,omitempty"`
	Degraded           bool             `json:"degraded"`
}

// Exhausted reports whether the service disclosed the answer
func (s State) Exhausted() bool {
	return s.CorrectAnswer != nil
}

// Snapshot is the full render model of an instance
type Snapshot struct {
	State    State         `json:"state"`
	Question string        `json:"question"`
	Input    input.Spec    `json:"input"`
	Feedback feedback.View `json:"feedback"`
}

// Options configures an instance
type Options struct {
	Mode Mode

	// AutoCloseSeconds is the correct-answer auto-dismiss delay; 0 disables it
	AutoCloseSeconds int

	// CelebrationDuration is how long the celebratory effect stays up
	CelebrationDuration time.Duration

	Clock      clock.Clock
	Logger     *slog.Logger
	Messages   *feedback.Messages
	OnComplete CompletionFunc
}

// DefaultOptions returns inline options with the standard delays
func DefaultOptions() Options {
	return Options{
		Mode:                ModeInline,
		AutoCloseSeconds:    feedback.DefaultAutoDismissSeconds,
		CelebrationDuration: feedback.DefaultCelebrationDuration,
	}
}

// Runtime is the state machine of one mounted marker instance
type Runtime struct {
	instanceID  string
	lessonID    string
	segment     domain.Segment
	spec        input.Spec
	gateway     gateway.Gateway
	completions CompletionSet
	opts        Options
	logger      *slog.Logger

	countdown *feedback.Countdown
	effect    *feedback.Effect

	mu          sync.Mutex
	state       State
	verdict     *domain.Verdict
	celebration string
	generation  uint64
	disposed    bool
	listeners   []func(State)
}

// New creates the runtime for one exercise segment
func New(instanceID, lessonID string, seg domain.Segment, gw gateway.Gateway, completions CompletionSet, opts Options) *Runtime {
	if opts.Mode == "" {
		opts.Mode = ModeInline
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Messages == nil {
		opts.Messages = feedback.NewMessages()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		instanceID:  instanceID,
		lessonID:    lessonID,
		segment:     seg,
		spec:        input.ForSegment(seg),
		gateway:     gw,
		completions: completions,
		opts:        opts,
		logger: logger.With(
			"instance", instanceID,
			"marker", seg.MarkerID,
			"mode", string(opts.Mode),
		),
	}

	r.state = State{
		InstanceID: instanceID,
		MarkerID:   seg.MarkerID,
		Mode:       opts.Mode,
		Phase:      r.restingPhase(),
		Degraded:   seg.Degraded(),
	}

	r.countdown = feedback.NewCountdown(opts.Clock, r.onTick, r.onCountdownExpired)
	r.effect = feedback.NewEffect(opts.Clock, opts.CelebrationDuration, r.onCelebrationEnded)

	return r
}

// ID returns the instance id
func (r *Runtime) ID() string {
	return r.instanceID
}

// MarkerID returns the marker this instance renders
func (r *Runtime) MarkerID() string {
	return r.segment.MarkerID
}

// OnChange registers a listener called with the new state after every change.
// Listeners run without the runtime lock held.
func (r *Runtime) OnChange(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// State returns a copy of the current state
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot renders the instance
func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	st := r.state
	verdict := r.verdict
	message := r.celebration
	r.mu.Unlock()

	celebrating, _ := r.effect.Active()

	question := r.segment.QuestionText
	if r.segment.Record != nil && r.segment.Record.Question != "" {
		question = r.segment.Record.Question
	}

	return Snapshot{
		State:    st,
		Question: question,
		Input:    r.spec,
		Feedback: feedback.Render(feedback.Input{
			Outcome:     outcomeFor(st.Phase),
			Verdict:     verdict,
			Record:      r.segment.Record,
			HintLevel:   st.HintLevel,
			Countdown:   st.AutoCloseRemaining,
			Celebrating: celebrating,
			Celebration: message,
		}),
	}
}

// Expand opens the instance. Opening an already open or completed instance
// changes nothing. A marker that the lesson already finished opens as completed
// and an exhausted instance reopens to its disclosure.
func (r *Runtime) Expand() State {
	r.mu.Lock()
	if r.disposed || r.state.Open || r.state.Phase == PhaseCompleted {
		st := r.state
		r.mu.Unlock()
		return st
	}

	switch {
	case r.completions != nil && r.completions.Has(r.segment.MarkerID):
		r.state.Phase = PhaseCompleted
	case r.state.Exhausted():
		r.state.Phase = PhaseIncorrect
		r.state.Open = true
	default:
		r.state.Phase = PhaseIdle
		r.state.Open = true
	}

	return r.commit()
}

// SetAnswer replaces the answer value. It is only accepted while idle, and
// selection inputs only accept one of their options.
func (r *Runtime) SetAnswer(value string) (State, error) {
	r.mu.Lock()
	if r.disposed || r.state.Phase != PhaseIdle || !r.state.Open {
		st := r.state
		r.mu.Unlock()
		return st, fmt.Errorf("%w: set answer in %s", domain.ErrInvalidTransition, st.Phase)
	}
	if value != "" && !r.spec.Accepts(value) {
		st := r.state
		r.mu.Unlock()
		return st, fmt.Errorf("%w: %q is not an option", domain.ErrInvalidInput, value)
	}

	r.state.Answer = r.spec.Choose(r.state.Answer, value)
	if value == "" {
		r.state.Answer = ""
	}
	return r.commit(), nil
}

// Submit grades the current answer. Blank answers are rejected before any
// gateway call. Gateway failures are absorbed into the error phase; the
// returned error only reports validation, phase or staleness.
func (r *Runtime) Submit(ctx context.Context) (State, error) {
	r.mu.Lock()
	if r.disposed || r.state.Phase != PhaseIdle || !r.state.Open {
		st := r.state
		r.mu.Unlock()
		return st, fmt.Errorf("%w: submit in %s", domain.ErrInvalidTransition, st.Phase)
	}
	answer := strings.TrimSpace(r.state.Answer)
	if answer == "" {
		st := r.state
		r.mu.Unlock()
		return st, domain.ErrBlankAnswer
	}

	r.generation++
	gen := r.generation
	r.state.Phase = PhaseSubmitting
	sub := gateway.ForSegment(r.segment, r.lessonID, answer)
	sub.IdempotencyKey = uuid.NewString()
	r.commit()

	r.logger.Debug("submitting answer", "exercise_id", sub.ExerciseID)
	verdict, err := r.gateway.Submit(ctx, sub)

	r.mu.Lock()
	if r.disposed || gen != r.generation {
		st := r.state
		r.mu.Unlock()
		r.logger.Debug("discarding stale grading response", "generation", gen)
		return st, domain.ErrStaleResponse
	}

	if err != nil || verdict == nil {
		r.logger.Warn("answer submission failed", "error", err)
		r.state.Phase = PhaseError
		return r.commit(), nil
	}

	r.verdict = verdict
	r.state.AttemptNumber = verdict.AttemptNumber
	r.state.Feedback = verdict.Feedback

	if verdict.IsCorrect {
		r.applyCorrect(verdict)
		st := r.state
		fire := r.opts.OnComplete
		r.mu.Unlock()

		r.logger.Info("exercise completed",
			"xp_awarded", verdict.XPAwarded,
			"attempt", verdict.AttemptNumber)
		if fire != nil {
			fire(r.segment.MarkerID, *verdict)
		}
		r.notify(st)
		return st, nil
	}

	r.state.Phase = PhaseIncorrect
	if hint := verdict.ShowHint.Clamp(); hint > r.state.HintLevel {
		r.state.HintLevel = hint
	}
	r.state.CorrectAnswer = verdict.CorrectAnswer
	r.state.Explanation = verdict.Explanation
	return r.commit(), nil
}

// applyCorrect must be called with the lock held
func (r *Runtime) applyCorrect(v *domain.Verdict) {
	r.state.Phase = PhaseCorrect
	r.state.XPAwarded = v.XPAwarded
	r.state.CorrectAnswer = nil
	r.state.Explanation = nil

	if r.completions != nil {
		r.completions.Mark(r.segment.MarkerID)
	}

	if v.Celebrates() {
		r.celebration = r.opts.Messages.For(v, r.state.HintLevel)
		r.effect.Trigger(r.celebration)
	}

	if r.opts.AutoCloseSeconds > 0 {
		r.state.AutoCloseRemaining = r.opts.AutoCloseSeconds
		r.countdown.Start(r.opts.AutoCloseSeconds)
	}
}

// Retry returns to idle. From an incorrect verdict the answer is cleared; from
// a failed submission it is kept. Exhausted and completed instances cannot retry.
func (r *Runtime) Retry() (State, error) {
	r.mu.Lock()
	switch {
	case r.disposed:
	case r.state.Phase == PhaseIncorrect && !r.state.Exhausted():
		r.state.Answer = ""
		r.state.Feedback = ""
		r.verdict = nil
		r.state.Phase = PhaseIdle
		return r.commit(), nil
	case r.state.Phase == PhaseError:
		r.state.Phase = PhaseIdle
		return r.commit(), nil
	}
	st := r.state
	r.mu.Unlock()
	return st, fmt.Errorf("%w: retry in %s", domain.ErrInvalidTransition, st.Phase)
}

// Close dismisses the instance from any phase but submitting. A correct
// instance becomes completed for the rest of the session.
func (r *Runtime) Close() (State, error) {
	r.mu.Lock()
	if r.disposed || r.state.Phase == PhaseSubmitting {
		st := r.state
		r.mu.Unlock()
		return st, fmt.Errorf("%w: close in %s", domain.ErrInvalidTransition, st.Phase)
	}

	r.countdown.Stop()
	r.state.AutoCloseRemaining = 0

	switch r.state.Phase {
	case PhaseCorrect, PhaseCompleted:
		r.state.Phase = PhaseCompleted
	case PhaseIncorrect:
		if !r.state.Exhausted() {
			r.verdict = nil
			r.state.Feedback = ""
		}
		r.state.Phase = r.restingPhase()
	default:
		r.state.Phase = r.restingPhase()
	}
	r.state.Open = false

	return r.commit(), nil
}

// Dispose tears the instance down. Timers are cancelled and any in-flight
// response is discarded on arrival.
func (r *Runtime) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	r.generation++
	r.listeners = nil
	r.mu.Unlock()

	r.countdown.Stop()
	r.effect.Cancel()
}

// restingPhase is the phase of a closed, unfinished instance
func (r *Runtime) restingPhase() Phase {
	if r.opts.Mode == ModeModal {
		return PhaseIdle
	}
	return PhaseCollapsed
}

func (r *Runtime) onTick(remaining int) {
	r.mu.Lock()
	if r.disposed || r.state.Phase != PhaseCorrect {
		r.mu.Unlock()
		return
	}
	r.state.AutoCloseRemaining = remaining
	r.commit()
}

func (r *Runtime) onCountdownExpired() {
	r.mu.Lock()
	live := !r.disposed && r.state.Phase == PhaseCorrect
	r.mu.Unlock()

	if live {
		r.Close()
	}
}

func (r *Runtime) onCelebrationEnded() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.commit()
}

// commit copies the state, releases the lock and notifies listeners.
// It must be called with the lock held.
func (r *Runtime) commit() State {
	st := r.state
	r.mu.Unlock()
	r.notify(st)
	return st
}

func (r *Runtime) notify(st State) {
	r.mu.Lock()
	listeners := make([]func(State), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

func outcomeFor(p Phase) feedback.Outcome {
	switch p {
	case PhaseCorrect:
		return feedback.OutcomeCorrect
	case PhaseIncorrect:
		return feedback.OutcomeIncorrect
	case PhaseError:
		return feedback.OutcomeError
	default:
		return feedback.OutcomeNone
	}
}
