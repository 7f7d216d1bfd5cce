package feedback

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/felixgeelhaar/checkpoint/internal/clock"
	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// DefaultCelebrationDuration is how long the celebratory effect stays up
const DefaultCelebrationDuration = 3 * time.Second

// Effect is a one-shot, fixed-duration celebratory effect. Its lifetime is
// independent of the auto-dismiss countdown.
type Effect struct {
	clock    clock.Clock
	duration time.Duration
	onEnd    func()

	mu      sync.Mutex
	active  bool
	fired   bool
	message string
	timer   clock.Timer
}

// NewEffect creates an idle effect
func NewEffect(c clock.Clock, duration time.Duration, onEnd func()) *Effect {
	if duration <= 0 {
		duration = DefaultCelebrationDuration
	}
	return &Effect{clock: c, duration: duration, onEnd: onEnd}
}

// Trigger starts the effect once; later calls are ignored
func (e *Effect) Trigger(message string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fired {
		return false
	}
	e.fired = true
	e.active = true
	e.message = message
	e.timer = e.clock.AfterFunc(e.duration, e.expire)
	return true
}

// Active reports whether the effect is showing, and its message
func (e *Effect) Active() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active, e.message
}

// Cancel stops the effect early
func (e *Effect) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.active = false
}

func (e *Effect) expire() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.timer = nil
	e.mu.Unlock()

	if e.onEnd != nil {
		e.onEnd()
	}
}

// MomentType classifies a correct answer for message selection
type MomentType string

const (
	MomentFirstTry  MomentType = "first_try"
	MomentNoHints   MomentType = "no_hints"
	MomentWithHints MomentType = "with_hints"
)

// Messages generates celebratory lines for correct answers
type Messages struct {
	templates map[MomentType][]string
	pick      func(n int) int
}

// NewMessages creates a generator with the default templates
func NewMessages() *Messages {
	return &Messages{
		templates: defaultTemplates(),
		pick:      rand.Intn,
	}
}

// Classify picks the moment for a verdict and the hint level reached before it
func Classify(v *domain.Verdict, hintLevel domain.HintLevel) MomentType {
	switch {
	case v.AttemptNumber <= 1:
		return MomentFirstTry
	case hintLevel == domain.HintNone:
		return MomentNoHints
	default:
		return MomentWithHints
	}
}

// For returns a celebratory message for a verdict
func (m *Messages) For(v *domain.Verdict, hintLevel domain.HintLevel) string {
	if v == nil {
		return ""
	}
	moment := Classify(v, hintLevel)
	templates := m.templates[moment]
	if len(templates) == 0 {
		return ""
	}
	template := templates[m.pick(len(templates))]

	switch moment {
	case MomentFirstTry:
		return fmt.Sprintf(template, v.XPAwarded)
	case MomentNoHints:
		return fmt.Sprintf(template, v.AttemptNumber, v.XPAwarded)
	default:
		return fmt.Sprintf(template, v.XPAwarded)
	}
}

func defaultTemplates() map[MomentType][]string {
	return map[MomentType][]string{
		MomentFirstTry: {
			"First try! +%d XP",
			"Nailed it on the first attempt. +%d XP",
		},
		MomentNoHints: {
			"Got it on attempt %d without a hint. +%d XP",
		},
		MomentWithHints: {
			"You worked it out. +%d XP",
			"Persistence pays off. +%d XP",
		},
	}
}
