// Package feedback renders grading verdicts and drives the timed effects
// shown after an answer is checked.
package feedback

import (
	"fmt"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// Outcome is what the feedback area is currently reporting
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomeError     Outcome = "error"
)

// ActionID identifies a feedback control
type ActionID string

const (
	ActionTryAgain ActionID = "try_again"
	ActionRetry    ActionID = "retry"
	ActionDismiss  ActionID = "dismiss"
)

// Dismiss labels, picked by context
const (
	LabelContinue = "Continue"
	LabelGotIt    = "Got it"
	LabelClose    = "Close"
	LabelTryAgain = "Try Again"
	LabelRetry    = "Retry"
)

// GenericErrorMessage is shown for any transport or service failure
const GenericErrorMessage = "We couldn't check your answer right now. Your answer is still here, so you can try again."

// Input is everything the presenter needs to render
type Input struct {
	Outcome     Outcome
	Verdict     *domain.Verdict
	Record      *domain.ExerciseRecord // nil for degraded exercises
	HintLevel   domain.HintLevel
	Countdown   int // seconds until auto-dismiss, 0 when not counting
	Celebrating bool
	Celebration string
}

// View is the rendered feedback area
type View struct {
	Visible       bool            `json:"visible"`
	Banner        *Banner         `json:"banner,omitempty"`
	Hint          *HintPanel      `json:"hint,omitempty"`
	Exhausted     *ExhaustedPanel `json:"exhausted,omitempty"`
	Actions       []Action        `json:"actions"`
	AutoDismissIn int             `json:"auto_dismiss_in,omitempty"`
	Celebration   *Celebration    `json:"celebration,omitempty"`
}

// Banner frames the result
type Banner struct {
	Tone          string `json:"tone"` // success, warning, danger
	Title         string `json:"title"`
	Message       string `json:"message,omitempty"`
	XPAwarded     int    `json:"xp_awarded,omitempty"`
	AttemptNumber int    `json:"attempt_number,omitempty"`
}

// HintPanel shows exactly one hint
type HintPanel struct {
	Level domain.HintLevel `json:"level"`
	Text  string           `json:"text"`
}

// ExhaustedPanel discloses the answer once attempts run out
type ExhaustedPanel struct {
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
}

// Action is an available control
type Action struct {
	ID      ActionID `json:"id"`
	Label   string   `json:"label"`
	Primary bool     `json:"primary"`
}

// Celebration is the one-shot effect overlay
type Celebration struct {
	Message string `json:"message"`
}

// Has reports whether the view offers the given action
func (v View) Has(id ActionID) bool {
	for _, a := range v.Actions {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Render builds the feedback view. It is pure.
func Render(in Input) View {
	switch in.Outcome {
	case OutcomeCorrect:
		return renderCorrect(in)
	case OutcomeIncorrect:
		return renderIncorrect(in)
	case OutcomeError:
		return View{
			Visible: true,
			Banner: &Banner{
				Tone:    "danger",
				Title:   "Something went wrong",
				Message: GenericErrorMessage,
			},
			Actions: []Action{
				{ID: ActionRetry, Label: LabelRetry, Primary: true},
				{ID: ActionDismiss, Label: LabelClose},
			},
		}
	default:
		return View{Actions: []Action{}}
	}
}

func renderCorrect(in Input) View {
	v := View{
		Visible: true,
		Banner: &Banner{
			Tone:  "success",
			Title: "Correct!",
		},
		Actions:       []Action{{ID: ActionDismiss, Label: LabelContinue, Primary: true}},
		AutoDismissIn: in.Countdown,
	}

	if in.Verdict != nil {
		v.Banner.Message = in.Verdict.Feedback
		v.Banner.XPAwarded = in.Verdict.XPAwarded
		v.Banner.AttemptNumber = in.Verdict.AttemptNumber
		if v.Banner.Message == "" && in.Verdict.XPAwarded > 0 {
			v.Banner.Message = fmt.Sprintf("+%d XP", in.Verdict.XPAwarded)
		}
	}

	if in.Celebrating {
		v.Celebration = &Celebration{Message: in.Celebration}
	}

	return v
}

func renderIncorrect(in Input) View {
	v := View{
		Visible: true,
		Banner: &Banner{
			Tone:  "warning",
			Title: "Not quite",
		},
	}

	exhausted := false
	if in.Verdict != nil {
		v.Banner.Message = in.Verdict.Feedback
		v.Banner.AttemptNumber = in.Verdict.AttemptNumber

		if in.Verdict.Exhausted() {
			exhausted = true
			panel := &ExhaustedPanel{CorrectAnswer: *in.Verdict.CorrectAnswer}
			if in.Verdict.Explanation != nil {
				panel.Explanation = *in.Verdict.Explanation
			}
			v.Exhausted = panel
		}
	}

	v.Hint = hintPanel(in.Record, in.HintLevel)

	if exhausted {
		v.Actions = []Action{{ID: ActionDismiss, Label: LabelGotIt, Primary: true}}
	} else {
		v.Actions = []Action{
			{ID: ActionTryAgain, Label: LabelTryAgain, Primary: true},
			{ID: ActionDismiss, Label: LabelClose},
		}
	}

	return v
}

// hintPanel gates hints strictly: level 1 shows hint1 only, level 2 hint2 only.
func hintPanel(record *domain.ExerciseRecord, level domain.HintLevel) *HintPanel {
	text := record.HintFor(level)
	if text == "" {
		return nil
	}
	return &HintPanel{Level: level, Text: text}
}
