package domain

// Verdict is the grading service's judgement on a submitted answer.
// CorrectAnswer is only present once attempts are exhausted.
type Verdict struct {
	IsCorrect     bool      `json:"isCorrect"`
	Feedback      string    `json:"feedback"`
	XPAwarded     int       `json:"xpAwarded"`
	ShowHint      HintLevel `json:"showHint"`
	AttemptNumber int       `json:"attemptNumber"`
	CorrectAnswer *string   `json:"correctAnswer,omitempty"`
	Explanation   *string   `json:"explanation,omitempty"`
}

// Exhausted reports whether the service disclosed the answer, meaning no retry is offered
func (v *Verdict) Exhausted() bool {
	return v != nil && v.CorrectAnswer != nil
}

// Celebrates reports whether a verdict earns the celebratory effect and auto-dismiss
func (v *Verdict) Celebrates() bool {
	return v != nil && v.IsCorrect && v.XPAwarded > 0
}

// StringPtr is a small helper for optional verdict fields
func StringPtr(s string) *string {
	return &s
}
