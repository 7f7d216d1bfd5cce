package domain

import "time"

// Completion is a stored completed marker
type Completion struct {
	LessonID      string    `json:"lesson_id"`
	MarkerID      string    `json:"marker_id"`
	ExerciseID    string    `json:"exercise_id,omitempty"`
	XPAwarded     int       `json:"xp_awarded"`
	AttemptNumber int       `json:"attempt_number"`
	CompletedAt   time.Time `json:"completed_at"`
}

// ProgressSummary totals completions across lessons
type ProgressSummary struct {
	Lessons     int `json:"lessons"`
	Completions int `json:"completions"`
	XPEarned    int `json:"xp_earned"`
}
