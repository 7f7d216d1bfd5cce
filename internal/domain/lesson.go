package domain

import "time"

// Lesson is a unit of sanitized lesson markup with embedded exercise markers
type Lesson struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Markup    string    `json:"markup"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LessonSummary is the listing form of a lesson
type LessonSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	ExerciseCount int    `json:"exercise_count"`
}
