package sqlite

import "github.com/felixgeelhaar/checkpoint/internal/lesson"

// Ensure SQLite stores implement the lesson interfaces.
var (
	_ lesson.Source        = (*LessonStore)(nil)
	_ lesson.ProgressStore = (*ProgressStore)(nil)
)
