package domain

import "strings"

// ExerciseType is the kind of exercise a lesson marker declares via data-type
type ExerciseType string

const (
	ExerciseFillInBlank    ExerciseType = "FILL_IN_BLANK"
	ExerciseMathProblem    ExerciseType = "MATH_PROBLEM"
	ExerciseShortAnswer    ExerciseType = "SHORT_ANSWER"
	ExerciseMultipleChoice ExerciseType = "MULTIPLE_CHOICE"
	ExerciseTrueFalse      ExerciseType = "TRUE_FALSE"
)

// ParseExerciseType maps a data-type attribute value to an ExerciseType.
// Unknown or empty values fall back to SHORT_ANSWER.
func ParseExerciseType(s string) ExerciseType {
	switch t := ExerciseType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ExerciseFillInBlank, ExerciseMathProblem, ExerciseShortAnswer,
		ExerciseMultipleChoice, ExerciseTrueFalse:
		return t
	default:
		return ExerciseShortAnswer
	}
}

// AnswerType is the answer modality an exercise record expects
type AnswerType string

const (
	AnswerText      AnswerType = "TEXT"
	AnswerNumber    AnswerType = "NUMBER"
	AnswerSelection AnswerType = "SELECTION"
)

// ParseAnswerType maps a stored value to an AnswerType, defaulting to TEXT
func ParseAnswerType(s string) AnswerType {
	switch t := AnswerType(strings.ToUpper(strings.TrimSpace(s))); t {
	case AnswerNumber, AnswerSelection:
		return t
	default:
		return AnswerText
	}
}

// Difficulty represents exercise difficulty level
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// ExerciseRecord is the exercise metadata fetched independently of the lesson markup.
// OriginalPosition equals the markerId of the marker it belongs to; it is a join key,
// not a structural position.
type ExerciseRecord struct {
	ID               string     `json:"id"`
	LessonID         string     `json:"lessonId"`
	Question         string     `json:"question"`
	AnswerType       AnswerType `json:"answerType"`
	Options          []string   `json:"options,omitempty"`
	Hint1            string     `json:"hint1,omitempty"`
	Hint2            string     `json:"hint2,omitempty"`
	Difficulty       Difficulty `json:"difficulty,omitempty"`
	XPReward         int        `json:"xpReward"`
	OriginalPosition string     `json:"originalPosition"`
}

// HintFor returns the single hint revealed at the given level.
// Level 1 yields Hint1 only, level 2 yields Hint2 only; anything else yields "".
func (r *ExerciseRecord) HintFor(level HintLevel) string {
	if r == nil {
		return ""
	}
	switch level {
	case HintFirst:
		return r.Hint1
	case HintSecond:
		return r.Hint2
	default:
		return ""
	}
}

// RecordIndex builds the marker-to-record join map once per render pass.
// When two records share an OriginalPosition the first one wins.
func RecordIndex(records []ExerciseRecord) map[string]ExerciseRecord {
	index := make(map[string]ExerciseRecord, len(records))
	for _, r := range records {
		if r.OriginalPosition == "" {
			continue
		}
		if _, exists := index[r.OriginalPosition]; exists {
			continue
		}
		index[r.OriginalPosition] = r
	}
	return index
}

// HintLevel is the server-assigned hint to reveal after an incorrect attempt
type HintLevel int

const (
	HintNone   HintLevel = 0
	HintFirst  HintLevel = 1
	HintSecond HintLevel = 2
)

// Clamp bounds a hint level to the 0..2 range
func (h HintLevel) Clamp() HintLevel {
	if h < HintNone {
		return HintNone
	}
	if h > HintSecond {
		return HintSecond
	}
	return h
}
