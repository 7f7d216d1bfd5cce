// Package gateway submits answers to the remote grading service.
package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// ErrNotDelivered marks failures where the grading service never accepted the
// request, so sending it again cannot consume a second attempt.
var ErrNotDelivered = errors.New("request not delivered")

// Gateway grades an answer. Implementations wrap every failure in domain.ErrGateway.
type Gateway interface {
	Submit(ctx context.Context, sub Submission) (*domain.Verdict, error)
}

// Submission is a single answer sent for grading
type Submission struct {
	// ExerciseID is a record id when one was resolved, otherwise the marker id
	ExerciseID string `json:"-"`
	Answer     string `json:"answer"`
	// LessonID accompanies marker-style ids so the service can resolve them
	LessonID string `json:"lessonId,omitempty"`
	// IdempotencyKey is shared by every delivery of one user submission
	IdempotencyKey string `json:"-"`
}

// ForSegment builds the submission for an exercise segment. Resolved records are
// addressed by id alone; degraded markers carry the lesson id.
func ForSegment(seg domain.Segment, lessonID, answer string) Submission {
	if seg.Record != nil && seg.Record.ID != "" {
		return Submission{ExerciseID: seg.Record.ID, Answer: strings.TrimSpace(answer)}
	}
	return Submission{
		ExerciseID: seg.MarkerID,
		Answer:     strings.TrimSpace(answer),
		LessonID:   lessonID,
	}
}
