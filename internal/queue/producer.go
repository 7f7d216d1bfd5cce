package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// Publisher is the subset of Connection the producer needs
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, messageID string, data any) error
}

// Producer publishes completion events to the queue
type Producer struct {
	pub    Publisher
	logger *slog.Logger
}

// NewProducer creates a new queue producer
func NewProducer(pub Publisher, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{pub: pub, logger: logger}
}

// PublishCompletion publishes an exercise completion
func (p *Producer) PublishCompletion(ctx context.Context, event domain.ExerciseCompletedEvent) error {
	msg := NewCompletionMessage(event)

	if err := p.pub.PublishJSON(ctx, CompletionQueueName, msg.EventID.String(), msg); err != nil {
		return fmt.Errorf("failed to publish completion: %w", err)
	}

	p.logger.Info("published completion",
		"event_id", msg.EventID,
		"lesson", msg.LessonID,
		"marker", msg.MarkerID,
		"xp", msg.XPAwarded,
	)
	return nil
}
