package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// CompletionHandler processes one completion message
type CompletionHandler func(ctx context.Context, msg *CompletionMessage) error

// Consumer consumes completion messages from the queue
type Consumer struct {
	conn       *Connection
	handler    CompletionHandler
	workers    int
	prefetch   int
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers  int
	Prefetch int
	Logger   *slog.Logger
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:  2,
		Prefetch: 10,
	}
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, handler CompletionHandler, cfg ConsumerConfig) *Consumer {
	defaults := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaults.Prefetch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		handler:  handler,
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		logger:   cfg.Logger,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		CompletionQueueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("starting completion consumer", "workers", c.workers, "prefetch", c.prefetch)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("message channel closed", "worker_id", id)
				return
			}
			c.processMessage(ctx, id, msg)
		}
	}
}

// acknowledger is the subset of amqp.Delivery used to settle a message
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	c.settle(ctx, workerID, msg.Body, msg.Redelivered, msg)
}

// settle runs the handler on body and acknowledges accordingly.
// Malformed bodies are dropped; handler failures are requeued once.
func (c *Consumer) settle(ctx context.Context, workerID int, body []byte, redelivered bool, ack acknowledger) {
	var m CompletionMessage
	if err := json.Unmarshal(body, &m); err != nil {
		c.logger.Error("failed to unmarshal completion", "worker_id", workerID, "error", err)
		_ = ack.Reject(false)
		return
	}

	if err := c.handler(ctx, &m); err != nil {
		c.logger.Error("completion handler failed",
			"worker_id", workerID,
			"event_id", m.EventID,
			"redelivered", redelivered,
			"error", err,
		)
		_ = ack.Nack(false, !redelivered)
		return
	}

	if err := ack.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "worker_id", workerID, "event_id", m.EventID, "error", err)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
}

// LessonTally is the XP earned across completions of one lesson
type LessonTally struct {
	LessonID    string `json:"lesson_id"`
	Completions int    `json:"completions"`
	XPEarned    int    `json:"xp_earned"`
}

// Tally aggregates consumed completions per lesson. Redelivered events are counted once.
type Tally struct {
	mu       sync.RWMutex
	seen     map[string]struct{}
	byLesson map[string]*LessonTally
}

// NewTally creates an empty tally
func NewTally() *Tally {
	return &Tally{
		seen:     make(map[string]struct{}),
		byLesson: make(map[string]*LessonTally),
	}
}

// Handle is a CompletionHandler that records msg in the tally
func (t *Tally) Handle(_ context.Context, msg *CompletionMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := msg.EventID.String()
	if _, dup := t.seen[key]; dup {
		return nil
	}
	t.seen[key] = struct{}{}

	lt, ok := t.byLesson[msg.LessonID]
	if !ok {
		lt = &LessonTally{LessonID: msg.LessonID}
		t.byLesson[msg.LessonID] = lt
	}
	lt.Completions++
	lt.XPEarned += msg.XPAwarded
	return nil
}

// Lessons returns per-lesson totals ordered by lesson id
func (t *Tally) Lessons() []LessonTally {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]LessonTally, 0, len(t.byLesson))
	for _, lt := range t.byLesson {
		out = append(out, *lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out
}
