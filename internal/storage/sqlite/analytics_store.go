package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// AnalyticsEvent represents a recorded lesson view event.
type AnalyticsEvent struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	ViewID    string    `json:"view_id,omitempty"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalyticsStore keeps a log of domain events backed by SQLite.
type AnalyticsStore struct {
	db *DB
}

// NewAnalyticsStore creates a new SQLite-backed analytics store.
func NewAnalyticsStore(db *DB) *AnalyticsStore {
	return &AnalyticsStore{db: db}
}

// Record stores a domain event.
func (s *AnalyticsStore) Record(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO analytics_events (event_type, view_id, data, created_at) VALUES (?, ?, ?, ?)",
		event.EventType(), event.AggregateID().String(), string(payload), event.OccurredAt().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// Handler adapts the store to an event dispatcher subscription.
func (s *AnalyticsStore) Handler(onError func(error)) domain.EventHandler {
	return func(event domain.Event) {
		if err := s.Record(context.Background(), event); err != nil && onError != nil {
			onError(err)
		}
	}
}

// Query returns events of a type, optionally filtered by view and time range, newest first.
func (s *AnalyticsStore) Query(ctx context.Context, eventType, viewID string, since time.Time) ([]AnalyticsEvent, error) {
	query := "SELECT id, event_type, view_id, data, created_at FROM analytics_events WHERE event_type = ?"
	args := []any{eventType}

	if viewID != "" {
		query += " AND view_id = ?"
		args = append(args, viewID)
	}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analytics: %w", err)
	}
	defer rows.Close()

	var events []AnalyticsEvent
	for rows.Next() {
		var (
			e      AnalyticsEvent
			viewID *string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &viewID, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analytics event: %w", err)
		}
		if viewID != nil {
			e.ViewID = *viewID
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of events of a type.
func (s *AnalyticsStore) Count(ctx context.Context, eventType string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM analytics_events WHERE event_type = ?", eventType,
	).Scan(&count)
	return count, err
}

// Prune deletes events older than the given duration.
func (s *AnalyticsStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, "DELETE FROM analytics_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune analytics: %w", err)
	}
	return result.RowsAffected()
}
