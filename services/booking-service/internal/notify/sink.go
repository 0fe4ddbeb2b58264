package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/studiovoce/booking/libs/db"
	"github.com/studiovoce/booking/services/booking-service/internal/booking"
	"github.com/studiovoce/booking/services/booking-service/internal/outbox"
)

// OutboxSink turns booking-confirmed facts into outbox rows that the
// publisher forwards to Kafka. The write is a separate transaction from the
// calendar insert: emission is fire-and-forget and must never undo an
// accepted booking.
type OutboxSink struct {
	pool *db.Pool
	repo *outbox.Repository
}

func NewOutboxSink(pool *db.Pool, repo *outbox.Repository) *OutboxSink {
	return &OutboxSink{pool: pool, repo: repo}
}

func (s *OutboxSink) BookingConfirmed(ctx context.Context, c booking.Confirmation) error {
	payload, err := json.Marshal(confirmationPayload(c))
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   c.EventID,
		EventType:     outbox.EventBookingConfirmed,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BookingCancelled emits the cancellation fact. The payload is minimal:
// consumers that need the full appointment read it from the calendar.
func (s *OutboxSink) BookingCancelled(ctx context.Context, eventID, reason string, cancelledAt time.Time) error {
	payload, err := json.Marshal(map[string]any{
		"event_id":     eventID,
		"reason":       reason,
		"cancelled_at": cancelledAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   eventID,
		EventType:     outbox.EventBookingCancelled,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LogSink is the sink used when no Postgres-backed pipeline is configured
// (memory calendar store): confirmations only reach the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) BookingConfirmed(_ context.Context, c booking.Confirmation) error {
	s.logger.Info("booking confirmed",
		"event_id", c.EventID,
		"subject_id", c.SubjectID,
		"service_kind", string(c.ServiceKind),
		"start_time", c.Interval.Start.UTC().Format(time.RFC3339),
		"end_time", c.Interval.End.UTC().Format(time.RFC3339),
	)
	return nil
}

func (s *LogSink) BookingCancelled(_ context.Context, eventID, reason string, cancelledAt time.Time) error {
	s.logger.Info("booking cancelled",
		"event_id", eventID,
		"reason", reason,
		"cancelled_at", cancelledAt.UTC().Format(time.RFC3339),
	)
	return nil
}

func confirmationPayload(c booking.Confirmation) map[string]any {
	return map[string]any{
		"event_id":     c.EventID,
		"subject_id":   c.SubjectID,
		"service_kind": string(c.ServiceKind),
		"start_time":   c.Interval.Start.UTC().Format(time.RFC3339),
		"end_time":     c.Interval.End.UTC().Format(time.RFC3339),
		"client_name":  c.ClientName,
		"client_email": c.ClientEmail,
	}
}
