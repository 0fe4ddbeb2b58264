package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studiovoce/booking/services/booking-service/internal/availability"
)

// ErrConflict is returned by CalendarStore.InsertEvent when the interval
// overlaps an event the store already holds. It is an expected outcome: the
// store is the authority for conflicts introduced between our read and our
// insert, and the engine treats it exactly like a pre-insert conflict.
var ErrConflict = errors.New("calendar: interval conflicts with an existing event")

// ErrInvalidRequest wraps structural validation failures so callers can map
// them to a 400 instead of a server error.
var ErrInvalidRequest = errors.New("invalid booking request")

// EventMeta is the booking metadata persisted alongside a calendar event.
type EventMeta struct {
	SubjectID   string
	ServiceKind ServiceKind
	ClientName  string
	ClientEmail string
	ClientPhone string
}

// CalendarStore is the single source of truth for busy intervals. The engine
// reads it fresh on every decision and never caches across requests.
type CalendarStore interface {
	ListBusyIntervals(ctx context.Context, day time.Time) ([]availability.Interval, error)
	InsertEvent(ctx context.Context, interval availability.Interval, meta EventMeta) (string, error)
}

// Confirmation is the booking-confirmed fact emitted after a successful
// insert. The engine does not format or send messages itself.
type Confirmation struct {
	EventID     string
	SubjectID   string
	ServiceKind ServiceKind
	Interval    availability.Interval
	ClientName  string
	ClientEmail string
}

// NotificationSink consumes booking-confirmed facts. Emission is
// fire-and-forget: a sink failure is logged and never revokes the booking.
type NotificationSink interface {
	BookingConfirmed(ctx context.Context, c Confirmation) error
}

// Decision is the terminal outcome of SubmitBooking. A rejection is not
// retryable without a different request.
type Decision struct {
	Accepted bool
	EventID  string
	Reason   availability.RejectReason
}

func accepted(eventID string) Decision {
	return Decision{Accepted: true, EventID: eventID}
}

func rejected(reason availability.RejectReason) Decision {
	return Decision{Reason: reason}
}

// Engine computes availability and decides bookings. It holds no mutable
// state of its own and is safe for concurrent use; the calendar store is the
// only shared resource.
type Engine struct {
	store  CalendarStore
	sink   NotificationSink
	policy availability.Policy
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(store CalendarStore, sink NotificationSink, policy availability.Policy, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		sink:   sink,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the engine's clock. Tests use it to pin "now".
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Policy returns the business-hours policy the engine was built with.
func (e *Engine) Policy() availability.Policy {
	return e.policy
}

// GetAvailability returns the ordered free slots for one calendar day,
// recomputed from a fresh busy-interval read.
func (e *Engine) GetAvailability(ctx context.Context, day time.Time) ([]availability.Interval, error) {
	busy, err := e.store.ListBusyIntervals(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list busy intervals: %w", err)
	}
	return availability.GenerateSlots(day, e.policy, busy, e.now().In(e.policy.Location)), nil
}

// SubmitBooking runs the booking state machine:
// Validating -> Checking -> Inserting -> Accepted, or Rejected at any step.
//
// Validation and policy rejections are decided locally with no store access.
// The insert is the single side-effecting step and is attempted at most once
// per request; a store-level conflict is mapped to Rejected{Conflict} just
// like a pre-insert one. Store transport failures are returned as errors, not
// decisions, and retry policy belongs to the caller.
func (e *Engine) SubmitBooking(ctx context.Context, req Request) (Decision, error) {
	if err := req.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := e.now().In(e.policy.Location)
	if reason := availability.CheckRequest(req.Interval, e.policy, now); reason != availability.ReasonNone {
		return rejected(reason), nil
	}

	busy, err := e.store.ListBusyIntervals(ctx, req.Interval.Start)
	if err != nil {
		return Decision{}, fmt.Errorf("list busy intervals: %w", err)
	}
	if c := availability.FirstConflict(req.Interval, busy); c != nil {
		return rejected(availability.ReasonConflict), nil
	}

	eventID, err := e.store.InsertEvent(ctx, req.Interval, EventMeta{
		SubjectID:   req.SubjectID,
		ServiceKind: req.ServiceKind,
		ClientName:  req.ClientName,
		ClientEmail: req.ClientEmail,
		ClientPhone: req.ClientPhone,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Someone got the slot between our read and our insert.
			return rejected(availability.ReasonConflict), nil
		}
		return Decision{}, fmt.Errorf("insert event: %w", err)
	}

	if e.sink != nil {
		if err := e.sink.BookingConfirmed(ctx, Confirmation{
			EventID:     eventID,
			SubjectID:   req.SubjectID,
			ServiceKind: req.ServiceKind,
			Interval:    req.Interval,
			ClientName:  req.ClientName,
			ClientEmail: req.ClientEmail,
		}); err != nil {
			e.logger.Error("booking confirmation emit failed", "err", err, "event_id", eventID)
		}
	}

	return accepted(eventID), nil
}
