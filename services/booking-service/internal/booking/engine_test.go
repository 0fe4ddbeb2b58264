package booking

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/studiovoce/booking/services/booking-service/internal/availability"
)

type fakeStore struct {
	busy        []availability.Interval
	listCalls   int
	insertCalls int
	insertErr   error
	nextID      string
}

func (f *fakeStore) ListBusyIntervals(_ context.Context, _ time.Time) ([]availability.Interval, error) {
	f.listCalls++
	return f.busy, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, iv availability.Interval, _ EventMeta) (string, error) {
	f.insertCalls++
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.busy = append(f.busy, iv)
	if f.nextID == "" {
		return "evt-1", nil
	}
	return f.nextID, nil
}

type fakeSink struct {
	confirmed []Confirmation
	err       error
}

func (f *fakeSink) BookingConfirmed(_ context.Context, c Confirmation) error {
	if f.err != nil {
		return f.err
	}
	f.confirmed = append(f.confirmed, c)
	return nil
}

func testEngine(store CalendarStore, sink NotificationSink, now time.Time) *Engine {
	policy := availability.Policy{
		DayStartHour:   9,
		DayEndHour:     18,
		SlotMinutes:    60,
		ClosedWeekdays: map[time.Weekday]bool{},
		Location:       time.UTC,
	}
	logger := slog.New(slog.DiscardHandler)
	return NewEngine(store, sink, policy, logger).WithClock(func() time.Time { return now })
}

// 2026-03-02 is a Monday.
func day() time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
}

func at(hour, min int) time.Time {
	d := day()
	return time.Date(d.Year(), d.Month(), d.Day(), hour, min, 0, 0, time.UTC)
}

func validRequest(start, end time.Time) Request {
	return Request{
		Interval:    availability.Interval{Start: start, End: end},
		SubjectID:   "coach-anna",
		ServiceKind: KindPrivateLesson,
		ClientName:  "Jo Reyes",
		ClientEmail: "jo@example.com",
	}
}

func TestGetAvailability_ScenarioEightSlots(t *testing.T) {
	store := &fakeStore{busy: []availability.Interval{{Start: at(10, 0), End: at(11, 0)}}}
	eng := testEngine(store, nil, day().Add(-24*time.Hour))

	slots, err := eng.GetAvailability(context.Background(), day())
	if err != nil {
		t.Fatalf("get availability: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Start.Equal(at(10, 0)) {
			t.Fatalf("busy 10:00 slot must not be offered")
		}
	}
}

func TestGetAvailability_IdempotentWithoutMutation(t *testing.T) {
	store := &fakeStore{busy: []availability.Interval{{Start: at(14, 0), End: at(15, 0)}}}
	eng := testEngine(store, nil, day().Add(-24*time.Hour))

	first, err := eng.GetAvailability(context.Background(), day())
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := eng.GetAvailability(context.Background(), day())
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("availability changed without store mutation: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Start.Equal(second[i].Start) {
			t.Fatalf("slot %d differs between calls", i)
		}
	}
	if store.listCalls != 2 {
		t.Fatalf("busy intervals must be re-read per query, got %d reads", store.listCalls)
	}
}

func TestSubmitBooking_Accepted(t *testing.T) {
	store := &fakeStore{busy: []availability.Interval{{Start: at(10, 0), End: at(11, 0)}}, nextID: "evt-42"}
	sink := &fakeSink{}
	eng := testEngine(store, sink, day().Add(-24*time.Hour))

	dec, err := eng.SubmitBooking(context.Background(), validRequest(at(14, 0), at(15, 0)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !dec.Accepted || dec.EventID != "evt-42" {
		t.Fatalf("expected accepted with evt-42, got %+v", dec)
	}
	if len(sink.confirmed) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(sink.confirmed))
	}
	if sink.confirmed[0].EventID != "evt-42" {
		t.Fatalf("confirmation carries wrong event id: %s", sink.confirmed[0].EventID)
	}
}

func TestSubmitBooking_PreInsertConflict(t *testing.T) {
	store := &fakeStore{busy: []availability.Interval{{Start: at(14, 0), End: at(15, 0)}}}
	eng := testEngine(store, nil, day().Add(-24*time.Hour))

	dec, err := eng.SubmitBooking(context.Background(), validRequest(at(14, 30), at(15, 30)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if dec.Accepted || dec.Reason != availability.ReasonConflict {
		t.Fatalf("expected conflict rejection, got %+v", dec)
	}
	if store.insertCalls != 0 {
		t.Fatalf("no insert may happen on a pre-insert conflict")
	}
}

func TestSubmitBooking_StoreLevelConflict(t *testing.T) {
	// The store sees a conflict the engine's read missed (concurrent booker).
	store := &fakeStore{insertErr: ErrConflict}
	sink := &fakeSink{}
	eng := testEngine(store, sink, day().Add(-24*time.Hour))

	dec, err := eng.SubmitBooking(context.Background(), validRequest(at(14, 0), at(15, 0)))
	if err != nil {
		t.Fatalf("store conflict must map to a decision, got error %v", err)
	}
	if dec.Accepted || dec.Reason != availability.ReasonConflict {
		t.Fatalf("expected conflict rejection, got %+v", dec)
	}
	if len(sink.confirmed) != 0 {
		t.Fatalf("no confirmation may be emitted for a rejected booking")
	}
}

func TestSubmitBooking_StoreErrorPropagates(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("connection reset")}
	eng := testEngine(store, nil, day().Add(-24*time.Hour))

	_, err := eng.SubmitBooking(context.Background(), validRequest(at(14, 0), at(15, 0)))
	if err == nil {
		t.Fatalf("transport errors must propagate, not become decisions")
	}
}

func TestSubmitBooking_PastDateSkipsStore(t *testing.T) {
	store := &fakeStore{}
	eng := testEngine(store, nil, at(16, 0))

	dec, err := eng.SubmitBooking(context.Background(), validRequest(at(14, 0), at(15, 0)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if dec.Accepted || dec.Reason != availability.ReasonPastDate {
		t.Fatalf("expected past_date rejection, got %+v", dec)
	}
	if store.listCalls != 0 || store.insertCalls != 0 {
		t.Fatalf("past-date rejection must not touch the store")
	}
}

func TestSubmitBooking_OutOfHours(t *testing.T) {
	store := &fakeStore{}
	eng := testEngine(store, nil, day().Add(-24*time.Hour))

	req := validRequest(at(18, 30), at(19, 30))
	dec, err := eng.SubmitBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if dec.Reason != availability.ReasonOutOfHours {
		t.Fatalf("expected out_of_hours, got %+v", dec)
	}
	if store.listCalls != 0 {
		t.Fatalf("policy rejection must not read the store")
	}
}

func TestSubmitBooking_AbuttingBookingAccepted(t *testing.T) {
	store := &fakeStore{busy: []availability.Interval{{Start: at(14, 0), End: at(15, 0)}}}
	eng := testEngine(store, nil, day().Add(-24*time.Hour))

	dec, err := eng.SubmitBooking(context.Background(), validRequest(at(15, 0), at(16, 0)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !dec.Accepted {
		t.Fatalf("an abutting interval is not a conflict, got %+v", dec)
	}
}

func TestSubmitBooking_ValidationError(t *testing.T) {
	store := &fakeStore{}
	eng := testEngine(store, nil, day().Add(-24*time.Hour))

	bad := validRequest(at(14, 0), at(15, 0))
	bad.ClientEmail = "not-an-email"
	_, err := eng.SubmitBooking(context.Background(), bad)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("malformed request must fail with ErrInvalidRequest, got %v", err)
	}
	if store.listCalls != 0 || store.insertCalls != 0 {
		t.Fatalf("validation failure must not touch the store")
	}
}

func TestSubmitBooking_SinkFailureDoesNotRevoke(t *testing.T) {
	store := &fakeStore{nextID: "evt-7"}
	sink := &fakeSink{err: errors.New("broker down")}
	eng := testEngine(store, sink, day().Add(-24*time.Hour))

	dec, err := eng.SubmitBooking(context.Background(), validRequest(at(14, 0), at(15, 0)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !dec.Accepted || dec.EventID != "evt-7" {
		t.Fatalf("sink failure must not revoke the booking, got %+v", dec)
	}
}

func TestRequestValidate_Kinds(t *testing.T) {
	base := validRequest(at(14, 0), at(15, 0))

	unknown := base
	unknown.ServiceKind = "open-mic"
	if err := unknown.Validate(); err == nil {
		t.Fatalf("unknown service kind must be rejected")
	}

	wrongLen := base
	wrongLen.ServiceKind = KindIntroLesson // intro lessons run 30min, interval is 60
	if err := wrongLen.Validate(); err == nil {
		t.Fatalf("duration mismatch for kind must be rejected")
	}

	noPhone := validRequest(at(14, 0), at(15, 30))
	noPhone.ServiceKind = KindCoachingBlock
	if err := noPhone.Validate(); err == nil {
		t.Fatalf("coaching block without phone must be rejected")
	}
	noPhone.ClientPhone = "+1 555 0100"
	if err := noPhone.Validate(); err != nil {
		t.Fatalf("coaching block with phone should validate: %v", err)
	}
}
