package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/studiovoce/booking/services/booking-service/internal/availability"
	"github.com/studiovoce/booking/services/booking-service/internal/booking"
	"github.com/studiovoce/booking/services/booking-service/internal/calendar"
	"github.com/studiovoce/booking/services/booking-service/internal/notify"
	"github.com/studiovoce/booking/services/booking-service/internal/payment"
	"github.com/studiovoce/booking/services/booking-service/internal/storage"
)

func testPolicy() availability.Policy {
	return availability.Policy{
		DayStartHour: 9,
		DayEndHour:   18,
		SlotMinutes:  60,
		Location:     time.UTC,
	}
}

// 2026-03-02 is a Monday.
func testHandler(t *testing.T) (*BookingHandler, *calendar.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := calendar.NewMemoryStore(time.UTC)
	engine := booking.NewEngine(store, notify.NewLogSink(logger), testPolicy(), logger).
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	h := NewBookingHandler(engine, store, notify.NewLogSink(logger), payment.NewMockProvider(), nil, logger)
	return h, store
}

// fakeIdemStore keeps records in memory, like the live repo but without the
// database round trip.
type fakeIdemStore struct {
	records   map[string]*storage.IdempotencyRecord
	finalized int
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{records: map[string]*storage.IdempotencyRecord{}}
}

func (f *fakeIdemStore) Claim(_ context.Context, key string) (storage.IdempotencyRecord, bool, error) {
	if rec, ok := f.records[key]; ok {
		return *rec, false, nil
	}
	f.records[key] = &storage.IdempotencyRecord{Key: key}
	return storage.IdempotencyRecord{Key: key}, true, nil
}

func (f *fakeIdemStore) Finalize(_ context.Context, key, eventID string, statusCode int, response []byte) error {
	rec, ok := f.records[key]
	if !ok {
		return nil
	}
	rec.EventID = eventID
	rec.StatusCode = statusCode
	rec.ResponsePayload = response
	f.finalized++
	return nil
}

func testHandlerWithIdem(t *testing.T) (*BookingHandler, *calendar.MemoryStore, *fakeIdemStore) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := calendar.NewMemoryStore(time.UTC)
	idem := newFakeIdemStore()
	engine := booking.NewEngine(store, notify.NewLogSink(logger), testPolicy(), logger).
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	h := NewBookingHandler(engine, store, notify.NewLogSink(logger), payment.NewMockProvider(), idem, logger)
	return h, store, idem
}

func bookBody(kind, start string) string {
	return `{
		"subject_id": "coach-anna",
		"service_kind": "` + kind + `",
		"start_time": "` + start + `",
		"client_name": "Jo March",
		"client_email": "jo@example.com",
		"client_phone": "+1-555-0101"
	}`
}

func TestSlots_FullOpenDay(t *testing.T) {
	h, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?date=2026-03-02", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []slotItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 9 {
		t.Fatalf("expected 9 slots for an open day, got %d", len(items))
	}
	if items[0].StartTime != "2026-03-02T09:00:00Z" {
		t.Fatalf("first slot should open the day, got %s", items[0].StartTime)
	}
}

func TestSlots_RejectsBadInput(t *testing.T) {
	h, _ := testHandler(t)

	for _, url := range []string{
		"/api/v1/public/slots",
		"/api/v1/public/slots?date=March+2",
	} {
		rec := httptest.NewRecorder()
		h.Slots(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.Slots(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/slots?date=2026-03-02", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", rec.Code)
	}
}

func TestBook_AcceptedFreeIntro(t *testing.T) {
	h, _ := testHandler(t)

	rec := httptest.NewRecorder()
	h.Book(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T10:00:00Z"))))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp bookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.EventID == "" {
		t.Fatalf("accepted booking must carry an event id")
	}
	if resp.Deposit != nil {
		t.Fatalf("intro sessions are free, got deposit %+v", resp.Deposit)
	}
}

func TestBook_PaidKindGetsDepositIntent(t *testing.T) {
	h, _ := testHandler(t)

	rec := httptest.NewRecorder()
	h.Book(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("private-lesson", "2026-03-02T10:00:00Z"))))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp bookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Deposit == nil {
		t.Fatalf("private lessons take a deposit")
	}
	if resp.Deposit.AmountCents != booking.ServiceKind("private-lesson").DepositCents() {
		t.Fatalf("wrong deposit amount: %d", resp.Deposit.AmountCents)
	}
	if resp.Deposit.ClientSecret == "" {
		t.Fatalf("deposit intent must carry a client secret")
	}
}

func TestBook_DerivesEndTimeFromKind(t *testing.T) {
	h, store := testHandler(t)

	rec := httptest.NewRecorder()
	h.Book(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T10:00:00Z"))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	appts, err := store.ListAppointments(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(appts))
	}
	// intro is 30 minutes
	if got := appts[0].EndTime.Sub(appts[0].StartTime); got != 30*time.Minute {
		t.Fatalf("end time should follow the service kind, got %v", got)
	}
}

func TestBook_ConflictReturns409(t *testing.T) {
	h, _ := testHandler(t)

	first := httptest.NewRecorder()
	h.Book(first, httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("private-lesson", "2026-03-02T10:00:00Z"))))
	if first.Code != http.StatusCreated {
		t.Fatalf("setup booking failed: %d %s", first.Code, first.Body.String())
	}

	second := httptest.NewRecorder()
	h.Book(second, httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T10:30:00Z"))))
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", second.Code, second.Body.String())
	}
	var rej rejectionResponse
	if err := json.Unmarshal(second.Body.Bytes(), &rej); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rej.Reason != "conflict" {
		t.Fatalf("expected conflict reason, got %q", rej.Reason)
	}
}

func TestBook_PolicyRejectionReturns422(t *testing.T) {
	h, _ := testHandler(t)

	rec := httptest.NewRecorder()
	h.Book(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T07:00:00Z"))))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for out-of-hours, got %d: %s", rec.Code, rec.Body.String())
	}
	var rej rejectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rej); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rej.Reason != "out_of_hours" {
		t.Fatalf("expected out_of_hours reason, got %q", rej.Reason)
	}
}

func TestBook_ValidationFailureReturns400(t *testing.T) {
	h, _ := testHandler(t)

	cases := map[string]string{
		"unknown kind": bookBody("group-jam", "2026-03-02T10:00:00Z"),
		"bad start":    bookBody("intro", "next tuesday"),
		"not json":     "who needs braces",
		"missing name": `{"subject_id":"coach-anna","service_kind":"intro","start_time":"2026-03-02T10:00:00Z","client_email":"jo@example.com"}`,
	}
	for name, body := range cases {
		rec := httptest.NewRecorder()
		h.Book(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", name, rec.Code, rec.Body.String())
		}
	}
}

func TestBook_IdempotencyKeyReplaysAcceptedResponse(t *testing.T) {
	h, store, _ := testHandlerWithIdem(t)

	first := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T10:00:00Z")))
	req1.Header.Set("Idempotency-Key", "k-accept")
	h.Book(first, req1)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}

	second := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T10:00:00Z")))
	req2.Header.Set("Idempotency-Key", "k-accept")
	h.Book(second, req2)

	if second.Code != http.StatusCreated {
		t.Fatalf("replay must return the recorded status, got %d: %s", second.Code, second.Body.String())
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replay must return the recorded body:\nfirst:  %s\nsecond: %s", first.Body.String(), second.Body.String())
	}

	appts, err := store.ListAppointments(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("replay must not book a second appointment, got %d", len(appts))
	}
}

func TestBook_IdempotencyKeyReplaysRejectedResponse(t *testing.T) {
	h, store, idem := testHandlerWithIdem(t)

	day := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if _, err := store.InsertEvent(context.Background(), availability.Interval{Start: day, End: day.Add(time.Hour)}, booking.EventMeta{}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	first := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T10:00:00Z")))
	req1.Header.Set("Idempotency-Key", "k-reject")
	h.Book(first, req1)
	if first.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", first.Code, first.Body.String())
	}

	// The rejection carries no event id, and it must still be finalized.
	rec := idem.records["k-reject"]
	if rec == nil || rec.StatusCode != http.StatusConflict {
		t.Fatalf("rejected response must be finalized, got %+v", rec)
	}
	if rec.EventID != "" {
		t.Fatalf("rejection must not record an event id, got %q", rec.EventID)
	}

	second := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T10:00:00Z")))
	req2.Header.Set("Idempotency-Key", "k-reject")
	h.Book(second, req2)

	if second.Code != http.StatusConflict {
		t.Fatalf("replay of a rejection must return the recorded 409, got %d: %s", second.Code, second.Body.String())
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replay must return the recorded body, not an in-flight error:\nfirst:  %s\nsecond: %s", first.Body.String(), second.Body.String())
	}
}

func TestBook_IdempotencyKeyInFlight(t *testing.T) {
	h, _, idem := testHandlerWithIdem(t)

	// A claimed but unfinalized key means the original request is still running.
	idem.records["k-pending"] = &storage.IdempotencyRecord{Key: "k-pending"}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T10:00:00Z")))
	req.Header.Set("Idempotency-Key", "k-pending")
	h.Book(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("in-flight key must return 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "in flight") {
		t.Fatalf("expected in-flight error, got %s", rec.Body.String())
	}
}

func TestCancel_ReleasesSlot(t *testing.T) {
	h, store := testHandler(t)

	created := httptest.NewRecorder()
	h.Book(created, httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
		strings.NewReader(bookBody("intro", "2026-03-02T10:00:00Z"))))
	if created.Code != http.StatusCreated {
		t.Fatalf("setup booking failed: %d", created.Code)
	}
	var booked bookResponse
	if err := json.Unmarshal(created.Body.Bytes(), &booked); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Cancel(rec, httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel",
		strings.NewReader(`{"event_id":"`+booked.EventID+`","reason":"client request"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp cancelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "cancelled" || resp.CancelledAt == "" {
		t.Fatalf("unexpected cancel response: %+v", resp)
	}

	busy, err := store.ListBusyIntervals(context.Background(), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("list busy: %v", err)
	}
	if len(busy) != 0 {
		t.Fatalf("cancelled appointment must free its slot, got %v", busy)
	}
}

func TestCancel_UnknownIDReturns404(t *testing.T) {
	h, _ := testHandler(t)

	rec := httptest.NewRecorder()
	h.Cancel(rec, httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel",
		strings.NewReader(`{"event_id":"e2a1d9a0-0000-0000-0000-000000000000"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestList_ReturnsAppointments(t *testing.T) {
	h, _ := testHandler(t)

	for _, start := range []string{"2026-03-02T10:00:00Z", "2026-03-02T14:00:00Z"} {
		rec := httptest.NewRecorder()
		h.Book(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/book",
			strings.NewReader(bookBody("intro", start))))
		if rec.Code != http.StatusCreated {
			t.Fatalf("setup booking at %s failed: %d", start, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []appointmentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 appointments, got %d", len(items))
	}
	if items[0].StartTime != "2026-03-02T14:00:00Z" {
		t.Fatalf("newest start first, got %s", items[0].StartTime)
	}
	if items[0].Status != "booked" {
		t.Fatalf("expected booked status, got %q", items[0].Status)
	}
}
