package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/studiovoce/booking/services/booking-service/internal/availability"
	"github.com/studiovoce/booking/services/booking-service/internal/booking"
	"github.com/studiovoce/booking/services/booking-service/internal/calendar"
	"github.com/studiovoce/booking/services/booking-service/internal/payment"
	"github.com/studiovoce/booking/services/booking-service/internal/storage"
)

// AdminCalendar is the appointment management surface behind the admin
// routes. Both calendar stores implement it.
type AdminCalendar interface {
	ListAppointments(ctx context.Context, limit int) ([]calendar.Appointment, error)
	CancelAppointment(ctx context.Context, eventID, reason string) (time.Time, error)
}

// CancelNotifier emits the booking-cancelled fact; failures are logged, not
// surfaced to the caller.
type CancelNotifier interface {
	BookingCancelled(ctx context.Context, eventID, reason string, cancelledAt time.Time) error
}

// IdempotencyStore records booking responses by Idempotency-Key so replays
// return the original outcome instead of a second insert attempt.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (storage.IdempotencyRecord, bool, error)
	Finalize(ctx context.Context, key, eventID string, statusCode int, response []byte) error
}

type BookingHandler struct {
	engine   *booking.Engine
	admin    AdminCalendar
	notifier CancelNotifier
	payments payment.Provider
	idem     IdempotencyStore // nil disables Idempotency-Key support
	logger   *slog.Logger
}

func NewBookingHandler(engine *booking.Engine, admin AdminCalendar, notifier CancelNotifier, payments payment.Provider, idem IdempotencyStore, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		engine:   engine,
		admin:    admin,
		notifier: notifier,
		payments: payments,
		idem:     idem,
		logger:   logger,
	}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type bookRequest struct {
	SubjectID   string `json:"subject_id"`
	ServiceKind string `json:"service_kind"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone"`
}

type depositItem struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

type bookResponse struct {
	EventID string       `json:"event_id"`
	Deposit *depositItem `json:"deposit,omitempty"`
}

type rejectionResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type appointmentItem struct {
	EventID     string `json:"event_id"`
	SubjectID   string `json:"subject_id"`
	ServiceKind string `json:"service_kind"`
	ClientName  string `json:"client_name"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type cancelRequest struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

type cancelResponse struct {
	EventID     string `json:"event_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

// Slots returns the bookable slots for one day in the studio timezone.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		http.Error(w, "date is required", http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, h.engine.Policy().Location)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	slots, err := h.engine.GetAvailability(r.Context(), day)
	if err != nil {
		h.logger.Error("availability query failed", "err", err, "date", dateStr)
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// Book submits a booking request through the engine and, for paid lesson
// kinds, opens a deposit payment intent.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	kind := booking.ServiceKind(strings.TrimSpace(req.ServiceKind))
	if !booking.KnownKind(kind) {
		http.Error(w, "unknown service_kind", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end := start.Add(kind.Duration())
	if raw := strings.TrimSpace(req.EndTime); raw != "" {
		end, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid end_time", http.StatusBadRequest)
			return
		}
	}

	bookingReq := booking.Request{
		Interval:    availability.Interval{Start: start, End: end},
		SubjectID:   strings.TrimSpace(req.SubjectID),
		ServiceKind: kind,
		ClientName:  strings.TrimSpace(req.ClientName),
		ClientEmail: strings.TrimSpace(req.ClientEmail),
		ClientPhone: strings.TrimSpace(req.ClientPhone),
	}

	ctx := r.Context()
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if h.idem == nil {
		idemKey = ""
	}
	if idemKey != "" {
		rec, claimed, err := h.idem.Claim(ctx, idemKey)
		if err != nil {
			h.logger.Error("idempotency claim failed", "err", err)
			http.Error(w, "failed to check idempotency key", http.StatusInternalServerError)
			return
		}
		if !claimed {
			if rec.StatusCode == 0 {
				http.Error(w, "request with this idempotency key is in flight", http.StatusConflict)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	status, body := h.decide(ctx, bookingReq)

	if idemKey != "" {
		if err := h.idem.Finalize(ctx, idemKey, eventIDFromBody(body), status, body); err != nil {
			h.logger.Error("idempotency finalize failed", "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// decide runs the engine and renders the outcome, so the idempotency layer
// can store exactly what was sent.
func (h *BookingHandler) decide(ctx context.Context, req booking.Request) (int, []byte) {
	dec, err := h.engine.SubmitBooking(ctx, req)
	if err != nil {
		if errors.Is(err, booking.ErrInvalidRequest) {
			return http.StatusBadRequest, mustJSON(map[string]string{"error": err.Error()})
		}
		h.logger.Error("booking submit failed", "err", err)
		return http.StatusInternalServerError, mustJSON(map[string]string{"error": "booking temporarily unavailable"})
	}

	if !dec.Accepted {
		status := http.StatusUnprocessableEntity
		msg := "requested time cannot be booked"
		if dec.Reason == availability.ReasonConflict {
			status = http.StatusConflict
			msg = "slot no longer available, please pick another"
		}
		return status, mustJSON(rejectionResponse{Error: msg, Reason: dec.Reason.String()})
	}

	resp := bookResponse{EventID: dec.EventID}
	if cents := req.ServiceKind.DepositCents(); cents > 0 && h.payments != nil {
		intent, err := h.payments.CreateDepositIntent(ctx, payment.IntentRequest{
			EventID:     dec.EventID,
			ServiceKind: req.ServiceKind,
			AmountCents: cents,
			ClientEmail: req.ClientEmail,
		})
		if err != nil {
			// The booking stands; the studio collects the deposit later.
			h.logger.Error("deposit intent failed", "err", err, "event_id", dec.EventID)
		} else {
			resp.Deposit = &depositItem{
				IntentID:     intent.ID,
				ClientSecret: intent.ClientSecret,
				AmountCents:  intent.AmountCents,
				Currency:     intent.Currency,
			}
		}
	}
	return http.StatusCreated, mustJSON(resp)
}

// List returns recent appointments, newest start time first.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.admin.ListAppointments(r.Context(), limit)
	if err != nil {
		h.logger.Error("appointment list failed", "err", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		item := appointmentItem{
			EventID:     a.ID,
			SubjectID:   a.SubjectID,
			ServiceKind: a.ServiceKind,
			ClientName:  a.ClientName,
			StartTime:   a.StartTime.Format(time.RFC3339),
			EndTime:     a.EndTime.Format(time.RFC3339),
			Status:      a.Status,
			CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if a.CancelledAt != nil {
			item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

// Cancel releases a booked appointment so its slot becomes available again.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.EventID = strings.TrimSpace(req.EventID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.EventID == "" {
		http.Error(w, "event_id required", http.StatusBadRequest)
		return
	}

	cancelledAt, err := h.admin.CancelAppointment(r.Context(), req.EventID, req.Reason)
	if err != nil {
		if errors.Is(err, calendar.ErrNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("appointment cancel failed", "err", err, "event_id", req.EventID)
		http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		return
	}

	if h.notifier != nil {
		if err := h.notifier.BookingCancelled(r.Context(), req.EventID, req.Reason, cancelledAt); err != nil {
			h.logger.Error("cancellation emit failed", "err", err, "event_id", req.EventID)
		}
	}

	writeJSON(w, http.StatusOK, cancelResponse{
		EventID:     req.EventID,
		Status:      "cancelled",
		CancelledAt: cancelledAt.UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func mustJSON(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"internal"}`)
	}
	return body
}

func eventIDFromBody(body []byte) string {
	var resp bookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.EventID
}
