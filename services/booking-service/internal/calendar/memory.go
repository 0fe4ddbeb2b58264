package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/studiovoce/booking/services/booking-service/internal/availability"
	"github.com/studiovoce/booking/services/booking-service/internal/booking"
)

// MemoryStore is a deterministic in-memory calendar for tests and local
// development. Like the live store, the insert re-checks for overlap under
// the lock, so it stays the authority for conflicts even when two callers
// raced past the engine's pre-insert check.
type MemoryStore struct {
	mu     sync.Mutex
	loc    *time.Location
	events map[string]*memoryEvent
}

type memoryEvent struct {
	id          string
	interval    availability.Interval
	meta        booking.EventMeta
	status      string
	createdAt   time.Time
	cancelledAt *time.Time
	cancelWhy   string
}

func NewMemoryStore(loc *time.Location) *MemoryStore {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryStore{
		loc:    loc,
		events: map[string]*memoryEvent{},
	}
}

func (s *MemoryStore) ListBusyIntervals(_ context.Context, day time.Time) ([]availability.Interval, error) {
	d := day.In(s.loc)
	dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)
	window := availability.Interval{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}

	s.mu.Lock()
	defer s.mu.Unlock()

	var busy []availability.Interval
	for _, ev := range s.events {
		if ev.status != statusBooked {
			continue
		}
		if ev.interval.Overlaps(window) {
			busy = append(busy, ev.interval)
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, interval availability.Interval, meta booking.EventMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if ev.status == statusBooked && ev.interval.Overlaps(interval) {
			return "", booking.ErrConflict
		}
	}

	id := uuid.NewString()
	s.events[id] = &memoryEvent{
		id:        id,
		interval:  interval,
		meta:      meta,
		status:    statusBooked,
		createdAt: time.Now(),
	}
	return id, nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	appts := make([]Appointment, 0, len(s.events))
	for _, ev := range s.events {
		appts = append(appts, Appointment{
			ID:           ev.id,
			SubjectID:    ev.meta.SubjectID,
			ServiceKind:  string(ev.meta.ServiceKind),
			ClientName:   ev.meta.ClientName,
			ClientEmail:  ev.meta.ClientEmail,
			ClientPhone:  ev.meta.ClientPhone,
			StartTime:    ev.interval.Start,
			EndTime:      ev.interval.End,
			Status:       ev.status,
			CancelledAt:  ev.cancelledAt,
			CancelReason: ev.cancelWhy,
			CreatedAt:    ev.createdAt,
		})
	}
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartTime.After(appts[j].StartTime) })
	if len(appts) > limit {
		appts = appts[:limit]
	}
	return appts, nil
}

func (s *MemoryStore) CancelAppointment(_ context.Context, eventID, reason string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok || ev.status != statusBooked {
		return time.Time{}, ErrNotFound
	}
	now := time.Now()
	ev.status = statusCancelled
	ev.cancelledAt = &now
	ev.cancelWhy = reason
	return now, nil
}
