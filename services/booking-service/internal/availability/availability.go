package availability

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the interval is well-formed (Start strictly before End).
func (iv Interval) Valid() bool {
	return iv.Start.Before(iv.End)
}

// Overlaps reports whether two half-open intervals share any interior point.
// Touching endpoints do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// RejectReason classifies why a requested interval cannot be booked.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonConflict
	ReasonOutOfHours
	ReasonBlackout
	ReasonPastDate
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonConflict:
		return "conflict"
	case ReasonOutOfHours:
		return "out_of_hours"
	case ReasonBlackout:
		return "blackout"
	case ReasonPastDate:
		return "past_date"
	default:
		return "unknown"
	}
}

// Policy describes when the studio accepts bookings: open hours, the slot
// grid offered to clients, administrative blackouts, and weekly closures.
// All times are interpreted in Location (the studio's timezone), never the
// caller's locale.
type Policy struct {
	DayStartHour   int
	DayEndHour     int
	SlotMinutes    int
	Blackouts      []Interval
	ClosedWeekdays map[time.Weekday]bool
	Location       *time.Location
}

// Validate checks the structural policy invariants at startup.
func (p Policy) Validate() error {
	if p.Location == nil {
		return fmt.Errorf("policy location is required")
	}
	if p.DayStartHour < 0 || p.DayEndHour > 24 || p.DayStartHour >= p.DayEndHour {
		return fmt.Errorf("invalid open hours %d-%d", p.DayStartHour, p.DayEndHour)
	}
	if p.SlotMinutes <= 0 {
		return fmt.Errorf("slot minutes must be positive, got %d", p.SlotMinutes)
	}
	for _, b := range p.Blackouts {
		if !b.Valid() {
			return fmt.Errorf("blackout %s-%s is not a valid interval", b.Start, b.End)
		}
	}
	return nil
}

// OpenWindow returns the open interval [DayStartHour, DayEndHour) for the
// given calendar day in the studio timezone.
func (p Policy) OpenWindow(day time.Time) Interval {
	d := day.In(p.Location)
	start := time.Date(d.Year(), d.Month(), d.Day(), p.DayStartHour, 0, 0, 0, p.Location)
	end := time.Date(d.Year(), d.Month(), d.Day(), p.DayEndHour, 0, 0, 0, p.Location)
	return Interval{Start: start, End: end}
}

// GenerateSlots returns the bookable slots for one calendar day, ascending by
// start time. Candidates partition the open window on the SlotMinutes grid; a
// trailing partial slot is dropped rather than offered. A candidate is removed
// when it overlaps a busy or blackout interval, or when its start is not
// strictly after now.
func GenerateSlots(day time.Time, policy Policy, busy []Interval, now time.Time) []Interval {
	d := day.In(policy.Location)
	if policy.ClosedWeekdays[d.Weekday()] {
		return nil
	}

	window := policy.OpenWindow(day)
	slotLen := time.Duration(policy.SlotMinutes) * time.Minute

	var slots []Interval
	for t := window.Start; !t.Add(slotLen).After(window.End); t = t.Add(slotLen) {
		candidate := Interval{Start: t, End: t.Add(slotLen)}
		if !candidate.Start.After(now) {
			continue
		}
		if overlapsAny(candidate, busy) || overlapsAny(candidate, policy.Blackouts) {
			continue
		}
		slots = append(slots, candidate)
	}
	return slots
}

// FirstConflict returns the first busy interval overlapping the requested one,
// or nil. Busy sets are at most a day's worth of events, so a linear scan is
// fine. An interval that exactly abuts a busy one is not a conflict.
func FirstConflict(requested Interval, busy []Interval) *Interval {
	for i := range busy {
		if requested.Overlaps(busy[i]) {
			b := busy[i]
			return &b
		}
	}
	return nil
}

// CheckRequest runs the policy-side checks for a requested interval: closed
// weekdays and open hours (ReasonOutOfHours), administrative blackouts
// (ReasonBlackout), and requests that do not start strictly in the future
// (ReasonPastDate). Conflict detection against busy intervals is separate;
// see FirstConflict.
func CheckRequest(requested Interval, policy Policy, now time.Time) RejectReason {
	if !requested.Start.After(now) {
		return ReasonPastDate
	}

	start := requested.Start.In(policy.Location)
	if policy.ClosedWeekdays[start.Weekday()] {
		return ReasonOutOfHours
	}

	window := policy.OpenWindow(requested.Start)
	if requested.Start.Before(window.Start) || requested.End.After(window.End) {
		return ReasonOutOfHours
	}

	if overlapsAny(requested, policy.Blackouts) {
		return ReasonBlackout
	}
	return ReasonNone
}

func overlapsAny(candidate Interval, intervals []Interval) bool {
	for _, iv := range intervals {
		if candidate.Overlaps(iv) {
			return true
		}
	}
	return false
}
