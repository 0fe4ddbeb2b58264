package policy

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	p, err := FromEnv()
	if err != nil {
		t.Fatalf("defaults must produce a valid policy: %v", err)
	}
	if p.DayStartHour != 9 || p.DayEndHour != 18 || p.SlotMinutes != 30 {
		t.Fatalf("unexpected default hours: %+v", p)
	}
	if !p.ClosedWeekdays[time.Sunday] {
		t.Fatalf("default policy should close Sundays")
	}
}

func TestFromEnv_InvalidHours(t *testing.T) {
	t.Setenv("DAY_START_HOUR", "20")
	t.Setenv("DAY_END_HOUR", "8")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("inverted hours must fail startup")
	}
}

func TestFromEnv_ClosedWeekdaysAndBlackouts(t *testing.T) {
	t.Setenv("CLOSED_WEEKDAYS", "Saturday, Sunday")
	t.Setenv("BLACKOUT_DATES", "2026-12-24,2026-12-25")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	p, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if !p.ClosedWeekdays[time.Saturday] || !p.ClosedWeekdays[time.Sunday] {
		t.Fatalf("weekend should be closed: %+v", p.ClosedWeekdays)
	}
	if len(p.Blackouts) != 2 {
		t.Fatalf("expected 2 blackout days, got %d", len(p.Blackouts))
	}
	xmas := time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC)
	if !p.Blackouts[1].Start.Before(xmas) || !p.Blackouts[1].End.After(xmas) {
		t.Fatalf("blackout must cover the whole day: %+v", p.Blackouts[1])
	}
}

func TestFromEnv_BadInputs(t *testing.T) {
	t.Setenv("CLOSED_WEEKDAYS", "Caturday")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("unknown weekday must fail")
	}
	t.Setenv("CLOSED_WEEKDAYS", "")

	t.Setenv("BLACKOUT_DATES", "christmas")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("malformed blackout date must fail")
	}
	t.Setenv("BLACKOUT_DATES", "")

	t.Setenv("BUSINESS_TIMEZONE", "Mars/Olympus_Mons")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("unknown timezone must fail")
	}
}
