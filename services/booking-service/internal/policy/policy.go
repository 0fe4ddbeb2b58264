package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/studiovoce/booking/libs/config"
	"github.com/studiovoce/booking/services/booking-service/internal/availability"
)

// FromEnv builds the studio's business-hours policy from environment
// configuration. Invalid values fail startup rather than silently falling
// back, since a wrong policy would offer unbookable slots.
//
//	BUSINESS_TIMEZONE  IANA zone, default America/New_York
//	DAY_START_HOUR     default 9
//	DAY_END_HOUR       default 18
//	SLOT_MINUTES       default 30
//	CLOSED_WEEKDAYS    comma list of weekday names, default Sunday
//	BLACKOUT_DATES     comma list of YYYY-MM-DD whole-day closures
func FromEnv() (availability.Policy, error) {
	tzName := config.String("BUSINESS_TIMEZONE", "America/New_York")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return availability.Policy{}, fmt.Errorf("BUSINESS_TIMEZONE %q: %w", tzName, err)
	}

	startHour, err := config.Int("DAY_START_HOUR", 9)
	if err != nil {
		return availability.Policy{}, err
	}
	endHour, err := config.Int("DAY_END_HOUR", 18)
	if err != nil {
		return availability.Policy{}, err
	}
	slotMinutes, err := config.Int("SLOT_MINUTES", 30)
	if err != nil {
		return availability.Policy{}, err
	}

	closed, err := parseClosedWeekdays(config.String("CLOSED_WEEKDAYS", "Sunday"))
	if err != nil {
		return availability.Policy{}, err
	}

	blackouts, err := parseBlackoutDates(config.String("BLACKOUT_DATES", ""), loc)
	if err != nil {
		return availability.Policy{}, err
	}

	p := availability.Policy{
		DayStartHour:   startHour,
		DayEndHour:     endHour,
		SlotMinutes:    slotMinutes,
		Blackouts:      blackouts,
		ClosedWeekdays: closed,
		Location:       loc,
	}
	if err := p.Validate(); err != nil {
		return availability.Policy{}, err
	}
	return p, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseClosedWeekdays(raw string) (map[time.Weekday]bool, error) {
	closed := map[time.Weekday]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		wd, ok := weekdayNames[part]
		if !ok {
			return nil, fmt.Errorf("CLOSED_WEEKDAYS: unknown weekday %q", part)
		}
		closed[wd] = true
	}
	if len(closed) == 7 {
		return nil, fmt.Errorf("CLOSED_WEEKDAYS: all seven days closed")
	}
	return closed, nil
}

func parseBlackoutDates(raw string, loc *time.Location) ([]availability.Interval, error) {
	var blackouts []availability.Interval
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", part, loc)
		if err != nil {
			return nil, fmt.Errorf("BLACKOUT_DATES: invalid date %q", part)
		}
		blackouts = append(blackouts, availability.Interval{
			Start: day,
			End:   day.AddDate(0, 0, 1),
		})
	}
	return blackouts, nil
}
