package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/studiovoce/booking/services/booking-service/internal/availability"
)

// ServiceKind is the closed set of bookable lesson types. Each kind fixes the
// lesson length and which contact fields the request must carry, replacing the
// old free-form per-service request bodies.
type ServiceKind string

const (
	KindIntroLesson   ServiceKind = "intro"
	KindPrivateLesson ServiceKind = "private-lesson"
	KindCoachingBlock ServiceKind = "coaching-block"
)

// kindSpec holds per-kind validation rules and pricing.
type kindSpec struct {
	duration     time.Duration
	depositCents int64
	requirePhone bool
}

var kinds = map[ServiceKind]kindSpec{
	KindIntroLesson:   {duration: 30 * time.Minute},
	KindPrivateLesson: {duration: 60 * time.Minute, depositCents: 2500},
	KindCoachingBlock: {duration: 90 * time.Minute, depositCents: 4000, requirePhone: true},
}

// KnownKind reports whether k is one of the bookable service kinds.
func KnownKind(k ServiceKind) bool {
	_, ok := kinds[k]
	return ok
}

// Duration returns the fixed lesson length for the kind.
func (k ServiceKind) Duration() time.Duration {
	return kinds[k].duration
}

// DepositCents returns the deposit charged at booking time; zero means the
// kind is booked without payment.
func (k ServiceKind) DepositCents() int64 {
	return kinds[k].depositCents
}

// Request is a booking request. It is immutable once submitted: a caller that
// needs to retry after an unknown insert outcome builds a fresh request rather
// than resubmitting this one.
type Request struct {
	Interval    availability.Interval
	SubjectID   string
	ServiceKind ServiceKind

	ClientName  string
	ClientEmail string
	ClientPhone string
}

// Validate runs the structural checks that need no calendar access.
func (r Request) Validate() error {
	if !r.Interval.Valid() {
		return fmt.Errorf("interval start must be before end")
	}
	if strings.TrimSpace(r.SubjectID) == "" {
		return fmt.Errorf("subject id is required")
	}
	spec, ok := kinds[r.ServiceKind]
	if !ok {
		return fmt.Errorf("unknown service kind %q", r.ServiceKind)
	}
	if got := r.Interval.End.Sub(r.Interval.Start); got != spec.duration {
		return fmt.Errorf("%s lessons run %s, requested %s", r.ServiceKind, spec.duration, got)
	}
	if strings.TrimSpace(r.ClientName) == "" {
		return fmt.Errorf("client name is required")
	}
	if strings.TrimSpace(r.ClientEmail) == "" || !strings.Contains(r.ClientEmail, "@") {
		return fmt.Errorf("a valid client email is required")
	}
	if spec.requirePhone && strings.TrimSpace(r.ClientPhone) == "" {
		return fmt.Errorf("%s bookings require a phone number", r.ServiceKind)
	}
	return nil
}
