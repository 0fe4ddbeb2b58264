package message

import (
	"fmt"
	"strings"
	"time"
)

// ConfirmedEvent is the payload of booking.confirmed.v1.
type ConfirmedEvent struct {
	EventID     string `json:"event_id"`
	SubjectID   string `json:"subject_id"`
	ServiceKind string `json:"service_kind"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
}

func (e ConfirmedEvent) Validate() error {
	if e.EventID == "" || e.ClientEmail == "" || e.StartTime == "" {
		return fmt.Errorf("confirmed event missing required fields")
	}
	if _, err := time.Parse(time.RFC3339, e.StartTime); err != nil {
		return fmt.Errorf("invalid start_time: %w", err)
	}
	return nil
}

// CancelledEvent is the payload of booking.cancelled.v1.
type CancelledEvent struct {
	EventID     string `json:"event_id"`
	Reason      string `json:"reason"`
	CancelledAt string `json:"cancelled_at"`
}

var kindLabels = map[string]string{
	"intro":          "intro session",
	"private-lesson": "private lesson",
	"coaching-block": "coaching block",
}

func kindLabel(kind string) string {
	if label, ok := kindLabels[kind]; ok {
		return label
	}
	return kind
}

// RenderConfirmation builds the subject and body of the booking confirmation
// email. Times are shown in the studio timezone.
func RenderConfirmation(e ConfirmedEvent, loc *time.Location) (subject, body string) {
	if loc == nil {
		loc = time.UTC
	}
	start, _ := time.Parse(time.RFC3339, e.StartTime)
	start = start.In(loc)

	subject = fmt.Sprintf("Your %s on %s is booked", kindLabel(e.ServiceKind), start.Format("Monday, January 2"))

	var b strings.Builder
	name := strings.TrimSpace(e.ClientName)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "Your %s is confirmed for %s at %s.\n\n",
		kindLabel(e.ServiceKind),
		start.Format("Monday, January 2, 2006"),
		start.Format("3:04 PM MST"),
	)
	fmt.Fprintf(&b, "Booking reference: %s\n\n", e.EventID)
	b.WriteString("If you need to reschedule, reply to this email at least 24 hours before your session.\n")
	return subject, b.String()
}
