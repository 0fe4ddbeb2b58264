package message

import (
	"strings"
	"testing"
	"time"
)

func TestRenderConfirmation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	subject, body := RenderConfirmation(ConfirmedEvent{
		EventID:     "5f7a1c9e",
		ServiceKind: "private-lesson",
		StartTime:   "2026-03-02T15:00:00Z",
		ClientName:  "Jo March",
		ClientEmail: "jo@example.com",
	}, ny)

	if !strings.Contains(subject, "private lesson") {
		t.Fatalf("subject should name the service, got %q", subject)
	}
	// 15:00 UTC is 10:00 in New York on that date.
	if !strings.Contains(body, "10:00 AM") {
		t.Fatalf("body should show studio-local time, got %q", body)
	}
	if !strings.Contains(body, "Jo March") {
		t.Fatalf("body should greet the client, got %q", body)
	}
	if !strings.Contains(body, "5f7a1c9e") {
		t.Fatalf("body should carry the booking reference, got %q", body)
	}
}

func TestRenderConfirmation_FallbacksWhenSparse(t *testing.T) {
	subject, body := RenderConfirmation(ConfirmedEvent{
		EventID:     "abc",
		ServiceKind: "something-new",
		StartTime:   "2026-03-02T15:00:00Z",
		ClientEmail: "x@example.com",
	}, nil)

	if !strings.Contains(subject, "something-new") {
		t.Fatalf("unknown kinds pass through, got %q", subject)
	}
	if !strings.Contains(body, "Hi there,") {
		t.Fatalf("missing name falls back to a generic greeting, got %q", body)
	}
}

func TestConfirmedEventValidate(t *testing.T) {
	valid := ConfirmedEvent{EventID: "abc", ClientEmail: "x@example.com", StartTime: "2026-03-02T15:00:00Z"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	for name, evt := range map[string]ConfirmedEvent{
		"no email":  {EventID: "abc", StartTime: "2026-03-02T15:00:00Z"},
		"no id":     {ClientEmail: "x@example.com", StartTime: "2026-03-02T15:00:00Z"},
		"bad start": {EventID: "abc", ClientEmail: "x@example.com", StartTime: "soon"},
	} {
		if err := evt.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
