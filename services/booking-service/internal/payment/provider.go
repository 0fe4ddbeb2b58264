package payment

import (
	"context"

	"github.com/studiovoce/booking/services/booking-service/internal/booking"
)

// Intent is a created (uncaptured) deposit charge. Capture and refunds
// happen elsewhere; the booking funnel only needs the client secret to hand
// to the browser.
type Intent struct {
	ID           string
	ClientSecret string
	AmountCents  int64
	Currency     string
}

// IntentRequest describes the deposit for an accepted booking.
type IntentRequest struct {
	EventID     string
	ServiceKind booking.ServiceKind
	AmountCents int64
	Currency    string
	ClientEmail string
}

// Provider creates deposit payment intents. Implementations: Stripe for
// production, Mock for dev and tests. Selected by configuration.
type Provider interface {
	CreateDepositIntent(ctx context.Context, req IntentRequest) (Intent, error)
}
