package payment

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

// StripeProvider creates real PaymentIntents with manual capture, so the
// studio can void the deposit if the lesson is cancelled in time.
type StripeProvider struct {
	currency string
}

func NewStripeProvider(secretKey, currency string) *StripeProvider {
	stripe.Key = strings.TrimSpace(secretKey)
	currency = strings.TrimSpace(strings.ToLower(currency))
	if currency == "" {
		currency = "usd"
	}
	return &StripeProvider{currency: currency}
}

func (p *StripeProvider) CreateDepositIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	currency := req.Currency
	if currency == "" {
		currency = p.currency
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		ReceiptEmail:  stripe.String(req.ClientEmail),
	}
	params.Context = ctx
	params.AddMetadata("event_id", req.EventID)
	params.AddMetadata("service_kind", string(req.ServiceKind))

	pi, err := paymentintent.New(params)
	if err != nil {
		return Intent{}, err
	}
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}
