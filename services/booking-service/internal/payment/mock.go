package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MockProvider issues deterministic-shaped intents without calling out.
// Default in development so the booking funnel works end to end offline.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) CreateDepositIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if req.AmountCents <= 0 {
		return Intent{}, fmt.Errorf("deposit amount must be positive, got %d", req.AmountCents)
	}
	id := "mock_pi_" + uuid.NewString()
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}
	return Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		AmountCents:  req.AmountCents,
		Currency:     currency,
	}, nil
}
