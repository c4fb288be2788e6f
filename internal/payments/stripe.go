package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeEscrow backs the wage escrow with Stripe PaymentIntents: a manual-
// capture hold when a provider accepts, capture on completion, cancel when
// the provider releases the request.
type StripeEscrow struct{}

// NewStripeEscrow sets the package-level API key and returns the client.
func NewStripeEscrow(apiKey string) *StripeEscrow {
	stripe.Key = apiKey
	return &StripeEscrow{}
}

// Hold places a manual-capture hold for amount (in the currency's smallest
// unit) against the customer and returns the PaymentIntent ID.
func (s *StripeEscrow) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held wage.
func (s *StripeEscrow) Capture(ctx context.Context, ref string) error {
	_, err := paymentintent.Capture(ref, nil)
	return err
}

// Cancel releases a hold without charging.
func (s *StripeEscrow) Cancel(ctx context.Context, ref string) error {
	_, err := paymentintent.Cancel(ref, nil)
	return err
}
