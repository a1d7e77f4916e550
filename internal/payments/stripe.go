package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"creator-dm-backend/internal/apperrors"
)

// StripeProvider implements CheckoutProvider on Stripe Checkout.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider configures the Stripe client. apiKey is set
// process-wide, matching the stripe-go package model.
func NewStripeProvider(apiKey, webhookSecret string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{webhookSecret: webhookSecret}
}

// CreateSession opens a one-off payment checkout session.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := session.New(params)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProvider, "failed to create checkout session", err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

// GetStatus queries the provider for the session's current payment state.
func (p *StripeProvider) GetStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := session.Get(sessionID, params)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProvider, "failed to get checkout session", err)
	}

	return &SessionStatus{
		Paid:        s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal: s.AmountTotal,
		Currency:    string(s.Currency),
		Metadata:    s.Metadata,
	}, nil
}

// VerifyWebhook checks the signature and extracts the session reference.
// A bad signature is a provider error, never processed further.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProvider, "invalid webhook signature", err)
	}

	wh := &WebhookEvent{Type: string(event.Type)}
	switch event.Type {
	case "checkout.session.completed", "checkout.session.expired":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeProvider,
				fmt.Sprintf("malformed %s payload", event.Type), err)
		}
		wh.SessionID = s.ID
		wh.Completed = event.Type == "checkout.session.completed"
		wh.Metadata = s.Metadata
	}
	return wh, nil
}
