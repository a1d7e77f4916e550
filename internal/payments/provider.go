package payments

import "context"

// SessionRequest describes one checkout session to create.
type SessionRequest struct {
	Amount      int64 // cents
	Currency    string
	ProductName string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Session is the provider's handle for one attempted payment.
type Session struct {
	ID  string
	URL string
}

// SessionStatus is the provider's current view of a session.
type SessionStatus struct {
	Paid        bool
	AmountTotal int64 // cents
	Currency    string
	Metadata    map[string]string
}

// WebhookEvent is a verified provider callback.
type WebhookEvent struct {
	Type      string
	SessionID string
	Completed bool
	Metadata  map[string]string
}

// CheckoutProvider is the external payment collaborator. The core never
// trusts client-supplied payment state; status comes only from here.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
