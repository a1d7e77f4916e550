package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"creator-dm-backend/internal/apperrors"
	"creator-dm-backend/internal/crypto"
	"creator-dm-backend/internal/models"
	"creator-dm-backend/internal/payments"
)

// PaymentRepo is the store surface for checkout-backed payments.
type PaymentRepo interface {
	Create(ctx context.Context, p *models.Payment) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	FindPaidUnlock(ctx context.Context, messageID, payerID string) (*models.Payment, error)
	MarkPaid(ctx context.Context, sessionID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, sessionID string) error
}

// SubscriptionRepo is the store surface for subscriptions.
type SubscriptionRepo interface {
	Create(ctx context.Context, sub *models.Subscription) error
	HasActiveSubscription(ctx context.Context, userID, creatorID string) (bool, error)
}

// SubscriptionPlan is one purchasable plan.
type SubscriptionPlan struct {
	Name  string
	Price int64 // cents
}

// SubscriptionPlans mirrors the platform's fixed plan table.
var SubscriptionPlans = map[string]SubscriptionPlan{
	"basic":   {Name: "Basic Plan", Price: 999},
	"premium": {Name: "Premium Plan", Price: 1999},
	"vip":     {Name: "VIP Plan", Price: 4999},
}

const (
	subscriptionDays = 30
	minTipAmount     = 100 // cents
	currencyUSD      = "usd"
)

// CheckoutIntent is returned to a client that must complete payment with
// the external provider.
type CheckoutIntent struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// PaymentStatusResult is the outcome of a confirmation poll.
type PaymentStatusResult struct {
	Status   models.PaymentStatus `json:"payment_status"`
	Amount   int64                `json:"amount"`
	Currency string               `json:"currency"`
}

// PaymentService coordinates message-level paywalls, tips, and
// subscriptions with the external checkout provider. Local payment state
// transitions only on provider confirmation, never on client input.
type PaymentService struct {
	paymentRepo PaymentRepo
	subRepo     SubscriptionRepo
	msgRepo     MessageRepo
	convRepo    ConversationRepo
	creatorRepo CreatorRepo
	provider    payments.CheckoutProvider
	envelope    *crypto.Envelope
	hub         *WSHub
	baseURL     string
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	paymentRepo PaymentRepo,
	subRepo SubscriptionRepo,
	msgRepo MessageRepo,
	convRepo ConversationRepo,
	creatorRepo CreatorRepo,
	provider payments.CheckoutProvider,
	envelope *crypto.Envelope,
	hub *WSHub,
	baseURL string,
) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		subRepo:     subRepo,
		msgRepo:     msgRepo,
		convRepo:    convRepo,
		creatorRepo: creatorRepo,
		provider:    provider,
		envelope:    envelope,
		hub:         hub,
		baseURL:     baseURL,
	}
}

// InitiateUnlock opens a checkout session for a PPV message and records
// the pending unlock.
func (s *PaymentService) InitiateUnlock(ctx context.Context, messageID, payerID string) (*CheckoutIntent, error) {
	msg, err := s.msgRepo.GetByID(ctx, messageID, time.Now())
	if err != nil {
		return nil, err
	}

	conv, err := s.convRepo.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(payerID) {
		return nil, apperrors.Forbidden("payer is not a participant")
	}
	if !msg.IsPPV || msg.PPVPrice == nil {
		return nil, apperrors.InvalidArg("message is not pay-per-view")
	}
	if msg.SenderID == payerID {
		return nil, apperrors.InvalidArg("sender cannot unlock their own message")
	}

	existing, err := s.paymentRepo.FindPaidUnlock(ctx, messageID, payerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.AlreadyPaid("message already unlocked")
	}

	session, err := s.provider.CreateSession(ctx, payments.SessionRequest{
		Amount:      *msg.PPVPrice,
		Currency:    currencyUSD,
		ProductName: "Message unlock",
		SuccessURL:  s.baseURL + "/unlock-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.baseURL + "/messages",
		Metadata: map[string]string{
			"type":       string(models.TransactionTypePPVUnlock),
			"message_id": messageID,
			"payer_id":   payerID,
		},
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:             uuid.New().String(),
		PayerID:        payerID,
		MessageID:      &messageID,
		ConversationID: &msg.ConversationID,
		Amount:         *msg.PPVPrice,
		Currency:       currencyUSD,
		Type:           models.TransactionTypePPVUnlock,
		SessionID:      session.ID,
		Status:         models.PaymentStatusPending,
		CreatedAt:      time.Now(),
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	return &CheckoutIntent{CheckoutURL: session.URL, SessionID: session.ID}, nil
}

// TipInput is a request to tip the creator side of a conversation.
type TipInput struct {
	ConversationID string
	Amount         int64
	Note           string
}

// InitiateTip opens a checkout session for a tip. On confirmation a tip
// message is added to the conversation.
func (s *PaymentService) InitiateTip(ctx context.Context, payerID string, in TipInput) (*CheckoutIntent, error) {
	if in.Amount < minTipAmount {
		return nil, apperrors.InvalidArg("minimum tip amount is $1.00")
	}

	conv, err := s.convRepo.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(payerID) {
		return nil, apperrors.Forbidden("payer is not a participant")
	}
	if conv.CreatorID == payerID {
		return nil, apperrors.InvalidArg("creators cannot tip their own conversation")
	}

	creator, err := s.creatorRepo.GetCreatorByUserID(ctx, conv.CreatorID)
	if err != nil {
		return nil, err
	}
	if creator == nil {
		return nil, apperrors.NotFound("creator not found")
	}

	session, err := s.provider.CreateSession(ctx, payments.SessionRequest{
		Amount:      in.Amount,
		Currency:    currencyUSD,
		ProductName: fmt.Sprintf("Tip for %s", creator.DisplayName),
		SuccessURL:  s.baseURL + "/tip-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.baseURL + "/messages",
		Metadata: map[string]string{
			"type":            string(models.TransactionTypeTip),
			"conversation_id": conv.ID,
			"payer_id":        payerID,
		},
	})
	if err != nil {
		return nil, err
	}

	var note *string
	if in.Note != "" {
		note = &in.Note
	}
	payment := &models.Payment{
		ID:             uuid.New().String(),
		PayerID:        payerID,
		CreatorID:      &creator.ID,
		ConversationID: &conv.ID,
		Amount:         in.Amount,
		Currency:       currencyUSD,
		Type:           models.TransactionTypeTip,
		SessionID:      session.ID,
		Status:         models.PaymentStatusPending,
		TipNote:        note,
		CreatedAt:      time.Now(),
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	return &CheckoutIntent{CheckoutURL: session.URL, SessionID: session.ID}, nil
}

// InitiateSubscription opens a checkout session for a subscription plan.
func (s *PaymentService) InitiateSubscription(ctx context.Context, payerID, creatorID, planType string) (*CheckoutIntent, error) {
	plan, ok := SubscriptionPlans[planType]
	if !ok {
		return nil, apperrors.InvalidArg("invalid subscription plan")
	}

	creator, err := s.creatorRepo.GetByID(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	subscribed, err := s.subRepo.HasActiveSubscription(ctx, payerID, creator.ID)
	if err != nil {
		return nil, err
	}
	if subscribed {
		return nil, apperrors.InvalidArg("already subscribed to this creator")
	}

	session, err := s.provider.CreateSession(ctx, payments.SessionRequest{
		Amount:      plan.Price,
		Currency:    currencyUSD,
		ProductName: plan.Name,
		SuccessURL:  s.baseURL + "/subscription-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.baseURL + "/creators/" + creatorID,
		Metadata: map[string]string{
			"type":       string(models.TransactionTypeSubscription),
			"creator_id": creatorID,
			"payer_id":   payerID,
			"plan_type":  planType,
		},
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:        uuid.New().String(),
		PayerID:   payerID,
		CreatorID: &creatorID,
		Amount:    plan.Price,
		Currency:  currencyUSD,
		Type:      models.TransactionTypeSubscription,
		SessionID: session.ID,
		Status:    models.PaymentStatusPending,
		PlanType:  &planType,
		CreatedAt: time.Now(),
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	return &CheckoutIntent{CheckoutURL: session.URL, SessionID: session.ID}, nil
}

// ConfirmSession polls the provider and, if the session is paid, applies
// the transition. Safe under concurrent/duplicate delivery: the store's
// conditional update lets exactly one caller through, everyone else gets
// a no-op confirmation of the already-paid state.
func (s *PaymentService) ConfirmSession(ctx context.Context, sessionID string) (*PaymentStatusResult, error) {
	payment, err := s.paymentRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	status, err := s.provider.GetStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &PaymentStatusResult{
		Status:   payment.Status,
		Amount:   payment.Amount,
		Currency: payment.Currency,
	}
	if !status.Paid {
		return result, nil
	}

	result.Status = models.PaymentStatusPaid
	if err := s.settle(ctx, payment); err != nil {
		return nil, err
	}
	return result, nil
}

// HandleWebhook verifies and processes an asynchronous provider callback.
// Replays and poll/webhook races collapse into the same settle path.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.VerifyWebhook(payload, signature)
	if err != nil {
		return err
	}

	switch {
	case event.Completed && event.SessionID != "":
		payment, err := s.paymentRepo.GetBySessionID(ctx, event.SessionID)
		if err != nil {
			return err
		}
		return s.settle(ctx, payment)
	case event.Type == "checkout.session.expired":
		return s.paymentRepo.MarkFailed(ctx, event.SessionID)
	default:
		log.Debug().Str("type", event.Type).Msg("Ignoring webhook event")
		return nil
	}
}

// settle flips the payment to paid and runs its post-payment effect. The
// conditional update guarantees the effect runs exactly once per session.
func (s *PaymentService) settle(ctx context.Context, payment *models.Payment) error {
	flipped, err := s.paymentRepo.MarkPaid(ctx, payment.SessionID, time.Now())
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	log.Info().
		Str("session_id", payment.SessionID).
		Str("transaction_type", string(payment.Type)).
		Int64("amount", payment.Amount).
		Msg("Payment confirmed")

	switch payment.Type {
	case models.TransactionTypePPVUnlock:
		return s.applyUnlock(payment)
	case models.TransactionTypeTip:
		return s.applyTip(ctx, payment)
	case models.TransactionTypeSubscription:
		return s.applySubscription(ctx, payment)
	default:
		return apperrors.Internal("unknown transaction type " + string(payment.Type))
	}
}

// applyUnlock notifies the payer that gated content is now readable. The
// paid record itself is the unlock; readers consult it directly.
func (s *PaymentService) applyUnlock(payment *models.Payment) error {
	if payment.MessageID != nil {
		s.hub.Deliver(WSEvent{Type: EventMessageUnlocked, Text: *payment.MessageID}, payment.PayerID)
	}
	return nil
}

// applyTip adds the tip message to the conversation.
func (s *PaymentService) applyTip(ctx context.Context, payment *models.Payment) error {
	if payment.ConversationID == nil {
		return apperrors.Internal("tip payment has no conversation")
	}
	conv, err := s.convRepo.GetByID(ctx, *payment.ConversationID)
	if err != nil {
		return err
	}

	note := fmt.Sprintf("Sent a $%.2f tip", float64(payment.Amount)/100)
	if payment.TipNote != nil && *payment.TipNote != "" {
		note = *payment.TipNote
	}
	sealed, err := s.envelope.Seal(note)
	if err != nil {
		return err
	}

	amount := payment.Amount
	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       payment.PayerID,
		SenderType:     conv.SenderTypeOf(payment.PayerID),
		Type:           models.MessageTypeTip,
		Content:        sealed,
		IsTip:          true,
		TipAmount:      &amount,
		CreatedAt:      time.Now(),
	}
	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return err
	}
	if err := s.convRepo.TouchLastMessage(ctx, conv.ID, msg.CreatedAt); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("Failed to touch conversation")
	}

	dto := &MessageDTO{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderType:     string(msg.SenderType),
		MessageType:    string(msg.Type),
		Content:        note,
		IsTip:          true,
		TipAmount:      &amount,
		CreatedAt:      msg.CreatedAt,
	}
	s.hub.Deliver(WSEvent{Type: EventNewMessage, Message: dto}, conv.CreatorID, conv.FanID)
	return nil
}

// applySubscription writes the active subscription; the policy engine
// sees it on the next send attempt.
func (s *PaymentService) applySubscription(ctx context.Context, payment *models.Payment) error {
	if payment.CreatorID == nil || payment.PlanType == nil {
		return apperrors.Internal("subscription payment is missing creator or plan")
	}
	sub := &models.Subscription{
		ID:        uuid.New().String(),
		UserID:    payment.PayerID,
		CreatorID: *payment.CreatorID,
		PlanType:  *payment.PlanType,
		Status:    models.SubscriptionStatusActive,
		ExpiresAt: time.Now().AddDate(0, 0, subscriptionDays),
		CreatedAt: time.Now(),
	}
	return s.subRepo.Create(ctx, sub)
}
