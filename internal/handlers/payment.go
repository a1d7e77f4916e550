package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"creator-dm-backend/internal/middleware"
	"creator-dm-backend/internal/services"
)

// PaymentHandler handles payment-related HTTP requests
type PaymentHandler struct {
	payments *services.PaymentService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// TipRequest represents the request body for a tip
type TipRequest struct {
	ConversationID string `json:"conversation_id"`
	Amount         int64  `json:"amount"` // cents
	Note           string `json:"note,omitempty"`
}

// CreateTip handles POST /api/v1/payments/tip
func (h *PaymentHandler) CreateTip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req TipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMsg(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	intent, err := h.payments.InitiateTip(ctx, userID, services.TipInput{
		ConversationID: req.ConversationID,
		Amount:         req.Amount,
		Note:           req.Note,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("conversation_id", req.ConversationID).
			Msg("Failed to initiate tip")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, intent)
}

// SubscribeRequest represents the request body for a subscription
type SubscribeRequest struct {
	CreatorID string `json:"creator_id"`
	PlanType  string `json:"plan_type"`
}

// CreateSubscription handles POST /api/v1/payments/subscribe
func (h *PaymentHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMsg(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	intent, err := h.payments.InitiateSubscription(ctx, userID, req.CreatorID, req.PlanType)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("creator_id", req.CreatorID).
			Msg("Failed to initiate subscription")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, intent)
}

// GetPaymentStatus handles GET /api/v1/payments/status/{session_id}.
// Polling it is one of the two confirmation paths; the webhook is the
// other, and both are safe to race.
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	sessionID := chi.URLParam(r, "session_id")

	result, err := h.payments.ConfirmSession(ctx, sessionID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("session_id", sessionID).
			Msg("Failed to confirm payment session")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// StripeWebhook handles POST /api/v1/webhooks/stripe
func (h *PaymentHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondErrorMsg(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.payments.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		log.Error().Err(err).Msg("Webhook processing failed")
		respondErrorMsg(w, "Webhook processing failed", http.StatusBadRequest)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
