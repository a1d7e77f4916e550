package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"creator-dm-backend/internal/middleware"
	"creator-dm-backend/internal/models"
	"creator-dm-backend/internal/services"
)

// ConversationHandler handles conversation-related HTTP requests
type ConversationHandler struct {
	conversations *services.ConversationService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// CreateConversationRequest represents the request body for opening a
// conversation
type CreateConversationRequest struct {
	PeerID string `json:"peer_id"`
}

// CreateConversation handles POST /api/v1/conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMsg(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.conversations.GetOrCreateConversation(ctx, userID, req.PeerID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("peer_id", req.PeerID).
			Msg("Failed to open conversation")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, conv)
}

// ListConversations handles GET /api/v1/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	conversations, err := h.conversations.ListConversations(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list conversations")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": conversations,
	})
}

// Block handles POST /api/v1/conversations/{conversation_id}/block
func (h *ConversationHandler) Block(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "conversation_id")

	if err := h.conversations.Block(ctx, conversationID, userID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("conversation_id", conversationID).
			Msg("Failed to block conversation")
		respondError(w, err)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("conversation_id", conversationID).
		Msg("Conversation blocked")

	w.WriteHeader(http.StatusNoContent)
}

// Unblock handles POST /api/v1/conversations/{conversation_id}/unblock
func (h *ConversationHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "conversation_id")

	if err := h.conversations.Unblock(ctx, conversationID, userID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("conversation_id", conversationID).
			Msg("Failed to unblock conversation")
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PushTokenRequest represents the request body for device registration
type PushTokenRequest struct {
	PushToken string `json:"push_token"`
}

// UpdatePushToken handles PUT /api/v1/users/push-token
func (h *ConversationHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req PushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMsg(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.conversations.RegisterPushToken(ctx, userID, req.PushToken); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update push token")
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /api/v1/creator/settings
func (h *ConversationHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	settings, err := h.conversations.GetSettings(ctx, userID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/v1/creator/settings
func (h *ConversationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var settings models.ConversationSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondErrorMsg(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.conversations.UpdateSettings(ctx, userID, &settings)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update settings")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}
