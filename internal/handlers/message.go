package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"creator-dm-backend/internal/middleware"
	"creator-dm-backend/internal/services"
)

// Media uploads are bounded; anything larger belongs in the content
// catalog, not a direct message.
const maxMediaBytes = 50 << 20

// MessageHandler handles message-related HTTP requests
type MessageHandler struct {
	conversations *services.ConversationService
	payments      *services.PaymentService
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(conversations *services.ConversationService, payments *services.PaymentService) *MessageHandler {
	return &MessageHandler{conversations: conversations, payments: payments}
}

// SendMessageRequest represents the request body for a text send
type SendMessageRequest struct {
	Body                string  `json:"body"`
	IsPPV               bool    `json:"is_ppv"`
	PPVPrice            *int64  `json:"ppv_price,omitempty"`
	PPVPreview          *string `json:"ppv_preview,omitempty"`
	AutoDestructSeconds *int64  `json:"auto_destruct_seconds,omitempty"`
}

// SendMessage handles POST /api/v1/conversations/{conversation_id}/messages
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "conversation_id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMsg(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.conversations.SendMessage(ctx, conversationID, userID, services.SendMessageInput{
		Body:                req.Body,
		IsPPV:               req.IsPPV,
		PPVPrice:            req.PPVPrice,
		PPVPreview:          req.PPVPreview,
		AutoDestructSeconds: req.AutoDestructSeconds,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("conversation_id", conversationID).
			Msg("Failed to send message")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, msg)
}

// SendMedia handles POST /api/v1/conversations/{conversation_id}/media
func (h *MessageHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "conversation_id")

	if err := r.ParseMultipartForm(maxMediaBytes); err != nil {
		respondErrorMsg(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondErrorMsg(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxMediaBytes+1))
	if err != nil {
		respondErrorMsg(w, "Failed to read file", http.StatusBadRequest)
		return
	}
	if len(data) > maxMediaBytes {
		respondErrorMsg(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	in := services.SendMediaInput{
		Data:     data,
		MimeType: header.Header.Get("Content-Type"),
	}
	if r.FormValue("is_ppv") == "true" {
		in.IsPPV = true
	}
	if v := r.FormValue("ppv_price"); v != "" {
		price, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondErrorMsg(w, "ppv_price must be an integer amount in cents", http.StatusBadRequest)
			return
		}
		in.PPVPrice = &price
	}
	if v := r.FormValue("ppv_preview"); v != "" {
		in.PPVPreview = &v
	}
	if v := r.FormValue("auto_destruct_seconds"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondErrorMsg(w, "auto_destruct_seconds must be an integer", http.StatusBadRequest)
			return
		}
		in.AutoDestructSeconds = &secs
	}

	msg, err := h.conversations.SendMedia(ctx, conversationID, userID, in)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("conversation_id", conversationID).
			Msg("Failed to send media message")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, msg)
}

// ListMessages handles GET /api/v1/conversations/{conversation_id}/messages
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "conversation_id")

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	messages, total, err := h.conversations.ListMessages(ctx, conversationID, userID, limit, offset)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("conversation_id", conversationID).
			Msg("Failed to list messages")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"total":    total,
	})
}

// GetMessageFile handles GET /api/v1/messages/{message_id}/file
func (h *MessageHandler) GetMessageFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "message_id")

	data, mime, err := h.conversations.GetMessageFile(ctx, messageID, userID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("message_id", messageID).
			Msg("Failed to fetch message file")
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", "inline")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// InitiateUnlock handles POST /api/v1/messages/{message_id}/unlock
func (h *MessageHandler) InitiateUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "message_id")

	intent, err := h.payments.InitiateUnlock(ctx, messageID, userID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("message_id", messageID).
			Msg("Failed to initiate unlock")
		respondError(w, err)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("message_id", messageID).
		Str("session_id", intent.SessionID).
		Msg("Unlock initiated")

	respondJSON(w, http.StatusOK, intent)
}
