package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"creator-dm-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler handles the realtime channel
type WebSocketHandler struct {
	hub  *services.WSHub
	auth *services.AuthService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *services.WSHub, auth *services.AuthService) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, auth: auth}
}

// HandleWebSocket handles GET /ws?token=. The server pushes message
// events; inbound frames carry no protocol and are echoed back for
// liveness. A dropped connection only removes the user from the registry,
// nothing in flight is cancelled.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondErrorMsg(w, "token required", http.StatusUnauthorized)
		return
	}

	userID, err := h.auth.ValidateJWT(token)
	if err != nil {
		respondErrorMsg(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID, conn)

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		if !json.Valid(frame) {
			h.hub.Deliver(services.WSEvent{Type: services.EventError, Text: "invalid frame"}, userID)
			continue
		}
		h.hub.Echo(userID, json.RawMessage(frame))
	}
}
