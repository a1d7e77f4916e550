package services

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// WSEvent is the JSON frame pushed to connected clients. Message payloads
// are the decrypted wire DTOs; ciphertext and key material never travel
// over this path.
type WSEvent struct {
	Type    string      `json:"type"`
	Message *MessageDTO `json:"message,omitempty"`
	Online  *bool       `json:"online,omitempty"`
	Text    string      `json:"text,omitempty"`
}

const (
	EventNewMessage      = "new_message"
	EventMessageUnlocked = "message_unlocked"
	EventPeerStatus      = "peer_status"
	EventError           = "error"
)

// Conn is the subset of a websocket connection the hub needs. Narrowed to
// an interface so delivery can be exercised without a network.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// WSHub maintains the per-user live connection registry. One connection
// per user: the last connection wins and supersedes any prior one. The
// registry is process-scoped; cross-instance fan-out would need an
// external relay.
type WSHub struct {
	mu          sync.RWMutex
	connections map[string]Conn
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{connections: make(map[string]Conn)}
}

// Register registers a connection for a user, closing any prior one.
func (h *WSHub) Register(userID string, conn Conn) {
	h.mu.Lock()
	if existing, ok := h.connections[userID]; ok {
		existing.Close()
	}
	h.connections[userID] = conn
	h.mu.Unlock()

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")
}

// Unregister removes the user's connection, but only if it is still the
// one being unregistered; a superseding connection stays registered.
func (h *WSHub) Unregister(userID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.connections[userID]; ok && current == conn {
		current.Close()
		delete(h.connections, userID)
		log.Info().Str("user_id", userID).Msg("WebSocket connection unregistered")
	}
}

// IsOnline checks if a user has a live connection
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[userID]
	return ok
}

// SendToUser pushes one event to a connected user.
func (h *WSHub) SendToUser(userID string, event WSEvent) error {
	h.mu.RLock()
	conn, ok := h.connections[userID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("user %s is not connected", userID)
	}

	if err := conn.WriteJSON(event); err != nil {
		h.Unregister(userID, conn)
		return fmt.Errorf("failed to send event: %w", err)
	}
	return nil
}

// Deliver pushes an event to each connected recipient. Disconnected
// recipients are dropped silently; the message store stays the durable
// source of truth and clients reconcile on reconnect.
func (h *WSHub) Deliver(event WSEvent, recipientIDs ...string) {
	for _, id := range recipientIDs {
		if err := h.SendToUser(id, event); err != nil {
			log.Debug().Str("user_id", id).Str("type", event.Type).Msg("Dropped realtime event")
		}
	}
}

// Echo writes an arbitrary inbound frame back to its sender. The inbound
// protocol is liveness only.
func (h *WSHub) Echo(userID string, frame json.RawMessage) {
	h.mu.RLock()
	conn, ok := h.connections[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := conn.WriteJSON(frame); err != nil {
		h.Unregister(userID, conn)
	}
}
