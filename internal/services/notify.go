package services

import (
	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"creator-dm-backend/internal/config"
	"creator-dm-backend/internal/models"
)

// PushNotifier alerts a user out-of-band when they miss a realtime event.
// Best effort only, like the channel it backs up.
type PushNotifier interface {
	NotifyNewMessage(user *models.User, conversationID string)
}

// APNsNotifier sends APNs alerts to users with a registered device token.
type APNsNotifier struct {
	client *apns2.Client
	topic  string
}

// NewAPNsNotifier builds an APNs notifier from config. Returns nil (no-op
// in callers) when push is disabled.
func NewAPNsNotifier(cfg config.APNsConfig) (*APNsNotifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsNotifier{client: client, topic: cfg.Topic}, nil
}

// NotifyNewMessage pushes a generic new-message alert. The alert never
// carries message content.
func (n *APNsNotifier) NotifyNewMessage(user *models.User, conversationID string) {
	if user.PushToken == nil || *user.PushToken == "" {
		return
	}

	p := payload.NewPayload().
		Alert("You have a new message").
		Sound("default").
		Custom("conversation_id", conversationID)

	notification := &apns2.Notification{
		DeviceToken: *user.PushToken,
		Topic:       n.topic,
		Payload:     p,
	}

	res, err := n.client.Push(notification)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to send push notification")
		return
	}
	if !res.Sent() {
		log.Warn().
			Str("user_id", user.ID).
			Str("reason", res.Reason).
			Msg("Push notification rejected")
	}
}
