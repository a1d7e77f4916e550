package policy

import (
	"context"
	"time"

	"creator-dm-backend/internal/apperrors"
	"creator-dm-backend/internal/models"
)

// DenyReason tells the caller exactly why a send was refused, so clients
// can render "subscribe to message" and "you are blocked" differently.
type DenyReason string

const (
	ReasonNone                 DenyReason = ""
	ReasonConversationBlocked  DenyReason = "conversation_blocked"
	ReasonMessagingDisabled    DenyReason = "messaging_disabled"
	ReasonSenderBlocked        DenyReason = "sender_blocked"
	ReasonSubscriptionRequired DenyReason = "subscription_required"
	ReasonDailyLimitReached    DenyReason = "daily_limit_reached"
)

// Decision is the outcome of a policy check. MessagePrice is informational:
// the creator's per-message price for non-subscribers, when set.
type Decision struct {
	Allowed      bool
	Reason       DenyReason
	MessagePrice *int64
}

// Err converts a denial into the forbidden error surfaced to the caller.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperrors.Forbidden(string(d.Reason))
}

// ConversationFinder looks up an existing conversation for an unordered
// participant pair. A nil conversation means none exists yet.
type ConversationFinder interface {
	FindByParticipants(ctx context.Context, userA, userB string) (*models.Conversation, error)
}

// CreatorDirectory resolves creator profiles and their messaging settings.
// GetCreatorByUserID returns nil when the user has no creator profile.
type CreatorDirectory interface {
	GetCreatorByUserID(ctx context.Context, userID string) (*models.Creator, error)
	GetSettings(ctx context.Context, creatorID string) (*models.ConversationSettings, error)
}

// SubscriptionChecker reports whether a user holds an active subscription
// to a creator.
type SubscriptionChecker interface {
	HasActiveSubscription(ctx context.Context, userID, creatorID string) (bool, error)
}

// MessageCounter counts a sender's messages in a conversation since a
// given instant, for the daily cap.
type MessageCounter interface {
	CountSentSince(ctx context.Context, conversationID, senderID string, since time.Time) (int, error)
}

// Engine decides whether one user may message another. It is stateless:
// every check re-reads the creator's settings, so policy changes take
// effect immediately, mid-conversation included.
type Engine struct {
	conversations ConversationFinder
	creators      CreatorDirectory
	subscriptions SubscriptionChecker
	messages      MessageCounter
}

func NewEngine(
	conversations ConversationFinder,
	creators CreatorDirectory,
	subscriptions SubscriptionChecker,
	messages MessageCounter,
) *Engine {
	return &Engine{
		conversations: conversations,
		creators:      creators,
		subscriptions: subscriptions,
		messages:      messages,
	}
}

// CanSend evaluates the rule chain in order; the first applicable rule
// wins. Blocking is bilateral: a blocked conversation denies both parties.
func (e *Engine) CanSend(ctx context.Context, senderID, recipientID string) (Decision, error) {
	conv, err := e.conversations.FindByParticipants(ctx, senderID, recipientID)
	if err != nil {
		return Decision{}, err
	}
	if conv != nil && conv.IsBlocked {
		return Decision{Reason: ReasonConversationBlocked}, nil
	}

	creator, err := e.creators.GetCreatorByUserID(ctx, recipientID)
	if err != nil {
		return Decision{}, err
	}
	if creator == nil {
		// Recipient is not a creator, no per-creator policy applies.
		return Decision{Allowed: true}, nil
	}

	settings, err := e.creators.GetSettings(ctx, creator.ID)
	if err != nil {
		return Decision{}, err
	}

	if !settings.AllowMessages {
		return Decision{Reason: ReasonMessagingDisabled}, nil
	}
	if settings.IsBlockedUser(senderID) {
		return Decision{Reason: ReasonSenderBlocked}, nil
	}

	// VIP users bypass the subscription gate and the daily cap.
	if settings.IsVIP(senderID) {
		return Decision{Allowed: true}, nil
	}

	subscribed, err := e.subscriptions.HasActiveSubscription(ctx, senderID, creator.ID)
	if err != nil {
		return Decision{}, err
	}
	if settings.RequireSubscription && !subscribed {
		return Decision{Reason: ReasonSubscriptionRequired}, nil
	}

	if settings.MaxMessagesPerDay != nil && conv != nil {
		sent, err := e.messages.CountSentSince(ctx, conv.ID, senderID, midnightUTC(time.Now()))
		if err != nil {
			return Decision{}, err
		}
		if sent >= *settings.MaxMessagesPerDay {
			return Decision{Reason: ReasonDailyLimitReached}, nil
		}
	}

	decision := Decision{Allowed: true}
	if !subscribed && settings.MessagePrice != nil {
		decision.MessagePrice = settings.MessagePrice
	}
	return decision, nil
}

func midnightUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
