package models

import "time"

// MessageType is the closed set of message kinds a conversation can carry.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeTip   MessageType = "tip"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeTip:
		return true
	}
	return false
}

// HasBody reports whether messages of this type carry an encrypted text body.
func (t MessageType) HasBody() bool {
	switch t {
	case MessageTypeText, MessageTypeTip:
		return true
	}
	return false
}

// SenderType identifies which conversation role produced a message. It is
// derived from the conversation record, never taken from client input.
type SenderType string

const (
	SenderTypeCreator SenderType = "creator"
	SenderTypeFan     SenderType = "fan"
)

// TransactionType is the closed set of checkout purposes.
type TransactionType string

const (
	TransactionTypePPVUnlock    TransactionType = "ppv_unlock"
	TransactionTypeTip          TransactionType = "tip"
	TransactionTypeSubscription TransactionType = "subscription"
)

// PaymentStatus is the lifecycle of a checkout-backed payment record.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// SubscriptionStatus is the lifecycle of a fan-creator subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// User represents a platform account. Owned by the account subsystem;
// the messaging core reads it but never mutates it.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	IsCreator bool      `json:"is_creator"`
	PushToken *string   `json:"push_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Creator is a user's creator profile.
type Creator struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversationSettings is a creator's messaging policy. Read on every send
// attempt so policy changes apply immediately.
type ConversationSettings struct {
	CreatorID           string   `json:"creator_id"`
	AllowMessages       bool     `json:"allow_messages"`
	RequireSubscription bool     `json:"require_subscription"`
	MessagePrice        *int64   `json:"message_price,omitempty"` // cents, for non-subscribers
	BlockedUserIDs      []string `json:"blocked_user_ids"`
	VIPUserIDs          []string `json:"vip_user_ids"`
	MaxMessagesPerDay   *int     `json:"max_messages_per_day,omitempty"`
}

// IsBlockedUser reports whether userID is on the creator's block list.
func (s *ConversationSettings) IsBlockedUser(userID string) bool {
	for _, id := range s.BlockedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsVIP reports whether userID is on the creator's VIP list.
func (s *ConversationSettings) IsVIP(userID string) bool {
	for _, id := range s.VIPUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Conversation links exactly one creator and one fan. At most one exists
// per unordered participant pair.
type Conversation struct {
	ID            string     `json:"id"`
	CreatorID     string     `json:"creator_id"` // user id of the creator-side participant
	FanID         string     `json:"fan_id"`
	IsBlocked     bool       `json:"is_blocked"`
	BlockedBy     *string    `json:"blocked_by,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsParticipant reports whether userID occupies one of the two roles.
func (c *Conversation) IsParticipant(userID string) bool {
	return c.CreatorID == userID || c.FanID == userID
}

// PeerOf returns the other participant's user id.
func (c *Conversation) PeerOf(userID string) string {
	if c.CreatorID == userID {
		return c.FanID
	}
	return c.CreatorID
}

// SenderTypeOf returns the role userID occupies in the conversation.
func (c *Conversation) SenderTypeOf(userID string) SenderType {
	if c.CreatorID == userID {
		return SenderTypeCreator
	}
	return SenderTypeFan
}

// Message is one direct message. Content is stored encrypted; it is never
// mutated after creation except for read state.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	SenderType     SenderType  `json:"sender_type"`
	Type           MessageType `json:"message_type"`
	Content        string      `json:"content,omitempty"` // ciphertext at rest
	BlobID         *string     `json:"blob_id,omitempty"`
	MimeType       *string     `json:"mime_type,omitempty"`
	SizeBytes      *int64      `json:"size_bytes,omitempty"`
	ContentHash    *string     `json:"content_hash,omitempty"`
	IsPPV          bool        `json:"is_ppv"`
	PPVPrice       *int64      `json:"ppv_price,omitempty"` // cents
	PPVPreview     *string     `json:"ppv_preview,omitempty"`
	IsTip          bool        `json:"is_tip"`
	TipAmount      *int64      `json:"tip_amount,omitempty"` // cents
	IsRead         bool        `json:"is_read"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	AutoDestructAt *time.Time  `json:"auto_destruct_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Expired reports whether the message is past its auto-destruct instant.
func (m *Message) Expired(now time.Time) bool {
	return m.AutoDestructAt != nil && !now.Before(*m.AutoDestructAt)
}

// Payment is one checkout-backed transaction. For PPV unlocks, MessageID
// and PayerID identify the unlock pair; at most one such record may reach
// status paid.
type Payment struct {
	ID             string          `json:"id"`
	PayerID        string          `json:"payer_id"`
	CreatorID      *string         `json:"creator_id,omitempty"`
	MessageID      *string         `json:"message_id,omitempty"`
	ConversationID *string         `json:"conversation_id,omitempty"`
	Amount         int64           `json:"amount"` // cents
	Currency       string          `json:"currency"`
	Type           TransactionType `json:"transaction_type"`
	SessionID      string          `json:"session_id"`
	Status         PaymentStatus   `json:"payment_status"`
	PlanType       *string         `json:"plan_type,omitempty"`
	TipNote        *string         `json:"tip_note,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Subscription is a fan's paid subscription to a creator.
type Subscription struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	CreatorID string             `json:"creator_id"`
	PlanType  string             `json:"plan_type"`
	Status    SubscriptionStatus `json:"status"`
	ExpiresAt time.Time          `json:"expires_at"`
	CreatedAt time.Time          `json:"created_at"`
}
