package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"creator-dm-backend/internal/apperrors"
	"creator-dm-backend/internal/crypto"
	"creator-dm-backend/internal/models"
	"creator-dm-backend/internal/policy"
	"creator-dm-backend/internal/storage"
)

// ConversationRepo is the store surface the conversation service needs.
type ConversationRepo interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	FindByParticipants(ctx context.Context, userA, userB string) (*models.Conversation, error)
	ListByUserID(ctx context.Context, userID string) ([]*models.Conversation, error)
	SetBlocked(ctx context.Context, id string, blocked bool, blockedBy *string) error
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}

// MessageRepo is the store surface for messages.
type MessageRepo interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string, now time.Time) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit, offset int, now time.Time) ([]*models.Message, int, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) error
	CountSentSince(ctx context.Context, conversationID, senderID string, since time.Time) (int, error)
}

// UserRepo resolves user records and keeps their device token current.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdatePushToken(ctx context.Context, userID string, pushToken *string) error
}

// CreatorRepo resolves creator profiles and settings.
type CreatorRepo interface {
	GetByID(ctx context.Context, id string) (*models.Creator, error)
	GetCreatorByUserID(ctx context.Context, userID string) (*models.Creator, error)
	GetSettings(ctx context.Context, creatorID string) (*models.ConversationSettings, error)
	UpsertSettings(ctx context.Context, settings *models.ConversationSettings) error
}

// UnlockChecker reports paid PPV unlocks.
type UnlockChecker interface {
	FindPaidUnlock(ctx context.Context, messageID, payerID string) (*models.Payment, error)
}

// ConversationService owns conversation and message lifecycle: lazy
// idempotent creation, policy-gated sends, encrypted persistence,
// read-state, expiry, and PPV read gating.
type ConversationService struct {
	convRepo    ConversationRepo
	msgRepo     MessageRepo
	userRepo    UserRepo
	creatorRepo CreatorRepo
	unlocks     UnlockChecker
	policy      *policy.Engine
	envelope    *crypto.Envelope
	blobs       storage.BlobStore
	hub         *WSHub
	notifier    PushNotifier
}

// NewConversationService creates a new conversation service. notifier may
// be nil when push is disabled.
func NewConversationService(
	convRepo ConversationRepo,
	msgRepo MessageRepo,
	userRepo UserRepo,
	creatorRepo CreatorRepo,
	unlocks UnlockChecker,
	policyEngine *policy.Engine,
	envelope *crypto.Envelope,
	blobs storage.BlobStore,
	hub *WSHub,
	notifier PushNotifier,
) *ConversationService {
	return &ConversationService{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		userRepo:    userRepo,
		creatorRepo: creatorRepo,
		unlocks:     unlocks,
		policy:      policyEngine,
		envelope:    envelope,
		blobs:       blobs,
		hub:         hub,
		notifier:    notifier,
	}
}

// GetOrCreateConversation returns the conversation for the unordered
// {userID, peerID} pair, creating it lazily. Creation is idempotent: an
// existing conversation is returned untouched regardless of which party
// asks.
func (s *ConversationService) GetOrCreateConversation(ctx context.Context, userID, peerID string) (*models.Conversation, error) {
	if peerID == "" || peerID == userID {
		return nil, apperrors.InvalidArg("peer_id must reference another user")
	}

	existing, err := s.convRepo.FindByParticipants(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if _, err := s.userRepo.GetByID(ctx, peerID); err != nil {
		return nil, err
	}

	decision, err := s.policy.CanSend(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, decision.Err()
	}

	creatorUserID, fanUserID, err := s.assignRoles(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}

	conv := &models.Conversation{
		ID:        uuid.New().String(),
		CreatorID: creatorUserID,
		FanID:     fanUserID,
		CreatedAt: time.Now(),
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}

	log.Info().
		Str("conversation_id", conv.ID).
		Str("creator_id", conv.CreatorID).
		Str("fan_id", conv.FanID).
		Msg("Conversation created")

	return conv, nil
}

// assignRoles picks the creator side of a new conversation. A user with a
// creator profile takes the creator role; when both have one, the
// lexicographically smaller user id becomes the fan, which keeps role
// assignment independent of who initiated.
func (s *ConversationService) assignRoles(ctx context.Context, userA, userB string) (creatorUserID, fanUserID string, err error) {
	creatorA, err := s.creatorRepo.GetCreatorByUserID(ctx, userA)
	if err != nil {
		return "", "", err
	}
	creatorB, err := s.creatorRepo.GetCreatorByUserID(ctx, userB)
	if err != nil {
		return "", "", err
	}

	switch {
	case creatorA == nil && creatorB == nil:
		return "", "", apperrors.InvalidArg("a direct conversation requires a creator participant")
	case creatorA != nil && creatorB == nil:
		return userA, userB, nil
	case creatorA == nil && creatorB != nil:
		return userB, userA, nil
	default:
		if strings.Compare(userA, userB) < 0 {
			return userB, userA, nil
		}
		return userA, userB, nil
	}
}

// SendMessageInput is the client-controlled part of a text send. The
// sender role is derived from the conversation, never from input.
type SendMessageInput struct {
	Body                string
	IsPPV               bool
	PPVPrice            *int64
	PPVPreview          *string
	AutoDestructSeconds *int64
}

// SendMessage validates, encrypts, and persists a text message, then
// fans it out best-effort to both participants.
func (s *ConversationService) SendMessage(ctx context.Context, conversationID, senderID string, in SendMessageInput) (*MessageDTO, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(senderID) {
		return nil, apperrors.Forbidden("sender is not a participant")
	}

	decision, err := s.policy.CanSend(ctx, senderID, conv.PeerOf(senderID))
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, decision.Err()
	}

	if strings.TrimSpace(in.Body) == "" {
		return nil, apperrors.InvalidArg("message body is required")
	}
	if err := validatePPV(in.IsPPV, in.PPVPrice); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderType:     conv.SenderTypeOf(senderID),
		Type:           models.MessageTypeText,
		IsPPV:          in.IsPPV,
		PPVPrice:       in.PPVPrice,
		PPVPreview:     in.PPVPreview,
		AutoDestructAt: destructAt(in.AutoDestructSeconds),
		CreatedAt:      time.Now(),
	}

	sealed, err := s.envelope.Seal(in.Body)
	if err != nil {
		return nil, err
	}
	msg.Content = sealed

	if err := s.persistAndDeliver(ctx, conv, msg); err != nil {
		return nil, err
	}
	return messageDTO(s.envelope, msg, true), nil
}

// SendMediaInput is an upload-and-send request.
type SendMediaInput struct {
	Data                []byte
	MimeType            string
	IsPPV               bool
	PPVPrice            *int64
	PPVPreview          *string
	AutoDestructSeconds *int64
}

// SendMedia uploads a blob to the store and persists a media message
// referencing it.
func (s *ConversationService) SendMedia(ctx context.Context, conversationID, senderID string, in SendMediaInput) (*MessageDTO, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(senderID) {
		return nil, apperrors.Forbidden("sender is not a participant")
	}

	decision, err := s.policy.CanSend(ctx, senderID, conv.PeerOf(senderID))
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, decision.Err()
	}

	msgType, err := mediaType(in.MimeType)
	if err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, apperrors.InvalidArg("file is empty")
	}
	if err := validatePPV(in.IsPPV, in.PPVPrice); err != nil {
		return nil, err
	}

	hash := crypto.HashContent(in.Data)
	blobID, err := s.blobs.Put(ctx, in.Data, storage.BlobMeta{
		ContentType: in.MimeType,
		ContentHash: hash,
		Size:        int64(len(in.Data)),
	})
	if err != nil {
		return nil, err
	}

	size := int64(len(in.Data))
	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderType:     conv.SenderTypeOf(senderID),
		Type:           msgType,
		BlobID:         &blobID,
		MimeType:       &in.MimeType,
		SizeBytes:      &size,
		ContentHash:    &hash,
		IsPPV:          in.IsPPV,
		PPVPrice:       in.PPVPrice,
		PPVPreview:     in.PPVPreview,
		AutoDestructAt: destructAt(in.AutoDestructSeconds),
		CreatedAt:      time.Now(),
	}

	if err := s.persistAndDeliver(ctx, conv, msg); err != nil {
		return nil, err
	}
	return messageDTO(s.envelope, msg, true), nil
}

// persistAndDeliver writes the message, advances conversation activity,
// and pushes per-viewer copies to both participants. Persistence always
// completes regardless of delivery.
func (s *ConversationService) persistAndDeliver(ctx context.Context, conv *models.Conversation, msg *models.Message) error {
	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return err
	}
	if err := s.convRepo.TouchLastMessage(ctx, conv.ID, msg.CreatedAt); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("Failed to touch conversation")
	}

	peerID := conv.PeerOf(msg.SenderID)

	// Sender sees the full message; the peer sees a locked copy until a
	// PPV message is paid for.
	s.hub.Deliver(WSEvent{Type: EventNewMessage, Message: messageDTO(s.envelope, msg, true)}, msg.SenderID)
	s.hub.Deliver(WSEvent{Type: EventNewMessage, Message: messageDTO(s.envelope, msg, !msg.IsPPV)}, peerID)

	if s.notifier != nil && !s.hub.IsOnline(peerID) {
		if peer, err := s.userRepo.GetByID(ctx, peerID); err == nil {
			s.notifier.NotifyNewMessage(peer, conv.ID)
		}
	}
	return nil
}

// ListConversations returns the user's conversations, most recent
// activity first.
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	return s.convRepo.ListByUserID(ctx, userID)
}

// ListMessages returns one page of a conversation's messages oldest-first.
// Page boundaries are computed on the newest-first order and the page is
// reversed, so limit/offset walk backwards from the most recent message.
// Listing marks the peer's messages read as a side effect.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, requesterID string, limit, offset int) ([]*MessageDTO, int, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if !conv.IsParticipant(requesterID) {
		return nil, 0, apperrors.Forbidden("requester is not a participant")
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	now := time.Now()
	messages, total, err := s.msgRepo.ListByConversation(ctx, conversationID, limit, offset, now)
	if err != nil {
		return nil, 0, err
	}

	if err := s.msgRepo.MarkConversationRead(ctx, conversationID, requesterID, now); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to mark messages read")
	}

	dtos := make([]*MessageDTO, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.SenderID != requesterID && !msg.IsRead {
			msg.IsRead = true
			msg.ReadAt = &now
		}
		unlocked, err := s.viewerUnlocked(ctx, msg, requesterID)
		if err != nil {
			return nil, 0, err
		}
		dtos = append(dtos, messageDTO(s.envelope, msg, unlocked))
	}
	return dtos, total, nil
}

// GetMessageFile returns a message's blob bytes after gating. Expired
// messages are unconditionally gone; locked PPV content requires a paid
// unlock for anyone but the sender.
func (s *ConversationService) GetMessageFile(ctx context.Context, messageID, requesterID string) ([]byte, string, error) {
	msg, err := s.msgRepo.GetByID(ctx, messageID, time.Now())
	if err != nil {
		return nil, "", err
	}

	conv, err := s.convRepo.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, "", err
	}
	if !conv.IsParticipant(requesterID) {
		return nil, "", apperrors.Forbidden("requester is not a participant")
	}
	if msg.BlobID == nil {
		return nil, "", apperrors.NotFound("message has no file")
	}

	unlocked, err := s.viewerUnlocked(ctx, msg, requesterID)
	if err != nil {
		return nil, "", err
	}
	if !unlocked {
		return nil, "", apperrors.PaymentRequired("payment required to access this content")
	}

	data, meta, err := s.blobs.Get(ctx, *msg.BlobID)
	if err != nil {
		return nil, "", err
	}

	mime := meta.ContentType
	if msg.MimeType != nil {
		mime = *msg.MimeType
	}
	return data, mime, nil
}

// Block flags the conversation as blocked by the given participant.
func (s *ConversationService) Block(ctx context.Context, conversationID, userID string) error {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(userID) {
		return apperrors.Forbidden("user is not a participant")
	}
	return s.convRepo.SetBlocked(ctx, conversationID, true, &userID)
}

// Unblock lifts a block. Only the participant who set it may lift it.
func (s *ConversationService) Unblock(ctx context.Context, conversationID, userID string) error {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(userID) {
		return apperrors.Forbidden("user is not a participant")
	}
	if !conv.IsBlocked {
		return nil
	}
	if conv.BlockedBy == nil || *conv.BlockedBy != userID {
		return apperrors.Forbidden("only the blocking user can unblock")
	}
	return s.convRepo.SetBlocked(ctx, conversationID, false, nil)
}

// GetSettings returns the calling creator's messaging settings.
func (s *ConversationService) GetSettings(ctx context.Context, userID string) (*models.ConversationSettings, error) {
	creator, err := s.creatorRepo.GetCreatorByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if creator == nil {
		return nil, apperrors.Forbidden("user is not a creator")
	}
	return s.creatorRepo.GetSettings(ctx, creator.ID)
}

// UpdateSettings saves the calling creator's messaging settings.
func (s *ConversationService) UpdateSettings(ctx context.Context, userID string, settings *models.ConversationSettings) (*models.ConversationSettings, error) {
	creator, err := s.creatorRepo.GetCreatorByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if creator == nil {
		return nil, apperrors.Forbidden("user is not a creator")
	}
	if settings.MessagePrice != nil && *settings.MessagePrice <= 0 {
		return nil, apperrors.InvalidArg("message_price must be positive")
	}
	if settings.MaxMessagesPerDay != nil && *settings.MaxMessagesPerDay <= 0 {
		return nil, apperrors.InvalidArg("max_messages_per_day must be positive")
	}

	settings.CreatorID = creator.ID
	if err := s.creatorRepo.UpsertSettings(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// RegisterPushToken stores the caller's device token for offline alerts.
// An empty token clears it.
func (s *ConversationService) RegisterPushToken(ctx context.Context, userID, pushToken string) error {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return err
	}
	var token *string
	if pushToken != "" {
		token = &pushToken
	}
	return s.userRepo.UpdatePushToken(ctx, userID, token)
}

// viewerUnlocked reports whether the viewer may see a message's gated
// content: senders always, others only with a paid unlock.
func (s *ConversationService) viewerUnlocked(ctx context.Context, msg *models.Message, viewerID string) (bool, error) {
	if !msg.IsPPV || msg.SenderID == viewerID {
		return true, nil
	}
	paid, err := s.unlocks.FindPaidUnlock(ctx, msg.ID, viewerID)
	if err != nil {
		return false, err
	}
	return paid != nil, nil
}

// validatePPV enforces that is_ppv and a positive price come together.
func validatePPV(isPPV bool, price *int64) error {
	if isPPV {
		if price == nil || *price <= 0 {
			return apperrors.InvalidArg("pay-per-view messages require a positive ppv_price")
		}
		return nil
	}
	if price != nil {
		return apperrors.InvalidArg("ppv_price requires is_ppv")
	}
	return nil
}

func destructAt(seconds *int64) *time.Time {
	if seconds == nil || *seconds <= 0 {
		return nil
	}
	at := time.Now().Add(time.Duration(*seconds) * time.Second)
	return &at
}

func mediaType(mime string) (models.MessageType, error) {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.MessageTypeImage, nil
	case strings.HasPrefix(mime, "video/"):
		return models.MessageTypeVideo, nil
	case strings.HasPrefix(mime, "audio/"):
		return models.MessageTypeAudio, nil
	default:
		return "", apperrors.InvalidArg("unsupported file type: " + mime)
	}
}
