package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"creator-dm-backend/internal/apperrors"
	"creator-dm-backend/internal/crypto"
	"creator-dm-backend/internal/models"
	"creator-dm-backend/internal/payments"
	"creator-dm-backend/internal/policy"
	"creator-dm-backend/internal/storage"
)

// In-memory stand-ins for the repository layer, shared across the service
// tests. They keep the same contracts as the SQL repositories: not-found
// errors, nil-on-none lookups, and the conditional paid transition.

type memConversationRepo struct {
	mu    sync.Mutex
	convs map[string]*models.Conversation
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{convs: make(map[string]*models.Conversation)}
}

func (r *memConversationRepo) Create(_ context.Context, conv *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[conv.ID] = conv
	return nil
}

func (r *memConversationRepo) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, apperrors.NotFound("conversation not found")
	}
	return conv, nil
}

func (r *memConversationRepo) FindByParticipants(_ context.Context, userA, userB string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conv := range r.convs {
		if (conv.CreatorID == userA && conv.FanID == userB) ||
			(conv.CreatorID == userB && conv.FanID == userA) {
			return conv, nil
		}
	}
	return nil, nil
}

func (r *memConversationRepo) ListByUserID(_ context.Context, userID string) ([]*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Conversation
	for _, conv := range r.convs {
		if conv.IsParticipant(userID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out, nil
}

func (r *memConversationRepo) SetBlocked(_ context.Context, id string, blocked bool, blockedBy *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return apperrors.NotFound("conversation not found")
	}
	conv.IsBlocked = blocked
	conv.BlockedBy = blockedBy
	return nil
}

func (r *memConversationRepo) TouchLastMessage(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok := r.convs[id]; ok {
		conv.LastMessageAt = &at
	}
	return nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	messages []*models.Message
}

func newMemMessageRepo() *memMessageRepo { return &memMessageRepo{} }

func (r *memMessageRepo) Create(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id string, now time.Time) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range r.messages {
		if msg.ID == id && !msg.Expired(now) {
			return msg, nil
		}
	}
	return nil, apperrors.NotFound("message not found")
}

func (r *memMessageRepo) ListByConversation(_ context.Context, conversationID string, limit, offset int, now time.Time) ([]*models.Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var live []*models.Message
	for _, msg := range r.messages {
		if msg.ConversationID == conversationID && !msg.Expired(now) {
			live = append(live, msg)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].CreatedAt.After(live[j].CreatedAt)
	})
	total := len(live)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return live[offset:end], total, nil
}

func (r *memMessageRepo) MarkConversationRead(_ context.Context, conversationID, readerID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range r.messages {
		if msg.ConversationID == conversationID && msg.SenderID != readerID && !msg.IsRead {
			msg.IsRead = true
			readAt := at
			msg.ReadAt = &readAt
		}
	}
	return nil
}

func (r *memMessageRepo) CountSentSince(_ context.Context, conversationID, senderID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, msg := range r.messages {
		if msg.ConversationID == conversationID && msg.SenderID == senderID && !msg.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memMessageRepo) byID(id string) *models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range r.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func (r *memMessageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*models.User)}
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, apperrors.NotFound("user not found")
	}
	return user, nil
}

func (r *memUserRepo) UpdatePushToken(_ context.Context, userID string, pushToken *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return apperrors.NotFound("user not found")
	}
	user.PushToken = pushToken
	return nil
}

func (r *memUserRepo) add(user *models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

type memCreatorRepo struct {
	mu       sync.Mutex
	creators map[string]*models.Creator // keyed by creator id
	settings map[string]*models.ConversationSettings
}

func newMemCreatorRepo() *memCreatorRepo {
	return &memCreatorRepo{
		creators: make(map[string]*models.Creator),
		settings: make(map[string]*models.ConversationSettings),
	}
}

func (r *memCreatorRepo) GetByID(_ context.Context, id string) (*models.Creator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	creator, ok := r.creators[id]
	if !ok {
		return nil, apperrors.NotFound("creator not found")
	}
	return creator, nil
}

func (r *memCreatorRepo) GetCreatorByUserID(_ context.Context, userID string) (*models.Creator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, creator := range r.creators {
		if creator.UserID == userID {
			return creator, nil
		}
	}
	return nil, nil
}

func (r *memCreatorRepo) GetSettings(_ context.Context, creatorID string) (*models.ConversationSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.settings[creatorID]; ok {
		return s, nil
	}
	return &models.ConversationSettings{CreatorID: creatorID, AllowMessages: true}, nil
}

func (r *memCreatorRepo) UpsertSettings(_ context.Context, settings *models.ConversationSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[settings.CreatorID] = settings
	return nil
}

func (r *memCreatorRepo) add(creator *models.Creator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[creator.ID] = creator
}

type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*models.Payment // keyed by session id
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{payments: make(map[string]*models.Payment)}
}

func (r *memPaymentRepo) Create(_ context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[p.SessionID] = p
	return nil
}

func (r *memPaymentRepo) GetBySessionID(_ context.Context, sessionID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[sessionID]
	if !ok {
		return nil, apperrors.NotFound("payment not found")
	}
	// Copy, as a row scan would: callers must not observe later flips.
	cp := *p
	return &cp, nil
}

func (r *memPaymentRepo) FindPaidUnlock(_ context.Context, messageID, payerID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.Type == models.TransactionTypePPVUnlock &&
			p.Status == models.PaymentStatusPaid &&
			p.MessageID != nil && *p.MessageID == messageID &&
			p.PayerID == payerID {
			return p, nil
		}
	}
	return nil, nil
}

// MarkPaid mirrors the store's conditional update: only the caller that
// performs the pending-to-paid flip gets true.
func (r *memPaymentRepo) MarkPaid(_ context.Context, sessionID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[sessionID]
	if !ok || p.Status == models.PaymentStatusPaid {
		return false, nil
	}
	p.Status = models.PaymentStatusPaid
	paidAt := at
	p.PaidAt = &paidAt
	return true, nil
}

func (r *memPaymentRepo) MarkFailed(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[sessionID]; ok && p.Status == models.PaymentStatusPending {
		p.Status = models.PaymentStatusFailed
	}
	return nil
}

type memSubscriptionRepo struct {
	mu   sync.Mutex
	subs []*models.Subscription
}

func newMemSubscriptionRepo() *memSubscriptionRepo { return &memSubscriptionRepo{} }

func (r *memSubscriptionRepo) Create(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
	return nil
}

func (r *memSubscriptionRepo) HasActiveSubscription(_ context.Context, userID, creatorID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, sub := range r.subs {
		if sub.UserID == userID && sub.CreatorID == creatorID &&
			sub.Status == models.SubscriptionStatusActive && sub.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memSubscriptionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	metas map[string]storage.BlobMeta
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{
		blobs: make(map[string][]byte),
		metas: make(map[string]storage.BlobMeta),
	}
}

func (s *memBlobStore) Put(_ context.Context, data []byte, meta storage.BlobMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.blobs[id] = data
	s.metas[id] = meta
	return id, nil
}

func (s *memBlobStore) Get(_ context.Context, blobID string) ([]byte, storage.BlobMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[blobID]
	if !ok {
		return nil, storage.BlobMeta{}, apperrors.NotFound("blob not found")
	}
	return data, s.metas[blobID], nil
}

// fakeProvider is a scriptable checkout provider: sessions get sequential
// ids, paid state is set per session, webhooks replay a prepared event.
type fakeProvider struct {
	mu       sync.Mutex
	seq      int
	paid     map[string]bool
	requests []payments.SessionRequest
	event    *payments.WebhookEvent
	eventErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{paid: make(map[string]bool)}
}

func (p *fakeProvider) CreateSession(_ context.Context, req payments.SessionRequest) (*payments.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.requests = append(p.requests, req)
	id := fmt.Sprintf("cs_test_%d", p.seq)
	return &payments.Session{ID: id, URL: "https://checkout.example/" + id}, nil
}

func (p *fakeProvider) GetStatus(_ context.Context, sessionID string) (*payments.SessionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &payments.SessionStatus{Paid: p.paid[sessionID]}, nil
}

func (p *fakeProvider) VerifyWebhook(_ []byte, _ string) (*payments.WebhookEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eventErr != nil {
		return nil, p.eventErr
	}
	return p.event, nil
}

func (p *fakeProvider) markPaid(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid[sessionID] = true
}

func (p *fakeProvider) lastRequest() payments.SessionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

// fakeConn records every frame the hub writes to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []interface{}
	closed bool
	fail   bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("write on broken connection")
	}
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []WSEvent
	for _, frame := range c.frames {
		if ev, ok := frame.(WSEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

const fixtureKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// fixture wires the full service graph over in-memory collaborators.
type fixture struct {
	users    *memUserRepo
	creators *memCreatorRepo
	convs    *memConversationRepo
	msgs     *memMessageRepo
	pays     *memPaymentRepo
	subs     *memSubscriptionRepo
	blobs    *memBlobStore
	provider *fakeProvider
	hub      *WSHub
	envelope *crypto.Envelope

	conversations *ConversationService
	payments      *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	envelope, err := crypto.NewEnvelope(fixtureKey)
	require.NoError(t, err)

	f := &fixture{
		users:    newMemUserRepo(),
		creators: newMemCreatorRepo(),
		convs:    newMemConversationRepo(),
		msgs:     newMemMessageRepo(),
		pays:     newMemPaymentRepo(),
		subs:     newMemSubscriptionRepo(),
		blobs:    newMemBlobStore(),
		provider: newFakeProvider(),
		hub:      NewWSHub(),
		envelope: envelope,
	}

	engine := policy.NewEngine(f.convs, f.creators, f.subs, f.msgs)
	f.conversations = NewConversationService(
		f.convs, f.msgs, f.users, f.creators, f.pays,
		engine, envelope, f.blobs, f.hub, nil,
	)
	f.payments = NewPaymentService(
		f.pays, f.subs, f.msgs, f.convs, f.creators,
		f.provider, envelope, f.hub, "https://app.example.com",
	)
	return f
}

func (f *fixture) addUser(id string) *models.User {
	user := &models.User{ID: id, Email: id + "@example.com", Username: id, CreatedAt: time.Now()}
	f.users.add(user)
	return user
}

// addCreator registers a user together with a creator profile and returns
// the creator id.
func (f *fixture) addCreator(userID string) string {
	user := f.addUser(userID)
	user.IsCreator = true
	creatorID := "creator-" + userID
	f.creators.add(&models.Creator{
		ID:          creatorID,
		UserID:      userID,
		DisplayName: userID,
		CreatedAt:   time.Now(),
	})
	return creatorID
}

func (f *fixture) setSettings(settings *models.ConversationSettings) {
	f.creators.settings[settings.CreatorID] = settings
}

// seedConversation creates a creator/fan pair and their conversation.
func (f *fixture) seedConversation(t *testing.T, creatorUser, fanUser string) *models.Conversation {
	t.Helper()
	f.addCreator(creatorUser)
	f.addUser(fanUser)
	conv, err := f.conversations.GetOrCreateConversation(context.Background(), fanUser, creatorUser)
	require.NoError(t, err)
	return conv
}
