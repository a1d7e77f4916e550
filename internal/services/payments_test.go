package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creator-dm-backend/internal/apperrors"
	"creator-dm-backend/internal/models"
	"creator-dm-backend/internal/payments"
)

func seedPPVMessage(t *testing.T, f *fixture, convID string) *MessageDTO {
	t.Helper()
	dto, err := f.conversations.SendMessage(context.Background(), convID, "alice", SendMessageInput{
		Body: "paywalled", IsPPV: true, PPVPrice: int64p(500),
	})
	require.NoError(t, err)
	return dto
}

func TestInitiateUnlock(t *testing.T) {
	t.Run("opens a session and records the pending unlock", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")
		msg := seedPPVMessage(t, f, conv.ID)

		intent, err := f.payments.InitiateUnlock(context.Background(), msg.ID, "bob")
		require.NoError(t, err)
		assert.NotEmpty(t, intent.CheckoutURL)
		assert.NotEmpty(t, intent.SessionID)

		req := f.provider.lastRequest()
		assert.Equal(t, int64(500), req.Amount)
		assert.Equal(t, string(models.TransactionTypePPVUnlock), req.Metadata["type"])
		assert.Equal(t, msg.ID, req.Metadata["message_id"])

		payment, err := f.pays.GetBySessionID(context.Background(), intent.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPending, payment.Status)
		assert.Equal(t, "bob", payment.PayerID)
	})

	t.Run("rejects a non-ppv message", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")
		dto, err := f.conversations.SendMessage(context.Background(), conv.ID, "alice", SendMessageInput{Body: "free"})
		require.NoError(t, err)

		_, err = f.payments.InitiateUnlock(context.Background(), dto.ID, "bob")
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("sender cannot buy their own message", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")
		msg := seedPPVMessage(t, f, conv.ID)

		_, err := f.payments.InitiateUnlock(context.Background(), msg.ID, "alice")
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("non-participant rejected", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")
		msg := seedPPVMessage(t, f, conv.ID)
		f.addUser("mallory")

		_, err := f.payments.InitiateUnlock(context.Background(), msg.ID, "mallory")
		assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))
	})

	t.Run("already unlocked", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")
		msg := seedPPVMessage(t, f, conv.ID)

		require.NoError(t, f.pays.Create(context.Background(), &models.Payment{
			ID: "p1", PayerID: "bob", MessageID: &msg.ID, Amount: 500,
			Type: models.TransactionTypePPVUnlock, SessionID: "cs_prior",
			Status: models.PaymentStatusPaid,
		}))

		_, err := f.payments.InitiateUnlock(context.Background(), msg.ID, "bob")
		assert.Equal(t, apperrors.CodeAlreadyPaid, apperrors.CodeOf(err))
	})
}

func TestInitiateTip(t *testing.T) {
	t.Run("minimum amount enforced", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")

		_, err := f.payments.InitiateTip(context.Background(), "bob", TipInput{ConversationID: conv.ID, Amount: 99})
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("creators cannot tip their own conversation", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")

		_, err := f.payments.InitiateTip(context.Background(), "alice", TipInput{ConversationID: conv.ID, Amount: 500})
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("records the pending tip with its note", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")

		intent, err := f.payments.InitiateTip(context.Background(), "bob", TipInput{
			ConversationID: conv.ID, Amount: 500, Note: "keep it up",
		})
		require.NoError(t, err)

		payment, err := f.pays.GetBySessionID(context.Background(), intent.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionTypeTip, payment.Type)
		require.NotNil(t, payment.TipNote)
		assert.Equal(t, "keep it up", *payment.TipNote)
	})
}

func TestInitiateSubscription(t *testing.T) {
	t.Run("unknown plan rejected", func(t *testing.T) {
		f := newFixture(t)
		creatorID := f.addCreator("alice")
		f.addUser("bob")

		_, err := f.payments.InitiateSubscription(context.Background(), "bob", creatorID, "platinum")
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("double subscribe rejected", func(t *testing.T) {
		f := newFixture(t)
		creatorID := f.addCreator("alice")
		f.addUser("bob")

		intent, err := f.payments.InitiateSubscription(context.Background(), "bob", creatorID, "basic")
		require.NoError(t, err)
		f.provider.markPaid(intent.SessionID)
		_, err = f.payments.ConfirmSession(context.Background(), intent.SessionID)
		require.NoError(t, err)

		_, err = f.payments.InitiateSubscription(context.Background(), "bob", creatorID, "premium")
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("plan table prices the session", func(t *testing.T) {
		f := newFixture(t)
		creatorID := f.addCreator("alice")
		f.addUser("bob")

		_, err := f.payments.InitiateSubscription(context.Background(), "bob", creatorID, "vip")
		require.NoError(t, err)
		assert.Equal(t, int64(4999), f.provider.lastRequest().Amount)
	})
}

func TestConfirmSession(t *testing.T) {
	t.Run("unpaid session stays pending", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")
		msg := seedPPVMessage(t, f, conv.ID)
		intent, err := f.payments.InitiateUnlock(context.Background(), msg.ID, "bob")
		require.NoError(t, err)

		result, err := f.payments.ConfirmSession(context.Background(), intent.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPending, result.Status)

		unlock, err := f.pays.FindPaidUnlock(context.Background(), msg.ID, "bob")
		require.NoError(t, err)
		assert.Nil(t, unlock)
	})

	t.Run("paid unlock opens the message and notifies the payer", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")
		msg := seedPPVMessage(t, f, conv.ID)
		intent, err := f.payments.InitiateUnlock(context.Background(), msg.ID, "bob")
		require.NoError(t, err)

		bobConn := &fakeConn{}
		f.hub.Register("bob", bobConn)
		f.provider.markPaid(intent.SessionID)

		result, err := f.payments.ConfirmSession(context.Background(), intent.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPaid, result.Status)

		var unlocked bool
		for _, ev := range bobConn.events() {
			if ev.Type == EventMessageUnlocked && ev.Text == msg.ID {
				unlocked = true
			}
		}
		assert.True(t, unlocked, "payer should receive the unlock event")

		// The paid record itself gates reads.
		_, _, err = f.conversations.GetMessageFile(context.Background(), msg.ID, "bob")
		assert.NotEqual(t, apperrors.CodePaymentRequired, apperrors.CodeOf(err))
	})

	t.Run("confirmed tip lands in the conversation", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")

		aliceConn := &fakeConn{}
		f.hub.Register("alice", aliceConn)

		intent, err := f.payments.InitiateTip(context.Background(), "bob", TipInput{
			ConversationID: conv.ID, Amount: 500, Note: "great stream",
		})
		require.NoError(t, err)
		f.provider.markPaid(intent.SessionID)

		_, err = f.payments.ConfirmSession(context.Background(), intent.SessionID)
		require.NoError(t, err)

		page, _, err := f.conversations.ListMessages(context.Background(), conv.ID, "alice", 0, 0)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.True(t, page[0].IsTip)
		assert.Equal(t, "great stream", page[0].Content)
		require.NotNil(t, page[0].TipAmount)
		assert.Equal(t, int64(500), *page[0].TipAmount)

		events := aliceConn.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventNewMessage, events[0].Type)
		assert.Equal(t, "great stream", events[0].Message.Content)
	})

	t.Run("tip without a note gets the default body", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")

		intent, err := f.payments.InitiateTip(context.Background(), "bob", TipInput{ConversationID: conv.ID, Amount: 1250})
		require.NoError(t, err)
		f.provider.markPaid(intent.SessionID)
		_, err = f.payments.ConfirmSession(context.Background(), intent.SessionID)
		require.NoError(t, err)

		page, _, err := f.conversations.ListMessages(context.Background(), conv.ID, "alice", 0, 0)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "Sent a $12.50 tip", page[0].Content)
	})

	t.Run("confirmed subscription satisfies the policy gate", func(t *testing.T) {
		f := newFixture(t)
		creatorID := f.addCreator("alice")
		f.addUser("bob")
		f.setSettings(&models.ConversationSettings{
			CreatorID: creatorID, AllowMessages: true, RequireSubscription: true,
		})

		_, err := f.conversations.GetOrCreateConversation(context.Background(), "bob", "alice")
		assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))

		intent, err := f.payments.InitiateSubscription(context.Background(), "bob", creatorID, "basic")
		require.NoError(t, err)
		f.provider.markPaid(intent.SessionID)
		_, err = f.payments.ConfirmSession(context.Background(), intent.SessionID)
		require.NoError(t, err)

		conv, err := f.conversations.GetOrCreateConversation(context.Background(), "bob", "alice")
		require.NoError(t, err)
		_, err = f.conversations.SendMessage(context.Background(), conv.ID, "bob", SendMessageInput{Body: "subscribed now"})
		assert.NoError(t, err)
	})

	t.Run("repeated confirmation settles once", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")

		intent, err := f.payments.InitiateTip(context.Background(), "bob", TipInput{ConversationID: conv.ID, Amount: 500})
		require.NoError(t, err)
		f.provider.markPaid(intent.SessionID)

		for i := 0; i < 3; i++ {
			result, err := f.payments.ConfirmSession(context.Background(), intent.SessionID)
			require.NoError(t, err)
			assert.Equal(t, models.PaymentStatusPaid, result.Status)
		}
		assert.Equal(t, 1, f.msgs.count(), "tip message must be created exactly once")
	})

	t.Run("concurrent confirmations settle once", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")

		intent, err := f.payments.InitiateTip(context.Background(), "bob", TipInput{ConversationID: conv.ID, Amount: 500})
		require.NoError(t, err)
		f.provider.markPaid(intent.SessionID)

		const confirms = 8
		var wg sync.WaitGroup
		errs := make([]error, confirms)
		results := make([]*PaymentStatusResult, confirms)
		for i := 0; i < confirms; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.payments.ConfirmSession(context.Background(), intent.SessionID)
			}(i)
		}
		wg.Wait()

		for i := 0; i < confirms; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, models.PaymentStatusPaid, results[i].Status)
		}
		assert.Equal(t, 1, f.msgs.count(), "post-payment effect must run exactly once")
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.payments.ConfirmSession(context.Background(), "cs_missing")
		assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	})
}

func TestHandleWebhook(t *testing.T) {
	t.Run("completed event settles the payment", func(t *testing.T) {
		f := newFixture(t)
		creatorID := f.addCreator("alice")
		f.addUser("bob")

		intent, err := f.payments.InitiateSubscription(context.Background(), "bob", creatorID, "basic")
		require.NoError(t, err)
		f.provider.event = &payments.WebhookEvent{
			Type: "checkout.session.completed", SessionID: intent.SessionID, Completed: true,
		}

		require.NoError(t, f.payments.HandleWebhook(context.Background(), []byte("{}"), "sig"))

		subscribed, err := f.subs.HasActiveSubscription(context.Background(), "bob", creatorID)
		require.NoError(t, err)
		assert.True(t, subscribed)
	})

	t.Run("replays are no-ops", func(t *testing.T) {
		f := newFixture(t)
		creatorID := f.addCreator("alice")
		f.addUser("bob")

		intent, err := f.payments.InitiateSubscription(context.Background(), "bob", creatorID, "basic")
		require.NoError(t, err)
		f.provider.event = &payments.WebhookEvent{
			Type: "checkout.session.completed", SessionID: intent.SessionID, Completed: true,
		}

		for i := 0; i < 3; i++ {
			require.NoError(t, f.payments.HandleWebhook(context.Background(), []byte("{}"), "sig"))
		}
		assert.Equal(t, 1, f.subs.count(), "subscription must be created exactly once")
	})

	t.Run("expired session marks the payment failed", func(t *testing.T) {
		f := newFixture(t)
		conv := f.seedConversation(t, "alice", "bob")
		intent, err := f.payments.InitiateTip(context.Background(), "bob", TipInput{ConversationID: conv.ID, Amount: 500})
		require.NoError(t, err)

		f.provider.event = &payments.WebhookEvent{
			Type: "checkout.session.expired", SessionID: intent.SessionID,
		}
		require.NoError(t, f.payments.HandleWebhook(context.Background(), []byte("{}"), "sig"))

		payment, err := f.pays.GetBySessionID(context.Background(), intent.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	})

	t.Run("invalid signature is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.provider.eventErr = fmt.Errorf("signature mismatch")

		err := f.payments.HandleWebhook(context.Background(), []byte("{}"), "bad")
		assert.Error(t, err)
	})

	t.Run("unrelated events are ignored", func(t *testing.T) {
		f := newFixture(t)
		f.provider.event = &payments.WebhookEvent{Type: "payment_intent.created"}
		assert.NoError(t, f.payments.HandleWebhook(context.Background(), []byte("{}"), "sig"))
	})
}
