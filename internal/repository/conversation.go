package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creator-dm-backend/internal/apperrors"
	"creator-dm-backend/internal/models"
)

// ConversationRepository handles database operations for conversations
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, creator_id, fan_id, is_blocked, blocked_by, last_message_at, created_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conv models.Conversation
	err := row.Scan(
		&conv.ID, &conv.CreatorID, &conv.FanID, &conv.IsBlocked,
		&conv.BlockedBy, &conv.LastMessageAt, &conv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Create creates a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, creator_id, fan_id, is_blocked, blocked_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		conv.ID, conv.CreatorID, conv.FanID, conv.IsBlocked, conv.BlockedBy, conv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	conv, err := scanConversation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("conversation not found")
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// FindByParticipants retrieves the conversation for an unordered user
// pair. Returns nil when none exists.
func (r *ConversationRepository) FindByParticipants(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (creator_id = $1 AND fan_id = $2) OR (creator_id = $2 AND fan_id = $1)
		LIMIT 1
	`
	conv, err := scanConversation(r.db.QueryRow(ctx, query, userA, userB))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find conversation by participants: %w", err)
	}
	return conv, nil
}

// ListByUserID retrieves a user's conversations, most recent activity first
func (r *ConversationRepository) ListByUserID(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE creator_id = $1 OR fan_id = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return conversations, nil
}

// SetBlocked flips the soft block state. blockedBy is nil on unblock.
func (r *ConversationRepository) SetBlocked(ctx context.Context, id string, blocked bool, blockedBy *string) error {
	query := `UPDATE conversations SET is_blocked = $1, blocked_by = $2 WHERE id = $3`
	result, err := r.db.Exec(ctx, query, blocked, blockedBy, id)
	if err != nil {
		return fmt.Errorf("failed to update conversation block state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("conversation not found")
	}
	return nil
}

// TouchLastMessage advances last_message_at. Last writer wins; the value
// only moves forward by real send order.
func (r *ConversationRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE conversations SET last_message_at = $1 WHERE id = $2`
	_, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}
