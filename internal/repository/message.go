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

// MessageRepository handles database operations for messages
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, sender_type, message_type, content,
	blob_id, mime_type, size_bytes, content_hash,
	is_ppv, ppv_price, ppv_preview, is_tip, tip_amount,
	is_read, read_at, auto_destruct_at, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderType, &msg.Type, &msg.Content,
		&msg.BlobID, &msg.MimeType, &msg.SizeBytes, &msg.ContentHash,
		&msg.IsPPV, &msg.PPVPrice, &msg.PPVPreview, &msg.IsTip, &msg.TipAmount,
		&msg.IsRead, &msg.ReadAt, &msg.AutoDestructAt, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Create persists a new message
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages
			(id, conversation_id, sender_id, sender_type, message_type, content,
			 blob_id, mime_type, size_bytes, content_hash,
			 is_ppv, ppv_price, ppv_preview, is_tip, tip_amount,
			 is_read, read_at, auto_destruct_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderType, msg.Type, msg.Content,
		msg.BlobID, msg.MimeType, msg.SizeBytes, msg.ContentHash,
		msg.IsPPV, msg.PPVPrice, msg.PPVPreview, msg.IsTip, msg.TipAmount,
		msg.IsRead, msg.ReadAt, msg.AutoDestructAt, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID. Expired messages are not found: expiry
// is absolute and unconditional.
func (r *MessageRepository) GetByID(ctx context.Context, id string, now time.Time) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1 AND (auto_destruct_at IS NULL OR auto_destruct_at > $2)
	`
	msg, err := scanMessage(r.db.QueryRow(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("message not found")
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListByConversation retrieves non-expired messages newest-first with
// pagination, plus the total count. The caller reverses the page for
// oldest-first presentation.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int, now time.Time) ([]*models.Message, int, error) {
	countQuery := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1 AND (auto_destruct_at IS NULL OR auto_destruct_at > $2)
	`
	var total int
	if err := r.db.QueryRow(ctx, countQuery, conversationID, now).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND (auto_destruct_at IS NULL OR auto_destruct_at > $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, conversationID, now, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, total, nil
}

// MarkConversationRead stamps every unread message in the conversation not
// sent by readerID. Read state is monotonic, races are benign.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) error {
	query := `
		UPDATE messages
		SET is_read = TRUE, read_at = $1
		WHERE conversation_id = $2 AND sender_id <> $3 AND is_read = FALSE
	`
	_, err := r.db.Exec(ctx, query, at, conversationID, readerID)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

// CountSentSince counts messages a sender wrote in a conversation since
// the given instant. Feeds the daily send cap.
func (r *MessageRepository) CountSentSince(ctx context.Context, conversationID, senderID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1 AND sender_id = $2 AND created_at >= $3
	`
	var count int
	if err := r.db.QueryRow(ctx, query, conversationID, senderID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sent messages: %w", err)
	}
	return count, nil
}
