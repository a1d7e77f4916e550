package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creator-dm-backend/internal/apperrors"
	"creator-dm-backend/internal/models"
)

// CreatorRepository handles database operations for creator profiles and
// their messaging settings
type CreatorRepository struct {
	db *pgxpool.Pool
}

// NewCreatorRepository creates a new creator repository
func NewCreatorRepository(db *pgxpool.Pool) *CreatorRepository {
	return &CreatorRepository{db: db}
}

// GetByID retrieves a creator profile by ID
func (r *CreatorRepository) GetByID(ctx context.Context, id string) (*models.Creator, error) {
	query := `
		SELECT id, user_id, display_name, created_at
		FROM creators
		WHERE id = $1
	`
	var creator models.Creator
	err := r.db.QueryRow(ctx, query, id).Scan(
		&creator.ID, &creator.UserID, &creator.DisplayName, &creator.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("creator not found")
		}
		return nil, fmt.Errorf("failed to get creator: %w", err)
	}
	return &creator, nil
}

// GetCreatorByUserID retrieves the creator profile owned by a user.
// Returns nil when the user is not a creator.
func (r *CreatorRepository) GetCreatorByUserID(ctx context.Context, userID string) (*models.Creator, error) {
	query := `
		SELECT id, user_id, display_name, created_at
		FROM creators
		WHERE user_id = $1
	`
	var creator models.Creator
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&creator.ID, &creator.UserID, &creator.DisplayName, &creator.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get creator by user id: %w", err)
	}
	return &creator, nil
}

// GetSettings retrieves a creator's messaging settings. Creators that
// never saved settings get the permissive defaults.
func (r *CreatorRepository) GetSettings(ctx context.Context, creatorID string) (*models.ConversationSettings, error) {
	query := `
		SELECT creator_id, allow_messages, require_subscription, message_price,
		       blocked_user_ids, vip_user_ids, max_messages_per_day
		FROM conversation_settings
		WHERE creator_id = $1
	`
	var settings models.ConversationSettings
	err := r.db.QueryRow(ctx, query, creatorID).Scan(
		&settings.CreatorID, &settings.AllowMessages, &settings.RequireSubscription,
		&settings.MessagePrice, &settings.BlockedUserIDs, &settings.VIPUserIDs,
		&settings.MaxMessagesPerDay,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.ConversationSettings{
				CreatorID:     creatorID,
				AllowMessages: true,
			}, nil
		}
		return nil, fmt.Errorf("failed to get conversation settings: %w", err)
	}
	return &settings, nil
}

// UpsertSettings saves a creator's messaging settings
func (r *CreatorRepository) UpsertSettings(ctx context.Context, settings *models.ConversationSettings) error {
	query := `
		INSERT INTO conversation_settings
			(creator_id, allow_messages, require_subscription, message_price,
			 blocked_user_ids, vip_user_ids, max_messages_per_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (creator_id) DO UPDATE SET
			allow_messages = EXCLUDED.allow_messages,
			require_subscription = EXCLUDED.require_subscription,
			message_price = EXCLUDED.message_price,
			blocked_user_ids = EXCLUDED.blocked_user_ids,
			vip_user_ids = EXCLUDED.vip_user_ids,
			max_messages_per_day = EXCLUDED.max_messages_per_day
	`
	_, err := r.db.Exec(ctx, query,
		settings.CreatorID, settings.AllowMessages, settings.RequireSubscription,
		settings.MessagePrice, settings.BlockedUserIDs, settings.VIPUserIDs,
		settings.MaxMessagesPerDay,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation settings: %w", err)
	}
	return nil
}
