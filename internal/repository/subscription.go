package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"creator-dm-backend/internal/models"
)

// SubscriptionRepository handles database operations for subscriptions
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Create persists a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, creator_id, plan_type, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		sub.ID, sub.UserID, sub.CreatorID, sub.PlanType, sub.Status, sub.ExpiresAt, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// HasActiveSubscription reports whether the user holds an unexpired active
// subscription to the creator
func (r *SubscriptionRepository) HasActiveSubscription(ctx context.Context, userID, creatorID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM subscriptions
			WHERE user_id = $1 AND creator_id = $2 AND status = $3 AND expires_at > $4
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID, creatorID, models.SubscriptionStatusActive, time.Now()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}
	return exists, nil
}
