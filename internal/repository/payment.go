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

// PaymentRepository handles database operations for checkout-backed
// payment records
type PaymentRepository struct {
	db *pgxpool.Pool
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, payer_id, creator_id, message_id, conversation_id,
	amount, currency, transaction_type, session_id, payment_status,
	plan_type, tip_note, paid_at, created_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(
		&p.ID, &p.PayerID, &p.CreatorID, &p.MessageID, &p.ConversationID,
		&p.Amount, &p.Currency, &p.Type, &p.SessionID, &p.Status,
		&p.PlanType, &p.TipNote, &p.PaidAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create persists a new payment record
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments
			(id, payer_id, creator_id, message_id, conversation_id,
			 amount, currency, transaction_type, session_id, payment_status,
			 plan_type, tip_note, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.PayerID, p.CreatorID, p.MessageID, p.ConversationID,
		p.Amount, p.Currency, p.Type, p.SessionID, p.Status,
		p.PlanType, p.TipNote, p.PaidAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetBySessionID retrieves a payment by checkout session ID
func (r *PaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE session_id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment not found")
		}
		return nil, fmt.Errorf("failed to get payment by session: %w", err)
	}
	return p, nil
}

// FindPaidUnlock retrieves the paid unlock record for a (message, payer)
// pair. Returns nil when none exists.
func (r *PaymentRepository) FindPaidUnlock(ctx context.Context, messageID, payerID string) (*models.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE message_id = $1 AND payer_id = $2
		  AND transaction_type = $3 AND payment_status = $4
		LIMIT 1
	`
	p, err := scanPayment(r.db.QueryRow(ctx, query,
		messageID, payerID, models.TransactionTypePPVUnlock, models.PaymentStatusPaid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find paid unlock: %w", err)
	}
	return p, nil
}

// MarkPaid flips a pending payment to paid. It is the single
// concurrency-sensitive mutation in this core: a conditional update keyed
// by session id, so exactly one of any number of racing confirmations
// observes the transition.
func (r *PaymentRepository) MarkPaid(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET payment_status = $1, paid_at = $2
		WHERE session_id = $3 AND payment_status <> $1
	`
	result, err := r.db.Exec(ctx, query, models.PaymentStatusPaid, at, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment paid: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkFailed records a failed checkout. Failed records stay for the
// external reconciliation pass, nothing here retries them.
func (r *PaymentRepository) MarkFailed(ctx context.Context, sessionID string) error {
	query := `
		UPDATE payments
		SET payment_status = $1
		WHERE session_id = $2 AND payment_status = $3
	`
	_, err := r.db.Exec(ctx, query, models.PaymentStatusFailed, sessionID, models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return nil
}
