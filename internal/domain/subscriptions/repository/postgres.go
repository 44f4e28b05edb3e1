package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const selectColumns = `
		SELECT id, user_id, name, provider_id, category, amount_minor, currency_code, billing_interval,
			status, payment_method, notice_period_days, start_date, next_payment_date, source,
			confidence, created_at, updated_at
		FROM subscriptions`

// PostgresSubscriptionRepository implements SubscriptionRepository using PostgreSQL
type PostgresSubscriptionRepository struct {
	db DBTX
}

// NewPostgresSubscriptionRepository creates a new PostgreSQL subscription repository
func NewPostgresSubscriptionRepository(db DBTX) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db}
}

// Create inserts a new subscription
func (r *PostgresSubscriptionRepository) Create(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, name, provider_id, category, amount_minor, currency_code,
			billing_interval, status, payment_method, notice_period_days, start_date, next_payment_date,
			source, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	err := r.db.QueryRow(ctx, query,
		sub.ID,
		sub.UserID,
		sub.Name,
		sub.ProviderID,
		sub.Category,
		sub.AmountMinor,
		sub.CurrencyCode,
		sub.Interval,
		sub.Status,
		sub.PaymentMethod,
		sub.NoticePeriodDays,
		sub.StartDate,
		sub.NextPaymentDate,
		sub.Source,
		sub.Confidence,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription owned by userID
func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*Subscription, error) {
	query := selectColumns + `
		WHERE id = $1 AND user_id = $2`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// Update updates the mutable fields of a subscription
func (r *PostgresSubscriptionRepository) Update(ctx context.Context, sub *Subscription) error {
	query := `
		UPDATE subscriptions
		SET name = $3, provider_id = $4, category = $5, amount_minor = $6, currency_code = $7,
			billing_interval = $8, status = $9, payment_method = $10, notice_period_days = $11,
			next_payment_date = $12, confidence = $13, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		sub.ID,
		sub.UserID,
		sub.Name,
		sub.ProviderID,
		sub.Category,
		sub.AmountMinor,
		sub.CurrencyCode,
		sub.Interval,
		sub.Status,
		sub.PaymentMethod,
		sub.NoticePeriodDays,
		sub.NextPaymentDate,
		sub.Confidence,
	).Scan(&sub.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// Delete removes a subscription
func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	query := `DELETE FROM subscriptions WHERE id = $1 AND user_id = $2`
	result, err := r.db.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByUserID retrieves all subscriptions for a user, most expensive first
func (r *PostgresSubscriptionRepository) ListByUserID(ctx context.Context, userID uuid.UUID, statusFilter *Status, includeCanceled bool) ([]*Subscription, error) {
	query := selectColumns + `
		WHERE user_id = $1`

	args := []any{userID}
	if statusFilter != nil {
		query += ` AND status = $2`
		args = append(args, *statusFilter)
	} else if !includeCanceled {
		query += ` AND status != 'canceled'`
	}
	query += ` ORDER BY amount_minor DESC, name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return collect(rows)
}

// ListDue returns active subscriptions whose next payment date has passed
func (r *PostgresSubscriptionRepository) ListDue(ctx context.Context, before time.Time) ([]*Subscription, error) {
	query := selectColumns + `
		WHERE status = 'active' AND next_payment_date < $1
		ORDER BY next_payment_date`

	rows, err := r.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	return collect(rows)
}

// UpdateStatus sets the status of a subscription
func (r *PostgresSubscriptionRepository) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status Status) error {
	query := `UPDATE subscriptions SET status = $3, updated_at = now() WHERE id = $1 AND user_id = $2`
	result, err := r.db.Exec(ctx, query, id, userID, status)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// WithTx runs fn inside a transaction, committing only when fn succeeds
func (r *PostgresSubscriptionRepository) WithTx(ctx context.Context, fn func(repo SubscriptionRepository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&PostgresSubscriptionRepository{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func collect(rows pgx.Rows) ([]*Subscription, error) {
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Name,
		&sub.ProviderID,
		&sub.Category,
		&sub.AmountMinor,
		&sub.CurrencyCode,
		&sub.Interval,
		&sub.Status,
		&sub.PaymentMethod,
		&sub.NoticePeriodDays,
		&sub.StartDate,
		&sub.NextPaymentDate,
		&sub.Source,
		&sub.Confidence,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
