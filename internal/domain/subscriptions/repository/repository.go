// Package repository provides database operations for tracked subscriptions.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Status represents the lifecycle state of a subscription
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCanceled:
		return true
	}
	return false
}

// Source records how a subscription entered the system
type Source string

const (
	SourceManual Source = "manual"
	SourceImport Source = "import"
)

// Subscription is a tracked recurring charge
type Subscription struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Name             string
	ProviderID       *string
	Category         string
	AmountMinor      int64
	CurrencyCode     string
	Interval         string
	Status           Status
	PaymentMethod    string
	NoticePeriodDays int
	StartDate        time.Time
	NextPaymentDate  time.Time
	Source           Source
	Confidence       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DBTX is the subset of pgxpool.Pool used by the repository, so a
// transaction or pgxmock pool can stand in.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SubscriptionRepository defines the interface for subscription persistence
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, userID, id uuid.UUID) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, userID, id uuid.UUID) error
	ListByUserID(ctx context.Context, userID uuid.UUID, statusFilter *Status, includeCanceled bool) ([]*Subscription, error)

	// ListDue returns active subscriptions whose next payment date is before the given day.
	ListDue(ctx context.Context, before time.Time) ([]*Subscription, error)
	UpdateStatus(ctx context.Context, userID, id uuid.UUID, status Status) error

	// WithTx runs fn against a repository bound to a single transaction.
	// Nothing fn wrote is kept when it returns an error.
	WithTx(ctx context.Context, fn func(repo SubscriptionRepository) error) error
}
