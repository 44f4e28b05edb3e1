// Package service provides business logic for tracked subscriptions: manual
// entry, applying detected candidates and keeping payment dates current.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/detector"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/repository"
	"github.com/FACorreiaa/subscription-tracker/pkg/money"
)

var (
	ErrInvalidInput    = errors.New("invalid subscription")
	ErrUnknownProvider = errors.New("unknown provider")
)

// CreateInput is a manually entered subscription
type CreateInput struct {
	Name             string
	ProviderID       string
	Category         string
	Price            decimal.Decimal
	Currency         string
	Interval         string
	PaymentMethod    string
	NoticePeriodDays int
	StartDate        time.Time
	NextPaymentDate  time.Time
}

// ApplyResult summarizes ApplyCandidates
type ApplyResult struct {
	Created       int
	Updated       int
	Subscriptions []*repository.Subscription
}

// Service provides subscription management business logic
type Service struct {
	repo    repository.SubscriptionRepository
	catalog *catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new subscriptions service
func NewService(repo repository.SubscriptionRepository, cat *catalog.Catalog, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: cat, logger: logger, now: time.Now}
}

// CreateSubscription validates and stores a manually entered subscription.
// A known ProviderID fills in name, category and notice period.
func (s *Service) CreateSubscription(ctx context.Context, userID uuid.UUID, in CreateInput) (*repository.Subscription, error) {
	sub := &repository.Subscription{
		UserID:           userID,
		Name:             strings.TrimSpace(in.Name),
		Category:         strings.TrimSpace(in.Category),
		CurrencyCode:     money.NormalizeCurrency(in.Currency),
		Interval:         strings.ToLower(strings.TrimSpace(in.Interval)),
		Status:           repository.StatusActive,
		PaymentMethod:    in.PaymentMethod,
		NoticePeriodDays: in.NoticePeriodDays,
		StartDate:        in.StartDate,
		NextPaymentDate:  in.NextPaymentDate,
		Source:           repository.SourceManual,
		Confidence:       100,
	}

	if in.ProviderID != "" {
		p, ok := s.catalog.ByID(in.ProviderID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, in.ProviderID)
		}
		sub.ProviderID = &p.ID
		if sub.Name == "" {
			sub.Name = p.Name
		}
		if sub.Category == "" {
			sub.Category = p.Category
		}
		if sub.NoticePeriodDays == 0 {
			sub.NoticePeriodDays = noticePeriodFor(p)
		}
	}

	if sub.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !in.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if sub.Interval == "" {
		sub.Interval = string(detector.IntervalMonthly)
	}
	if !validInterval(sub.Interval) {
		return nil, fmt.Errorf("%w: unknown interval %q", ErrInvalidInput, in.Interval)
	}
	if sub.NoticePeriodDays < 0 {
		return nil, fmt.Errorf("%w: notice period cannot be negative", ErrInvalidInput)
	}
	if sub.Category == "" {
		sub.Category = catalog.DefaultCategory
	}
	if sub.NoticePeriodDays == 0 {
		sub.NoticePeriodDays = detector.DefaultNoticePeriodDays
	}
	if sub.StartDate.IsZero() {
		sub.StartDate = s.today()
	}
	if sub.NextPaymentDate.IsZero() {
		sub.NextPaymentDate = advance(sub.StartDate, sub.Interval)
	}
	sub.AmountMinor = money.FromDecimal(in.Price, sub.CurrencyCode).Amount()

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription created",
		slog.String("user_id", userID.String()),
		slog.String("subscription_id", sub.ID.String()),
		slog.String("name", sub.Name),
	)
	return sub, nil
}

// ListSubscriptions retrieves all subscriptions for a user
func (s *Service) ListSubscriptions(ctx context.Context, userID uuid.UUID, statusFilter *repository.Status, includeCanceled bool) ([]*repository.Subscription, error) {
	return s.repo.ListByUserID(ctx, userID, statusFilter, includeCanceled)
}

// GetSubscription retrieves a subscription by ID
func (s *Service) GetSubscription(ctx context.Context, userID, id uuid.UUID) (*repository.Subscription, error) {
	return s.repo.GetByID(ctx, userID, id)
}

// UpdateStatus updates the status of a subscription
func (s *Service) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status repository.Status) (*repository.Subscription, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if err := s.repo.UpdateStatus(ctx, userID, id, status); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, userID, id)
}

// DeleteSubscription removes a subscription
func (s *Service) DeleteSubscription(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Info("subscription deleted",
		slog.String("user_id", userID.String()),
		slog.String("subscription_id", id.String()),
	)
	return nil
}

// ApplyCandidates persists user-approved candidates in one transaction.
// Update candidates refresh price, interval and next payment date of the
// existing record; the rest are created. When any candidate fails nothing is
// stored.
func (s *Service) ApplyCandidates(ctx context.Context, userID uuid.UUID, candidates []detector.Candidate) (*ApplyResult, error) {
	var result *ApplyResult

	err := s.repo.WithTx(ctx, func(repo repository.SubscriptionRepository) error {
		result = &ApplyResult{}
		for _, c := range candidates {
			if c.Action == detector.ActionUpdate && c.ExistingID != "" {
				sub, err := s.applyUpdate(ctx, repo, userID, c)
				if err != nil {
					return err
				}
				result.Updated++
				result.Subscriptions = append(result.Subscriptions, sub)
				continue
			}

			sub, err := s.applyCreate(ctx, repo, userID, c)
			if err != nil {
				return err
			}
			result.Created++
			result.Subscriptions = append(result.Subscriptions, sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("candidates applied",
		slog.String("user_id", userID.String()),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
	)
	return result, nil
}

func (s *Service) applyCreate(ctx context.Context, repo repository.SubscriptionRepository, userID uuid.UUID, c detector.Candidate) (*repository.Subscription, error) {
	if c.Name == "" || !c.Price.IsPositive() {
		return nil, fmt.Errorf("%w: candidate %q has no name or price", ErrInvalidInput, c.MerchantKey)
	}

	currency := money.NormalizeCurrency(c.Currency)
	sub := &repository.Subscription{
		UserID:           userID,
		Name:             c.Name,
		Category:         c.Category,
		AmountMinor:      money.FromDecimal(c.Price, currency).Amount(),
		CurrencyCode:     currency,
		Interval:         string(c.Interval),
		Status:           repository.StatusActive,
		PaymentMethod:    c.PaymentMethod,
		NoticePeriodDays: c.NoticePeriodDays,
		StartDate:        parseDate(c.StartDate, s.today()),
		NextPaymentDate:  parseDate(c.NextPaymentDate, s.today()),
		Source:           repository.SourceImport,
		Confidence:       c.Confidence,
	}
	if c.ProviderID != "" {
		id := c.ProviderID
		sub.ProviderID = &id
	}
	if sub.Category == "" {
		sub.Category = catalog.DefaultCategory
	}
	if !validInterval(sub.Interval) {
		sub.Interval = string(detector.IntervalMonthly)
	}

	if err := repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription %q: %w", c.Name, err)
	}
	return sub, nil
}

func (s *Service) applyUpdate(ctx context.Context, repo repository.SubscriptionRepository, userID uuid.UUID, c detector.Candidate) (*repository.Subscription, error) {
	id, err := uuid.Parse(c.ExistingID)
	if err != nil {
		return nil, fmt.Errorf("%w: existing id %q", ErrInvalidInput, c.ExistingID)
	}

	sub, err := repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	previous := sub.AmountMinor
	sub.CurrencyCode = money.NormalizeCurrency(c.Currency)
	sub.AmountMinor = money.FromDecimal(c.Price, sub.CurrencyCode).Amount()
	if validInterval(string(c.Interval)) {
		sub.Interval = string(c.Interval)
	}
	sub.NextPaymentDate = parseDate(c.NextPaymentDate, sub.NextPaymentDate)
	sub.Confidence = c.Confidence
	if sub.ProviderID == nil && c.ProviderID != "" {
		pid := c.ProviderID
		sub.ProviderID = &pid
	}

	if err := repo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription %s: %w", id, err)
	}

	if previous != sub.AmountMinor {
		s.logger.Info("subscription price changed",
			slog.String("subscription_id", id.String()),
			slog.Int64("previous_minor", previous),
			slog.Int64("current_minor", sub.AmountMinor),
		)
	}
	return sub, nil
}

// GetTotalMonthlyCost sums active subscriptions normalized to a monthly
// amount, per currency. It also returns the number of subscriptions counted.
func (s *Service) GetTotalMonthlyCost(ctx context.Context, userID uuid.UUID) (map[string]*money.Money, int, error) {
	status := repository.StatusActive
	subs, err := s.repo.ListByUserID(ctx, userID, &status, false)
	if err != nil {
		return nil, 0, err
	}

	totals := make(map[string]*money.Money)
	for _, sub := range subs {
		monthly := money.New(NormalizeToMonthly(sub.AmountMinor, sub.Interval), sub.CurrencyCode)
		current, ok := totals[monthly.Currency()]
		if !ok {
			totals[monthly.Currency()] = monthly
			continue
		}
		sum, err := current.Add(monthly)
		if err != nil {
			return nil, 0, err
		}
		totals[monthly.Currency()] = sum
	}
	return totals, len(subs), nil
}

// RollForwardDue moves past-due next payment dates of active subscriptions
// forward by their interval until they are today or later. It returns the
// number of subscriptions updated.
func (s *Service) RollForwardDue(ctx context.Context) (int, error) {
	today := s.today()
	due, err := s.repo.ListDue(ctx, today)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, sub := range due {
		next := sub.NextPaymentDate
		for steps := 1; next.Before(today); steps++ {
			next = advanceBy(sub.NextPaymentDate, sub.Interval, steps)
		}
		sub.NextPaymentDate = next

		if err := s.repo.Update(ctx, sub); err != nil {
			s.logger.Error("failed to roll forward subscription",
				slog.String("subscription_id", sub.ID.String()),
				slog.Any("error", err),
			)
			continue
		}
		updated++
	}
	return updated, nil
}

// NormalizeToMonthly converts an amount billed every interval to its
// monthly equivalent in minor units.
func NormalizeToMonthly(amountMinor int64, interval string) int64 {
	switch detector.Interval(interval) {
	case detector.IntervalWeekly:
		return amountMinor * 52 / 12
	case detector.IntervalQuarterly:
		return amountMinor / 3
	case detector.IntervalYearly:
		return amountMinor / 12
	default:
		return amountMinor
	}
}

// advance returns the next billing date after from.
func advance(from time.Time, interval string) time.Time {
	return advanceBy(from, interval, 1)
}

// advanceBy moves from forward by steps intervals. Month-based intervals keep
// the day of month of from, clamped to the last day of shorter months.
func advanceBy(from time.Time, interval string, steps int) time.Time {
	switch detector.Interval(interval) {
	case detector.IntervalWeekly:
		return from.AddDate(0, 0, 7*steps)
	case detector.IntervalQuarterly:
		return addMonths(from, 3*steps)
	case detector.IntervalYearly:
		return addMonths(from, 12*steps)
	default:
		return addMonths(from, steps)
	}
}

func addMonths(from time.Time, months int) time.Time {
	y, m, d := from.Date()
	// Day 0 of the following month is the last day of the target month.
	last := time.Date(y, m+time.Month(months)+1, 0, 0, 0, 0, 0, from.Location()).Day()
	if d > last {
		d = last
	}
	h, mi, sec := from.Clock()
	return time.Date(y, m+time.Month(months), d, h, mi, sec, from.Nanosecond(), from.Location())
}

func validInterval(interval string) bool {
	switch detector.Interval(interval) {
	case detector.IntervalWeekly, detector.IntervalMonthly, detector.IntervalQuarterly, detector.IntervalYearly:
		return true
	}
	return false
}

func noticePeriodFor(p catalog.Provider) int {
	if p.HasNoticeInfo() {
		return detector.ProviderNoticePeriodDays
	}
	return detector.DefaultNoticePeriodDays
}

func parseDate(value string, fallback time.Time) time.Time {
	d, err := time.Parse(model.DateLayout, value)
	if err != nil {
		return fallback
	}
	return d
}

func (s *Service) today() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
