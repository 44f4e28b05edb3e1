// Package handler implements the Subscriptions Connect RPC handlers.
package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/detector"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/repository"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/service"
	"github.com/FACorreiaa/subscription-tracker/pkg/interceptors"
	"github.com/FACorreiaa/subscription-tracker/pkg/money"
	"github.com/FACorreiaa/subscription-tracker/pkg/rpc"
)

const (
	// SubscriptionServiceName is the fully-qualified name of the subscriptions service.
	SubscriptionServiceName = "subtrack.v1.SubscriptionService"

	ListSubscriptionsProcedure        = "/subtrack.v1.SubscriptionService/ListSubscriptions"
	CreateSubscriptionProcedure       = "/subtrack.v1.SubscriptionService/CreateSubscription"
	UpdateSubscriptionStatusProcedure = "/subtrack.v1.SubscriptionService/UpdateSubscriptionStatus"
	DeleteSubscriptionProcedure       = "/subtrack.v1.SubscriptionService/DeleteSubscription"
	ApplyCandidatesProcedure          = "/subtrack.v1.SubscriptionService/ApplyCandidates"
	SearchProvidersProcedure          = "/subtrack.v1.SubscriptionService/SearchProviders"
)

const defaultSearchLimit = 10

// Subscription is the wire form of a tracked subscription.
type Subscription struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	ProviderID       string       `json:"provider_id,omitempty"`
	Category         string       `json:"category"`
	Price            *money.Money `json:"price"`
	Interval         string       `json:"interval"`
	Status           string       `json:"status"`
	PaymentMethod    string       `json:"payment_method,omitempty"`
	NoticePeriodDays int          `json:"notice_period_days"`
	StartDate        string       `json:"start_date"`
	NextPaymentDate  string       `json:"next_payment_date"`
	Source           string       `json:"source"`
	Confidence       int          `json:"confidence"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

type ListSubscriptionsRequest struct {
	StatusFilter    *string `json:"status_filter,omitempty"`
	IncludeCanceled bool    `json:"include_canceled"`
}

type ListSubscriptionsResponse struct {
	Subscriptions []Subscription `json:"subscriptions"`
	// TotalMonthlyCost has one entry per currency, sorted by currency code.
	TotalMonthlyCost []*money.Money `json:"total_monthly_cost"`
	ActiveCount      int            `json:"active_count"`
}

type CreateSubscriptionRequest struct {
	Name             string          `json:"name"`
	ProviderID       string          `json:"provider_id,omitempty"`
	Category         string          `json:"category,omitempty"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency,omitempty"`
	Interval         string          `json:"interval,omitempty"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	NoticePeriodDays int             `json:"notice_period_days,omitempty"`
	StartDate        string          `json:"start_date,omitempty"`
	NextPaymentDate  string          `json:"next_payment_date,omitempty"`
}

type SubscriptionResponse struct {
	Subscription Subscription `json:"subscription"`
}

type UpdateSubscriptionStatusRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
}

type DeleteSubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type DeleteSubscriptionResponse struct{}

type ApplyCandidatesRequest struct {
	Candidates []detector.Candidate `json:"candidates"`
}

type ApplyCandidatesResponse struct {
	Created       int            `json:"created"`
	Updated       int            `json:"updated"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type SearchProvidersRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SearchProvidersResponse struct {
	Providers []catalog.Provider `json:"providers"`
}

// SubscriptionsHandler implements the subscription-related Connect handlers
type SubscriptionsHandler struct {
	svc     *service.Service
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewSubscriptionsHandler constructs a new handler
func NewSubscriptionsHandler(svc *service.Service, cat *catalog.Catalog, logger *slog.Logger) *SubscriptionsHandler {
	return &SubscriptionsHandler{svc: svc, catalog: cat, logger: logger}
}

// Routes returns the path prefix and handler serving every subscription procedure.
func (h *SubscriptionsHandler) Routes(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(ListSubscriptionsProcedure, rpc.NewUnaryHandler(ListSubscriptionsProcedure, h.ListSubscriptions, opts...))
	mux.Handle(CreateSubscriptionProcedure, rpc.NewUnaryHandler(CreateSubscriptionProcedure, h.CreateSubscription, opts...))
	mux.Handle(UpdateSubscriptionStatusProcedure, rpc.NewUnaryHandler(UpdateSubscriptionStatusProcedure, h.UpdateSubscriptionStatus, opts...))
	mux.Handle(DeleteSubscriptionProcedure, rpc.NewUnaryHandler(DeleteSubscriptionProcedure, h.DeleteSubscription, opts...))
	mux.Handle(ApplyCandidatesProcedure, rpc.NewUnaryHandler(ApplyCandidatesProcedure, h.ApplyCandidates, opts...))
	mux.Handle(SearchProvidersProcedure, rpc.NewUnaryHandler(SearchProvidersProcedure, h.SearchProviders, opts...))
	return "/" + SubscriptionServiceName + "/", mux
}

// ListSubscriptions retrieves all subscriptions for a user
func (h *SubscriptionsHandler) ListSubscriptions(
	ctx context.Context,
	req *connect.Request[ListSubscriptionsRequest],
) (*connect.Response[ListSubscriptionsResponse], error) {
	userID, err := getUserID(ctx)
	if err != nil {
		return nil, err
	}

	var statusFilter *repository.Status
	if req.Msg.StatusFilter != nil {
		s := repository.Status(*req.Msg.StatusFilter)
		if !s.Valid() {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown status %q", s))
		}
		statusFilter = &s
	}

	subs, err := h.svc.ListSubscriptions(ctx, userID, statusFilter, req.Msg.IncludeCanceled)
	if err != nil {
		return nil, h.toConnectError(err)
	}

	totals, activeCount, err := h.svc.GetTotalMonthlyCost(ctx, userID)
	if err != nil {
		return nil, h.toConnectError(err)
	}

	return connect.NewResponse(&ListSubscriptionsResponse{
		Subscriptions:    toSubscriptions(subs),
		TotalMonthlyCost: sortedTotals(totals),
		ActiveCount:      activeCount,
	}), nil
}

// CreateSubscription stores a manually entered subscription
func (h *SubscriptionsHandler) CreateSubscription(
	ctx context.Context,
	req *connect.Request[CreateSubscriptionRequest],
) (*connect.Response[SubscriptionResponse], error) {
	userID, err := getUserID(ctx)
	if err != nil {
		return nil, err
	}

	startDate, err := optionalDate(req.Msg.StartDate)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid start_date: %w", err))
	}
	nextPayment, err := optionalDate(req.Msg.NextPaymentDate)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid next_payment_date: %w", err))
	}

	sub, err := h.svc.CreateSubscription(ctx, userID, service.CreateInput{
		Name:             req.Msg.Name,
		ProviderID:       req.Msg.ProviderID,
		Category:         req.Msg.Category,
		Price:            req.Msg.Price,
		Currency:         req.Msg.Currency,
		Interval:         req.Msg.Interval,
		PaymentMethod:    req.Msg.PaymentMethod,
		NoticePeriodDays: req.Msg.NoticePeriodDays,
		StartDate:        startDate,
		NextPaymentDate:  nextPayment,
	})
	if err != nil {
		return nil, h.toConnectError(err)
	}

	return connect.NewResponse(&SubscriptionResponse{Subscription: toSubscription(sub)}), nil
}

// UpdateSubscriptionStatus updates the status of a subscription
func (h *SubscriptionsHandler) UpdateSubscriptionStatus(
	ctx context.Context,
	req *connect.Request[UpdateSubscriptionStatusRequest],
) (*connect.Response[SubscriptionResponse], error) {
	userID, err := getUserID(ctx)
	if err != nil {
		return nil, err
	}

	subID, err := uuid.Parse(req.Msg.SubscriptionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid subscription ID"))
	}

	sub, err := h.svc.UpdateStatus(ctx, userID, subID, repository.Status(req.Msg.Status))
	if err != nil {
		return nil, h.toConnectError(err)
	}

	return connect.NewResponse(&SubscriptionResponse{Subscription: toSubscription(sub)}), nil
}

// DeleteSubscription removes a subscription
func (h *SubscriptionsHandler) DeleteSubscription(
	ctx context.Context,
	req *connect.Request[DeleteSubscriptionRequest],
) (*connect.Response[DeleteSubscriptionResponse], error) {
	userID, err := getUserID(ctx)
	if err != nil {
		return nil, err
	}

	subID, err := uuid.Parse(req.Msg.SubscriptionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid subscription ID"))
	}

	if err := h.svc.DeleteSubscription(ctx, userID, subID); err != nil {
		return nil, h.toConnectError(err)
	}
	return connect.NewResponse(&DeleteSubscriptionResponse{}), nil
}

// ApplyCandidates persists the candidates the user accepted from a preview
func (h *SubscriptionsHandler) ApplyCandidates(
	ctx context.Context,
	req *connect.Request[ApplyCandidatesRequest],
) (*connect.Response[ApplyCandidatesResponse], error) {
	userID, err := getUserID(ctx)
	if err != nil {
		return nil, err
	}
	if len(req.Msg.Candidates) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("no candidates to apply"))
	}

	result, err := h.svc.ApplyCandidates(ctx, userID, req.Msg.Candidates)
	if err != nil {
		return nil, h.toConnectError(err)
	}

	return connect.NewResponse(&ApplyCandidatesResponse{
		Created:       result.Created,
		Updated:       result.Updated,
		Subscriptions: toSubscriptions(result.Subscriptions),
	}), nil
}

// SearchProviders looks up catalog providers by name, tolerating typos
func (h *SubscriptionsHandler) SearchProviders(
	ctx context.Context,
	req *connect.Request[SearchProvidersRequest],
) (*connect.Response[SearchProvidersResponse], error) {
	limit := req.Msg.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	providers := h.catalog.Search(req.Msg.Query, limit)
	if providers == nil {
		providers = []catalog.Provider{}
	}
	return connect.NewResponse(&SearchProvidersResponse{Providers: providers}), nil
}

// Helper functions

func (h *SubscriptionsHandler) toConnectError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return connect.NewError(connect.CodeNotFound, errors.New("subscription not found"))
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrUnknownProvider):
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
	h.logger.Error("subscription rpc failed", slog.Any("error", err))
	return connect.NewError(connect.CodeInternal, err)
}

func getUserID(ctx context.Context) (uuid.UUID, error) {
	userIDStr, ok := interceptors.GetUserIDFromContext(ctx)
	if !ok || userIDStr == "" {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid user ID"))
	}
	return userID, nil
}

func optionalDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(model.DateLayout, value)
}

func toSubscriptions(subs []*repository.Subscription) []Subscription {
	out := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscription(sub))
	}
	return out
}

func toSubscription(sub *repository.Subscription) Subscription {
	out := Subscription{
		ID:               sub.ID.String(),
		Name:             sub.Name,
		Category:         sub.Category,
		Price:            money.New(sub.AmountMinor, sub.CurrencyCode),
		Interval:         sub.Interval,
		Status:           string(sub.Status),
		PaymentMethod:    sub.PaymentMethod,
		NoticePeriodDays: sub.NoticePeriodDays,
		StartDate:        sub.StartDate.Format(model.DateLayout),
		NextPaymentDate:  sub.NextPaymentDate.Format(model.DateLayout),
		Source:           string(sub.Source),
		Confidence:       sub.Confidence,
		CreatedAt:        sub.CreatedAt,
		UpdatedAt:        sub.UpdatedAt,
	}
	if sub.ProviderID != nil {
		out.ProviderID = *sub.ProviderID
	}
	return out
}

func sortedTotals(totals map[string]*money.Money) []*money.Money {
	out := make([]*money.Money, 0, len(totals))
	for _, m := range totals {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency() < out[j].Currency() })
	return out
}
