// Package interceptors provides Connect interceptors for identity, rate
// limiting and request logging.
package interceptors

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"
)

// UserIDHeader carries the caller's user ID, set by the authenticating proxy.
const UserIDHeader = "X-User-ID"

type contextKey struct{}

var userIDKey = contextKey{}

// WithUserID stores a user ID in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserIDFromContext returns the user ID stored by the identity interceptor.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// NewUserIDInterceptor copies the user ID header into the request context.
// Handlers decide whether a missing ID is an error.
func NewUserIDInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if id := strings.TrimSpace(req.Header().Get(UserIDHeader)); id != "" {
				ctx = WithUserID(ctx, id)
			}
			return next(ctx, req)
		}
	}
}

// NewRateLimitInterceptor rejects requests beyond perSecond with the given burst.
func NewRateLimitInterceptor(perSecond, burst int) connect.UnaryInterceptorFunc {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if !limiter.Allow() {
				return nil, connect.NewError(connect.CodeResourceExhausted, errors.New("rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}

// NewLoggingInterceptor logs each call with its duration and status code.
func NewLoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []any{
				slog.String("procedure", req.Spec().Procedure),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("code", connect.CodeOf(err).String()), slog.Any("error", err))
				logger.Warn("rpc failed", attrs...)
				return resp, err
			}
			logger.Debug("rpc completed", attrs...)
			return resp, nil
		}
	}
}
