package interceptors

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct{}

func echoUserID(seen *string) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		*seen, _ = GetUserIDFromContext(ctx)
		return connect.NewResponse(&ping{}), nil
	}
}

func TestUserIDInterceptor(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"header present", "7f1c1b7e-0000-4000-8000-000000000001", "7f1c1b7e-0000-4000-8000-000000000001"},
		{"header trimmed", "  abc  ", "abc"},
		{"header missing", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := NewUserIDInterceptor()(echoUserID(&seen))

			req := connect.NewRequest(&ping{})
			if tt.header != "" {
				req.Header().Set(UserIDHeader, tt.header)
			}
			_, err := handler(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, seen)
		})
	}
}

func TestGetUserIDFromContext(t *testing.T) {
	_, ok := GetUserIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = GetUserIDFromContext(WithUserID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := GetUserIDFromContext(WithUserID(context.Background(), "u1"))
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestRateLimitInterceptor(t *testing.T) {
	var seen string
	handler := NewRateLimitInterceptor(1, 2)(echoUserID(&seen))

	for i := 0; i < 2; i++ {
		_, err := handler(context.Background(), connect.NewRequest(&ping{}))
		require.NoError(t, err)
	}

	_, err := handler(context.Background(), connect.NewRequest(&ping{}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	failing := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return nil, connect.NewError(connect.CodeNotFound, errors.New("missing"))
	}
	_, err := NewLoggingInterceptor(logger)(failing)(context.Background(), connect.NewRequest(&ping{}))
	require.Error(t, err)
	assert.Contains(t, buf.String(), "rpc failed")
	assert.Contains(t, buf.String(), "code=not_found")
}
