// Package api wires the subscription tracker's HTTP server.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	connectcors "connectrpc.com/cors"
	"github.com/rs/cors"

	"github.com/FACorreiaa/subscription-tracker/pkg/config"
	"github.com/FACorreiaa/subscription-tracker/pkg/interceptors"
)

// Route registers a Connect service under its path prefix.
type Route func(opts ...connect.HandlerOption) (string, http.Handler)

// NewHandler mounts routes behind the standard interceptors and CORS, plus
// a health check and, when metrics is non-nil, the metrics endpoint.
func NewHandler(cfg *config.Config, logger *slog.Logger, metrics http.Handler, routes ...Route) http.Handler {
	opts := []connect.HandlerOption{
		connect.WithInterceptors(
			interceptors.NewLoggingInterceptor(logger),
			interceptors.NewRateLimitInterceptor(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst),
			interceptors.NewUserIDInterceptor(),
		),
		// base64 inflates uploads by a third; leave room for the JSON envelope.
		connect.WithReadMaxBytes(int(cfg.Import.MaxUploadBytes*4/3) + 64<<10),
	}

	mux := http.NewServeMux()
	for _, route := range routes {
		path, h := route(opts...)
		mux.Handle(path, h)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		mux.Handle("GET "+cfg.Observability.MetricsPath, metrics)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: connectcors.AllowedMethods(),
		AllowedHeaders: append(connectcors.AllowedHeaders(), interceptors.UserIDHeader),
		ExposedHeaders: connectcors.ExposedHeaders(),
		MaxAge:         7200,
	})
	return c.Handler(mux)
}

// Run starts the server and blocks until ctx is canceled, then shuts down
// gracefully.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, err := InitDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	var metricsHandler http.Handler
	if cfg.Observability.MetricsEnabled {
		metricsHandler = deps.Metrics.Handler()
	}
	handler := NewHandler(cfg, logger, metricsHandler,
		deps.ImportHandler.Routes,
		deps.SubscriptionsHandler.Routes,
	)

	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		Protocols:         protocols,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	if cfg.Scheduler.Enabled {
		if err := deps.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() { <-deps.Scheduler.Stop().Done() }()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
