package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/classy-pay-client/pkg/client"
	"github.com/Sternrassler/classy-pay-client/pkg/logging"
	"github.com/Sternrassler/classy-pay-client/pkg/metrics"
)

func main() {
	logging.Setup(logging.ConfigFromEnv())
	logger := logging.NewLogger("payclient-proxy")

	cfg, err := client.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	if cfg.Redis != nil {
		if err := cfg.Redis.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer cfg.Redis.Close()
		logger.Info().Str("addr", cfg.Redis.Options().Addr).Msg("Connected to Redis")
	}

	payClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create pay client")
	}
	defer payClient.Close()

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: newRouter(payClient, cfg.Redis, logger),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("api_url", cfg.APIURL).
		Msg("Starting pay client proxy")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// newRouter wires the proxy routes. redisClient may be nil.
func newRouter(payClient *client.Client, redisClient *redis.Client, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(redisClient))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/apps/{appID}/get/*", getHandler(payClient, logger))
	r.Get("/apps/{appID}/list/*", listHandler(payClient, logger))
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// getHandler proxies /apps/{appID}/get/<resource> to a single-object GET.
func getHandler(payClient *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, resource := chi.URLParam(r, "appID"), "/"+chi.URLParam(r, "*")

		obj, err := payClient.Get(r.Context(), appID, resource)
		if err != nil {
			writeError(w, logger, resource, err)
			return
		}
		if raw, ok := obj.([]byte); ok {
			w.WriteHeader(http.StatusOK)
			w.Write(raw)
			return
		}
		writeJSON(w, http.StatusOK, obj)
	}
}

// listHandler proxies /apps/{appID}/list/<resource> to a full List.
func listHandler(payClient *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, resource := chi.URLParam(r, "appID"), "/"+chi.URLParam(r, "*")

		items, err := payClient.List(r.Context(), appID, resource)
		if err != nil {
			writeError(w, logger, resource, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count": len(items),
			"items": items,
		})
	}
}

// writeError maps client errors to proxy responses. Upstream 4xx statuses
// pass through; everything else is a gateway failure.
func writeError(w http.ResponseWriter, logger zerolog.Logger, resource string, err error) {
	status := http.StatusBadGateway

	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrRequestBlocked):
		status = http.StatusTooManyRequests
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		status = apiErr.StatusCode
	}

	logger.Warn().
		Err(err).
		Str("resource", resource).
		Int("status_code", status).
		Msg("Proxy request failed")

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
