package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-entity/pkg/simpleentity/api"
	"github.com/tendant/simple-entity/pkg/simpleentity/config"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		if usage, uerr := config.Usage(); uerr == nil {
			fmt.Fprintln(os.Stderr, usage)
		}
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Environment))

	if err := run(cfg); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(cfg *config.ServerConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := cfg.BuildService(ctx)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer func() {
		if err := built.Close(); err != nil {
			slog.Warn("Failed to close stores", "error", err)
		}
	}()

	var ja *jwtauth.JWTAuth
	if cfg.JWTSecret != "" {
		ja = api.NewTokenAuth(cfg.JWTSecret)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := built.Service.Status(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unavailable","environment":%q}`, cfg.Environment)
			return
		}
		fmt.Fprintf(w, `{"status":"healthy","environment":%q}`, cfg.Environment)
	})
	if cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Mount("/api/v1", api.NewRouter(built.Service, ja))
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Simple Entity Server starting", "port", cfg.Port, "environment", cfg.Environment,
			"database", redact(cfg.DatabaseURL), "storage", cfg.StorageURL, "rights", cfg.EnableRights)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("Server exiting")
	return nil
}

// redact hides the password of a database URL
func redact(databaseURL string) string {
	if databaseURL == "" || databaseURL == config.StoreMemory {
		return databaseURL
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
