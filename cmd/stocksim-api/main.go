package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stocksim/internal/api"
	"stocksim/internal/app"
	"stocksim/internal/auth"
	"stocksim/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	backend, err := app.Open(ctx, cfg.Backend, logger)
	if err != nil {
		logger.Error("backend init failed", "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	server := api.New(cfg, logger, authClient, api.Services{
		Store:     backend.Store,
		Quotes:    backend.Quotes,
		Ledgers:   backend.Ledgers,
		Trades:    backend.Trades,
		Valuation: backend.Valuation,
		Rankings:  backend.Rankings,
		Seasons:   backend.Seasons,
		Debates:   backend.Debates,
		Quizzes:   backend.Quizzes,
		Watchlist: backend.Watchlist,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("stocksim api listening", "addr", cfg.Addr, "store", cfg.StoreDriver, "quotes", cfg.QuoteSource)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
