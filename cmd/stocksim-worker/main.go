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

	"golang.org/x/sync/errgroup"

	"stocksim/internal/app"
	"stocksim/internal/config"
	"stocksim/internal/metrics"
	"stocksim/internal/ranking"
	"stocksim/internal/trade"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
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

	sweeper := trade.NewSweeper(backend.Trades, cfg.SweepParallelism, logger)
	ranker := backend.Rankings
	ranker.SetParallelism(cfg.RankParallelism)

	if cfg.RunOnce {
		sweep(ctx, logger, sweeper)
		if !rank(ctx, logger, ranker) {
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, logger, cfg.MetricsAddr)
	}

	logger.Info("worker started", "sweep_every", cfg.SweepEvery.String(), "rank_every", cfg.RankEvery.String())
	runJobs(ctx,
		job{every: cfg.SweepEvery, run: func(ctx context.Context) { sweep(ctx, logger, sweeper) }},
		job{every: cfg.RankEvery, run: func(ctx context.Context) { rank(ctx, logger, ranker) }},
	)
	logger.Info("worker shutdown")
}

type job struct {
	every time.Duration
	run   func(ctx context.Context)
}

// runJobs runs each job on its own ticker until ctx is done and waits for
// in-flight runs. A run that outlasts its interval drops the missed ticks.
func runJobs(ctx context.Context, jobs ...job) {
	var g errgroup.Group
	for _, j := range jobs {
		g.Go(func() error {
			t := time.NewTicker(j.every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					j.run(ctx)
				}
			}
		})
	}
	_ = g.Wait()
}

// Run summaries are logged by the sweeper and the aggregator; only failures
// are reported here.
func sweep(ctx context.Context, logger *slog.Logger, sweeper *trade.Sweeper) {
	if _, err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("limit order sweep failed", "err", err)
	}
}

func rank(ctx context.Context, logger *slog.Logger, ranker *ranking.Aggregator) bool {
	if _, err := ranker.Run(ctx); err != nil {
		logger.Error("ranking run failed", "err", err)
		return false
	}
	return true
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("worker metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "err", err)
	}
}
