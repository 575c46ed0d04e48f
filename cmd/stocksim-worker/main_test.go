package main

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/ledger"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/ranking"
	"stocksim/internal/store"
	"stocksim/internal/trade"
	"stocksim/internal/valuation"
)

func TestRunJobsKeepsSweepTickingDuringLongRank(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var sweeps, ranks atomic.Int64
	runJobs(ctx,
		job{every: 10 * time.Millisecond, run: func(context.Context) { sweeps.Add(1) }},
		job{every: 10 * time.Millisecond, run: func(ctx context.Context) {
			ranks.Add(1)
			<-ctx.Done()
		}},
	)

	assert.Equal(t, int64(1), ranks.Load())
	assert.GreaterOrEqual(t, sweeps.Load(), int64(5))
}

func TestJobWrappersOnlyLogFailures(t *testing.T) {
	ms := store.NewMemoryStore()
	rules := model.DefaultRules()
	quotes := oracle.New(oracle.NewStaticProvider(), rules)
	ledgers := ledger.NewService(ms, rules, nil)
	vals := valuation.NewService(ledgers, ms, quotes, rules, nil)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := context.Background()

	sweep(ctx, logger, trade.NewSweeper(trade.NewService(ledgers, ms, quotes, nil), 1, nil))
	require.True(t, rank(ctx, logger, ranking.NewAggregator(ms, vals, quotes, rules, nil)))
	assert.Empty(t, buf.String(), "run summaries come from the sweeper and the aggregator")
}
