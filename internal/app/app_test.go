package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/config"
	"stocksim/internal/model"
)

func TestParseStaticPrices(t *testing.T) {
	prices, err := ParseStaticPrices(" aapl=190.5, 005930.KS=71000 ,")
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.True(t, prices["AAPL"].Equal(decimal.RequireFromString("190.5")))
	assert.True(t, prices["005930.KS"].Equal(decimal.NewFromInt(71000)))

	_, err = ParseStaticPrices("AAPL")
	assert.Error(t, err)
	_, err = ParseStaticPrices("AAPL=-1")
	assert.Error(t, err)
}

func TestOpenMemoryBackend(t *testing.T) {
	t.Setenv(StaticPricesEnv, "005930.KS=70000")
	b, err := Open(context.Background(), config.Backend{
		StoreDriver: "memory",
		QuoteSource: "static",
		Rules:       model.DefaultRules(),
	}, nil)
	require.NoError(t, err)
	defer b.Close()

	q, err := b.Quotes.GetQuote(context.Background(), "005930.KS")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(70000)))

	s, err := b.Seasons.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.CurrentID)
}
