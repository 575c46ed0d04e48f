package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/model"
	"stocksim/internal/trade"
)

func TestMarketOrderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders/market", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "AAA.KS", in["symbol"])
		assert.Equal(t, "10000", in["amount"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"trade_id":"t1","symbol":"AAA.KS","side":"buy","quantity":"100","price":"100","fee":"25","cash":"9989975"}`))
	}))
	defer srv.Close()

	amount, err := ParseDecimal("10,000")
	require.NoError(t, err)
	res, err := NewClient(srv.URL).MarketOrder(context.Background(), "tok", trade.MarketOrderInput{
		Symbol: "AAA.KS", Side: model.SideBuy, Amount: amount,
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.TradeID)
	assert.Equal(t, "9989975", res.Cash.String())
}

func TestWatchlistRequests(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"symbol":"AAA.KS","name":"Alpha"}`))
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"entries":[{"symbol":"AAA.KS","name":"Alpha","price":"100","resolved":true}],"partial":false}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()
	f, err := c.AddFavorite(ctx, "tok", "AAA.KS", "Alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", f.Name)
	w, err := c.Watchlist(ctx, "tok")
	require.NoError(t, err)
	require.Len(t, w.Entries, 1)
	assert.Equal(t, "100", w.Entries[0].Price.String())
	require.NoError(t, c.RemoveFavorite(ctx, "tok", "AAA.KS"))

	assert.Equal(t, []string{"POST /v1/watchlist", "GET /v1/watchlist", "DELETE /v1/watchlist/AAA.KS"}, calls)
}

func TestAPIErrorsAreTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = w.Write([]byte(`{"error":"insufficient funds"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Me(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, IsAPIError(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPreconditionFailed, apiErr.Status)
	assert.Equal(t, "insufficient funds", apiErr.Message)
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv(SessionDirEnv, t.TempDir())

	_, err := LoadSession()
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, SaveSession(Session{AccessToken: "a", UserID: "u1"}))
	s, err := LoadSession()
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)

	require.NoError(t, ClearSession())
	_, err = LoadSession()
	assert.ErrorIs(t, err, ErrNoSession)
	require.NoError(t, ClearSession())
}

func TestActiveSessionRefreshesExpiredToken(t *testing.T) {
	t.Setenv(SessionDirEnv, t.TempDir())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v1/auth/refresh", r.URL.Path)
		_, _ = w.Write([]byte(`{"access_token":"new","refresh_token":"r2","expires_in":3600,"user":{"id":"u1","email":"u@x.io"}}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	require.NoError(t, SaveSession(Session{AccessToken: "old", RefreshToken: "r1", ExpiresAt: now.Add(time.Hour)}))
	s, err := ActiveSession(context.Background(), c, now)
	require.NoError(t, err)
	assert.Equal(t, "old", s.AccessToken)
	assert.Equal(t, 0, calls)

	s, err = ActiveSession(context.Background(), c, now.Add(time.Hour-10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "new", s.AccessToken)
	assert.Equal(t, 1, calls)

	saved, err := LoadSession()
	require.NoError(t, err)
	assert.Equal(t, "r2", saved.RefreshToken)
	assert.Equal(t, "u@x.io", saved.Email)
}

func TestSeasonQuery(t *testing.T) {
	assert.Equal(t, "", seasonQuery(0, ""))
	assert.Equal(t, "?scope=all_time&season=3", seasonQuery(3, "all_time"))
}
