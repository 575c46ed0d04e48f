package auth

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
)

func TestVerifyMapsProviderUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		switch r.Header.Get("Authorization") {
		case "Bearer admin-token":
			_, _ = w.Write([]byte(`{"id":"a1","email":"a@x.io","email_confirmed_at":"2026-03-01T00:00:00Z","app_metadata":{"role":"admin"}}`))
		case "Bearer fresh-token":
			_, _ = w.Write([]byte(`{"id":"u1","email":"u@x.io","app_metadata":{}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
		}
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL+"/", "anon")
	ctx := context.Background()

	id, err := c.Verify(ctx, "admin-token")
	require.NoError(t, err)
	assert.Equal(t, model.Identity{UserID: "a1", Email: "a@x.io", IsAdmin: true, EmailVerified: true}, id)

	id, err = c.Verify(ctx, "fresh-token")
	require.NoError(t, err)
	assert.False(t, id.IsAdmin)
	assert.False(t, id.EmailVerified)

	_, err = c.Verify(ctx, "bogus")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestTokenGrants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch {
		case r.URL.Path == "/auth/v1/signup":
			_, _ = w.Write([]byte(`{"user":{"id":"u9","email":"new@x.io"}}`))
		case r.URL.Query().Get("grant_type") == "password" && body["password"] == "pw":
			_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,"user":{"id":"u1"}}`))
		case r.URL.Query().Get("grant_type") == "refresh_token" && body["refresh_token"] == "rt":
			_, _ = w.Write([]byte(`{"access_token":"at2","refresh_token":"rt2","expires_in":3600,"user":{"id":"u1"}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		}
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL, "anon")
	ctx := context.Background()

	s, err := c.SignUp(ctx, "new@x.io", "pw")
	require.NoError(t, err)
	assert.Empty(t, s.AccessToken)
	assert.Equal(t, "u9", s.User.ID)

	s, err = c.Login(ctx, "u@x.io", "pw")
	require.NoError(t, err)
	assert.Equal(t, "rt", s.RefreshToken)
	issued := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, issued.Add(time.Hour), s.ExpiresAt(issued))

	s, err = c.Refresh(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, "at2", s.AccessToken)

	_, err = c.Login(ctx, "u@x.io", "wrong")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadRequest, perr.Status)

	_, err = c.Refresh(ctx, "")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}
