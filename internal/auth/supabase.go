// Package auth talks to the Supabase identity provider. The simulation
// never stores credentials; it only trusts what the provider vouches for.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stocksim/internal/model"
)

// AdminRole is the app_metadata role that grants admin operations.
const AdminRole = "admin"

type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// Session is a token grant. Signup returns an empty AccessToken when the
// project requires email confirmation first.
type Session struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	TokenType    string       `json:"token_type"`
	User         SupabaseUser `json:"user"`
}

// ExpiresAt is the wall-clock expiry of the access token relative to issued.
func (s Session) ExpiresAt(issued time.Time) time.Time {
	if s.ExpiresIn <= 0 {
		return time.Time{}
	}
	return issued.Add(time.Duration(s.ExpiresIn) * time.Second)
}

type SupabaseUser struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	AppMetadata      struct {
		Role string `json:"role,omitempty"`
	} `json:"app_metadata"`
}

// Identity converts the provider's user record into the simulation's view.
func (u SupabaseUser) Identity() model.Identity {
	return model.Identity{
		UserID:        u.ID,
		Email:         u.Email,
		IsAdmin:       strings.EqualFold(u.AppMetadata.Role, AdminRole),
		EmailVerified: u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero(),
	}
}

// ProviderError is a non-2xx answer from the identity provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider status %d: %s", e.Status, e.Body)
}

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	return &SupabaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *SupabaseClient) SignUp(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", credentials(email, password), &out)
	return out, err
}

func (c *SupabaseClient) Login(ctx context.Context, email, password string) (Session, error) {
	return c.grant(ctx, "password", credentials(email, password))
}

// Refresh exchanges a refresh token for a new session.
func (c *SupabaseClient) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, fmt.Errorf("%w: refresh token is required", model.ErrUnauthenticated)
	}
	return c.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// Verify resolves an access token to the identity behind it. Any failure is
// reported as model.ErrUnauthenticated.
func (c *SupabaseClient) Verify(ctx context.Context, accessToken string) (model.Identity, error) {
	var user SupabaseUser
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user); err != nil {
		return model.Identity{}, fmt.Errorf("%w: verify token: %v", model.ErrUnauthenticated, err)
	}
	if user.ID == "" {
		return model.Identity{}, fmt.Errorf("%w: token has no subject", model.ErrUnauthenticated)
	}
	return user.Identity(), nil
}

func (c *SupabaseClient) grant(ctx context.Context, grantType string, payload map[string]string) (Session, error) {
	var out Session
	path := "/auth/v1/token?" + url.Values{"grant_type": {grantType}}.Encode()
	if err := c.do(ctx, http.MethodPost, path, "", payload, &out); err != nil {
		return Session{}, err
	}
	if out.AccessToken == "" {
		return Session{}, fmt.Errorf("%w: %s grant returned no access token", model.ErrUnauthenticated, grantType)
	}
	return out, nil
}

func (c *SupabaseClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &ProviderError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode identity provider response: %w", err)
	}
	return nil
}

func credentials(email, password string) map[string]string {
	return map[string]string{"email": email, "password": password}
}
