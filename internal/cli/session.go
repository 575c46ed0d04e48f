package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stocksim/internal/auth"
)

// SessionDirEnv overrides where the session file lives.
const SessionDirEnv = "STOCKSIM_HOME"

// refreshSkew refreshes a token this long before it actually expires.
const refreshSkew = 30 * time.Second

var ErrNoSession = errors.New("no saved session, run `simctl login`")

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Email        string    `json:"email,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
}

// NewSession captures a provider grant issued at now.
func NewSession(grant auth.Session, now time.Time) Session {
	return Session{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt(now),
		Email:        grant.User.Email,
		UserID:       grant.User.ID,
	}
}

// Expired reports whether the access token should be refreshed before use.
// Sessions without a known expiry never expire locally.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Add(refreshSkew).Before(s.ExpiresAt)
}

func sessionPath() (string, error) {
	dir := strings.TrimSpace(os.Getenv(SessionDirEnv))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".stocksim")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

// SaveSession writes the session through a temp file so a crash never
// leaves a truncated token behind.
func SaveSession(s Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("read session %s: %w", path, err)
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ActiveSession loads the saved session and refreshes it through the API
// when the access token is about to expire.
func ActiveSession(ctx context.Context, c *Client, now time.Time) (Session, error) {
	s, err := LoadSession()
	if err != nil {
		return Session{}, err
	}
	if !s.Expired(now) || s.RefreshToken == "" {
		return s, nil
	}
	grant, err := c.Refresh(ctx, s.RefreshToken)
	if err != nil {
		return Session{}, fmt.Errorf("refresh session: %w", err)
	}
	next := NewSession(grant, now)
	if next.Email == "" {
		next.Email, next.UserID = s.Email, s.UserID
	}
	if err := SaveSession(next); err != nil {
		return Session{}, err
	}
	return next, nil
}
