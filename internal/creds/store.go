package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"serialreel/internal/logging"
	"serialreel/internal/services"
)

// Refresher exchanges a long-lived refresh token for a short-lived access
// token. Implementations return services.ErrAuthorizationLost when the
// platform revoked the grant and services.ErrTransient for recoverable
// failures.
type Refresher interface {
	Exchange(ctx context.Context, refreshToken string) (accessToken string, expiresIn time.Duration, err error)
}

type state struct {
	RefreshToken string    `json:"refresh_token"`
	AccessToken  string    `json:"access_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the process-wide credential holder.
type Store struct {
	path      string
	refresher Refresher
	margin    time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	st    state
	lost  bool
	group singleflight.Group
}

// Open loads the credential file if one exists. A missing file is not an
// error; the store starts empty and Token fails until a refresh token is set.
func Open(path string, refresher Refresher, margin time.Duration, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("credentials path required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	store := &Store{
		path:      path,
		refresher: refresher,
		margin:    margin,
		logger:    logging.NewComponentLogger(logger, "creds"),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &store.st); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return store, nil
}

// Token returns an access token valid for at least the configured safety
// margin, refreshing it first when necessary.
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.lost {
		s.mu.Unlock()
		return "", services.Wrap(services.ErrAuthorizationLost, "creds", "token",
			"authorization revoked; set a new refresh token", nil)
	}
	if s.st.AccessToken != "" && time.Until(s.st.ExpiresAt) > s.margin {
		token := s.st.AccessToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// Refresh forces a token exchange, collapsing concurrent callers into a
// single upstream request. Callers hitting an expired-token response use this
// to replace the token before retrying.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	token, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (s *Store) refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	refreshToken := s.st.RefreshToken
	lost := s.lost
	s.mu.Unlock()

	if lost {
		return "", services.Wrap(services.ErrAuthorizationLost, "creds", "refresh",
			"authorization revoked; set a new refresh token", nil)
	}
	if refreshToken == "" {
		return "", services.Wrap(services.ErrAuthorizationLost, "creds", "refresh",
			"no refresh token configured", nil)
	}

	accessToken, expiresIn, err := s.refresher.Exchange(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, services.ErrAuthorizationLost) {
			s.markLost()
		}
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.AccessToken = accessToken
	s.st.ExpiresAt = time.Now().Add(expiresIn)
	s.st.UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	s.logger.Debug("access token refreshed",
		logging.String(logging.FieldEventType, "token_refreshed"),
		logging.Time("expires_at", s.st.ExpiresAt))
	return accessToken, nil
}

func (s *Store) markLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost {
		return
	}
	s.lost = true
	s.st.AccessToken = ""
	s.st.ExpiresAt = time.Time{}
	s.logger.Error("authorization lost",
		logging.String(logging.FieldEventType, "authorization_lost"),
		logging.Alert("publishing halted until a new refresh token is set"))
}

// AuthorizationLost reports whether the stored grant has been revoked.
func (s *Store) AuthorizationLost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// SetRefreshToken replaces the stored refresh token, clearing any cached
// access token and the lost flag.
func (s *Store) SetRefreshToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("refresh token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = state{RefreshToken: token, UpdatedAt: time.Now().UTC()}
	s.lost = false
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.logger.Info("refresh token updated",
		logging.String(logging.FieldEventType, "refresh_token_updated"))
	return nil
}

// HasRefreshToken reports whether any refresh token is configured.
func (s *Store) HasRefreshToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.RefreshToken != ""
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	// Write atomically via temp file; tokens never hit disk half-written.
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
