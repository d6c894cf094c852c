package creds_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"serialreel/internal/creds"
	"serialreel/internal/services"
)

type stubRefresher struct {
	mu       sync.Mutex
	calls    atomic.Int64
	token    string
	lifetime time.Duration
	err      error
	delay    time.Duration
}

func (r *stubRefresher) Exchange(ctx context.Context, refreshToken string) (string, time.Duration, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", 0, r.err
	}
	return r.token, r.lifetime, nil
}

func openStore(t *testing.T, refresher creds.Refresher) *creds.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := creds.Open(path, refresher, time.Minute, nil)
	if err != nil {
		t.Fatalf("creds.Open: %v", err)
	}
	return store
}

func TestTokenRefreshesWhenEmpty(t *testing.T) {
	refresher := &stubRefresher{token: "access-1", lifetime: time.Hour}
	store := openStore(t, refresher)
	if err := store.SetRefreshToken("refresh-1"); err != nil {
		t.Fatalf("SetRefreshToken: %v", err)
	}

	token, err := store.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "access-1" {
		t.Fatalf("unexpected token %q", token)
	}
	if refresher.calls.Load() != 1 {
		t.Fatalf("expected 1 exchange, got %d", refresher.calls.Load())
	}

	// Still valid, so no second exchange.
	if _, err := store.Token(context.Background()); err != nil {
		t.Fatalf("second Token failed: %v", err)
	}
	if refresher.calls.Load() != 1 {
		t.Fatalf("expected cached token, got %d exchanges", refresher.calls.Load())
	}
}

func TestTokenRefreshesInsideSafetyMargin(t *testing.T) {
	// Lifetime shorter than the one-minute margin forces a refresh per call.
	refresher := &stubRefresher{token: "access-1", lifetime: 10 * time.Second}
	store := openStore(t, refresher)
	if err := store.SetRefreshToken("refresh-1"); err != nil {
		t.Fatalf("SetRefreshToken: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := store.Token(context.Background()); err != nil {
			t.Fatalf("Token failed: %v", err)
		}
	}
	if refresher.calls.Load() != 2 {
		t.Fatalf("expected 2 exchanges, got %d", refresher.calls.Load())
	}
}

func TestConcurrentRefreshCollapses(t *testing.T) {
	refresher := &stubRefresher{token: "access-1", lifetime: time.Hour, delay: 50 * time.Millisecond}
	store := openStore(t, refresher)
	if err := store.SetRefreshToken("refresh-1"); err != nil {
		t.Fatalf("SetRefreshToken: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Token(context.Background()); err != nil {
				t.Errorf("Token failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if refresher.calls.Load() != 1 {
		t.Fatalf("expected singleflight to collapse to 1 exchange, got %d", refresher.calls.Load())
	}
}

func TestAuthorizationLostLatches(t *testing.T) {
	refresher := &stubRefresher{err: services.ErrAuthorizationLost}
	store := openStore(t, refresher)
	if err := store.SetRefreshToken("refresh-1"); err != nil {
		t.Fatalf("SetRefreshToken: %v", err)
	}

	_, err := store.Token(context.Background())
	if !errors.Is(err, services.ErrAuthorizationLost) {
		t.Fatalf("expected ErrAuthorizationLost, got %v", err)
	}
	if !store.AuthorizationLost() {
		t.Fatal("expected lost flag to latch")
	}

	// Subsequent calls fail without touching the platform again.
	before := refresher.calls.Load()
	if _, err := store.Token(context.Background()); !errors.Is(err, services.ErrAuthorizationLost) {
		t.Fatalf("expected ErrAuthorizationLost, got %v", err)
	}
	if refresher.calls.Load() != before {
		t.Fatal("lost store should not retry the exchange")
	}

	// A fresh refresh token clears the latch.
	refresher.mu.Lock()
	refresher.err = nil
	refresher.token = "access-2"
	refresher.lifetime = time.Hour
	refresher.mu.Unlock()
	if err := store.SetRefreshToken("refresh-2"); err != nil {
		t.Fatalf("SetRefreshToken: %v", err)
	}
	if store.AuthorizationLost() {
		t.Fatal("expected lost flag cleared")
	}
	token, err := store.Token(context.Background())
	if err != nil {
		t.Fatalf("Token after recovery failed: %v", err)
	}
	if token != "access-2" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	refresher := &stubRefresher{token: "access-1", lifetime: time.Hour}
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := creds.Open(path, refresher, time.Minute, nil)
	if err != nil {
		t.Fatalf("creds.Open: %v", err)
	}
	if err := store.SetRefreshToken("refresh-1"); err != nil {
		t.Fatalf("SetRefreshToken: %v", err)
	}
	if _, err := store.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	reopened, err := creds.Open(path, refresher, time.Minute, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened.HasRefreshToken() {
		t.Fatal("expected persisted refresh token")
	}
	if _, err := reopened.Token(context.Background()); err != nil {
		t.Fatalf("Token after reopen failed: %v", err)
	}
	// Access token persisted with a valid expiry, so reopening does not
	// force a new exchange.
	if refresher.calls.Load() != 1 {
		t.Fatalf("expected 1 exchange total, got %d", refresher.calls.Load())
	}
}

func TestTokenWithoutRefreshTokenFails(t *testing.T) {
	store := openStore(t, &stubRefresher{})
	_, err := store.Token(context.Background())
	if !errors.Is(err, services.ErrAuthorizationLost) {
		t.Fatalf("expected ErrAuthorizationLost, got %v", err)
	}
}
