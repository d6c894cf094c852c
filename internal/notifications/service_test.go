package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"serialreel/internal/config"
	"serialreel/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyPublished(context.Background(), "Test Serial", "test-serial/ep-1", "vid-1"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	var captured struct {
		title    string
		tags     string
		priority string
		body     string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		captured.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyDeadLetter(context.Background(), "test-serial/ep-1", "render_failed", "ffmpeg exploded"); err != nil {
		t.Fatalf("NotifyDeadLetter failed: %v", err)
	}
	if captured.title != "Serialreel - Needs Attention" {
		t.Errorf("unexpected title %q", captured.title)
	}
	if captured.priority != "high" {
		t.Errorf("expected high priority, got %q", captured.priority)
	}
	if !strings.Contains(captured.body, "test-serial/ep-1") || !strings.Contains(captured.body, "ffmpeg exploded") {
		t.Errorf("unexpected body %q", captured.body)
	}
	if captured.tags != "serialreel,deadletter,alert" {
		t.Errorf("unexpected tags %q", captured.tags)
	}

	if err := svc.NotifyAuthorizationLost(context.Background()); err != nil {
		t.Fatalf("NotifyAuthorizationLost failed: %v", err)
	}
	if !strings.Contains(captured.body, "set-refresh-token") {
		t.Errorf("expected recovery hint, got %q", captured.body)
	}
}

func TestNtfyServiceSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from failing endpoint")
	}
}
