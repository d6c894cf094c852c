package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"serialreel/internal/config"
)

const userAgent = "serialreel/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyPublished(ctx context.Context, serialName, episodeKey, videoID string) error
	NotifyDeadLetter(ctx context.Context, episodeKey, stage, reason string) error
	NotifyAuthorizationLost(ctx context.Context) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyPublished(ctx context.Context, serialName, episodeKey, videoID string) error {
	data := payload{
		title:   "Serialreel - Published",
		message: fmt.Sprintf("Published %s review (%s): video %s", strings.TrimSpace(serialName), episodeKey, videoID),
		tags:    []string{"serialreel", "publish", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDeadLetter(ctx context.Context, episodeKey, stage, reason string) error {
	data := payload{
		title:    "Serialreel - Needs Attention",
		message:  fmt.Sprintf("Episode %s gave up in %s: %s", episodeKey, stage, strings.TrimSpace(reason)),
		tags:     []string{"serialreel", "deadletter", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAuthorizationLost(ctx context.Context) error {
	data := payload{
		title:    "Serialreel - Authorization Lost",
		message:  "Publishing halted: refresh token revoked. Run 'serialreel auth set-refresh-token' to resume.",
		tags:     []string{"serialreel", "auth", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:   "Serialreel - Test",
		message: "Notifications are working.",
		tags:    []string{"serialreel", "test"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyPublished(context.Context, string, string, string) error { return nil }
func (noopService) NotifyDeadLetter(context.Context, string, string, string) error {
	return nil
}
func (noopService) NotifyAuthorizationLost(context.Context) error { return nil }
func (noopService) TestNotification(context.Context) error        { return nil }
