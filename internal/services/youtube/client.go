// Package youtube publishes rendered artifacts through a YouTube-style API:
// an OAuth token endpoint plus a two-step resumable upload. Responses are
// mapped onto the shared error taxonomy so the pipeline can pick the right
// recovery path without reading HTTP details.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"serialreel/internal/config"
	"serialreel/internal/logging"
	"serialreel/internal/services"
)

// Metadata is the listing information attached to an uploaded video.
type Metadata struct {
	Title         string
	Description   string
	Tags          []string
	PrivacyStatus string
}

// Client talks to the token and upload endpoints.
type Client struct {
	tokenURL     string
	uploadURL    string
	clientID     string
	clientSecret string
	client       *http.Client
	logger       *slog.Logger
}

// New builds a Client from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		tokenURL:     cfg.YouTube.TokenURL,
		uploadURL:    cfg.YouTube.UploadURL,
		clientID:     cfg.YouTube.ClientID,
		clientSecret: cfg.YouTube.ClientSecret,
		client: &http.Client{
			Timeout: time.Duration(cfg.YouTube.UploadTimeout) * time.Second,
		},
		logger: logging.NewComponentLogger(logger, "youtube"),
	}
}

// Exchange trades the refresh token for a fresh access token. An
// invalid_grant response means the authorization was revoked and returns
// ErrAuthorizationLost; everything else recoverable is transient.
func (c *Client) Exchange(ctx context.Context, refreshToken string) (string, time.Duration, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, services.Wrap(services.ErrRejected, "youtube", "token", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, services.ClassifyNetworkError("youtube", "token", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &payload)
		switch {
		case payload.Error == "invalid_grant" || payload.Error == "invalid_client":
			return "", 0, services.Wrap(services.ErrAuthorizationLost, "youtube", "token", payload.Error, nil)
		case resp.StatusCode >= 500:
			return "", 0, services.Wrap(services.ErrTransient, "youtube", "token",
				fmt.Sprintf("token endpoint returned %d", resp.StatusCode), nil)
		default:
			return "", 0, services.Wrap(services.ErrTransient, "youtube", "token",
				fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, payload.Error), nil)
		}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, services.Wrap(services.ErrTransient, "youtube", "token", "parse token response", err)
	}
	if payload.AccessToken == "" {
		return "", 0, services.Wrap(services.ErrTransient, "youtube", "token", "empty access token", nil)
	}
	return payload.AccessToken, time.Duration(payload.ExpiresIn) * time.Second, nil
}

// Upload starts a resumable session for the artifact and streams its bytes,
// returning the platform video id.
func (c *Client) Upload(ctx context.Context, accessToken, filePath string, meta Metadata) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", services.Wrap(services.ErrRejected, "youtube", "upload", "artifact missing", err)
	}

	sessionURL, err := c.startSession(ctx, accessToken, info.Size(), meta)
	if err != nil {
		return "", err
	}
	return c.uploadBytes(ctx, accessToken, sessionURL, filePath, info.Size())
}

func (c *Client) startSession(ctx context.Context, accessToken string, size int64, meta Metadata) (string, error) {
	metadata := map[string]any{
		"snippet": map[string]any{
			"title":       meta.Title,
			"description": meta.Description,
			"tags":        meta.Tags,
		},
		"status": map[string]any{
			"privacyStatus": meta.PrivacyStatus,
		},
	}
	body, err := json.Marshal(metadata)
	if err != nil {
		return "", services.Wrap(services.ErrRejected, "youtube", "upload", "marshal metadata", err)
	}

	startURL := c.uploadURL
	if strings.Contains(startURL, "?") {
		startURL += "&uploadType=resumable&part=snippet,status"
	} else {
		startURL += "?uploadType=resumable&part=snippet,status"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, bytes.NewReader(body))
	if err != nil {
		return "", services.Wrap(services.ErrRejected, "youtube", "upload", "build session request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "video/mp4")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	resp, err := c.client.Do(req)
	if err != nil {
		return "", services.ClassifyNetworkError("youtube", "upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.classifyUploadStatus("start session", resp)
	}
	sessionURL := resp.Header.Get("Location")
	if sessionURL == "" {
		return "", services.Wrap(services.ErrTransient, "youtube", "upload", "no session location returned", nil)
	}
	return sessionURL, nil
}

func (c *Client) uploadBytes(ctx context.Context, accessToken, sessionURL, filePath string, size int64) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", services.Wrap(services.ErrRejected, "youtube", "upload", "open artifact", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, file)
	if err != nil {
		return "", services.Wrap(services.ErrRejected, "youtube", "upload", "build upload request", err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "video/mp4")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", services.ClassifyNetworkError("youtube", "upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", c.classifyUploadStatus("upload bytes", resp)
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", services.Wrap(services.ErrTransient, "youtube", "upload", "parse upload response", err)
	}
	if payload.ID == "" {
		return "", services.Wrap(services.ErrTransient, "youtube", "upload", "upload response missing video id", nil)
	}
	c.logger.Info("upload accepted",
		logging.String(logging.FieldEventType, "upload_accepted"),
		logging.String(logging.FieldVideoID, payload.ID))
	return payload.ID, nil
}

// classifyUploadStatus maps an error response onto the taxonomy:
// 401 expired token, 403 with a quota reason throttled, 400/422 rejected
// payload, 5xx and the rest transient.
func (c *Client) classifyUploadStatus(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	detail := fmt.Sprintf("%s returned %d", operation, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return services.Wrap(services.ErrAuthExpired, "youtube", "upload", detail, nil)
	case resp.StatusCode == http.StatusForbidden:
		if isQuotaReason(body) {
			return services.Wrap(services.ErrQuotaExceeded, "youtube", "upload", detail, nil)
		}
		return services.Wrap(services.ErrRejected, "youtube", "upload", detail, nil)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return services.Wrap(services.ErrRejected, "youtube", "upload", detail+": "+errorReason(body), nil)
	case resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransient, "youtube", "upload", detail, nil)
	default:
		return services.Wrap(services.ErrTransient, "youtube", "upload", detail, nil)
	}
}

func isQuotaReason(body []byte) bool {
	reason := errorReason(body)
	switch reason {
	case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded", "userRateLimitExceeded", "uploadLimitExceeded":
		return true
	}
	return strings.Contains(strings.ToLower(reason), "quota")
}

func errorReason(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Error.Errors) > 0 && payload.Error.Errors[0].Reason != "" {
		return payload.Error.Errors[0].Reason
	}
	return payload.Error.Message
}
