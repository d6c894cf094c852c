package pipeline

import (
	"context"

	"serialreel/internal/catalog"
	"serialreel/internal/config"
	"serialreel/internal/services/renderer"
	"serialreel/internal/services/youtube"
)

// ScrapeAdapter lists the episode candidates currently visible for a serial.
// An empty slice with a nil error means no new episode is available.
type ScrapeAdapter interface {
	ListEpisodes(ctx context.Context, serial config.Serial) ([]catalog.Candidate, error)
}

// RenderAdapter produces the review video artifact for one episode.
type RenderAdapter interface {
	Render(ctx context.Context, job renderer.Job) (string, error)
}

// PublishAdapter uploads a finished artifact and returns the platform video id.
type PublishAdapter interface {
	Upload(ctx context.Context, accessToken, filePath string, meta youtube.Metadata) (string, error)
}

// TokenSource hands out valid access tokens for the publish adapter.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	AuthorizationLost() bool
}
