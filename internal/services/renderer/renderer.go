// Package renderer produces the review video artifact for an episode by
// looping the serial's thumbnail image over the narration track with ffmpeg.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"serialreel/internal/config"
	"serialreel/internal/logging"
	"serialreel/internal/services"
)

var commandContext = exec.CommandContext

// Job describes one render request. SourceURL locates the narration asset for
// the episode; when it is empty or gone the video gets a silent track.
type Job struct {
	EpisodeKey    string
	Title         string
	ThumbnailPath string
	SourceURL     string
	OutputPath    string
}

// FFmpeg renders review videos through the ffmpeg binary.
type FFmpeg struct {
	binary  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// New builds an FFmpeg renderer from configuration.
func New(cfg *config.Config, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = logging.NewNop()
	}
	binary := cfg.Renderer.FFmpegBinary
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		binary:  binary,
		timeout: time.Duration(cfg.Renderer.RenderTimeout) * time.Second,
		client:  &http.Client{},
		logger:  logging.NewComponentLogger(logger, "renderer"),
	}
}

// Render runs ffmpeg and returns the artifact path. The output is written to
// a temp name and renamed on success, so a file at the returned path is
// always complete.
func (f *FFmpeg) Render(ctx context.Context, job Job) (string, error) {
	if job.OutputPath == "" {
		return "", services.Wrap(services.ErrRejected, "renderer", "render", "output path required", nil)
	}
	if job.ThumbnailPath == "" {
		return "", services.Wrap(services.ErrRejected, "renderer", "render", "thumbnail path required", nil)
	}
	if _, err := os.Stat(job.ThumbnailPath); err != nil {
		return "", services.Wrap(services.ErrRejected, "renderer", "render", "thumbnail missing", err)
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "renderer", "render", "create output directory", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	audioPath, cleanup, err := f.fetchNarration(ctx, job)
	if err != nil {
		return "", err
	}
	defer cleanup()

	tmpPath := job.OutputPath + ".tmp.mp4"
	defer os.Remove(tmpPath)

	args := []string{"-y", "-loop", "1", "-i", job.ThumbnailPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath, "-shortest")
	} else {
		// No narration track; pad a silent one so players get audio.
		args = append(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100", "-t", "60")
	}
	args = append(args,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-f", "mp4",
		tmpPath,
	)

	started := time.Now()
	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", f.classifyFailure(ctx, err, output)
	}

	if err := os.Rename(tmpPath, job.OutputPath); err != nil {
		return "", services.Wrap(services.ErrTransient, "renderer", "render", "finalize artifact", err)
	}

	f.logger.Info("render complete",
		logging.String(logging.FieldEpisodeKey, job.EpisodeKey),
		logging.String("artifact", job.OutputPath),
		logging.Duration("elapsed", time.Since(started)))
	return job.OutputPath, nil
}

// fetchNarration downloads the episode's narration asset next to the output
// file and returns its path with a cleanup func. An empty locator, or one the
// site has since pulled, falls back to the silent track.
func (f *FFmpeg) fetchNarration(ctx context.Context, job Job) (string, func(), error) {
	noop := func() {}
	if job.SourceURL == "" {
		return "", noop, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.SourceURL, nil)
	if err != nil {
		return "", noop, services.Wrap(services.ErrRejected, "renderer", "fetch", "bad source url", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", noop, services.ClassifyNetworkError("renderer", "fetch", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		f.logger.Warn("source asset gone, rendering silent",
			logging.String(logging.FieldEpisodeKey, job.EpisodeKey),
			logging.String("source_url", job.SourceURL))
		return "", noop, nil
	case resp.StatusCode != http.StatusOK:
		return "", noop, services.Wrap(services.ErrTransient, "renderer", "fetch",
			fmt.Sprintf("source fetch returned %d", resp.StatusCode), nil)
	}

	path := job.OutputPath + ".src"
	file, err := os.Create(path)
	if err != nil {
		return "", noop, services.Wrap(services.ErrTransient, "renderer", "fetch", "create narration file", err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(path)
		return "", noop, services.Wrap(services.ErrTransient, "renderer", "fetch", "download narration", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", noop, services.Wrap(services.ErrTransient, "renderer", "fetch", "flush narration file", err)
	}
	return path, func() { os.Remove(path) }, nil
}

// classifyFailure maps ffmpeg exits onto the error taxonomy. Bad inputs are
// permanent; timeouts, signals, and everything else are worth retrying.
func (f *FFmpeg) classifyFailure(ctx context.Context, err error, output []byte) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTransient, "renderer", "render", "render timed out", err)
		}
		return ctx.Err()
	}

	detail := lastOutputLine(output)
	lower := strings.ToLower(detail)
	permanent := strings.Contains(lower, "invalid data found") ||
		strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "unknown encoder") ||
		strings.Contains(lower, "invalid argument")
	marker := services.ErrTransient
	if permanent {
		marker = services.ErrRejected
	}
	return services.Wrap(marker, "renderer", "render", detail, err)
}

func lastOutputLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "ffmpeg failed"
}

// Probe reports whether the ffmpeg binary is available, for startup checks.
func (f *FFmpeg) Probe(ctx context.Context) error {
	cmd := commandContext(ctx, f.binary, "-version")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg unavailable (%s): %w", lastOutputLine(output), err)
	}
	return nil
}
