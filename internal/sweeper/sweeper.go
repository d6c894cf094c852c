// Package sweeper reclaims disk space from the video directory. An artifact
// is deleted only when its owning record no longer needs it: Published, or
// dead-lettered past the retry budget, and old enough. Files the catalog
// does not know about are removed once they outlive the retention window.
package sweeper

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"serialreel/internal/catalog"
	"serialreel/internal/config"
	"serialreel/internal/logging"
)

// Sweeper walks the video directory and applies the retention policy.
type Sweeper struct {
	cfg    *config.Config
	store  *catalog.Store
	logger *slog.Logger
}

// New builds a Sweeper over the given catalog.
func New(cfg *config.Config, store *catalog.Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "sweeper"),
	}
}

// Result summarizes one sweep pass.
type Result struct {
	Examined int
	Deleted  int
	Skipped  int
}

// Sweep removes reclaimable artifacts older than maxAge. Individual failures
// are logged and skipped; a partial sweep is still a successful sweep.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, maxAge time.Duration) (Result, error) {
	var result Result

	err := filepath.WalkDir(s.cfg.VideoDir(), func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result.Examined++
		remove, reason := s.shouldRemove(ctx, path, entry, now, maxAge)
		if !remove {
			result.Skipped++
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove artifact",
				logging.String("path", path),
				logging.Error(err))
			result.Skipped++
			return nil
		}
		result.Deleted++
		s.logger.Info("artifact reclaimed",
			logging.String(logging.FieldEventType, "artifact_reclaimed"),
			logging.String("path", path),
			logging.String("reason", reason))
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return result, err
	}
	return result, nil
}

func (s *Sweeper) shouldRemove(ctx context.Context, path string, entry fs.DirEntry, now time.Time, maxAge time.Duration) (bool, string) {
	owner, err := s.store.ByArtifactPath(ctx, path)
	if err != nil {
		s.logger.Warn("catalog lookup failed during sweep",
			logging.String("path", path),
			logging.Error(err))
		return false, ""
	}

	if owner == nil {
		// Nothing owns this file; temp debris and abandoned renders age out
		// on their modification time.
		info, err := entry.Info()
		if err != nil {
			return false, ""
		}
		if now.Sub(info.ModTime()) > maxAge {
			return true, "unowned"
		}
		return false, ""
	}

	if owner.Stage.IsProcessing() {
		return false, ""
	}
	reclaimable := owner.Stage == catalog.StagePublished ||
		owner.IsDeadLetter(s.cfg.Pipeline.MaxAttempts)
	if !reclaimable {
		return false, ""
	}
	if now.Sub(owner.LastUpdatedAt) <= maxAge {
		return false, ""
	}
	if owner.Stage == catalog.StagePublished {
		return true, "published"
	}
	return true, "dead_letter"
}
