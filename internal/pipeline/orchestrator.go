package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"serialreel/internal/catalog"
	"serialreel/internal/config"
	"serialreel/internal/logging"
	"serialreel/internal/notifications"
	"serialreel/internal/services"
	"serialreel/internal/services/renderer"
)

// Orchestrator advances a serial's episodes through the lifecycle.
type Orchestrator struct {
	cfg       *config.Config
	store     *catalog.Store
	scraper   ScrapeAdapter
	renderer  RenderAdapter
	publisher PublishAdapter
	tokens    TokenSource
	notifier  notifications.Service
	logger    *slog.Logger
	now       func() time.Time

	// quotaUntil holds the per-serial moment publishing may resume after a
	// quota rejection.
	quotaMu    sync.Mutex
	quotaUntil map[string]time.Time

	// publishHalted latches when the refresh credential is revoked.
	// Rendering keeps building backlog while it is set.
	publishHalted atomic.Bool
}

// New wires an Orchestrator from its collaborators.
func New(cfg *config.Config, store *catalog.Store, scraper ScrapeAdapter, render RenderAdapter, publisher PublishAdapter, tokens TokenSource, notifier notifications.Service, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		scraper:    scraper,
		renderer:   render,
		publisher:  publisher,
		tokens:     tokens,
		notifier:   notifier,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		now:        time.Now,
		quotaUntil: make(map[string]time.Time),
	}
}

// PublishHalted reports whether publishing is stopped pending new credentials.
func (o *Orchestrator) PublishHalted() bool {
	return o.publishHalted.Load() || o.tokens.AuthorizationLost()
}

// ResumePublishing clears the halt latch after an operator installs a new
// refresh token.
func (o *Orchestrator) ResumePublishing() {
	o.publishHalted.Store(false)
}

// RunSerial performs one full pass for a serial: scrape, reconcile, then
// drain the pending backlog through the worker pool. A scrape failure skips
// the serial for this run only.
func (o *Orchestrator) RunSerial(ctx context.Context, serial config.Serial) error {
	runID := uuid.NewString()
	ctx = services.WithRunID(services.WithSerialID(ctx, serial.ID), runID)
	logger := o.logger.With(
		logging.String(logging.FieldSerialID, serial.ID),
		logging.String(logging.FieldRunID, runID))

	candidates, err := o.scraper.ListEpisodes(ctx, serial)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		logger.Warn("scrape failed, skipping serial this run",
			logging.String(logging.FieldEventType, "scrape_failed"),
			logging.Error(err))
		return nil
	}

	pending, err := o.store.Reconcile(ctx, serial.ID, candidates)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", serial.ID, err)
	}
	if len(pending) == 0 {
		logger.Debug("nothing pending",
			logging.String(logging.FieldEventType, "run_empty"))
		return nil
	}

	// Episodes fail independently; the pool limit is their only coupling, so
	// the group deliberately carries no derived context. One episode's error
	// must not abort a sibling mid-flight.
	var group errgroup.Group
	group.SetLimit(o.cfg.Pipeline.WorkerCount)
	for _, record := range pending {
		if record.IsDeadLetter(o.cfg.Pipeline.MaxAttempts) {
			continue
		}
		if !o.backoffEligible(record) {
			logger.Debug("waiting out backoff",
				logging.String(logging.FieldEpisodeKey, record.EpisodeKey),
				logging.Int(logging.FieldAttempt, record.AttemptCount))
			continue
		}
		record := record
		group.Go(func() error {
			return o.processEpisode(ctx, serial, record)
		})
	}
	return group.Wait()
}

// backoffEligible reports whether a failed record has waited out its delay.
// The delay is derived from last_updated_at so the loop skips instead of
// sleeping.
func (o *Orchestrator) backoffEligible(record *catalog.Record) bool {
	if !record.Stage.IsFailureStage() || record.AttemptCount == 0 {
		return true
	}
	if o.cfg.Pipeline.BackoffBaseSeconds <= 0 {
		return true
	}
	b := &backoff.Backoff{
		Min:    time.Duration(o.cfg.Pipeline.BackoffBaseSeconds) * time.Second,
		Max:    time.Duration(o.cfg.Pipeline.BackoffCapSeconds) * time.Second,
		Factor: 2,
	}
	delay := b.ForAttempt(float64(record.AttemptCount - 1))
	return o.now().Sub(record.LastUpdatedAt) >= delay
}

func (o *Orchestrator) processEpisode(ctx context.Context, serial config.Serial, record *catalog.Record) error {
	ctx = services.WithEpisodeKey(ctx, record.EpisodeKey)

	switch record.Stage {
	case catalog.StageDiscovered, catalog.StageRenderFailed:
		return o.render(ctx, serial, record)
	case catalog.StageUploading:
		if record.ArtifactPath == "" {
			return o.rerender(ctx, serial, record)
		}
		// Crash leftover or fresh hand-off; the artifact is complete, retry
		// the upload in place.
		return o.publish(ctx, serial, record)
	case catalog.StageUploadFailed:
		if record.ArtifactPath == "" {
			return o.rerender(ctx, serial, record)
		}
		return o.retryUpload(ctx, serial, record)
	default:
		return nil
	}
}

func (o *Orchestrator) render(ctx context.Context, serial config.Serial, record *catalog.Record) error {
	claimed, err := o.store.Transition(ctx, record.EpisodeKey, record.Stage, catalog.StageRendering, false)
	if err != nil {
		if errors.Is(err, catalog.ErrConflict) {
			return nil
		}
		return err
	}

	logger := o.episodeLogger(claimed)
	logger.Info("render started",
		logging.String(logging.FieldEventType, "render_started"),
		logging.Int(logging.FieldAttempt, claimed.AttemptCount+1))

	path, err := o.renderer.Render(ctx, renderer.Job{
		EpisodeKey:    claimed.EpisodeKey,
		Title:         claimed.Title,
		ThumbnailPath: serial.Thumbnail,
		SourceURL:     claimed.SourceURL,
		OutputPath:    o.artifactPath(serial, claimed),
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, services.ErrRejected) {
			return o.deadLetter(ctx, claimed, catalog.StageRendering, catalog.StageRenderFailed, err)
		}
		return o.recordFailure(ctx, claimed, catalog.StageRendering, catalog.StageRenderFailed, err)
	}

	// One durable write hands the episode to the upload stage; a crash can
	// never commit Uploading without its artifact.
	advanced, err := o.store.CompleteRender(ctx, claimed.EpisodeKey, path)
	if err != nil {
		if errors.Is(err, catalog.ErrConflict) {
			return nil
		}
		return err
	}
	logger.Info("render complete",
		logging.String(logging.FieldEventType, "render_complete"),
		logging.String("artifact", path))

	// Publish in the same pass so a quiet day finishes in one run.
	return o.publish(ctx, serial, advanced)
}

// rerender sends an upload-stage record that has no artifact back through
// rendering. The state cannot be published and re-rendering is the only
// repair, so the attempt budget starts over for the render stage.
func (o *Orchestrator) rerender(ctx context.Context, serial config.Serial, record *catalog.Record) error {
	o.episodeLogger(record).Warn("upload-stage record has no artifact, re-rendering",
		logging.String(logging.FieldEventType, "artifact_missing"))
	if _, err := o.store.ResetArtifactlessUploads(ctx, record.EpisodeKey); err != nil {
		return err
	}
	fresh, err := o.store.Get(ctx, record.EpisodeKey)
	if err != nil {
		return err
	}
	if fresh.Stage != catalog.StageRenderFailed {
		// Someone else repaired or advanced it meanwhile.
		return nil
	}
	return o.render(ctx, serial, fresh)
}

func (o *Orchestrator) retryUpload(ctx context.Context, serial config.Serial, record *catalog.Record) error {
	// Check the gates before claiming so a skipped episode keeps its
	// UploadFailed stage and attempt count.
	if o.PublishHalted() || o.quotaActive(serial.ID) {
		return nil
	}
	claimed, err := o.store.Transition(ctx, record.EpisodeKey, catalog.StageUploadFailed, catalog.StageUploading, false)
	if err != nil {
		if errors.Is(err, catalog.ErrConflict) {
			return nil
		}
		return err
	}
	return o.publish(ctx, serial, claimed)
}

func (o *Orchestrator) publish(ctx context.Context, serial config.Serial, record *catalog.Record) error {
	logger := o.episodeLogger(record)
	if o.PublishHalted() {
		logger.Debug("publishing halted, leaving episode queued",
			logging.String(logging.FieldEventType, "publish_skipped"))
		return nil
	}
	if o.quotaActive(serial.ID) {
		logger.Debug("quota cooldown active",
			logging.String(logging.FieldEventType, "publish_skipped"))
		return nil
	}
	if record.ArtifactPath == "" {
		return o.rerender(ctx, serial, record)
	}

	token, err := o.tokens.Token(ctx)
	if err != nil {
		return o.handlePublishError(ctx, serial, record, err)
	}

	meta := BuildMetadata(serial, o.now(), o.cfg.YouTube.PrivacyStatus)
	videoID, err := o.publisher.Upload(ctx, token, record.ArtifactPath, meta)
	if errors.Is(err, services.ErrAuthExpired) {
		// The token went stale mid-flight; replace it and retry once
		// without touching the attempt budget.
		logger.Info("access token expired mid-upload, refreshing",
			logging.String(logging.FieldEventType, "token_stale"))
		if token, err = o.tokens.Refresh(ctx); err == nil {
			videoID, err = o.publisher.Upload(ctx, token, record.ArtifactPath, meta)
		}
	}
	if err != nil {
		return o.handlePublishError(ctx, serial, record, err)
	}

	if err := o.store.RecordPublished(ctx, record.EpisodeKey, videoID); err != nil {
		return err
	}
	published, err := o.store.Transition(ctx, record.EpisodeKey, catalog.StageUploading, catalog.StagePublished, false)
	if err != nil {
		if errors.Is(err, catalog.ErrConflict) {
			return nil
		}
		return err
	}
	logger.Info("episode published",
		logging.String(logging.FieldEventType, "published"),
		logging.String(logging.FieldVideoID, videoID))
	if err := o.notifier.NotifyPublished(ctx, serial.Name, published.EpisodeKey, videoID); err != nil {
		logger.Warn("publish notification failed", logging.Error(err))
	}
	return nil
}

func (o *Orchestrator) handlePublishError(ctx context.Context, serial config.Serial, record *catalog.Record, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger := o.episodeLogger(record)

	switch {
	case errors.Is(err, services.ErrAuthorizationLost):
		o.haltPublishing(ctx, logger, err)
		return nil
	case errors.Is(err, services.ErrQuotaExceeded):
		o.startQuotaCooldown(serial.ID)
		logger.Warn("publish throttled by quota",
			logging.String(logging.FieldEventType, "quota_exceeded"),
			logging.Error(err))
		// Requeue without consuming the attempt budget; the cooldown gates
		// the retry.
		_, terr := o.store.Transition(ctx, record.EpisodeKey, catalog.StageUploading, catalog.StageUploadFailed, false)
		if terr != nil && !errors.Is(terr, catalog.ErrConflict) {
			return terr
		}
		return nil
	case errors.Is(err, services.ErrRejected), errors.Is(err, catalog.ErrInvariant):
		return o.deadLetter(ctx, record, catalog.StageUploading, catalog.StageUploadFailed, err)
	default:
		return o.recordFailure(ctx, record, catalog.StageUploading, catalog.StageUploadFailed, err)
	}
}

// recordFailure moves the record into its failure stage, consuming one
// attempt and alerting exactly when the budget runs out.
func (o *Orchestrator) recordFailure(ctx context.Context, record *catalog.Record, from, to catalog.Stage, cause error) error {
	failed, err := o.store.Transition(ctx, record.EpisodeKey, from, to, true)
	if err != nil {
		if errors.Is(err, catalog.ErrConflict) {
			return nil
		}
		return err
	}
	if err := o.store.SetErrorMessage(ctx, failed.EpisodeKey, cause.Error()); err != nil {
		return err
	}

	logger := o.episodeLogger(failed)
	if failed.AttemptCount == o.cfg.Pipeline.MaxAttempts {
		o.alertDeadLetter(ctx, logger, failed, cause)
		return nil
	}
	logger.Warn("attempt failed, will retry",
		logging.String(logging.FieldEventType, "attempt_failed"),
		logging.Int(logging.FieldAttempt, failed.AttemptCount),
		logging.Error(cause))
	return nil
}

// deadLetter exhausts the budget immediately for permanent refusals.
func (o *Orchestrator) deadLetter(ctx context.Context, record *catalog.Record, from, to catalog.Stage, cause error) error {
	failed, err := o.store.Transition(ctx, record.EpisodeKey, from, to, true)
	if err != nil {
		if errors.Is(err, catalog.ErrConflict) {
			return nil
		}
		return err
	}
	if err := o.store.SetErrorMessage(ctx, failed.EpisodeKey, cause.Error()); err != nil {
		return err
	}
	if err := o.store.DeadLetter(ctx, failed.EpisodeKey, o.cfg.Pipeline.MaxAttempts); err != nil {
		return err
	}
	failed.AttemptCount = o.cfg.Pipeline.MaxAttempts
	o.alertDeadLetter(ctx, o.episodeLogger(failed), failed, cause)
	return nil
}

func (o *Orchestrator) alertDeadLetter(ctx context.Context, logger *slog.Logger, record *catalog.Record, cause error) {
	logger.Error("episode needs operator attention",
		logging.String(logging.FieldEventType, "dead_letter"),
		logging.Int(logging.FieldAttempt, record.AttemptCount),
		logging.Alert("episode gave up; use 'serialreel catalog retry' after fixing the cause"),
		logging.Error(cause))
	if err := o.notifier.NotifyDeadLetter(ctx, record.EpisodeKey, string(record.Stage), cause.Error()); err != nil {
		logger.Warn("dead letter notification failed", logging.Error(err))
	}
}

func (o *Orchestrator) haltPublishing(ctx context.Context, logger *slog.Logger, cause error) {
	if o.publishHalted.Swap(true) {
		return
	}
	logger.Error("publishing halted",
		logging.String(logging.FieldEventType, "authorization_lost"),
		logging.Alert("refresh token revoked; run 'serialreel auth set-refresh-token'"),
		logging.Error(cause))
	if err := o.notifier.NotifyAuthorizationLost(ctx); err != nil {
		logger.Warn("authorization notification failed", logging.Error(err))
	}
}

func (o *Orchestrator) quotaActive(serialID string) bool {
	o.quotaMu.Lock()
	defer o.quotaMu.Unlock()
	until, ok := o.quotaUntil[serialID]
	if !ok {
		return false
	}
	if o.now().After(until) {
		delete(o.quotaUntil, serialID)
		return false
	}
	return true
}

func (o *Orchestrator) startQuotaCooldown(serialID string) {
	o.quotaMu.Lock()
	defer o.quotaMu.Unlock()
	o.quotaUntil[serialID] = o.now().Add(time.Duration(o.cfg.Pipeline.QuotaCooldownSeconds) * time.Second)
}

func (o *Orchestrator) artifactPath(serial config.Serial, record *catalog.Record) string {
	return filepath.Join(o.cfg.VideoDir(), serial.ID, record.NativeID+".mp4")
}

func (o *Orchestrator) episodeLogger(record *catalog.Record) *slog.Logger {
	return o.logger.With(
		logging.String(logging.FieldEpisodeKey, record.EpisodeKey),
		logging.String(logging.FieldStage, string(record.Stage)))
}
