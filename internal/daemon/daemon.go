package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"serialreel/internal/catalog"
	"serialreel/internal/config"
	"serialreel/internal/creds"
	"serialreel/internal/logging"
	"serialreel/internal/notifications"
	"serialreel/internal/pipeline"
	"serialreel/internal/scheduler"
	"serialreel/internal/services/hotstar"
	"serialreel/internal/services/renderer"
	"serialreel/internal/services/youtube"
	"serialreel/internal/sweeper"
)

// ErrAlreadyRunning indicates another daemon instance holds the lock.
var ErrAlreadyRunning = errors.New("another serialreel daemon instance is already running")

// Daemon owns the process-lifetime components.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *catalog.Store
	creds    *creds.Store
	orch     *pipeline.Orchestrator
	loop     *scheduler.Loop
	sweeper  *sweeper.Sweeper
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock
}

// New opens the stores and wires the default adapters. The caller owns the
// returned daemon and must Close it.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := catalog.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	publisher := youtube.New(cfg, logger)
	margin := time.Duration(cfg.Pipeline.TokenSafetyMarginSeconds) * time.Second
	credStore, err := creds.Open(cfg.CredentialsPath(), publisher, margin, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open credentials: %w", err)
	}

	notifier := notifications.NewService(cfg)
	orch := pipeline.New(cfg, store,
		hotstar.New(cfg, logger),
		renderer.New(cfg, logger),
		publisher,
		credStore,
		notifier,
		logger,
	)
	sw := sweeper.New(cfg, store, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		creds:    credStore,
		orch:     orch,
		sweeper:  sw,
		notifier: notifier,
		lockPath: filepath.Join(cfg.LogDir, "serialreeld.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.loop = scheduler.New(cfg, orch, d.sweep, logger)
	return d, nil
}

// Run acquires the instance lock and drives the scheduler until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	// Records abandoned mid-render by a previous process go back to the
	// retry path.
	if reset, err := d.store.ResetStuckRendering(ctx); err != nil {
		return fmt.Errorf("reset stuck episodes: %w", err)
	} else if reset > 0 {
		d.logger.Info("requeued interrupted renders",
			logging.String(logging.FieldEventType, "stuck_reset"),
			logging.Int64("count", reset))
	}

	d.logger.Info("daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("database", d.cfg.DatabasePath()))

	err = d.loop.Run(ctx)

	d.logger.Info("daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"))
	return err
}

// sweep performs one retention pass over artifacts and old log files.
func (d *Daemon) sweep(ctx context.Context, now time.Time) error {
	maxAge := time.Duration(d.cfg.Scheduler.RetentionDays) * 24 * time.Hour
	result, err := d.sweeper.Sweep(ctx, now, maxAge)
	if err != nil {
		return err
	}
	if result.Deleted > 0 {
		d.logger.Info("retention sweep finished",
			logging.String(logging.FieldEventType, "sweep_finished"),
			logging.Int("examined", result.Examined),
			logging.Int("deleted", result.Deleted))
	}
	logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     d.cfg.LogDir,
		Pattern: "*.log",
		Exclude: []string{logging.LogFileName},
	})
	return nil
}

// Store exposes the catalog for status commands running in-process.
func (d *Daemon) Store() *catalog.Store {
	return d.store
}

// Credentials exposes the credential store.
func (d *Daemon) Credentials() *creds.Store {
	return d.creds
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	return d.store.Close()
}
