// Package scheduler owns the daemon's clock: it fires each serial's pipeline
// run on its configured interval and the retention sweep on its own, without
// letting one serial's slow run delay another's due time.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"serialreel/internal/config"
	"serialreel/internal/logging"
)

// maxSleep bounds the idle wait so config problems never park the loop
// forever.
const maxSleep = time.Minute

// Runner executes one pipeline pass for a serial.
type Runner interface {
	RunSerial(ctx context.Context, serial config.Serial) error
}

// SweepFunc performs one retention pass.
type SweepFunc func(ctx context.Context, now time.Time) error

// Loop dispatches due work until its context is cancelled.
type Loop struct {
	cfg    *config.Config
	runner Runner
	sweep  SweepFunc
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	nextDue   map[string]time.Time
	inFlight  map[string]bool
	nextSweep time.Time
	wg        sync.WaitGroup
}

// New builds a Loop. sweep may be nil when retention is disabled.
func New(cfg *config.Config, runner Runner, sweep SweepFunc, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loop{
		cfg:      cfg,
		runner:   runner,
		sweep:    sweep,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		now:      time.Now,
		nextDue:  make(map[string]time.Time),
		inFlight: make(map[string]bool),
	}
}

// Run drives the loop until ctx is cancelled, then waits for in-flight work.
func (l *Loop) Run(ctx context.Context) error {
	start := l.now()
	l.mu.Lock()
	for _, serial := range l.cfg.Serials {
		l.nextDue[serial.ID] = start
	}
	l.nextSweep = start
	l.mu.Unlock()

	l.logger.Info("scheduler started",
		logging.String(logging.FieldEventType, "scheduler_started"),
		logging.Int("serials", len(l.cfg.Serials)))

	for {
		wakeAt := l.tick(ctx, l.now())

		sleep := time.Until(wakeAt)
		if sleep < 0 {
			sleep = 0
		}
		if sleep > maxSleep {
			sleep = maxSleep
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.wg.Wait()
			l.logger.Info("scheduler stopped",
				logging.String(logging.FieldEventType, "scheduler_stopped"))
			return nil
		case <-timer.C:
		}
	}
}

// tick dispatches everything due at now and returns the nearest future due
// time.
func (l *Loop) tick(ctx context.Context, now time.Time) time.Time {
	serialInterval := time.Duration(l.cfg.Scheduler.SerialIntervalSeconds) * time.Second
	sweepInterval := time.Duration(l.cfg.Scheduler.SweepIntervalSeconds) * time.Second

	l.mu.Lock()
	var due []config.Serial
	for _, serial := range l.cfg.Serials {
		if l.inFlight[serial.ID] {
			continue
		}
		if !l.nextDue[serial.ID].After(now) {
			due = append(due, serial)
			l.nextDue[serial.ID] = now.Add(serialInterval)
			l.inFlight[serial.ID] = true
		}
	}
	sweepDue := l.sweep != nil && !l.nextSweep.After(now)
	if sweepDue {
		l.nextSweep = now.Add(sweepInterval)
	}
	l.mu.Unlock()

	for _, serial := range due {
		serial := serial
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() {
				l.mu.Lock()
				l.inFlight[serial.ID] = false
				l.mu.Unlock()
			}()
			if err := l.runner.RunSerial(ctx, serial); err != nil && ctx.Err() == nil {
				l.logger.Error("serial run failed",
					logging.String(logging.FieldSerialID, serial.ID),
					logging.Error(err))
			}
		}()
	}

	if sweepDue {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			if err := l.sweep(ctx, now); err != nil && ctx.Err() == nil {
				l.logger.Warn("retention sweep failed", logging.Error(err))
			}
		}()
	}

	return l.nearestDue(now)
}

func (l *Loop) nearestDue(now time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	nearest := now.Add(maxSleep)
	for id, at := range l.nextDue {
		if l.inFlight[id] {
			continue
		}
		if at.Before(nearest) {
			nearest = at
		}
	}
	if l.sweep != nil && l.nextSweep.Before(nearest) {
		nearest = l.nextSweep
	}
	return nearest
}
