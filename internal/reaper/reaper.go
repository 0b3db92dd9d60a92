// Package reaper runs the background retention sweeps: purging
// soft-deleted sessions past their TTL and cleaning up orphaned messages.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper is the storage surface the reaper needs. Only the durable
// session store implements it; memory deployments run without a reaper.
type Sweeper interface {
	PurgeDeleted(ctx context.Context, cutoff time.Time) (int, error)
	PurgeOrphanMessages(ctx context.Context) (int, error)
}

// Config bounds the reaper's behavior.
type Config struct {
	// Schedule is a cron expression (five fields). Empty disables the
	// reaper.
	Schedule string

	// SessionTTL is how long soft-deleted sessions are retained.
	SessionTTL time.Duration

	// SweepTimeout bounds one sweep run. Default: 5 minutes.
	SweepTimeout time.Duration
}

// Reaper schedules and runs retention sweeps.
type Reaper struct {
	sweeper Sweeper
	config  Config
	logger  *slog.Logger
	cron    *cron.Cron
}

// New creates a reaper. Start must be called to begin sweeping.
func New(sweeper Sweeper, config Config, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = 5 * time.Minute
	}
	return &Reaper{
		sweeper: sweeper,
		config:  config,
		logger:  logger,
	}
}

// Start registers the sweep on the cron schedule and begins running it.
func (r *Reaper) Start() error {
	if r.config.Schedule == "" || r.sweeper == nil {
		r.logger.Info("reaper disabled")
		return nil
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.config.Schedule, r.runSweep); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("reaper started",
		"schedule", r.config.Schedule,
		"session_ttl", r.config.SessionTTL)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

func (r *Reaper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.SweepTimeout)
	defer cancel()

	if err := r.Sweep(ctx); err != nil {
		r.logger.Error("retention sweep failed", "error", err)
	}
}

// Sweep runs one purge pass immediately.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.config.SessionTTL)

	purged, err := r.sweeper.PurgeDeleted(ctx, cutoff)
	if err != nil {
		return err
	}
	orphans, err := r.sweeper.PurgeOrphanMessages(ctx)
	if err != nil {
		return err
	}

	if purged > 0 || orphans > 0 {
		r.logger.Info("retention sweep completed",
			"sessions_purged", purged,
			"orphan_messages", orphans)
	}
	return nil
}
