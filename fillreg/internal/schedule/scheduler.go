// Package schedule runs the periodic aggregation sweep.
//
// On each tick it re-aggregates every form seen inside the learning window
// and prunes raw events past the retention horizon. Units fail
// independently: one broken form never stalls the rest of the sweep.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/fillreg/fillreg/internal/aggregate"
	"github.com/hazyhaar/fillreg/fillreg/internal/store"
)

// Config controls the sweep cadence and event retention.
type Config struct {
	// SweepInterval is how often the full aggregation sweep runs.
	SweepInterval time.Duration
	// Retention is how long raw events are kept after creation.
	// Zero disables pruning.
	Retention time.Duration
}

func (c *Config) defaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Minute
	}
}

// Scheduler drives periodic aggregation over all active forms.
type Scheduler struct {
	store      *store.Store
	aggregator *aggregate.Aggregator
	config     Config
	logger     *slog.Logger
}

// New creates an aggregation scheduler.
func New(s *store.Store, a *aggregate.Aggregator, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: s, aggregator: a, config: cfg, logger: logger}
}

// Run starts the sweep loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler: started",
		"sweep_interval", s.config.SweepInterval,
		"retention", s.config.Retention)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Warn("scheduler: sweep failed", "error", err)
			}
		}
	}
}

// Sweep aggregates every form with window activity, then applies retention.
// Per-form failures are logged and counted but do not abort the sweep; the
// returned error covers only failures that make the whole pass meaningless.
func (s *Scheduler) Sweep(ctx context.Context) error {
	since := time.Now().Add(-time.Duration(s.aggregator.WindowDays()) * 24 * time.Hour).UnixMilli()
	forms, err := s.store.ListActiveForms(ctx, since)
	if err != nil {
		return err
	}

	var updated, failed int
	for _, f := range forms {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.aggregator.Run(ctx, f.Host, f.SchemaHash); err != nil {
			failed++
			var ue *aggregate.UnitError
			if errors.As(err, &ue) {
				s.logger.Warn("scheduler: form aggregation failed",
					"host", ue.Host, "schema_hash", ue.SchemaHash, "error", ue.Err)
			} else {
				s.logger.Warn("scheduler: form aggregation failed",
					"host", f.Host, "schema_hash", f.SchemaHash, "error", err)
			}
			continue
		}
		updated++
	}

	if s.config.Retention > 0 {
		cutoff := time.Now().Add(-s.config.Retention).UnixMilli()
		pruned, err := s.store.PruneEvents(ctx, cutoff)
		if err != nil {
			s.logger.Warn("scheduler: prune failed", "error", err)
		} else if pruned > 0 {
			s.logger.Info("scheduler: pruned events", "count", pruned)
		}
	}

	if updated > 0 || failed > 0 {
		s.logger.Info("scheduler: sweep complete", "updated", updated, "failed", failed)
	}
	return nil
}
