// Package fillreg is the form-fill learning registry.
//
// It ingests privacy-scrubbed autofill events, keeps them in an append-only
// event store, and periodically aggregates each form's window of events into
// a form profile: the canonical field-to-selector map, success metrics, and
// a cover-letter style hint learned by an epsilon-greedy bandit.
//
// Flows:
//
//	Ingest:    fill agent submits a batch of raw events → scrub → append
//	Aggregate: sweep re-derives each active form's profile from its window
//	Serve:     agent asks for a profile → returned with a safety verdict
//	Style:     agent asks which cover-letter style to use → bandit decides
//
// Usage:
//
//	r, err := fillreg.New(cfg, logger)
//	defer r.Close()
//	r.RegisterMCP(mcpServer)
//	mux.Mount("/fillreg", http.StripPrefix("/fillreg", r.Handler()))
package fillreg

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/fillreg/fillreg/internal/aggregate"
	"github.com/hazyhaar/fillreg/fillreg/internal/bandit"
	"github.com/hazyhaar/fillreg/fillreg/internal/schedule"
	"github.com/hazyhaar/fillreg/fillreg/internal/scrub"
	"github.com/hazyhaar/fillreg/fillreg/internal/store"
	"github.com/hazyhaar/fillreg/idgen"
)

// Registry is the main fillreg orchestrator.
type Registry struct {
	store      *store.Store
	aggregator *aggregate.Aggregator
	bandit     *bandit.Bandit
	sweeper    *schedule.Scheduler
	newID      idgen.Generator
	logger     *slog.Logger
	config     *Config
}

// New creates a Registry. Opens the SQLite database, initialises the schema
// and seeds the configured style variants.
func New(cfg *Config, logger *slog.Logger) (*Registry, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	seeds := make([]store.StyleVariant, 0, len(cfg.Bandit.Styles))
	for _, sd := range cfg.Bandit.Styles {
		seeds = append(seeds, store.StyleVariant{
			StyleID:     sd.StyleID,
			Tone:        sd.Tone,
			Format:      sd.Format,
			PriorWeight: sd.Weight,
		})
	}
	if err := s.SeedStyles(context.Background(), seeds); err != nil {
		s.Close()
		return nil, err
	}

	agg := aggregate.New(s, aggregate.Config{
		WindowDays:           cfg.Aggregate.WindowDays,
		SuccessEditThreshold: cfg.Aggregate.SuccessEditThreshold,
		DecayAlpha:           cfg.Aggregate.DecayAlpha,
		UpsertRetries:        cfg.Aggregate.UpsertRetries,
	}, logger)

	return &Registry{
		store:      s,
		aggregator: agg,
		bandit:     bandit.New(cfg.Bandit.Epsilon, nil),
		sweeper: schedule.New(s, agg, schedule.Config{
			SweepInterval: cfg.Scheduler.SweepInterval,
			Retention:     cfg.Scheduler.Retention,
		}, logger),
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: logger,
		config: cfg,
	}, nil
}

// Close shuts down the registry and closes the database.
func (r *Registry) Close() error {
	return r.store.Close()
}

// Store returns the underlying store for direct access (testing, admin).
func (r *Registry) Store() *store.Store {
	return r.store
}

// --- Ingest ---

// RejectedEvent describes one event refused at the envelope level.
type RejectedEvent struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// IngestResult summarises one ingest batch.
type IngestResult struct {
	Accepted int             `json:"accepted"`
	Skipped  int             `json:"skipped"`
	Rejected []RejectedEvent `json:"rejected,omitempty"`
}

// IngestBatch scrubs and appends a batch of raw events. Events with invalid
// envelopes are rejected and reported per index; events whose selector maps
// carried free text are stored with status "skipped" (maps stripped) and
// never reach aggregation. The whole accepted set commits in one
// transaction.
func (r *Registry) IngestBatch(ctx context.Context, raws []*RawEvent) (*IngestResult, error) {
	res := &IngestResult{}
	events := make([]*store.Event, 0, len(raws))

	for i, raw := range raws {
		ev, err := scrub.Scrub(raw)
		if err != nil {
			var ve *scrub.ValidationError
			if errors.As(err, &ve) {
				res.Rejected = append(res.Rejected, RejectedEvent{Index: i, Field: ve.Field, Reason: ve.Reason})
				continue
			}
			return nil, err
		}
		if ev.ID == "" {
			ev.ID = r.newID()
		}
		if ev.Status == store.StatusSkipped {
			res.Skipped++
		} else {
			res.Accepted++
		}
		events = append(events, ev)
	}

	if len(events) > 0 {
		if err := r.store.AppendEvents(ctx, events); err != nil {
			return nil, err
		}
	}

	r.logger.Info("fillreg: batch ingested",
		"accepted", res.Accepted, "skipped", res.Skipped, "rejected", len(res.Rejected))
	return res, nil
}

// --- Profiles ---

// ProfileResponse is a form profile plus the serving verdict.
type ProfileResponse struct {
	Profile *FormProfile `json:"profile"`
	// SafeToServe is true when the profile clears the configured success
	// floor and edit-distance ceiling. Callers must not auto-fill from a
	// profile marked unsafe.
	SafeToServe bool `json:"safe_to_serve"`
}

// GetProfile returns the profile for one form, or nil if none exists yet.
func (r *Registry) GetProfile(ctx context.Context, host, schemaHash string) (*ProfileResponse, error) {
	p, err := r.store.GetProfile(ctx, host, schemaHash)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return &ProfileResponse{Profile: p, SafeToServe: r.SafeToServe(p)}, nil
}

// SafeToServe reports whether a profile clears the safety gate.
func (r *Registry) SafeToServe(p *FormProfile) bool {
	return p.SuccessRate >= r.config.Safety.MinSuccessRate &&
		p.AvgEditChars <= r.config.Safety.MaxAvgEditChars
}

// ListProfiles returns profiles, optionally filtered by host.
func (r *Registry) ListProfiles(ctx context.Context, host string, limit int) ([]*FormProfile, error) {
	return r.store.ListProfiles(ctx, host, limit)
}

// --- Styles ---

// ChooseStyle picks a cover-letter style for one form. The form's profile
// hint (if any) is exploited with probability 1-epsilon; otherwise a
// different variant is explored in proportion to its learned weight.
func (r *Registry) ChooseStyle(ctx context.Context, host, schemaHash string) (*bandit.Decision, error) {
	var hint string
	p, err := r.store.GetProfile(ctx, host, schemaHash)
	if err != nil {
		return nil, err
	}
	if p != nil {
		hint = p.StyleHint
	}

	variants, err := r.store.ListStyles(ctx)
	if err != nil {
		return nil, err
	}
	d := r.bandit.Choose(hint, variants)
	return &d, nil
}

// ListStyles returns all style variants ordered by weight.
func (r *Registry) ListStyles(ctx context.Context) ([]StyleVariant, error) {
	return r.store.ListStyles(ctx)
}

// --- Aggregation ---

// Aggregate re-derives one form's profile from its event window.
func (r *Registry) Aggregate(ctx context.Context, host, schemaHash string) (*FormProfile, error) {
	return r.aggregator.Run(ctx, host, schemaHash)
}

// AggregateAll runs one full sweep: every form with window activity is
// re-aggregated and retention is applied.
func (r *Registry) AggregateAll(ctx context.Context) error {
	return r.sweeper.Sweep(ctx)
}

// RunScheduler runs the periodic aggregation sweep until ctx is cancelled.
func (r *Registry) RunScheduler(ctx context.Context) {
	r.sweeper.Run(ctx)
}

// --- Stats ---

// Stats holds registry statistics.
type Stats struct {
	Events        int `json:"events"`
	SkippedEvents int `json:"skipped_events"`
	Profiles      int `json:"profiles"`
	Styles        int `json:"styles"`
}

// Stats returns registry statistics.
func (r *Registry) Stats(ctx context.Context) (*Stats, error) {
	events, err := r.store.CountEvents(ctx)
	if err != nil {
		return nil, err
	}
	skipped, err := r.store.CountSkippedEvents(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := r.store.CountProfiles(ctx)
	if err != nil {
		return nil, err
	}
	styles, err := r.store.CountStyles(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Events:        events,
		SkippedEvents: skipped,
		Profiles:      profiles,
		Styles:        styles,
	}, nil
}

// HostLeaderboard returns per-host aggregate reliability rankings.
func (r *Registry) HostLeaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	return r.store.HostLeaderboard(ctx, limit)
}
