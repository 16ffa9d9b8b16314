// Package aggregate recomputes form profiles from the recent event window.
//
// One unit of work is one (host, schema_hash) pair. A unit reads the
// window, tallies selectors and outcomes, blends style priors, and commits
// everything through a single transaction. Units are independent: one
// failing unit never aborts a sweep, and a failed upsert leaves the prior
// profile intact for the next scheduled run.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/fillreg/fillreg/internal/store"
)

// Config controls the aggregation window and outcome thresholds.
type Config struct {
	// WindowDays bounds the event window; profiles track drift because
	// older events age out of every recomputation.
	WindowDays int
	// SuccessEditThreshold is the max total edit chars for an event to
	// still count as an accepted suggestion.
	SuccessEditThreshold int
	// DecayAlpha is the EMA share given to a window's observed style
	// success rate when blending priors.
	DecayAlpha float64
	// UpsertRetries bounds conflict retries per unit before the unit is
	// declared failed for this cycle.
	UpsertRetries int
}

func (c *Config) defaults() {
	if c.WindowDays <= 0 {
		c.WindowDays = 14
	}
	if c.SuccessEditThreshold <= 0 {
		c.SuccessEditThreshold = 10
	}
	if c.DecayAlpha <= 0 || c.DecayAlpha > 1 {
		c.DecayAlpha = 0.2
	}
	if c.UpsertRetries <= 0 {
		c.UpsertRetries = 3
	}
}

// UnitError reports the failure of one aggregation unit.
type UnitError struct {
	Host       string
	SchemaHash string
	Err        error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("aggregate %s/%s: %v", e.Host, e.SchemaHash, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// Aggregator recomputes form profiles. It is the sole writer of
// form_profiles and style_variants weights.
type Aggregator struct {
	store  *store.Store
	config Config
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates an Aggregator.
func New(s *store.Store, cfg Config, logger *slog.Logger) *Aggregator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, config: cfg, logger: logger, now: time.Now}
}

// WindowDays reports the configured learning window, for callers that need
// to match their queries to the aggregation horizon.
func (a *Aggregator) WindowDays() int { return a.config.WindowDays }

// Run aggregates one (host, schemaHash) unit and returns the committed
// profile. An empty window leaves any existing profile untouched and
// returns it unchanged. Version conflicts are retried with a fresh read up
// to the configured bound, then surface as a *UnitError wrapping
// store.ErrConflict.
func (a *Aggregator) Run(ctx context.Context, host, schemaHash string) (*store.FormProfile, error) {
	var lastErr error
	for attempt := 0; attempt < a.config.UpsertRetries; attempt++ {
		p, err := a.runOnce(ctx, host, schemaHash)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, &UnitError{Host: host, SchemaHash: schemaHash, Err: err}
		}
		lastErr = err
		a.logger.Warn("aggregate: version conflict, retrying",
			"host", host, "schema_hash", schemaHash, "attempt", attempt+1)
	}
	return nil, &UnitError{Host: host, SchemaHash: schemaHash, Err: lastErr}
}

func (a *Aggregator) runOnce(ctx context.Context, host, schemaHash string) (*store.FormProfile, error) {
	since := a.now().Add(-time.Duration(a.config.WindowDays) * 24 * time.Hour).UnixMilli()

	prior, err := a.store.GetProfile(ctx, host, schemaHash)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	events, err := a.store.EventsInWindow(ctx, host, schemaHash, since, true)
	if err != nil {
		return nil, fmt.Errorf("read window: %w", err)
	}
	if len(events) == 0 {
		// Temporary ingestion gap: do not erase signal.
		return prior, nil
	}

	tally := newTally(a.config.SuccessEditThreshold)
	for _, e := range events {
		if e.FinalMap == nil || e.EditStats == nil {
			a.logger.Warn("aggregate: malformed stored event excluded",
				"event_id", e.ID, "host", host, "schema_hash", schemaHash)
			continue
		}
		tally.add(e)
	}
	if tally.sample == 0 {
		return prior, nil
	}

	// Per-style window success rates. The store folds each into its prior
	// weight inside the commit transaction and replaces the hint with the
	// heaviest observed style; a window with no style signal keeps the
	// prior hint. Styles not observed keep their weight — deprecation
	// happens through the blend when a style keeps losing, not through
	// hard decay on absence.
	observed := make(map[string]float64, len(tally.styles))
	for styleID, o := range tally.styles {
		observed[styleID] = float64(o.successes) / float64(o.n)
	}

	var hint string
	if prior != nil {
		hint = prior.StyleHint
	}

	p := &store.FormProfile{
		Host:         host,
		SchemaHash:   schemaHash,
		CanonicalMap: tally.canonicalMap(),
		StyleHint:    hint,
		SuccessRate:  float64(tally.successes) / float64(tally.sample),
		AvgEditChars: float64(tally.editChars) / float64(tally.sample),
		SampleCount:  tally.sample,
		LastSeenAt:   tally.lastSeen,
	}

	if err := a.store.ApplyAggregate(ctx, p, prior, observed, a.config.DecayAlpha); err != nil {
		return nil, err
	}

	a.logger.Info("aggregate: profile updated",
		"host", host, "schema_hash", schemaHash,
		"sample_count", p.SampleCount, "success_rate", p.SuccessRate,
		"avg_edit_chars", p.AvgEditChars, "style_hint", p.StyleHint)
	return p, nil
}

type styleOutcome struct {
	n         int
	successes int
}

// tally accumulates one window's worth of events.
type tally struct {
	threshold int

	sample    int
	successes int
	editChars int
	lastSeen  int64

	// selectors[field][selector] → votes
	selectors map[string]map[string]*selectorVote
	styles    map[string]*styleOutcome
}

type selectorVote struct {
	count    int
	lastSeen int64
}

func newTally(threshold int) *tally {
	return &tally{
		threshold: threshold,
		selectors: make(map[string]map[string]*selectorVote),
		styles:    make(map[string]*styleOutcome),
	}
}

func (t *tally) add(e *store.Event) {
	total := e.TotalEditChars()
	success := e.Status == store.StatusPersisted && total <= t.threshold

	t.sample++
	t.editChars += total
	if success {
		t.successes++
	}
	if e.CreatedAt > t.lastSeen {
		t.lastSeen = e.CreatedAt
	}

	for field, sel := range e.FinalMap {
		votes, ok := t.selectors[field]
		if !ok {
			votes = make(map[string]*selectorVote)
			t.selectors[field] = votes
		}
		v, ok := votes[sel]
		if !ok {
			v = &selectorVote{}
			votes[sel] = v
		}
		v.count++
		if e.CreatedAt > v.lastSeen {
			v.lastSeen = e.CreatedAt
		}
	}

	if e.StyleID != "" {
		o, ok := t.styles[e.StyleID]
		if !ok {
			o = &styleOutcome{}
			t.styles[e.StyleID] = o
		}
		o.n++
		if success {
			o.successes++
		}
	}
}

// canonicalMap picks the majority selector per field; ties break on the
// most recently observed selector, then lexicographically so the result is
// independent of map iteration order.
func (t *tally) canonicalMap() map[string]store.SelectorStat {
	out := make(map[string]store.SelectorStat, len(t.selectors))
	for field, votes := range t.selectors {
		var winner string
		var winVote *selectorVote
		for sel, v := range votes {
			if winVote == nil ||
				v.count > winVote.count ||
				(v.count == winVote.count && v.lastSeen > winVote.lastSeen) ||
				(v.count == winVote.count && v.lastSeen == winVote.lastSeen && sel < winner) {
				winner = sel
				winVote = v
			}
		}
		out[field] = store.SelectorStat{Selector: winner, Count: winVote.count}
	}
	return out
}
