package store

import (
	"context"
	"errors"
	"math"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fillreg/dbopen"
	"github.com/hazyhaar/fillreg/fieldmap"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return &Store{DB: db}
}

func testEvent(id string, createdAt int64, status string) *Event {
	return &Event{
		ID:         id,
		Host:       "jobs.example.com",
		SchemaHash: "abc",
		SuggestedMap: fieldmap.Map{
			"email": "#email",
		},
		FinalMap: fieldmap.Map{
			"email": "#email",
			"name":  "input[name=fullname]",
		},
		EditStats:  map[string]EditCount{"email": {Added: 2, Deleted: 1}},
		DurationMs: 900,
		Policy:     PolicyExploit,
		Status:     status,
		CreatedAt:  createdAt,
	}
}

func TestAppendAndReadEvents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []*Event{
		testEvent("e1", 1000, StatusPersisted),
		testEvent("e2", 2000, StatusError),
		testEvent("e3", 3000, StatusSkipped),
	}
	if err := s.AppendEvents(ctx, batch); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Aggregable read excludes skipped.
	events, err := s.EventsInWindow(ctx, "jobs.example.com", "abc", 0, true)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("aggregable events: got %d, want 2", len(events))
	}
	// Oldest first.
	if events[0].ID != "e1" || events[1].ID != "e2" {
		t.Errorf("order: got %s, %s", events[0].ID, events[1].ID)
	}
	if events[0].FinalMap["name"] != "input[name=fullname]" {
		t.Errorf("final map roundtrip: %v", events[0].FinalMap)
	}
	if events[0].EditStats["email"].Added != 2 {
		t.Errorf("edit stats roundtrip: %v", events[0].EditStats)
	}

	// Full read includes skipped.
	all, err := s.EventsInWindow(ctx, "jobs.example.com", "abc", 0, false)
	if err != nil {
		t.Fatalf("window all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all events: got %d, want 3", len(all))
	}

	// Window boundary: since is inclusive.
	recent, err := s.EventsInWindow(ctx, "jobs.example.com", "abc", 2000, true)
	if err != nil {
		t.Fatalf("window since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "e2" {
		t.Errorf("since 2000: got %+v", recent)
	}
}

func TestEventTotalEditChars(t *testing.T) {
	e := testEvent("e1", 0, StatusPersisted)
	e.EditStats = map[string]EditCount{
		"email": {Added: 2, Deleted: 1},
		"name":  {Added: 4},
	}
	if got := e.TotalEditChars(); got != 7 {
		t.Errorf("TotalEditChars = %d, want 7", got)
	}
}

func TestListActiveForms(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	other := testEvent("e2", 2000, StatusPersisted)
	other.Host = "careers.example.org"
	skippedOnly := testEvent("e3", 3000, StatusSkipped)
	skippedOnly.Host = "quiet.example.net"

	if err := s.AppendEvents(ctx, []*Event{
		testEvent("e1", 1000, StatusPersisted),
		other,
		skippedOnly,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	forms, err := s.ListActiveForms(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(forms) != 2 {
		t.Fatalf("forms: got %d, want 2 (skipped-only host excluded)", len(forms))
	}
	if forms[0].Host != "careers.example.org" || forms[1].Host != "jobs.example.com" {
		t.Errorf("forms: %+v", forms)
	}
}

func TestPruneEvents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.AppendEvents(ctx, []*Event{
		testEvent("e1", 1000, StatusPersisted),
		testEvent("e2", 5000, StatusPersisted),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	pruned, err := s.PruneEvents(ctx, 2000)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	n, _ := s.CountEvents(ctx)
	if n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}

func TestApplyAggregateUpsertAndConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := &FormProfile{
		Host:       "jobs.example.com",
		SchemaHash: "abc",
		CanonicalMap: map[string]SelectorStat{
			"email": {Selector: "#email", Count: 3},
		},
		StyleHint:    "formal_short",
		SuccessRate:  0.75,
		AvgEditChars: 4.5,
		SampleCount:  4,
		LastSeenAt:   9000,
	}

	// First write: no prior row, prior must be nil.
	if err := s.ApplyAggregate(ctx, p, nil, nil, 0); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	got, err := s.GetProfile(ctx, "jobs.example.com", "abc")
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	if got.SuccessRate != 0.75 || got.SampleCount != 4 {
		t.Errorf("stored: %+v", got)
	}
	if got.CanonicalMap["email"].Selector != "#email" {
		t.Errorf("canonical map roundtrip: %v", got.CanonicalMap)
	}
	if got.UpdatedAt == 0 {
		t.Error("UpdatedAt not stamped")
	}

	// Re-apply with the committed row as prior: accepted.
	next := *got
	next.SuccessRate = 0.8
	next.SampleCount = 5
	next.LastSeenAt = 9500
	if err := s.ApplyAggregate(ctx, &next, got, nil, 0); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	// Stale prior: version check fails.
	stale := *got // still sample_count 4, last_seen 9000
	if err := s.ApplyAggregate(ctx, &next, &stale, nil, 0); !errors.Is(err, ErrConflict) {
		t.Errorf("stale apply: got %v, want ErrConflict", err)
	}

	// Row exists but caller believed there was none.
	if err := s.ApplyAggregate(ctx, &next, nil, nil, 0); !errors.Is(err, ErrConflict) {
		t.Errorf("nil-prior apply over existing row: got %v, want ErrConflict", err)
	}
}

func TestApplyAggregateBlendsStyleWeights(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SeedStyles(ctx, []StyleVariant{
		{StyleID: "formal_short", Tone: ToneFormal, Format: FormatShort},
		{StyleID: "casual_long", Tone: ToneCasual, Format: FormatLong},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := &FormProfile{Host: "jobs.example.com", SchemaHash: "abc", SampleCount: 1, LastSeenAt: 100}
	observed := map[string]float64{"formal_short": 1.0, "casual_long": 0.0}
	if err := s.ApplyAggregate(ctx, p, nil, observed, 0.2); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Seeded at 1.0, alpha 0.2: the winner stays at 1.0, the loser decays
	// to 0.8.
	formal, err := s.GetStyle(ctx, "formal_short")
	if err != nil || formal == nil {
		t.Fatalf("get style: %v, %v", formal, err)
	}
	if math.Abs(formal.PriorWeight-1.0) > 1e-9 {
		t.Errorf("formal_short weight = %f, want 1.0", formal.PriorWeight)
	}
	casual, _ := s.GetStyle(ctx, "casual_long")
	if math.Abs(casual.PriorWeight-0.8) > 1e-9 {
		t.Errorf("casual_long weight = %f, want 0.8", casual.PriorWeight)
	}

	// The hint is picked from the post-blend weights in the same commit.
	if p.StyleHint != "formal_short" {
		t.Errorf("style_hint = %q, want formal_short", p.StyleHint)
	}
	stored, _ := s.GetProfile(ctx, "jobs.example.com", "abc")
	if stored.StyleHint != "formal_short" {
		t.Errorf("stored style_hint = %q, want formal_short", stored.StyleHint)
	}
}

func TestApplyAggregateUnitsCompoundWeights(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SeedStyles(ctx, []StyleVariant{
		{StyleID: "formal_short", Tone: ToneFormal, Format: FormatShort},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Two units for different forms fold losses into the same style. The
	// second commit must blend on top of the first one's committed weight,
	// not wipe it out: 1.0 -> 0.8 -> 0.64.
	a := &FormProfile{Host: "jobs.example.com", SchemaHash: "a", SampleCount: 1, LastSeenAt: 1}
	if err := s.ApplyAggregate(ctx, a, nil, map[string]float64{"formal_short": 0}, 0.2); err != nil {
		t.Fatalf("first unit: %v", err)
	}
	b := &FormProfile{Host: "careers.example.org", SchemaHash: "b", SampleCount: 1, LastSeenAt: 1}
	if err := s.ApplyAggregate(ctx, b, nil, map[string]float64{"formal_short": 0}, 0.2); err != nil {
		t.Fatalf("second unit: %v", err)
	}

	v, err := s.GetStyle(ctx, "formal_short")
	if err != nil || v == nil {
		t.Fatalf("get style: %v, %v", v, err)
	}
	if math.Abs(v.PriorWeight-0.64) > 1e-9 {
		t.Errorf("weight = %f, want 0.64 after two blends", v.PriorWeight)
	}
}

func TestGetProfileMissing(t *testing.T) {
	s := testStore(t)

	got, err := s.GetProfile(context.Background(), "nobody.example.com", "zzz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestSeedStylesNeverResetsWeights(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seeds := []StyleVariant{{StyleID: "formal_short", Tone: ToneFormal, Format: FormatShort}}
	if err := s.SeedStyles(ctx, seeds); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Weight moves through aggregation: 1.0 blended with a losing window
	// at alpha 0.5 lands on 0.5.
	p := &FormProfile{Host: "h", SchemaHash: "s", SampleCount: 1, LastSeenAt: 1}
	if err := s.ApplyAggregate(ctx, p, nil, map[string]float64{"formal_short": 0}, 0.5); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Re-seeding on restart must not undo the learning.
	if err := s.SeedStyles(ctx, seeds); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	v, _ := s.GetStyle(ctx, "formal_short")
	if math.Abs(v.PriorWeight-0.5) > 1e-9 {
		t.Errorf("weight after reseed = %f, want 0.5", v.PriorWeight)
	}
}

func TestListStylesOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SeedStyles(ctx, []StyleVariant{
		{StyleID: "a_style", Tone: ToneNeutral, Format: FormatShort, PriorWeight: 0.5},
		{StyleID: "b_style", Tone: ToneNeutral, Format: FormatLong, PriorWeight: 2.0},
		{StyleID: "c_style", Tone: ToneFormal, Format: FormatShort, PriorWeight: 0.5},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	styles, err := s.ListStyles(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(styles) != 3 {
		t.Fatalf("styles: got %d, want 3", len(styles))
	}
	if styles[0].StyleID != "b_style" || styles[1].StyleID != "a_style" || styles[2].StyleID != "c_style" {
		t.Errorf("order: %s, %s, %s", styles[0].StyleID, styles[1].StyleID, styles[2].StyleID)
	}
}

func TestHostLeaderboard(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	apply := func(host, hash string, rate float64, samples int) {
		t.Helper()
		p := &FormProfile{
			Host: host, SchemaHash: hash,
			SuccessRate: rate, SampleCount: samples, LastSeenAt: 100,
		}
		if err := s.ApplyAggregate(ctx, p, nil, nil, 0); err != nil {
			t.Fatalf("apply %s/%s: %v", host, hash, err)
		}
	}
	apply("jobs.example.com", "a", 0.9, 10)
	apply("jobs.example.com", "b", 0.7, 6)
	apply("careers.example.org", "c", 0.5, 3)

	entries, err := s.HostLeaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	top := entries[0]
	if top.Host != "jobs.example.com" || top.ProfileCount != 2 || top.TotalSamples != 16 {
		t.Errorf("top entry: %+v", top)
	}
	if top.AvgSuccess < 0.79 || top.AvgSuccess > 0.81 {
		t.Errorf("avg success = %f, want 0.8", top.AvgSuccess)
	}
}
