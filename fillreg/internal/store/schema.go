package store

// Schema contains the complete DDL for the fillreg tables.
const Schema = `
-- Scrubbed autofill events: append-only ledger, never updated.
-- Values are structural only (selectors, counts, enums, timestamps);
-- raw field content never reaches this table.
CREATE TABLE IF NOT EXISTS fill_events (
    id              TEXT PRIMARY KEY,
    host            TEXT NOT NULL,
    schema_hash     TEXT NOT NULL,
    suggested_map   TEXT NOT NULL DEFAULT '{}',
    final_map       TEXT NOT NULL DEFAULT '{}',
    edit_stats      TEXT NOT NULL DEFAULT '{}',
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    policy          TEXT NOT NULL CHECK(policy IN ('exploit','explore')),
    status          TEXT NOT NULL CHECK(status IN ('persisted','error','skipped')),
    style_id        TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fill_events_form ON fill_events(host, schema_hash, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_fill_events_time ON fill_events(created_at);

-- Learned per-form aggregates: one row per (host, schema_hash), upserted
-- atomically by the aggregator. sample_count/last_seen_at double as the
-- optimistic version for concurrent aggregation runs.
CREATE TABLE IF NOT EXISTS form_profiles (
    host            TEXT NOT NULL,
    schema_hash     TEXT NOT NULL,
    canonical_map   TEXT NOT NULL DEFAULT '{}',
    style_hint      TEXT NOT NULL DEFAULT '',
    success_rate    REAL NOT NULL DEFAULT 0.0,
    avg_edit_chars  REAL NOT NULL DEFAULT 0.0,
    sample_count    INTEGER NOT NULL DEFAULT 0,
    last_seen_at    INTEGER NOT NULL DEFAULT 0,
    updated_at      INTEGER NOT NULL,
    PRIMARY KEY (host, schema_hash)
);
CREATE INDEX IF NOT EXISTS idx_form_profiles_host ON form_profiles(host);

-- Style variants for generated free text. Seeded at deploy time, weights
-- EMA-updated by the aggregator, never deleted (deprecation = weight decay).
CREATE TABLE IF NOT EXISTS style_variants (
    style_id        TEXT PRIMARY KEY,
    tone            TEXT NOT NULL CHECK(tone IN ('formal','casual','neutral')),
    format          TEXT NOT NULL CHECK(format IN ('short','long')),
    prior_weight    REAL NOT NULL DEFAULT 1.0,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
`
