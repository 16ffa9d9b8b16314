package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// SelectorStat is the winning selector for a canonical field, with the
// number of window events that voted for it.
type SelectorStat struct {
	Selector string `json:"selector"`
	Count    int    `json:"count"`
}

// FormProfile is the learned aggregate for one (host, schema_hash) form.
type FormProfile struct {
	Host         string                  `json:"host"`
	SchemaHash   string                  `json:"schema_hash"`
	CanonicalMap map[string]SelectorStat `json:"canonical_map"`
	StyleHint    string                  `json:"style_hint"`
	SuccessRate  float64                 `json:"success_rate"`
	AvgEditChars float64                 `json:"avg_edit_chars"`
	SampleCount  int                     `json:"sample_count"`
	LastSeenAt   int64                   `json:"last_seen_at"`
	UpdatedAt    int64                   `json:"updated_at"`
}

// GetProfile retrieves the profile for (host, schemaHash). Returns nil, nil
// when no aggregate exists yet.
func (s *Store) GetProfile(ctx context.Context, host, schemaHash string) (*FormProfile, error) {
	p := &FormProfile{}
	var canonical string

	err := s.DB.QueryRowContext(ctx, `
		SELECT host, schema_hash, canonical_map, style_hint, success_rate,
		       avg_edit_chars, sample_count, last_seen_at, updated_at
		FROM form_profiles WHERE host = ? AND schema_hash = ?`, host, schemaHash).Scan(
		&p.Host, &p.SchemaHash, &canonical, &p.StyleHint, &p.SuccessRate,
		&p.AvgEditChars, &p.SampleCount, &p.LastSeenAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(canonical), &p.CanonicalMap)
	return p, nil
}

// ApplyAggregate commits one aggregation unit atomically: the profile upsert,
// the style weight blend and the hint selection land in a single transaction,
// so readers never observe a partial aggregate.
//
// prior is the profile as read at the start of the unit (nil if none
// existed). The transaction re-reads the row's sample_count/last_seen_at and
// returns ErrConflict if they no longer match, so two overlapping runs for
// the same form cannot interleave writes.
//
// observed maps style_id to the window's success rate for events tagged with
// that style. Each weight is read, blended and written inside the
// transaction (prior_weight*(1-alpha) + rate*alpha), so units for different
// forms compound their contributions instead of overwriting each other from
// stale reads. When at least one observed style exists in style_variants,
// p.StyleHint is replaced with the heaviest post-blend observed style before
// the profile row is written; otherwise the caller's hint stands.
func (s *Store) ApplyAggregate(ctx context.Context, p *FormProfile, prior *FormProfile, observed map[string]float64, alpha float64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var curSamples int
	var curLastSeen int64
	err = tx.QueryRowContext(ctx, `
		SELECT sample_count, last_seen_at FROM form_profiles
		WHERE host = ? AND schema_hash = ?`, p.Host, p.SchemaHash).Scan(&curSamples, &curLastSeen)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if prior != nil {
			return ErrConflict
		}
	case err != nil:
		return err
	default:
		if prior == nil || prior.SampleCount != curSamples || prior.LastSeenAt != curLastSeen {
			return ErrConflict
		}
	}

	p.UpdatedAt = time.Now().UnixMilli()

	styleIDs := make([]string, 0, len(observed))
	for id := range observed {
		styleIDs = append(styleIDs, id)
	}
	sort.Strings(styleIDs)

	hinted := false
	var best float64
	for _, styleID := range styleIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE style_variants
			SET prior_weight = prior_weight * (1.0 - ?) + ? * ?, updated_at = ?
			WHERE style_id = ?`,
			alpha, observed[styleID], alpha, p.UpdatedAt, styleID); err != nil {
			return err
		}
		var w float64
		err := tx.QueryRowContext(ctx, `
			SELECT prior_weight FROM style_variants WHERE style_id = ?`, styleID).Scan(&w)
		if errors.Is(err, sql.ErrNoRows) {
			// The events carried a style the table never seeded.
			continue
		}
		if err != nil {
			return err
		}
		// Ascending style_id order makes ties deterministic.
		if !hinted || w > best {
			best = w
			hinted = true
			p.StyleHint = styleID
		}
	}

	canonical, _ := json.Marshal(p.CanonicalMap)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO form_profiles
			(host, schema_hash, canonical_map, style_hint, success_rate,
			 avg_edit_chars, sample_count, last_seen_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(host, schema_hash) DO UPDATE SET
			canonical_map=excluded.canonical_map,
			style_hint=excluded.style_hint,
			success_rate=excluded.success_rate,
			avg_edit_chars=excluded.avg_edit_chars,
			sample_count=excluded.sample_count,
			last_seen_at=excluded.last_seen_at,
			updated_at=excluded.updated_at`,
		p.Host, p.SchemaHash, string(canonical), p.StyleHint, p.SuccessRate,
		p.AvgEditChars, p.SampleCount, p.LastSeenAt, p.UpdatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// ListProfiles returns profiles, optionally filtered by host, ordered by
// most recently updated.
func (s *Store) ListProfiles(ctx context.Context, host string, limit int) ([]*FormProfile, error) {
	query := `SELECT host, schema_hash, canonical_map, style_hint, success_rate,
	                 avg_edit_chars, sample_count, last_seen_at, updated_at
	          FROM form_profiles`
	var args []any
	if host != "" {
		query += ` WHERE host = ?`
		args = append(args, host)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*FormProfile
	for rows.Next() {
		p := &FormProfile{}
		var canonical string
		if err := rows.Scan(
			&p.Host, &p.SchemaHash, &canonical, &p.StyleHint, &p.SuccessRate,
			&p.AvgEditChars, &p.SampleCount, &p.LastSeenAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(canonical), &p.CanonicalMap)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// CountProfiles returns the total number of form profiles.
func (s *Store) CountProfiles(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM form_profiles`).Scan(&n)
	return n, err
}

// LeaderboardEntry holds aggregated profile quality for one host.
type LeaderboardEntry struct {
	Host         string  `json:"host"`
	ProfileCount int     `json:"profile_count"`
	AvgSuccess   float64 `json:"avg_success_rate"`
	TotalSamples int     `json:"total_samples"`
	LastUpdated  int64   `json:"last_updated"`
}

// HostLeaderboard returns per-host profile stats, best success rate first.
func (s *Store) HostLeaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	query := `
		SELECT host, COUNT(*) AS profile_count,
		       AVG(success_rate) AS avg_success,
		       SUM(sample_count) AS total_samples,
		       MAX(updated_at) AS last_updated
		FROM form_profiles
		GROUP BY host
		ORDER BY avg_success DESC, total_samples DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LeaderboardEntry
	for rows.Next() {
		e := &LeaderboardEntry{}
		if err := rows.Scan(&e.Host, &e.ProfileCount, &e.AvgSuccess, &e.TotalSamples, &e.LastUpdated); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
