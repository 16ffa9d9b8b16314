package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hazyhaar/fillreg/fieldmap"
)

// Event policies and statuses. These are the only values the CHECK
// constraints in the schema admit.
const (
	PolicyExploit = "exploit"
	PolicyExplore = "explore"

	StatusPersisted = "persisted"
	StatusError     = "error"
	StatusSkipped   = "skipped"
)

// EditCount holds per-field character edit counts.
type EditCount struct {
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
}

// Event is a scrubbed autofill event. Immutable once stored. It carries
// only structural metadata: selector maps, edit counts, timings, enums.
type Event struct {
	ID           string               `json:"id"`
	Host         string               `json:"host"`
	SchemaHash   string               `json:"schema_hash"`
	SuggestedMap fieldmap.Map         `json:"suggested_map"`
	FinalMap     fieldmap.Map         `json:"final_map"`
	EditStats    map[string]EditCount `json:"edit_stats"`
	DurationMs   int64                `json:"duration_ms"`
	Policy       string               `json:"policy"`
	Status       string               `json:"status"`
	StyleID      string               `json:"style_id,omitempty"`
	CreatedAt    int64                `json:"created_at"`
}

// TotalEditChars returns the summed char-added + char-deleted across all
// fields of the event.
func (e *Event) TotalEditChars() int {
	var total int
	for _, c := range e.EditStats {
		total += c.Added + c.Deleted
	}
	return total
}

// FormKey identifies one aggregation unit.
type FormKey struct {
	Host       string `json:"host"`
	SchemaHash string `json:"schema_hash"`
}

// AppendEvents inserts a batch of events in one transaction. The ledger is
// append-only: existing rows are never touched.
func (s *Store) AppendEvents(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fill_events
			(id, host, schema_hash, suggested_map, final_map, edit_stats,
			 duration_ms, policy, status, style_id, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range events {
		if e.CreatedAt == 0 {
			e.CreatedAt = now
		}
		suggested, _ := json.Marshal(e.SuggestedMap)
		final, _ := json.Marshal(e.FinalMap)
		edits, _ := json.Marshal(e.EditStats)
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Host, e.SchemaHash, string(suggested), string(final), string(edits),
			e.DurationMs, e.Policy, e.Status, e.StyleID, e.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EventsInWindow returns events for (host, schemaHash) with created_at >= since,
// oldest first. With aggregableOnly, skipped events are excluded — scrub
// rejects must never enter a tally.
func (s *Store) EventsInWindow(ctx context.Context, host, schemaHash string, since int64, aggregableOnly bool) ([]*Event, error) {
	query := `SELECT id, host, schema_hash, suggested_map, final_map, edit_stats,
	                 duration_ms, policy, status, style_id, created_at
	          FROM fill_events
	          WHERE host = ? AND schema_hash = ? AND created_at >= ?`
	if aggregableOnly {
		query += ` AND status != 'skipped'`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.DB.QueryContext(ctx, query, host, schemaHash, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var suggested, final, edits string
		if err := rows.Scan(
			&e.ID, &e.Host, &e.SchemaHash, &suggested, &final, &edits,
			&e.DurationMs, &e.Policy, &e.Status, &e.StyleID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		// A corrupt payload leaves the maps nil; the aggregator logs and
		// excludes such events rather than failing the whole window.
		json.Unmarshal([]byte(suggested), &e.SuggestedMap)
		json.Unmarshal([]byte(final), &e.FinalMap)
		json.Unmarshal([]byte(edits), &e.EditStats)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListActiveForms returns the distinct (host, schema_hash) pairs with at
// least one non-skipped event since the given time.
func (s *Store) ListActiveForms(ctx context.Context, since int64) ([]FormKey, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT host, schema_hash FROM fill_events
		WHERE created_at >= ? AND status != 'skipped'
		ORDER BY host, schema_hash`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []FormKey
	for rows.Next() {
		var k FormKey
		if err := rows.Scan(&k.Host, &k.SchemaHash); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PruneEvents deletes events older than the cutoff and returns the number
// removed. Profiles are never pruned.
func (s *Store) PruneEvents(ctx context.Context, olderThan int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM fill_events WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountEvents returns the total number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM fill_events`).Scan(&n)
	return n, err
}

// CountSkippedEvents returns the number of events the scrubber flagged.
func (s *Store) CountSkippedEvents(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM fill_events WHERE status = 'skipped'`).Scan(&n)
	return n, err
}
