// Package scrub validates incoming autofill events and enforces the
// privacy envelope: an event that reaches the store carries selectors,
// counts, enums and timestamps — never free text, never field values.
//
// Two failure modes, deliberately distinct:
//
//   - The envelope itself is malformed (missing host, unknown enum,
//     negative count): the event is rejected with a *ValidationError and
//     never stored.
//   - The envelope is sound but a selector slot holds something that reads
//     like free text: the offending entries are stripped and the event is
//     stored with status "skipped", so the rejection is auditable but the
//     event can never enter an aggregate.
package scrub

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/fillreg/fieldmap"
	"github.com/hazyhaar/fillreg/fillreg/internal/store"
)

// RawEvent is the wire shape of one client event before scrubbing.
type RawEvent struct {
	Host         string                     `json:"host"`
	SchemaHash   string                     `json:"schema_hash"`
	SuggestedMap map[string]string          `json:"suggested_map"`
	FinalMap     map[string]string          `json:"final_map"`
	EditStats    map[string]store.EditCount `json:"edit_stats"`
	DurationMs   int64                      `json:"duration_ms"`
	Policy       string                     `json:"policy"`
	Status       string                     `json:"status"`
	StyleID      string                     `json:"style_id"`
	CreatedAt    int64                      `json:"created_at"`
}

// ValidationError reports a malformed event envelope.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scrub: invalid event: %s: %s", e.Field, e.Reason)
}

const (
	maxHostLen       = 253
	maxSchemaHashLen = 128
	maxSelectorLen   = 512
	maxFields        = 200
)

// Scrub validates raw and returns the storable Event. The returned event's
// ID is unset; the caller assigns one. Envelope violations return a
// *ValidationError; free text in a selector slot downgrades the event to
// status "skipped" with the offending entries removed.
func Scrub(raw *RawEvent) (*store.Event, error) {
	if err := validateEnvelope(raw); err != nil {
		return nil, err
	}

	e := &store.Event{
		Host:       raw.Host,
		SchemaHash: raw.SchemaHash,
		DurationMs: raw.DurationMs,
		Policy:     raw.Policy,
		Status:     raw.Status,
		StyleID:    raw.StyleID,
		CreatedAt:  raw.CreatedAt,
		EditStats:  make(map[string]store.EditCount, len(raw.EditStats)),
	}

	var tainted bool
	e.SuggestedMap, tainted = scrubMap(raw.SuggestedMap, tainted)
	e.FinalMap, tainted = scrubMap(raw.FinalMap, tainted)

	for field, counts := range raw.EditStats {
		if !isCanonicalField(field) {
			tainted = true
			continue
		}
		e.EditStats[field] = counts
	}

	if tainted {
		e.Status = store.StatusSkipped
	}
	return e, nil
}

func validateEnvelope(raw *RawEvent) error {
	switch {
	case strings.TrimSpace(raw.Host) == "":
		return &ValidationError{Field: "host", Reason: "required"}
	case len(raw.Host) > maxHostLen || strings.ContainsAny(raw.Host, " \t\n/"):
		return &ValidationError{Field: "host", Reason: "not a hostname"}
	case strings.TrimSpace(raw.SchemaHash) == "":
		return &ValidationError{Field: "schema_hash", Reason: "required"}
	case len(raw.SchemaHash) > maxSchemaHashLen || !isToken(raw.SchemaHash):
		return &ValidationError{Field: "schema_hash", Reason: "not a fingerprint token"}
	case raw.Policy != store.PolicyExploit && raw.Policy != store.PolicyExplore:
		return &ValidationError{Field: "policy", Reason: fmt.Sprintf("unknown value %q", raw.Policy)}
	case raw.Status != store.StatusPersisted && raw.Status != store.StatusError && raw.Status != store.StatusSkipped:
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", raw.Status)}
	case raw.DurationMs < 0:
		return &ValidationError{Field: "duration_ms", Reason: "negative"}
	case raw.CreatedAt < 0:
		return &ValidationError{Field: "created_at", Reason: "negative"}
	case len(raw.SuggestedMap) > maxFields || len(raw.FinalMap) > maxFields:
		return &ValidationError{Field: "final_map", Reason: "too many fields"}
	}
	if raw.StyleID != "" && !isToken(raw.StyleID) {
		return &ValidationError{Field: "style_id", Reason: "not a token"}
	}
	for field, c := range raw.EditStats {
		if c.Added < 0 || c.Deleted < 0 {
			return &ValidationError{Field: "edit_stats." + field, Reason: "negative count"}
		}
	}
	return nil
}

// scrubMap keeps only entries whose key is a canonical field name and whose
// value passes the selector check. Anything else taints the event.
func scrubMap(in map[string]string, tainted bool) (fieldmap.Map, bool) {
	out := make(fieldmap.Map, len(in))
	for field, sel := range in {
		if !isCanonicalField(field) || !LooksLikeSelector(sel) {
			tainted = true
			continue
		}
		out[field] = sel
	}
	return out, tainted
}

// isCanonicalField accepts normalized semantic names: lowercase letters,
// digits and underscores (e.g. "email", "years_experience").
func isCanonicalField(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// isToken accepts opaque identifiers: letters, digits, '-' and '_'.
func isToken(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return false
		}
	}
	return s != ""
}

// selectorRunes are the characters admissible in a CSS or XPath locator
// beyond letters and digits.
const selectorRunes = `#.-_[]()>:+~*=^$|"'@/%, `

// LooksLikeSelector reports whether s is structurally plausible as a page
// locator. The check is deliberately structural, not a full parse: it
// exists to keep prose out of value position, so it bounds length, rejects
// control characters and anything outside the selector charset, and treats
// several bare words in a row as a sentence.
func LooksLikeSelector(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxSelectorLen {
		return false
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			continue
		}
		if !strings.ContainsRune(selectorRunes, r) {
			return false
		}
	}

	tokens := strings.Fields(s)
	if len(tokens) > 6 {
		return false
	}
	var bareWords int
	for _, tok := range tokens {
		if !isBareWord(tok) {
			continue
		}
		// Tag names are lowercase; a capitalized bare token is a name or
		// the start of a sentence, never a selector step.
		if tok != strings.ToLower(tok) {
			return false
		}
		bareWords++
	}
	// One bare token can be a tag name ("input"); two may be a descendant
	// pair; three or more reads as prose.
	return bareWords < 3
}

// isBareWord reports whether tok is letters only, allowing trailing
// sentence punctuation — the shape of a prose word, not a selector step.
func isBareWord(tok string) bool {
	tok = strings.TrimRight(tok, ".,")
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && r != '\'' {
			return false
		}
	}
	return true
}
