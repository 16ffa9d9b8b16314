package scrub

import (
	"errors"
	"testing"

	"github.com/hazyhaar/fillreg/fillreg/internal/store"
)

func validRaw() *RawEvent {
	return &RawEvent{
		Host:       "jobs.example.com",
		SchemaHash: "abc123",
		SuggestedMap: map[string]string{
			"email": "#email",
			"name":  "input[name=fullname]",
		},
		FinalMap: map[string]string{
			"email": "#email",
			"name":  "form.apply input[name=fullname]",
		},
		EditStats: map[string]store.EditCount{
			"email": {Added: 0, Deleted: 0},
			"name":  {Added: 2, Deleted: 1},
		},
		DurationMs: 840,
		Policy:     store.PolicyExploit,
		Status:     store.StatusPersisted,
		StyleID:    "formal_short",
	}
}

func TestScrubValidEvent(t *testing.T) {
	e, err := Scrub(validRaw())
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if e.Status != store.StatusPersisted {
		t.Errorf("status: got %q, want persisted", e.Status)
	}
	if len(e.FinalMap) != 2 {
		t.Errorf("final_map: got %d entries, want 2", len(e.FinalMap))
	}
	if e.TotalEditChars() != 3 {
		t.Errorf("total edit chars: got %d, want 3", e.TotalEditChars())
	}
	if e.CreatedAt != 0 {
		t.Errorf("created_at should be left for the store to stamp, got %d", e.CreatedAt)
	}
}

func TestScrubFreeTextBecomesSkipped(t *testing.T) {
	raw := validRaw()
	raw.FinalMap["cover_letter"] = "I am excited to apply for this position at your company."

	e, err := Scrub(raw)
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if e.Status != store.StatusSkipped {
		t.Errorf("status: got %q, want skipped", e.Status)
	}
	if _, ok := e.FinalMap["cover_letter"]; ok {
		t.Error("free-text entry must be stripped")
	}
	// The clean entries survive on the skipped event for auditability.
	if e.FinalMap["email"] != "#email" {
		t.Error("clean entries should survive the strip")
	}
}

func TestScrubPersonNameBecomesSkipped(t *testing.T) {
	raw := validRaw()
	raw.FinalMap["name"] = "John Smith"

	e, err := Scrub(raw)
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if e.Status != store.StatusSkipped {
		t.Errorf("status: got %q, want skipped", e.Status)
	}
	if _, ok := e.FinalMap["name"]; ok {
		t.Error("name value must be stripped")
	}
}

func TestScrubBadFieldNameTaints(t *testing.T) {
	raw := validRaw()
	raw.SuggestedMap["Dear Hiring Manager"] = "#x"

	e, err := Scrub(raw)
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if e.Status != store.StatusSkipped {
		t.Errorf("status: got %q, want skipped", e.Status)
	}
}

func TestScrubEnvelopeViolations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RawEvent)
		field  string
	}{
		{"missing host", func(r *RawEvent) { r.Host = "" }, "host"},
		{"host with path", func(r *RawEvent) { r.Host = "example.com/apply" }, "host"},
		{"missing schema hash", func(r *RawEvent) { r.SchemaHash = "" }, "schema_hash"},
		{"free text schema hash", func(r *RawEvent) { r.SchemaHash = "not a hash!" }, "schema_hash"},
		{"unknown policy", func(r *RawEvent) { r.Policy = "guess" }, "policy"},
		{"unknown status", func(r *RawEvent) { r.Status = "maybe" }, "status"},
		{"negative duration", func(r *RawEvent) { r.DurationMs = -1 }, "duration_ms"},
		{"negative edit count", func(r *RawEvent) {
			r.EditStats["email"] = store.EditCount{Added: -4}
		}, "edit_stats.email"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			tc.mutate(raw)
			_, err := Scrub(raw)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got err %v, want *ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Errorf("field: got %q, want %q", verr.Field, tc.field)
			}
		})
	}
}

func TestLooksLikeSelector(t *testing.T) {
	accept := []string{
		"#email",
		".form-field > input",
		"input[name=fullname]",
		"//form//input[@id='email']",
		"div.apply form input",
		"textarea",
	}
	reject := []string{
		"",
		"I am excited to apply for this position.",
		"Dear hiring manager,",
		"please contact me at any time",
		"John Smith",
		"Marie",
		"line\nbreak",
		"semi;colon",
	}

	for _, s := range accept {
		if !LooksLikeSelector(s) {
			t.Errorf("LooksLikeSelector(%q) = false, want true", s)
		}
	}
	for _, s := range reject {
		if LooksLikeSelector(s) {
			t.Errorf("LooksLikeSelector(%q) = true, want false", s)
		}
	}
}
