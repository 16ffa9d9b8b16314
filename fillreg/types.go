package fillreg

import (
	"github.com/hazyhaar/fillreg/fillreg/internal/scrub"
	"github.com/hazyhaar/fillreg/fillreg/internal/store"
)

// Re-exported types from internal packages for use by cmd/ and external callers.
type (
	Event            = store.Event
	EditCount        = store.EditCount
	FormKey          = store.FormKey
	FormProfile      = store.FormProfile
	SelectorStat     = store.SelectorStat
	StyleVariant     = store.StyleVariant
	LeaderboardEntry = store.LeaderboardEntry
	RawEvent         = scrub.RawEvent
	ValidationError  = scrub.ValidationError
)
