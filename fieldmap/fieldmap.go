// Package fieldmap defines the canonical-field-to-selector mapping shared
// between the fillreg server and its browser-side clients.
//
// A Map associates canonical field names (e.g. "email", "years_experience")
// with page selectors (CSS or XPath). The server aggregate represents
// population consensus; a client's local map carries the user's own explicit
// corrections. Merge combines the two with local taking precedence.
package fieldmap

import "maps"

// Map maps canonical field names to selectors.
type Map map[string]string

// Merge returns the union of server and local. For keys present in both,
// local wins: an individual user's correction is stronger evidence for their
// own session than a population aggregate. Merge is pure and idempotent —
// neither input is modified, and merging the result with local again yields
// the same map.
func Merge(server, local Map) Map {
	out := make(Map, len(server)+len(local))
	maps.Copy(out, server)
	maps.Copy(out, local)
	return out
}

// Clone returns a shallow copy of m. A nil map clones to an empty map.
func Clone(m Map) Map {
	out := make(Map, len(m))
	maps.Copy(out, m)
	return out
}

// Equal reports whether two maps hold the same entries.
func Equal(a, b Map) bool {
	return maps.Equal(a, b)
}
