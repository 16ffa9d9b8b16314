// Package bandit implements the exploit/explore policy over style variants.
//
// Selection is epsilon-greedy: with probability epsilon the caller is told
// to explore, drawing a variant weight-proportionally from everything except
// the current hint; otherwise it exploits the hint. Priors live in the
// style_variants table and are blended in place when the aggregator commits
// a window — the bandit itself holds no learning state, so any number of
// workers can share one instance.
package bandit

import (
	"math/rand/v2"
	"sync"

	"github.com/hazyhaar/fillreg/fillreg/internal/store"
)

// Decision is the outcome of one policy selection.
type Decision struct {
	Policy  string `json:"policy"`
	StyleID string `json:"style_id"`
}

// Bandit selects between exploiting a form's style hint and exploring
// alternatives. Safe for concurrent use.
type Bandit struct {
	epsilon float64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Bandit with the given exploration rate. A nil src is
// auto-seeded; tests inject a fixed-seed source.
func New(epsilon float64, src rand.Source) *Bandit {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Bandit{epsilon: epsilon, rng: rand.New(src)}
}

// Choose picks a policy and style for one fill. hint is the form profile's
// current style hint ("" when no profile exists yet). An empty or unknown
// hint forces exploration over all variants, since there is nothing to
// exploit.
func (b *Bandit) Choose(hint string, variants []store.StyleVariant) Decision {
	if len(variants) == 0 {
		return Decision{Policy: store.PolicyExplore}
	}

	hintKnown := false
	for _, v := range variants {
		if v.StyleID == hint {
			hintKnown = true
			break
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if hintKnown && b.rng.Float64() >= b.epsilon {
		return Decision{Policy: store.PolicyExploit, StyleID: hint}
	}

	// Explore among everything except the hint, to gather comparative
	// evidence. When the hint is unknown the whole pool is eligible.
	pool := variants[:0:0]
	for _, v := range variants {
		if v.StyleID != hint {
			pool = append(pool, v)
		}
	}
	if len(pool) == 0 {
		pool = variants
	}
	return Decision{Policy: store.PolicyExplore, StyleID: b.weightedPick(pool)}
}

// weightedPick draws a variant proportionally to prior_weight. Zero or
// negative weights contribute nothing; an all-zero pool degrades to uniform.
func (b *Bandit) weightedPick(pool []store.StyleVariant) string {
	var total float64
	for _, v := range pool {
		if v.PriorWeight > 0 {
			total += v.PriorWeight
		}
	}
	if total <= 0 {
		return pool[b.rng.IntN(len(pool))].StyleID
	}

	target := b.rng.Float64() * total
	for _, v := range pool {
		if v.PriorWeight <= 0 {
			continue
		}
		target -= v.PriorWeight
		if target < 0 {
			return v.StyleID
		}
	}
	return pool[len(pool)-1].StyleID
}
