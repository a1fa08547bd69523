package engine

import (
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/carsonhq/memoryd/internal/store"
)

// Validity thresholds on effective confidence. Stored confidence never
// changes; only the computed value crosses these.
const (
	FadingThreshold  = 0.2
	ExpiredThreshold = 0.05
)

// EffectiveConfidence computes the decayed confidence of a record at time
// now: stored confidence times exp(-rate * days since last confirmation).
// Computed in Go rather than SQL because modernc.org/sqlite lacks pow().
func EffectiveConfidence(confidence, ratePerDay float64, lastConfirmedAt, now int64) float64 {
	if ratePerDay == 0 {
		return confidence
	}
	return confidence * math.Exp(-ratePerDay*ageDays(lastConfirmedAt, now))
}

// SweepResult reports what one decay sweep changed.
type SweepResult struct {
	FactsSwept   int `json:"facts_swept"`
	FactsFading  int `json:"facts_fading"`
	FactsExpired int `json:"facts_expired"`
	RulesSwept   int `json:"rules_swept"`
	RulesFading  int `json:"rules_fading"`
	RulesExpired int `json:"rules_expired"`
}

// RunDecaySweep walks every live fact and rule, recomputes effective
// confidence, and moves records forward through the lifecycle: active to
// fading below 0.2, anything below 0.05 to expired. The sweep never moves a
// record backwards; only an explicit confirmation revives a fading record.
// Idempotent: a second sweep at the same instant changes nothing.
func (e *Engine) RunDecaySweep() (*SweepResult, error) {
	now := time.Now().UnixMilli()
	res := &SweepResult{}

	facts, err := e.DB.SweepableFacts()
	if err != nil {
		return nil, err
	}
	for i := range facts {
		f := &facts[i]
		res.FactsSwept++
		next := nextValidity(f.Validity, EffectiveConfidence(f.Confidence, f.DecayRate, f.LastConfirmedAt, now))
		if next == f.Validity {
			continue
		}
		if err := e.DB.SetFactValidity(f.ID, next); err != nil {
			return nil, err
		}
		switch next {
		case store.ValidityFading:
			res.FactsFading++
		case store.ValidityExpired:
			res.FactsExpired++
		}
	}

	rules, err := e.DB.SweepableRules()
	if err != nil {
		return nil, err
	}
	for i := range rules {
		r := &rules[i]
		res.RulesSwept++
		next := nextValidity(r.Validity, EffectiveConfidence(r.Confidence, store.PermanenceStandard.DecayRate(), r.LastConfirmedAt, now))
		if next == r.Validity {
			continue
		}
		if err := e.DB.SetRuleValidity(r.ID, next); err != nil {
			return nil, err
		}
		switch next {
		case store.ValidityFading:
			res.RulesFading++
		case store.ValidityExpired:
			res.RulesExpired++
		}
	}

	log.Debug("decay sweep complete",
		"facts", res.FactsSwept, "facts_fading", res.FactsFading, "facts_expired", res.FactsExpired,
		"rules", res.RulesSwept, "rules_fading", res.RulesFading, "rules_expired", res.RulesExpired)
	return res, nil
}

// nextValidity maps effective confidence to a lifecycle state, moving only
// forward from current.
func nextValidity(current store.Validity, ec float64) store.Validity {
	switch {
	case ec < ExpiredThreshold:
		return store.ValidityExpired
	case ec < FadingThreshold && current == store.ValidityActive:
		return store.ValidityFading
	default:
		return current
	}
}

// EpisodeHardCap is the age past which even unconsolidated episodes are
// deleted. Anything older has missed too many consolidation rounds to still
// be worth distilling.
const EpisodeHardCap = 30 * 24 * time.Hour

// CleanupResult reports what one episode cleanup pass removed.
type CleanupResult struct {
	Expired int `json:"expired"`
	Evicted int `json:"evicted"`
}

// RunEpisodeCleanup deletes expired episodes and, when maxEntries > 0,
// evicts the oldest consolidated episodes above the cap. Unconsolidated
// episodes inside the hard cap are never removed, so knowledge cannot be
// lost before it had a chance to consolidate.
func (e *Engine) RunEpisodeCleanup(maxEntries int) (*CleanupResult, error) {
	now := time.Now()
	res := &CleanupResult{}

	n, err := e.DB.DeleteExpiredEpisodes(now, EpisodeHardCap)
	if err != nil {
		return nil, err
	}
	res.Expired = n

	if maxEntries > 0 {
		count, err := e.DB.CountEpisodes()
		if err != nil {
			return nil, err
		}
		if count > maxEntries {
			evicted, err := e.DB.DeleteOldestConsolidated(count - maxEntries)
			if err != nil {
				return nil, err
			}
			res.Evicted = evicted
		}
	}

	log.Debug("episode cleanup complete", "expired", res.Expired, "evicted", res.Evicted)
	return res, nil
}
