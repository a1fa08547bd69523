package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/carsonhq/memoryd/internal/store"
)

// Weights blends the four recall signals. All must be non-negative. They do
// not need to sum to 1: scaling all four together rescales scores without
// changing the ranking.
type Weights struct {
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
	Recency    float64 `json:"recency"`
	Confidence float64 `json:"confidence"`
}

// DefaultWeights favors relevance, then importance, then freshness.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.4, Importance: 0.3, Recency: 0.2, Confidence: 0.1}
}

func (w Weights) zero() bool {
	return w.Relevance == 0 && w.Importance == 0 && w.Recency == 0 && w.Confidence == 0
}

// recencyHalfWindow sets how fast the recency signal falls off: e-folding
// every 30 days since last reference.
const recencyHalfWindow = 30.0

// Neutral signal values for episodes, which carry neither permanence nor
// confidence of their own.
const (
	episodeImportance = 0.3
	episodeConfidence = 0.5
)

// RecallOpts controls a composite recall.
type RecallOpts struct {
	Scope         string
	Limit         int
	MinConfidence float64
	Weights       Weights // zero value means DefaultWeights
}

// Recall runs a hybrid search, then re-ranks by the composite of relevance,
// importance, recency, and effective confidence. Facts and rules below
// MinConfidence (after decay) are dropped. Returned facts and rules get
// their reference counters bumped; candidates that were considered but not
// returned do not.
func (e *Engine) Recall(ctx context.Context, query string, opts RecallOpts) ([]Item, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.Weights.zero() {
		opts.Weights = DefaultWeights()
	}
	w := opts.Weights
	if w.Relevance < 0 || w.Importance < 0 || w.Recency < 0 || w.Confidence < 0 {
		return nil, store.Validationf("recall weights must be non-negative")
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, store.Validationf("min confidence %f out of range [0,1]", opts.MinConfidence)
	}

	// Over-fetch so the re-rank has room to reorder.
	items, err := e.Search(ctx, query, SearchOpts{
		Scope: opts.Scope,
		Mode:  ModeHybrid,
		Limit: opts.Limit * 3,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	// Relevance normalized against the best hit so weights compose on a
	// common [0,1] scale.
	maxScore := items[0].Score
	for _, it := range items {
		if it.Score > maxScore {
			maxScore = it.Score
		}
	}

	now := time.Now().UnixMilli()
	scored := make([]Item, 0, len(items))
	for _, it := range items {
		relevance := 0.0
		if maxScore > 0 {
			relevance = it.Score / maxScore
		}
		confidence := effectiveConfidenceOf(&it, now)
		if it.Kind != store.KindEpisode && confidence < opts.MinConfidence {
			continue
		}
		composite := w.Relevance*relevance +
			w.Importance*importanceOf(&it) +
			w.Recency*recencyOf(&it, now) +
			w.Confidence*confidence
		it.Score = composite
		scored = append(scored, it)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}

	for _, it := range scored {
		switch it.Kind {
		case store.KindFact:
			e.DB.TouchFact(it.ID)
		case store.KindRule:
			e.DB.TouchRule(it.ID)
		}
	}
	return scored, nil
}

// importanceOf maps permanence (facts) or maturity (rules) to a fixed rank.
func importanceOf(it *Item) float64 {
	switch it.Kind {
	case store.KindFact:
		switch it.Fact.Permanence {
		case store.PermanencePermanent:
			return 1.0
		case store.PermanenceStable:
			return 0.8
		case store.PermanenceStandard:
			return 0.6
		case store.PermanenceVolatile:
			return 0.4
		default:
			return 0.2
		}
	case store.KindRule:
		switch it.Rule.Maturity {
		case store.MaturityProven:
			return 1.0
		case store.MaturityAntiPattern:
			// Anti-patterns rank nearly as high as proven rules: knowing
			// what not to do is almost as valuable.
			return 0.9
		case store.MaturityEstablished:
			return 0.7
		default:
			return 0.4
		}
	default:
		return episodeImportance
	}
}

func recencyOf(it *Item, now int64) float64 {
	var last int64
	switch it.Kind {
	case store.KindFact:
		last = it.Fact.LastReferencedAt
	case store.KindRule:
		last = it.Rule.LastReferencedAt
	default:
		last = it.Episode.CreatedAt
	}
	return math.Exp(-ageDays(last, now) / recencyHalfWindow)
}

func effectiveConfidenceOf(it *Item, now int64) float64 {
	switch it.Kind {
	case store.KindFact:
		f := it.Fact
		return EffectiveConfidence(f.Confidence, f.DecayRate, f.LastConfirmedAt, now)
	case store.KindRule:
		r := it.Rule
		return EffectiveConfidence(r.Confidence, store.PermanenceStandard.DecayRate(), r.LastConfirmedAt, now)
	default:
		return episodeConfidence
	}
}
