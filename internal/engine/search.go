package engine

import (
	"context"
	"sort"
	"time"

	"github.com/carsonhq/memoryd/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

// rrfK is the reciprocal-rank-fusion constant. 60 is the standard value
// from the literature; it keeps a single top rank from dominating the fused
// score.
const rrfK = 60

// DefaultSearchLimit caps results when the caller does not ask for a count.
const DefaultSearchLimit = 10

// SearchOpts narrows a search.
type SearchOpts struct {
	Scope         string
	Mode          Mode
	Limit         int
	Kinds         []store.EntityKind // empty means all three tiers
	MinConfidence float64            // effective-confidence floor for facts and rules
}

// Item is one scored retrieval result. Exactly one of Episode, Fact, Rule
// is set, matching Kind.
type Item struct {
	Kind    store.EntityKind `json:"kind"`
	ID      string           `json:"id"`
	Content string           `json:"content"`
	Scope   string           `json:"scope"`
	Score   float64          `json:"score"`
	Episode *store.Episode   `json:"episode,omitempty"`
	Fact    *store.Fact      `json:"fact,omitempty"`
	Rule    *store.Rule      `json:"rule,omitempty"`
}

// candidate pairs an item with its raw signals for ranking.
type candidate struct {
	item           Item
	embedding      []float64
	lexical        map[string]float64
	lastReferenced int64
}

// Search retrieves live memories matching the query. Hybrid mode runs the
// semantic and keyword rankings independently and fuses them with
// reciprocal rank fusion; an item absent from one list simply contributes
// nothing from that list. Without an embedder, semantic and hybrid degrade
// to keyword.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOpts) ([]Item, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Mode != ModeSemantic && opts.Mode != ModeKeyword && opts.Mode != ModeHybrid {
		return nil, store.Validationf("unknown search mode %q (want semantic|keyword|hybrid)", opts.Mode)
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, store.Validationf("min confidence %f out of range [0,1]", opts.MinConfidence)
	}

	cands, err := e.candidates(opts.Scope, opts.Kinds)
	if err != nil {
		return nil, err
	}
	if opts.MinConfidence > 0 {
		now := time.Now().UnixMilli()
		kept := cands[:0]
		for i := range cands {
			c := cands[i]
			if c.item.Kind != store.KindEpisode && effectiveConfidenceOf(&c.item, now) < opts.MinConfidence {
				continue
			}
			kept = append(kept, c)
		}
		cands = kept
	}
	if len(cands) == 0 {
		return nil, nil
	}

	mode := opts.Mode
	if e.Embedder == nil && mode != ModeKeyword {
		mode = ModeKeyword
	}

	var queryVec []float64
	if mode != ModeKeyword {
		queryVec, err = e.Embedder.Embed(ctx, query)
		if err != nil {
			return nil, &CollaboratorError{Op: "embed", Err: err}
		}
	}
	queryIndex := LexicalIndex(query)

	var ranked []candidate
	switch mode {
	case ModeSemantic:
		ranked = rankBy(cands, func(c *candidate) float64 {
			return CosineSimilarity(queryVec, c.embedding)
		})
	case ModeKeyword:
		ranked = rankBy(cands, func(c *candidate) float64 {
			return LexicalScore(queryIndex, c.lexical)
		})
	case ModeHybrid:
		semantic := rankBy(cands, func(c *candidate) float64 {
			return CosineSimilarity(queryVec, c.embedding)
		})
		keyword := rankBy(cands, func(c *candidate) float64 {
			return LexicalScore(queryIndex, c.lexical)
		})
		ranked = fuseRRF(semantic, keyword, opts.Limit)
	}

	if len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	items := make([]Item, len(ranked))
	for i := range ranked {
		items[i] = ranked[i].item
	}
	return items, nil
}

// candidates loads every live entity visible in scope, filtered by kind.
func (e *Engine) candidates(scope string, kinds []store.EntityKind) ([]candidate, error) {
	want := func(k store.EntityKind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, x := range kinds {
			if x == k {
				return true
			}
		}
		return false
	}

	var cands []candidate
	if want(store.KindEpisode) && scope != "" && scope != store.ScopeGlobal {
		episodes, err := e.DB.EpisodesInScope(scope)
		if err != nil {
			return nil, err
		}
		for i := range episodes {
			ep := &episodes[i]
			cands = append(cands, candidate{
				item:           Item{Kind: store.KindEpisode, ID: ep.ID, Content: ep.Content, Scope: ep.Scope, Episode: ep},
				embedding:      ep.Embedding,
				lexical:        ep.Lexical,
				lastReferenced: ep.CreatedAt,
			})
		}
	}
	if want(store.KindFact) {
		facts, err := e.DB.LiveFacts(scope)
		if err != nil {
			return nil, err
		}
		for i := range facts {
			f := &facts[i]
			cands = append(cands, candidate{
				item:           Item{Kind: store.KindFact, ID: f.ID, Content: f.Content, Scope: f.Scope, Fact: f},
				embedding:      f.Embedding,
				lexical:        f.Lexical,
				lastReferenced: f.LastReferencedAt,
			})
		}
	}
	if want(store.KindRule) {
		rules, err := e.DB.LiveRules(scope)
		if err != nil {
			return nil, err
		}
		for i := range rules {
			r := &rules[i]
			cands = append(cands, candidate{
				item:           Item{Kind: store.KindRule, ID: r.ID, Content: r.Content, Scope: r.Scope, Rule: r},
				embedding:      r.Embedding,
				lexical:        r.Lexical,
				lastReferenced: r.LastReferencedAt,
			})
		}
	}
	return cands, nil
}

// rankBy scores and sorts candidates descending, dropping zero scores.
func rankBy(cands []candidate, score func(*candidate) float64) []candidate {
	ranked := make([]candidate, 0, len(cands))
	for i := range cands {
		c := cands[i]
		c.item.Score = score(&c)
		if c.item.Score > 0 {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].item.Score > ranked[j].item.Score
	})
	return ranked
}

// fuseRRF merges two ranked lists by reciprocal rank fusion. Both lists are
// truncated to the same candidate window before fusing so neither strategy
// gets extra votes. Ties break on recency of last reference.
func fuseRRF(semantic, keyword []candidate, limit int) []candidate {
	window := limit * 3
	if len(semantic) > window {
		semantic = semantic[:window]
	}
	if len(keyword) > window {
		keyword = keyword[:window]
	}

	type fused struct {
		cand  candidate
		score float64
	}
	byID := make(map[string]*fused)
	add := func(list []candidate) {
		for rank, c := range list {
			key := string(c.item.Kind) + ":" + c.item.ID
			f, ok := byID[key]
			if !ok {
				f = &fused{cand: c}
				byID[key] = f
			}
			f.score += 1.0 / float64(rrfK+rank+1)
		}
	}
	add(semantic)
	add(keyword)

	out := make([]candidate, 0, len(byID))
	for _, f := range byID {
		f.cand.item.Score = f.score
		out = append(out, f.cand)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].item.Score != out[j].item.Score {
			return out[i].item.Score > out[j].item.Score
		}
		return out[i].lastReferenced > out[j].lastReferenced
	})
	return out
}
