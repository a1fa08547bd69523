package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/carsonhq/memoryd/internal/llm"
	"github.com/carsonhq/memoryd/internal/store"
)

// consolidationTimeout bounds one proposal round per scope.
const consolidationTimeout = 120 * time.Second

// maxActionsPerBatch caps what one proposal round may change. Even if the
// model returns more, the rest waits for the next run.
const maxActionsPerBatch = 32

// proposalAction is one action in the JSON array returned by the proposal
// LLM. The type tag selects which fields matter.
type proposalAction struct {
	Type string `json:"type"` // new_fact | supersede_fact | new_rule | confirm | link

	// new_fact / supersede_fact
	Subject    string `json:"subject,omitempty"`
	Predicate  string `json:"predicate,omitempty"`
	Permanence string `json:"permanence,omitempty"`

	// new_fact / new_rule
	Content         string `json:"content,omitempty"`
	SourceEpisodeID string `json:"source_episode_id,omitempty"`

	// confirm
	TargetKind string `json:"target_kind,omitempty"`
	TargetID   string `json:"target_id,omitempty"`

	// link
	SourceKind string `json:"source_kind,omitempty"`
	SourceID   string `json:"source_id,omitempty"`
	Relation   string `json:"relation,omitempty"`
}

// ConsolidationResult reports what one consolidation run did.
type ConsolidationResult struct {
	Batches  int `json:"batches"`
	Episodes int `json:"episodes"`
	Applied  int `json:"applied"`
	Skipped  int `json:"skipped"`
}

// RunConsolidation distills unconsolidated episodes into facts and rules.
// Episodes are grouped by scope; each group becomes one proposal round and
// one atomic batch. A failed round leaves its episodes unconsolidated, so
// the next run retries them. Individual malformed actions are skipped and
// logged; they never sink the batch.
func (e *Engine) RunConsolidation(ctx context.Context) (*ConsolidationResult, error) {
	if e.LLM == nil {
		return nil, store.Validationf("consolidation requires an LLM provider")
	}

	episodes, err := e.DB.UnconsolidatedEpisodes()
	if err != nil {
		return nil, err
	}
	res := &ConsolidationResult{}
	if len(episodes) == 0 {
		return res, nil
	}

	byScope := make(map[string][]store.Episode)
	for _, ep := range episodes {
		byScope[ep.Scope] = append(byScope[ep.Scope], ep)
	}
	scopes := make([]string, 0, len(byScope))
	for s := range byScope {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	var lastErr error
	for _, scope := range scopes {
		group := byScope[scope]
		applied, skipped, err := e.consolidateScope(ctx, scope, group)
		if err != nil {
			log.Warn("consolidation batch failed", "scope", scope, "episodes", len(group), "error", err)
			lastErr = err
			continue
		}
		res.Batches++
		res.Episodes += len(group)
		res.Applied += applied
		res.Skipped += skipped
	}

	if res.Batches == 0 && lastErr != nil {
		return nil, lastErr
	}
	return res, nil
}

// consolidateScope runs one proposal round for one scope and applies the
// resulting batch atomically.
func (e *Engine) consolidateScope(ctx context.Context, scope string, episodes []store.Episode) (applied, skipped int, err error) {
	facts, err := e.DB.LiveFacts(scope)
	if err != nil {
		return 0, 0, err
	}
	rules, err := e.DB.LiveRules(scope)
	if err != nil {
		return 0, 0, err
	}

	prompt := llm.ConsolidationPrompt(scope, episodeSummaries(episodes), factSummaries(facts), ruleSummaries(rules))

	cctx, cancel := context.WithTimeout(ctx, consolidationTimeout)
	defer cancel()

	resp, err := e.LLM.Complete(cctx, prompt)
	if err != nil {
		return 0, 0, &CollaboratorError{Op: "consolidate", Err: err}
	}

	actions, err := parseProposalResponse(resp.Content)
	if err != nil {
		return 0, 0, &CollaboratorError{Op: "consolidate", Err: err}
	}
	if len(actions) > maxActionsPerBatch {
		log.Warn("capping proposal actions", "scope", scope, "got", len(actions), "cap", maxActionsPerBatch)
		actions = actions[:maxActionsPerBatch]
	}

	batch := &store.ConsolidationBatch{}
	for _, ep := range episodes {
		batch.EpisodeIDs = append(batch.EpisodeIDs, ep.ID)
	}

	episodeIDs := make(map[string]bool, len(episodes))
	for _, ep := range episodes {
		episodeIDs[ep.ID] = true
	}
	seenFactKeys := make(map[string]bool)

	for _, a := range actions {
		if err := e.addAction(cctx, batch, scope, a, episodeIDs, seenFactKeys); err != nil {
			log.Warn("skipping proposal action", "scope", scope, "type", a.Type, "error", err)
			skipped++
			continue
		}
		applied++
	}

	if err := e.DB.ApplyConsolidation(batch); err != nil {
		return 0, 0, err
	}
	log.Info("consolidated scope", "scope", scope, "episodes", len(episodes),
		"facts", len(batch.NewFacts), "rules", len(batch.NewRules),
		"confirms", len(batch.Confirms), "links", len(batch.Links))
	return applied, skipped, nil
}

// addAction validates one proposal action and folds it into the batch.
func (e *Engine) addAction(ctx context.Context, batch *store.ConsolidationBatch, scope string,
	a proposalAction, episodeIDs map[string]bool, seenFactKeys map[string]bool) error {

	switch a.Type {
	case "new_fact", "supersede_fact":
		// Supersession happens automatically on the live key; the two
		// action types only differ in the model's intent.
		if a.Subject == "" || a.Predicate == "" || a.Content == "" {
			return fmt.Errorf("fact action missing subject, predicate, or content")
		}
		perm := store.Permanence(a.Permanence)
		if a.Permanence == "" {
			perm = store.PermanenceStandard
		}
		if !perm.Valid() {
			return fmt.Errorf("unknown permanence %q", a.Permanence)
		}
		key := a.Subject + "\x00" + a.Predicate
		if seenFactKeys[key] {
			return fmt.Errorf("duplicate fact key %s/%s in batch", a.Subject, a.Predicate)
		}
		seenFactKeys[key] = true

		vec, lexical, err := e.embed(ctx, a.Content)
		if err != nil {
			return err
		}
		f := &store.Fact{
			ID:         store.NewID(),
			Subject:    a.Subject,
			Predicate:  a.Predicate,
			Content:    a.Content,
			Permanence: perm,
			Scope:      scope,
			Embedding:  vec,
			Lexical:    lexical,
		}
		if a.SourceEpisodeID != "" {
			if !episodeIDs[a.SourceEpisodeID] {
				return fmt.Errorf("source episode %s not in this batch", a.SourceEpisodeID)
			}
			f.SourceEpisodeID = a.SourceEpisodeID
			batch.Links = append(batch.Links, store.MemoryLink{
				SourceType: store.KindFact, SourceID: f.ID,
				TargetType: store.KindEpisode, TargetID: a.SourceEpisodeID,
				Relation: store.RelationDerivedFrom,
			})
		}
		batch.NewFacts = append(batch.NewFacts, f)

	case "new_rule":
		if a.Content == "" {
			return fmt.Errorf("rule action missing content")
		}
		vec, lexical, err := e.embed(ctx, a.Content)
		if err != nil {
			return err
		}
		r := &store.Rule{
			ID:        store.NewID(),
			Content:   a.Content,
			Scope:     scope,
			Embedding: vec,
			Lexical:   lexical,
		}
		if a.SourceEpisodeID != "" {
			if !episodeIDs[a.SourceEpisodeID] {
				return fmt.Errorf("source episode %s not in this batch", a.SourceEpisodeID)
			}
			batch.Links = append(batch.Links, store.MemoryLink{
				SourceType: store.KindRule, SourceID: r.ID,
				TargetType: store.KindEpisode, TargetID: a.SourceEpisodeID,
				Relation: store.RelationDerivedFrom,
			})
		}
		batch.NewRules = append(batch.NewRules, r)

	case "confirm":
		kind := store.EntityKind(a.TargetKind)
		if kind != store.KindFact && kind != store.KindRule {
			return fmt.Errorf("confirm target kind %q must be fact or rule", a.TargetKind)
		}
		ok, err := e.DB.Exists(kind, a.TargetID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("confirm target %s %s not found", kind, a.TargetID)
		}
		batch.Confirms = append(batch.Confirms, store.ConfirmRef{Kind: kind, ID: a.TargetID})

	case "link":
		srcKind := store.EntityKind(a.SourceKind)
		dstKind := store.EntityKind(a.TargetKind)
		rel := store.Relation(a.Relation)
		if !store.ValidKind(srcKind) || !store.ValidKind(dstKind) {
			return fmt.Errorf("link kinds %q -> %q invalid", a.SourceKind, a.TargetKind)
		}
		if !store.ValidRelation(rel) {
			return fmt.Errorf("unknown link relation %q", a.Relation)
		}
		for _, ref := range []struct {
			kind store.EntityKind
			id   string
		}{{srcKind, a.SourceID}, {dstKind, a.TargetID}} {
			if episodeIDs[ref.id] {
				continue
			}
			ok, err := e.DB.Exists(ref.kind, ref.id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("link endpoint %s %s not found", ref.kind, ref.id)
			}
		}
		batch.Links = append(batch.Links, store.MemoryLink{
			SourceType: srcKind, SourceID: a.SourceID,
			TargetType: dstKind, TargetID: a.TargetID,
			Relation: rel,
		})

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// parseProposalResponse extracts a JSON action array from the LLM response.
// The response might contain markdown code fences or other wrapper text.
func parseProposalResponse(content string) ([]proposalAction, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var actions []proposalAction
	if err := json.Unmarshal([]byte(content[start:end+1]), &actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	return actions, nil
}

func episodeSummaries(episodes []store.Episode) []llm.EpisodeSummary {
	out := make([]llm.EpisodeSummary, len(episodes))
	for i, ep := range episodes {
		out[i] = llm.EpisodeSummary{ID: ep.ID, Content: ep.Content}
	}
	return out
}

func factSummaries(facts []store.Fact) []llm.FactSummary {
	out := make([]llm.FactSummary, len(facts))
	for i, f := range facts {
		out[i] = llm.FactSummary{ID: f.ID, Subject: f.Subject, Predicate: f.Predicate, Content: f.Content}
	}
	return out
}

func ruleSummaries(rules []store.Rule) []llm.RuleSummary {
	out := make([]llm.RuleSummary, len(rules))
	for i, r := range rules {
		out[i] = llm.RuleSummary{ID: r.ID, Content: r.Content, Maturity: string(r.Maturity)}
	}
	return out
}
