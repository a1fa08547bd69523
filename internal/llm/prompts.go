package llm

import (
	"fmt"
	"strings"
)

// EpisodeSummary is the episode view handed to the proposal prompt.
type EpisodeSummary struct {
	ID      string
	Content string
}

// FactSummary is the existing-fact view handed to the proposal prompt.
type FactSummary struct {
	ID        string
	Subject   string
	Predicate string
	Content   string
}

// RuleSummary is the existing-rule view handed to the proposal prompt.
type RuleSummary struct {
	ID       string
	Content  string
	Maturity string
}

// ConsolidationPrompt generates the prompt for distilling raw episodes into
// facts and rules, given the knowledge already held for the scope.
func ConsolidationPrompt(scope string, episodes []EpisodeSummary, facts []FactSummary, rules []RuleSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are a memory consolidation system for a household assistant. Distill the
raw episodes below into durable knowledge for scope %q.

EPISODES (raw observations, with ids):
`, scope)
	for _, ep := range episodes {
		fmt.Fprintf(&b, "- [%s] %s\n", ep.ID, ep.Content)
	}

	b.WriteString("\nEXISTING FACTS (id, subject/predicate, content):\n")
	if len(facts) == 0 {
		b.WriteString("(none)\n")
	}
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%s] %s/%s: %s\n", f.ID, f.Subject, f.Predicate, f.Content)
	}

	b.WriteString("\nEXISTING RULES (id, maturity, content):\n")
	if len(rules) == 0 {
		b.WriteString("(none)\n")
	}
	for _, r := range rules {
		fmt.Fprintf(&b, "- [%s] (%s) %s\n", r.ID, r.Maturity, r.Content)
	}

	b.WriteString(`
Propose actions:
- new_fact: a durable statement about a subject. Choose permanence:
  permanent (identity, never changes), stable (changes over years),
  standard (changes over months), volatile (changes over weeks),
  ephemeral (days). subject/predicate form a key; a new fact replaces
  any existing fact with the same key.
- supersede_fact: same as new_fact, when you intend to replace a listed fact.
- new_rule: a behavioral guideline learned from the episodes.
- confirm: an existing fact or rule the episodes re-affirm (target_kind,
  target_id). Prefer confirm over restating an unchanged fact.
- link: a provenance edge between listed entities (source_kind, source_id,
  target_kind, target_id, relation: derived_from|supports|contradicts|supersedes).

Rules:
- Only distill genuinely useful, persistent knowledge
- Skip trivial or one-off details
- Set source_episode_id on new facts and rules to the episode they came from
- Do not propose two facts with the same subject and predicate
- Return ONLY a JSON array, no other text

Return a JSON array:
[{
  "type": "new_fact|supersede_fact|new_rule|confirm|link",
  "subject": "...", "predicate": "...", "content": "...",
  "permanence": "permanent|stable|standard|volatile|ephemeral",
  "source_episode_id": "...",
  "target_kind": "fact|rule", "target_id": "...",
  "source_kind": "...", "source_id": "...", "relation": "..."
}]

If nothing worth keeping, return: []`)

	return b.String()
}
