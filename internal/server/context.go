package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/carsonhq/memoryd/internal/engine"
	"github.com/carsonhq/memoryd/internal/store"
)

// defaultContextBudget is the token budget for one context block. Rough
// heuristic: 4 characters per token.
const (
	defaultContextBudget = 2000
	charsPerToken        = 4
)

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	query := r.URL.Query().Get("q")
	if query == "" {
		query = scope
	}
	if query == "" {
		s.writeError(w, store.Validationf("scope or q parameter required"))
		return
	}

	budget := defaultContextBudget
	if b := r.URL.Query().Get("budget"); b != "" {
		if n, err := strconv.Atoi(b); err == nil && n > 0 {
			budget = n
		}
	}

	items, err := s.engine.Recall(r.Context(), query, engine.RecallOpts{
		Scope: scope,
		Limit: 25,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"scope":   scope,
		"context": buildContext(items, budget),
	})
}

// buildContext formats recalled items as a markdown block for prompt
// injection, highest score first, cut off at the token budget.
func buildContext(items []engine.Item, budgetTokens int) string {
	var b strings.Builder
	b.WriteString("<memory>\n## What I Remember\n")

	budget := budgetTokens * charsPerToken
	var facts, rules, episodes []string
	for _, it := range items {
		line := formatContextLine(&it)
		if b.Len()+lengthOf(facts, rules, episodes)+len(line) > budget {
			break
		}
		switch it.Kind {
		case store.KindFact:
			facts = append(facts, line)
		case store.KindRule:
			rules = append(rules, line)
		default:
			episodes = append(episodes, line)
		}
	}

	if len(facts) > 0 {
		b.WriteString("\n### Facts\n")
		for _, l := range facts {
			b.WriteString(l)
		}
	}
	if len(rules) > 0 {
		b.WriteString("\n### Guidelines\n")
		for _, l := range rules {
			b.WriteString(l)
		}
	}
	if len(episodes) > 0 {
		b.WriteString("\n### Recent Observations\n")
		for _, l := range episodes {
			b.WriteString(l)
		}
	}

	b.WriteString("</memory>")
	return b.String()
}

func formatContextLine(it *engine.Item) string {
	switch it.Kind {
	case store.KindFact:
		return fmt.Sprintf("- %s\n", it.Content)
	case store.KindRule:
		return fmt.Sprintf("- (%s) %s\n", it.Rule.Maturity, it.Content)
	default:
		return fmt.Sprintf("- %s\n", it.Content)
	}
}

func lengthOf(lists ...[]string) int {
	n := 0
	for _, list := range lists {
		for _, l := range list {
			n += len(l)
		}
	}
	return n
}
