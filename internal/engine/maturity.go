package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/carsonhq/memoryd/internal/store"
)

// Maturity transition thresholds. Promotion is earned by outcomes; a rule
// that stops earning falls back to whatever level it still qualifies for.
const (
	establishedMinSuccess = 5
	establishedMinEff     = 0.6
	provenMinSuccess      = 15
	provenMinEff          = 0.8
	provenMinAgeDays      = 30.0

	inversionMinHarmful = 3
	inversionMaxEff     = 0.3
)

// Effectiveness weighs harmful outcomes four times heavier than successes.
// The epsilon keeps a rule with zero recorded outcomes at zero instead of
// dividing by zero.
func Effectiveness(success, harmful int) float64 {
	return float64(success) / (float64(success) + 4*float64(harmful) + 0.01)
}

// MarkHelpful records a successful application of the rule and re-evaluates
// its maturity.
func (e *Engine) MarkHelpful(ctx context.Context, id string) (*store.Rule, error) {
	return e.recordOutcome(ctx, id, true, "")
}

// MarkHarmful records a harmful application with the reason it went wrong,
// and re-evaluates maturity. Three harmful outcomes with low effectiveness
// invert the rule into an anti-pattern.
func (e *Engine) MarkHarmful(ctx context.Context, id, reason string) (*store.Rule, error) {
	return e.recordOutcome(ctx, id, false, reason)
}

func (e *Engine) recordOutcome(ctx context.Context, id string, success bool, reason string) (*store.Rule, error) {
	r, err := e.DB.GetRule(id)
	if err != nil {
		return nil, err
	}
	if r.Validity == store.ValidityForgotten {
		return nil, store.Validationf("rule %s is forgotten", id)
	}

	now := time.Now().UnixMilli()
	r.AppliedCount++
	if success {
		r.SuccessCount++
	} else {
		r.HarmfulCount++
		if reason != "" {
			r.HarmfulReasons = append(r.HarmfulReasons, reason)
		}
	}
	r.Effectiveness = Effectiveness(r.SuccessCount, r.HarmfulCount)
	r.LastAppliedAt = &now

	prev := r.Maturity
	if err := e.transition(ctx, r, now); err != nil {
		return nil, err
	}
	if r.Maturity != prev {
		log.Info("rule maturity changed", "rule", r.ID, "from", prev, "to", r.Maturity,
			"effectiveness", fmt.Sprintf("%.2f", r.Effectiveness))
	}

	if err := e.DB.UpdateRuleOutcome(r); err != nil {
		return nil, err
	}
	return r, nil
}

// transition recomputes maturity from the rule's record. Anti-pattern is
// terminal: once inverted, a rule never recovers.
func (e *Engine) transition(ctx context.Context, r *store.Rule, now int64) error {
	if r.Maturity == store.MaturityAntiPattern {
		return nil
	}

	if r.HarmfulCount >= inversionMinHarmful && r.Effectiveness < inversionMaxEff {
		return e.invert(ctx, r)
	}

	switch {
	case r.SuccessCount >= provenMinSuccess && r.Effectiveness >= provenMinEff &&
		ageDays(r.CreatedAt, now) >= provenMinAgeDays:
		r.Maturity = store.MaturityProven
	case r.SuccessCount >= establishedMinSuccess && r.Effectiveness >= establishedMinEff:
		r.Maturity = store.MaturityEstablished
	default:
		r.Maturity = store.MaturityCandidate
	}
	return nil
}

// invert rewrites a repeatedly harmful rule as explicit guidance against
// itself, so retrieval surfaces the warning instead of the bad advice.
func (e *Engine) invert(ctx context.Context, r *store.Rule) error {
	reasons := "unspecified"
	if len(r.HarmfulReasons) > 0 {
		reasons = strings.Join(r.HarmfulReasons, "; ")
	}
	r.Content = fmt.Sprintf("ANTI-PATTERN: Do NOT %s. This caused problems because: %s",
		strings.TrimSuffix(r.Content, "."), reasons)
	r.Maturity = store.MaturityAntiPattern

	vec, lexical, err := e.embed(ctx, r.Content)
	if err != nil {
		// The inversion still lands; the index catches up on the next
		// content change.
		log.Warn("embed inverted rule failed", "rule", r.ID, "error", err)
	} else {
		r.Embedding = vec
		r.Lexical = lexical
	}
	return nil
}
