package store

import (
	"database/sql"
	"fmt"
	"time"
)

const ruleColumns = `id, content, embedding, lexical, scope, confidence, maturity, validity,
	applied_count, success_count, harmful_count, effectiveness, ref_count, harmful_reasons,
	created_at, last_applied_at, last_referenced_at, last_confirmed_at, tags`

// DefaultRuleConfidence is the starting confidence for every new rule.
const DefaultRuleConfidence = 0.5

// CreateRule stores a new rule. Rules always start as candidates with
// confidence 0.5 and all counts at zero, regardless of what the caller set.
func (db *DB) CreateRule(r *Rule) error {
	if err := prepareRule(r); err != nil {
		return err
	}
	return insertRule(db, r)
}

func prepareRule(r *Rule) error {
	if r.Content == "" {
		return Validationf("rule content must not be empty")
	}
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.Scope == "" {
		r.Scope = ScopeGlobal
	}
	now := time.Now().UnixMilli()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.Confidence = DefaultRuleConfidence
	r.Maturity = MaturityCandidate
	r.Validity = ValidityActive
	r.AppliedCount = 0
	r.SuccessCount = 0
	r.HarmfulCount = 0
	r.Effectiveness = 0
	r.LastReferencedAt = r.CreatedAt
	r.LastConfirmedAt = r.CreatedAt
	return nil
}

func insertRule(q execer, r *Rule) error {
	_, err := q.Exec(`
		INSERT INTO rules (id, content, embedding, lexical, scope, confidence, maturity, validity,
			applied_count, success_count, harmful_count, effectiveness, ref_count, harmful_reasons,
			created_at, last_applied_at, last_referenced_at, last_confirmed_at, tags)
		VALUES (?, ?, ?, ?, ?, ?, 'candidate', 'active', 0, 0, 0, 0, 0, ?, ?, NULL, ?, ?, ?)
	`, r.ID, r.Content, encodeEmbedding(r.Embedding), encodeJSON(r.Lexical), r.Scope,
		r.Confidence, encodeJSON(r.HarmfulReasons), r.CreatedAt, r.LastReferencedAt,
		r.LastConfirmedAt, encodeJSON(r.Tags))
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// GetRule returns a rule by id, or NotFoundError.
func (db *DB) GetRule(id string) (*Rule, error) {
	row := db.QueryRow(`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: KindRule, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// LiveRules returns active and fading rules visible in the given scope.
func (db *DB) LiveRules(scope string) ([]Rule, error) {
	rows, err := db.Query(`
		SELECT `+ruleColumns+` FROM rules
		WHERE validity IN ('active', 'fading') AND (scope = ? OR scope = ?)
		ORDER BY last_referenced_at DESC
	`, ScopeGlobal, scope)
	if err != nil {
		return nil, fmt.Errorf("live rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// SweepableRules returns all rules the decay sweep may act on.
func (db *DB) SweepableRules() ([]Rule, error) {
	rows, err := db.Query(`
		SELECT ` + ruleColumns + ` FROM rules
		WHERE validity IN ('active', 'fading')
	`)
	if err != nil {
		return nil, fmt.Errorf("sweepable rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// SetRuleValidity moves a rule to a new validity state.
func (db *DB) SetRuleValidity(id string, v Validity) error {
	_, err := db.Exec(`UPDATE rules SET validity = ? WHERE id = ?`, string(v), id)
	if err != nil {
		return fmt.Errorf("set rule validity: %w", err)
	}
	return nil
}

// TouchRule bumps ref_count and last_referenced_at. Best-effort on the read
// path.
func (db *DB) TouchRule(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE rules SET ref_count = ref_count + 1, last_referenced_at = ? WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch rule: %w", err)
	}
	return nil
}

// UpdateRuleOutcome persists the fields the maturity engine is allowed to
// change: counts, effectiveness, maturity, content (on inversion, with its
// recomputed embedding and lexical index), reasons, and last_applied_at.
func (db *DB) UpdateRuleOutcome(r *Rule) error {
	_, err := db.Exec(`
		UPDATE rules SET content = ?, embedding = ?, lexical = ?, maturity = ?,
			applied_count = ?, success_count = ?, harmful_count = ?, effectiveness = ?,
			harmful_reasons = ?, last_applied_at = ?
		WHERE id = ?
	`, r.Content, encodeEmbedding(r.Embedding), encodeJSON(r.Lexical), string(r.Maturity),
		r.AppliedCount, r.SuccessCount, r.HarmfulCount, r.Effectiveness,
		encodeJSON(r.HarmfulReasons), r.LastAppliedAt, r.ID)
	if err != nil {
		return fmt.Errorf("update rule outcome: %w", err)
	}
	return nil
}

// confirmRule resets the decay clock. A fading rule returns to active.
func confirmRule(q execer, id string, now int64) (bool, error) {
	result, err := q.Exec(`
		UPDATE rules SET last_confirmed_at = ?,
			validity = CASE WHEN validity = 'fading' THEN 'active' ELSE validity END
		WHERE id = ? AND validity != 'forgotten'
	`, now, id)
	if err != nil {
		return false, fmt.Errorf("confirm rule: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var embedding []byte
	var lexical, reasons, tags sql.NullString
	var maturity, validity string
	var lastApplied sql.NullInt64
	err := row.Scan(&r.ID, &r.Content, &embedding, &lexical, &r.Scope, &r.Confidence,
		&maturity, &validity, &r.AppliedCount, &r.SuccessCount, &r.HarmfulCount,
		&r.Effectiveness, &r.RefCount, &reasons, &r.CreatedAt, &lastApplied,
		&r.LastReferencedAt, &r.LastConfirmedAt, &tags)
	if err != nil {
		return nil, err
	}
	r.Embedding = decodeEmbedding(embedding)
	r.Lexical = decodeLexical(lexical.String)
	r.Maturity = Maturity(maturity)
	r.Validity = Validity(validity)
	r.HarmfulReasons = decodeTags(reasons.String)
	if lastApplied.Valid {
		r.LastAppliedAt = &lastApplied.Int64
	}
	r.Tags = decodeTags(tags.String)
	return &r, nil
}

func scanRules(rows *sql.Rows) ([]Rule, error) {
	var rules []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}
