package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const factColumns = `id, subject, predicate, content, embedding, lexical, scope, confidence,
	permanence, decay_rate, validity, ref_count, created_at, last_referenced_at,
	last_confirmed_at, supersedes_id, source_episode_id, tags`

// DefaultFactConfidence is assigned when a caller stores a fact without an
// explicit confidence.
const DefaultFactConfidence = 0.7

// CreateFact stores a new fact, superseding any live fact sharing the same
// (subject, predicate, scope) key within the same transaction. If a
// concurrent writer wins the race on the uniqueness constraint, the write is
// retried once before surfacing ConflictError.
func (db *DB) CreateFact(f *Fact) error {
	if err := prepareFact(f); err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin fact tx: %w", err)
		}
		err = insertFact(tx, f)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit fact: %w", err)
			}
			return nil
		}
		tx.Rollback()
		if !isUniqueViolation(err) {
			return err
		}
	}
	return &ConflictError{Subject: f.Subject, Predicate: f.Predicate, Scope: f.Scope}
}

// prepareFact validates and fills defaults on a fact before insertion.
func prepareFact(f *Fact) error {
	if !f.Permanence.Valid() {
		return Validationf("unknown permanence %q (want permanent|stable|standard|volatile|ephemeral)", f.Permanence)
	}
	if f.Subject == "" || f.Predicate == "" {
		return Validationf("fact subject and predicate must not be empty")
	}
	if f.Content == "" {
		return Validationf("fact content must not be empty")
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return Validationf("fact confidence %f out of range [0,1]", f.Confidence)
	}

	f.DecayRate = f.Permanence.DecayRate()
	if f.ID == "" {
		f.ID = NewID()
	}
	if f.Scope == "" {
		f.Scope = ScopeGlobal
	}
	if f.Confidence == 0 {
		f.Confidence = DefaultFactConfidence
	}
	now := time.Now().UnixMilli()
	if f.CreatedAt == 0 {
		f.CreatedAt = now
	}
	f.LastReferencedAt = f.CreatedAt
	f.LastConfirmedAt = f.CreatedAt
	f.Validity = ValidityActive
	return nil
}

// insertFact performs the supersession lookup and insert against q, which is
// either the DB or a consolidation batch transaction. No reader ever
// observes two live facts for one key: the prior row is marked superseded
// before the new row lands, inside the same transaction.
func insertFact(q execer, f *Fact) error {
	f.SupersedesID = ""
	var priorID string
	err := q.QueryRow(`
		SELECT id FROM facts
		WHERE subject = ? AND predicate = ? AND scope = ? AND validity IN ('active', 'fading')
	`, f.Subject, f.Predicate, f.Scope).Scan(&priorID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("lookup prior fact: %w", err)
	}

	if priorID != "" {
		if _, err := q.Exec(`UPDATE facts SET validity = 'superseded' WHERE id = ?`, priorID); err != nil {
			return fmt.Errorf("supersede fact %s: %w", priorID, err)
		}
		f.SupersedesID = priorID
	}

	var supersedes any
	if f.SupersedesID != "" {
		supersedes = f.SupersedesID
	}
	var sourceEpisode any
	if f.SourceEpisodeID != "" {
		sourceEpisode = f.SourceEpisodeID
	}

	_, err = q.Exec(`
		INSERT INTO facts (id, subject, predicate, content, embedding, lexical, scope, confidence,
			permanence, decay_rate, validity, ref_count, created_at, last_referenced_at,
			last_confirmed_at, supersedes_id, source_episode_id, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', 0, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Subject, f.Predicate, f.Content, encodeEmbedding(f.Embedding), encodeJSON(f.Lexical),
		f.Scope, f.Confidence, string(f.Permanence), f.DecayRate,
		f.CreatedAt, f.LastReferencedAt, f.LastConfirmedAt, supersedes, sourceEpisode, encodeJSON(f.Tags))
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}

	if priorID != "" {
		if err := insertLink(q, &MemoryLink{
			SourceType: KindFact, SourceID: f.ID,
			TargetType: KindFact, TargetID: priorID,
			Relation: RelationSupersedes,
		}); err != nil {
			return err
		}
	}
	return nil
}

// isUniqueViolation detects the partial-index constraint conflict raised
// when two writers insert the same live key concurrently.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetFact returns a fact by id, or NotFoundError.
func (db *DB) GetFact(id string) (*Fact, error) {
	row := db.QueryRow(`SELECT `+factColumns+` FROM facts WHERE id = ?`, id)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: KindFact, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get fact: %w", err)
	}
	return f, nil
}

// LiveFacts returns active and fading facts visible in the given scope:
// global facts plus those scoped exactly to scope.
func (db *DB) LiveFacts(scope string) ([]Fact, error) {
	rows, err := db.Query(`
		SELECT `+factColumns+` FROM facts
		WHERE validity IN ('active', 'fading') AND (scope = ? OR scope = ?)
		ORDER BY last_referenced_at DESC
	`, ScopeGlobal, scope)
	if err != nil {
		return nil, fmt.Errorf("live facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// SweepableFacts returns all facts the decay sweep may act on.
func (db *DB) SweepableFacts() ([]Fact, error) {
	rows, err := db.Query(`
		SELECT ` + factColumns + ` FROM facts
		WHERE validity IN ('active', 'fading')
	`)
	if err != nil {
		return nil, fmt.Errorf("sweepable facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// SetFactValidity moves a fact to a new validity state.
func (db *DB) SetFactValidity(id string, v Validity) error {
	_, err := db.Exec(`UPDATE facts SET validity = ? WHERE id = ?`, string(v), id)
	if err != nil {
		return fmt.Errorf("set fact validity: %w", err)
	}
	return nil
}

// TouchFact bumps ref_count and last_referenced_at. Best-effort: callers on
// the read path ignore the error.
func (db *DB) TouchFact(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE facts SET ref_count = ref_count + 1, last_referenced_at = ? WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch fact: %w", err)
	}
	return nil
}

// confirmFact resets the decay clock. A fading fact returns to active; the
// sweep itself only ever moves forward.
func confirmFact(q execer, id string, now int64) (bool, error) {
	result, err := q.Exec(`
		UPDATE facts SET last_confirmed_at = ?,
			validity = CASE WHEN validity = 'fading' THEN 'active' ELSE validity END
		WHERE id = ? AND validity NOT IN ('superseded', 'forgotten')
	`, now, id)
	if err != nil {
		return false, fmt.Errorf("confirm fact: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func scanFact(row rowScanner) (*Fact, error) {
	var f Fact
	var embedding []byte
	var lexical, supersedes, sourceEpisode, tags sql.NullString
	var permanence, validity string
	err := row.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Content, &embedding, &lexical,
		&f.Scope, &f.Confidence, &permanence, &f.DecayRate, &validity, &f.RefCount,
		&f.CreatedAt, &f.LastReferencedAt, &f.LastConfirmedAt, &supersedes, &sourceEpisode, &tags)
	if err != nil {
		return nil, err
	}
	f.Embedding = decodeEmbedding(embedding)
	f.Lexical = decodeLexical(lexical.String)
	f.Permanence = Permanence(permanence)
	f.Validity = Validity(validity)
	f.SupersedesID = supersedes.String
	f.SourceEpisodeID = sourceEpisode.String
	f.Tags = decodeTags(tags.String)
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, *f)
	}
	return facts, rows.Err()
}
