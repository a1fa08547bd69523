package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Get returns an entity by kind and id. For facts and rules it bumps
// ref_count and last_referenced_at as a side effect; the returned copy
// reflects the bump.
func (db *DB) Get(kind EntityKind, id string) (any, error) {
	switch kind {
	case KindEpisode:
		return db.GetEpisode(id)
	case KindFact:
		f, err := db.GetFact(id)
		if err != nil {
			return nil, err
		}
		if err := db.TouchFact(id); err == nil {
			f.RefCount++
			f.LastReferencedAt = time.Now().UnixMilli()
		}
		return f, nil
	case KindRule:
		r, err := db.GetRule(id)
		if err != nil {
			return nil, err
		}
		if err := db.TouchRule(id); err == nil {
			r.RefCount++
			r.LastReferencedAt = time.Now().UnixMilli()
		}
		return r, nil
	default:
		return nil, &NotFoundError{Kind: kind}
	}
}

// Exists reports whether an entity with the given kind and id is stored.
func (db *DB) Exists(kind EntityKind, id string) (bool, error) {
	var table string
	switch kind {
	case KindEpisode:
		table = "episodes"
	case KindFact:
		table = "facts"
	case KindRule:
		table = "rules"
	default:
		return false, &NotFoundError{Kind: kind}
	}
	var one int
	err := db.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", table), id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", kind, err)
	}
	return true, nil
}

// Forget terminally retires a fact or rule. Episodes cannot be forgotten:
// they expire through the cleanup sweep. Forgetting a rule is distinct from
// anti-pattern inversion: the rule simply stops existing for retrieval.
func (db *DB) Forget(kind EntityKind, id string) error {
	switch kind {
	case KindEpisode:
		return Validationf("episodes cannot be forgotten; they expire via cleanup")
	case KindFact:
		if _, err := db.GetFact(id); err != nil {
			return err
		}
		return db.SetFactValidity(id, ValidityForgotten)
	case KindRule:
		if _, err := db.GetRule(id); err != nil {
			return err
		}
		return db.SetRuleValidity(id, ValidityForgotten)
	default:
		return &NotFoundError{Kind: kind}
	}
}

// Confirm resets the decay clock on a fact or rule by moving
// last_confirmed_at to now. Stored confidence is untouched. Episodes are
// rejected: they carry no confidence to confirm.
func (db *DB) Confirm(kind EntityKind, id string) (any, error) {
	now := time.Now().UnixMilli()
	switch kind {
	case KindEpisode:
		return nil, Validationf("episodes cannot be confirmed")
	case KindFact:
		ok, err := confirmFact(db, id, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &NotFoundError{Kind: KindFact, ID: id}
		}
		return db.GetFact(id)
	case KindRule:
		ok, err := confirmRule(db, id, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &NotFoundError{Kind: KindRule, ID: id}
		}
		return db.GetRule(id)
	default:
		return nil, &NotFoundError{Kind: kind}
	}
}
