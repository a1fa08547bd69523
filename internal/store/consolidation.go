package store

import (
	"fmt"
	"time"
)

// ConfirmRef names a fact or rule whose decay clock a consolidation batch
// resets.
type ConfirmRef struct {
	Kind EntityKind
	ID   string
}

// ConsolidationBatch is the validated output of one proposal round for one
// scope. ApplyConsolidation commits it atomically: either every action lands
// and the episodes are marked consolidated, or nothing changes.
type ConsolidationBatch struct {
	EpisodeIDs []string
	NewFacts   []*Fact
	NewRules   []*Rule
	Confirms   []ConfirmRef
	Links      []MemoryLink
}

// Empty reports whether the batch carries no knowledge mutations at all.
func (b *ConsolidationBatch) Empty() bool {
	return len(b.NewFacts) == 0 && len(b.NewRules) == 0 && len(b.Confirms) == 0 && len(b.Links) == 0
}

// ApplyConsolidation applies a validated batch in a single transaction.
// Fact supersession runs through the same path as direct writes, so the
// live-key invariant holds inside batches too.
func (db *DB) ApplyConsolidation(b *ConsolidationBatch) error {
	for _, f := range b.NewFacts {
		if err := prepareFact(f); err != nil {
			return err
		}
	}
	for _, r := range b.NewRules {
		if err := prepareRule(r); err != nil {
			return err
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin consolidation tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()

	for _, f := range b.NewFacts {
		if err := insertFact(tx, f); err != nil {
			return fmt.Errorf("apply new fact: %w", err)
		}
	}
	for _, r := range b.NewRules {
		if err := insertRule(tx, r); err != nil {
			return fmt.Errorf("apply new rule: %w", err)
		}
	}
	for _, c := range b.Confirms {
		switch c.Kind {
		case KindFact:
			if _, err := confirmFact(tx, c.ID, now); err != nil {
				return fmt.Errorf("apply confirm: %w", err)
			}
		case KindRule:
			if _, err := confirmRule(tx, c.ID, now); err != nil {
				return fmt.Errorf("apply confirm: %w", err)
			}
		}
	}
	for i := range b.Links {
		if err := insertLink(tx, &b.Links[i]); err != nil {
			return fmt.Errorf("apply link: %w", err)
		}
	}

	if err := markEpisodesConsolidated(tx, b.EpisodeIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consolidation: %w", err)
	}
	return nil
}
