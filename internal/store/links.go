package store

import (
	"fmt"
	"time"
)

// CreateLink records a provenance edge. Creating the same edge twice is a
// no-op: links have no lifecycle beyond existing.
func (db *DB) CreateLink(l *MemoryLink) error {
	if !ValidKind(l.SourceType) || !ValidKind(l.TargetType) {
		return Validationf("link endpoints must be episode|fact|rule, got %q -> %q", l.SourceType, l.TargetType)
	}
	if !ValidRelation(l.Relation) {
		return Validationf("unknown link relation %q", l.Relation)
	}
	if l.SourceID == "" || l.TargetID == "" {
		return Validationf("link endpoint ids must not be empty")
	}
	return insertLink(db, l)
}

func insertLink(q execer, l *MemoryLink) error {
	if l.CreatedAt == 0 {
		l.CreatedAt = time.Now().UnixMilli()
	}
	_, err := q.Exec(`
		INSERT OR IGNORE INTO memory_links (source_type, source_id, target_type, target_id, relation, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(l.SourceType), l.SourceID, string(l.TargetType), l.TargetID, string(l.Relation), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// LinksFrom returns all edges originating at the given entity.
func (db *DB) LinksFrom(kind EntityKind, id string) ([]MemoryLink, error) {
	rows, err := db.Query(`
		SELECT source_type, source_id, target_type, target_id, relation, created_at
		FROM memory_links WHERE source_type = ? AND source_id = ?
		ORDER BY created_at
	`, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("links from: %w", err)
	}
	defer rows.Close()

	var links []MemoryLink
	for rows.Next() {
		var l MemoryLink
		var st, tt, rel string
		if err := rows.Scan(&st, &l.SourceID, &tt, &l.TargetID, &rel, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.SourceType = EntityKind(st)
		l.TargetType = EntityKind(tt)
		l.Relation = Relation(rel)
		links = append(links, l)
	}
	return links, rows.Err()
}

// CountLinks returns the total number of stored edges.
func (db *DB) CountLinks() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM memory_links").Scan(&count)
	return count, err
}
