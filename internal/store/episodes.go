package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DefaultEpisodeTTL is how long an episode lives before the cleanup sweep
// may delete it (once consolidated).
const DefaultEpisodeTTL = 7 * 24 * time.Hour

const episodeColumns = `id, scope, content, embedding, lexical, source_session, created_at, expires_at, consolidated`

// CreateEpisode inserts a new episode. A zero ExpiresAt gets the default TTL
// from CreatedAt. Episodes are never global: an empty scope is rejected.
func (db *DB) CreateEpisode(ep *Episode) error {
	if ep.Scope == "" || ep.Scope == ScopeGlobal {
		return Validationf("episode scope must be a named sub-scope, got %q", ep.Scope)
	}
	if ep.Content == "" {
		return Validationf("episode content must not be empty")
	}

	now := time.Now().UnixMilli()
	if ep.ID == "" {
		ep.ID = NewID()
	}
	if ep.CreatedAt == 0 {
		ep.CreatedAt = now
	}
	if ep.ExpiresAt == 0 {
		ep.ExpiresAt = ep.CreatedAt + DefaultEpisodeTTL.Milliseconds()
	}

	_, err := db.Exec(`
		INSERT INTO episodes (id, scope, content, embedding, lexical, source_session, created_at, expires_at, consolidated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, ep.ID, ep.Scope, ep.Content, encodeEmbedding(ep.Embedding), encodeJSON(ep.Lexical),
		ep.SourceSession, ep.CreatedAt, ep.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create episode: %w", err)
	}
	return nil
}

// GetEpisode returns an episode by id, or NotFoundError.
func (db *DB) GetEpisode(id string) (*Episode, error) {
	row := db.QueryRow(`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: KindEpisode, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return ep, nil
}

// UnconsolidatedEpisodes returns every episode not yet consolidated,
// oldest first.
func (db *DB) UnconsolidatedEpisodes() ([]Episode, error) {
	rows, err := db.Query(`
		SELECT ` + episodeColumns + ` FROM episodes
		WHERE consolidated = 0 ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("unconsolidated episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// EpisodesInScope returns all episodes whose scope exactly matches.
func (db *DB) EpisodesInScope(scope string) ([]Episode, error) {
	rows, err := db.Query(`
		SELECT `+episodeColumns+` FROM episodes
		WHERE scope = ? ORDER BY created_at DESC
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("episodes in scope: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// DeleteExpiredEpisodes removes episodes past their expiry. Unconsolidated
// rows are protected until they age past the hard cap.
func (db *DB) DeleteExpiredEpisodes(now time.Time, hardCap time.Duration) (int, error) {
	nowMs := now.UnixMilli()
	result, err := db.Exec(`
		DELETE FROM episodes
		WHERE expires_at < ? AND (consolidated = 1 OR created_at < ?)
	`, nowMs, nowMs-hardCap.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("delete expired episodes: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// CountEpisodes returns the total number of stored episodes.
func (db *DB) CountEpisodes() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM episodes").Scan(&count)
	return count, err
}

// DeleteOldestConsolidated removes up to n consolidated episodes, oldest
// first. Used by cap enforcement; unconsolidated rows are never touched.
func (db *DB) DeleteOldestConsolidated(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	result, err := db.Exec(`
		DELETE FROM episodes WHERE id IN (
			SELECT id FROM episodes WHERE consolidated = 1
			ORDER BY created_at ASC LIMIT ?
		)
	`, n)
	if err != nil {
		return 0, fmt.Errorf("delete oldest consolidated: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return int(deleted), nil
}

func markEpisodesConsolidated(q execer, ids []string) error {
	for _, id := range ids {
		if _, err := q.Exec("UPDATE episodes SET consolidated = 1 WHERE id = ?", id); err != nil {
			return fmt.Errorf("mark episode %s consolidated: %w", id, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var ep Episode
	var embedding []byte
	var lexical, sourceSession sql.NullString
	var consolidated int
	err := row.Scan(&ep.ID, &ep.Scope, &ep.Content, &embedding, &lexical,
		&sourceSession, &ep.CreatedAt, &ep.ExpiresAt, &consolidated)
	if err != nil {
		return nil, err
	}
	ep.Embedding = decodeEmbedding(embedding)
	ep.Lexical = decodeLexical(lexical.String)
	ep.SourceSession = sourceSession.String
	ep.Consolidated = consolidated != 0
	return &ep, nil
}

func scanEpisodes(rows *sql.Rows) ([]Episode, error) {
	var eps []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		eps = append(eps, *ep)
	}
	return eps, rows.Err()
}
