package store

import "fmt"

// Stats summarizes the store: counts by type, lifecycle state, and scope.
type Stats struct {
	Episodes               int            `json:"episodes"`
	UnconsolidatedEpisodes int            `json:"unconsolidated_episodes"`
	FactsByValidity        map[string]int `json:"facts_by_validity"`
	RulesByMaturity        map[string]int `json:"rules_by_maturity"`
	Links                  int            `json:"links"`
	ByScope                map[string]int `json:"by_scope"`
}

// Stats gathers store-wide counts in one pass per table.
func (db *DB) Stats() (*Stats, error) {
	s := &Stats{
		FactsByValidity: make(map[string]int),
		RulesByMaturity: make(map[string]int),
		ByScope:         make(map[string]int),
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM episodes").Scan(&s.Episodes); err != nil {
		return nil, fmt.Errorf("stats episodes: %w", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM episodes WHERE consolidated = 0").Scan(&s.UnconsolidatedEpisodes); err != nil {
		return nil, fmt.Errorf("stats unconsolidated: %w", err)
	}

	rows, err := db.Query("SELECT validity, COUNT(*) FROM facts GROUP BY validity")
	if err != nil {
		return nil, fmt.Errorf("stats facts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		var n int
		if err := rows.Scan(&v, &n); err != nil {
			return nil, fmt.Errorf("scan fact stats: %w", err)
		}
		s.FactsByValidity[v] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rrows, err := db.Query("SELECT maturity, COUNT(*) FROM rules GROUP BY maturity")
	if err != nil {
		return nil, fmt.Errorf("stats rules: %w", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var m string
		var n int
		if err := rrows.Scan(&m, &n); err != nil {
			return nil, fmt.Errorf("scan rule stats: %w", err)
		}
		s.RulesByMaturity[m] = n
	}
	if err := rrows.Err(); err != nil {
		return nil, err
	}

	links, err := db.CountLinks()
	if err != nil {
		return nil, fmt.Errorf("stats links: %w", err)
	}
	s.Links = links

	srows, err := db.Query(`
		SELECT scope, COUNT(*) FROM (
			SELECT scope FROM episodes
			UNION ALL SELECT scope FROM facts
			UNION ALL SELECT scope FROM rules
		) GROUP BY scope
	`)
	if err != nil {
		return nil, fmt.Errorf("stats scopes: %w", err)
	}
	defer srows.Close()
	for srows.Next() {
		var scope string
		var n int
		if err := srows.Scan(&scope, &n); err != nil {
			return nil, fmt.Errorf("scan scope stats: %w", err)
		}
		s.ByScope[scope] = n
	}
	return s, srows.Err()
}

// ContentCorpus returns the content text of every stored entity. The TF-IDF
// fallback embedder builds its vocabulary from this.
func (db *DB) ContentCorpus() ([]string, error) {
	rows, err := db.Query(`
		SELECT content FROM episodes
		UNION ALL SELECT content FROM facts
		UNION ALL SELECT content FROM rules
	`)
	if err != nil {
		return nil, fmt.Errorf("content corpus: %w", err)
	}
	defer rows.Close()

	var corpus []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan corpus: %w", err)
		}
		corpus = append(corpus, c)
	}
	return corpus, rows.Err()
}
