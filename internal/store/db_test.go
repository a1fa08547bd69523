package store

import (
	"testing"
)

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 4 {
		t.Errorf("SchemaVersion = %d, want 4", v)
	}
}

func TestTablesExist(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	tables := []string{"schema_versions", "episodes", "facts", "rules", "memory_links"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestFactConstraints(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// permanence CHECK rejects junk even on direct insert
	_, err = db.Exec(`
		INSERT INTO facts (id, subject, predicate, content, confidence, permanence, created_at, last_referenced_at, last_confirmed_at)
		VALUES ('x', 's', 'p', 'c', 0.5, 'bogus', 0, 0, 0)
	`)
	if err == nil {
		t.Error("expected CHECK violation for bogus permanence")
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := []float64{0.25, -1.5, 3.14159, 0}
	got := decodeEmbedding(encodeEmbedding(vec))
	if len(got) != len(vec) {
		t.Fatalf("decoded length %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("element %d = %v, want %v", i, got[i], vec[i])
		}
	}
	if decodeEmbedding(nil) != nil {
		t.Error("decode of nil should be nil")
	}
}
