package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/carsonhq/memoryd/internal/store"
)

func TestKeywordSearch(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StoreFact(ctx, FactInput{Subject: "user", Predicate: "coffee", Content: "User drinks espresso every morning", Permanence: store.PermanenceStandard}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.StoreFact(ctx, FactInput{Subject: "vacuum", Predicate: "schedule", Content: "Robot vacuum runs at noon", Permanence: store.PermanenceStandard}); err != nil {
		t.Fatal(err)
	}

	items, err := eng.Search(ctx, "espresso morning", SearchOpts{Mode: ModeKeyword})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("no results")
	}
	if items[0].Kind != store.KindFact || items[0].Fact.Subject != "user" {
		t.Errorf("top result = %+v, want the espresso fact", items[0])
	}
}

func TestSearchModeValidation(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Search(context.Background(), "x", SearchOpts{Mode: "fuzzy"})
	var ve *store.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestSearchKindsFilter(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StoreFact(ctx, FactInput{Subject: "plants", Predicate: "care", Content: "Water the ferns twice weekly", Permanence: store.PermanenceStable}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.StoreRule(ctx, "", "Water the ferns before 9am", nil); err != nil {
		t.Fatal(err)
	}

	items, err := eng.Search(ctx, "water ferns", SearchOpts{Mode: ModeKeyword, Kinds: []store.EntityKind{store.KindRule}})
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if it.Kind != store.KindRule {
			t.Errorf("kind filter leaked %s", it.Kind)
		}
	}
	if len(items) != 1 {
		t.Errorf("got %d results, want 1", len(items))
	}
}

func TestSearchExcludesExpired(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	f, err := eng.StoreFact(ctx, FactInput{Subject: "party", Predicate: "plan", Content: "Birthday party on Saturday", Permanence: store.PermanenceEphemeral})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.DB.SetFactValidity(f.ID, store.ValidityExpired); err != nil {
		t.Fatal(err)
	}

	items, err := eng.Search(ctx, "birthday party", SearchOpts{Mode: ModeKeyword})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("expired fact surfaced: %+v", items)
	}
}

func TestSearchMinConfidence(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	stale, err := eng.StoreFact(ctx, FactInput{Subject: "fridge", Predicate: "milk", Content: "milk expires friday", Permanence: store.PermanenceEphemeral})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.StoreFact(ctx, FactInput{Subject: "user", Predicate: "milk", Content: "milk preference is oat", Permanence: store.PermanenceStable}); err != nil {
		t.Fatal(err)
	}
	backdateFactConfirmation(t, eng, stale.ID, 30)

	items, err := eng.Search(ctx, "milk", SearchOpts{Mode: ModeKeyword, MinConfidence: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Fact.Subject != "user" {
		t.Errorf("items = %+v, want only the fresh fact", items)
	}

	if _, err := eng.Search(ctx, "milk", SearchOpts{MinConfidence: 2}); err == nil {
		t.Error("expected ValidationError for out-of-range floor")
	}
}

func TestHybridFusionPrefersDualRanked(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	emb := &stubEmbedder{vecs: map[string][]float64{
		"green tea": {1, 0, 0},
	}}
	eng.SetEmbedder(emb)

	// b matches the query both semantically and lexically; a only
	// semantically (its words share nothing with the query).
	a, err := eng.StoreFact(ctx, FactInput{Subject: "a", Predicate: "p", Content: "completely unrelated wording", Permanence: store.PermanenceStandard})
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.StoreFact(ctx, FactInput{Subject: "b", Predicate: "p", Content: "green tea ritual each evening", Permanence: store.PermanenceStandard})
	if err != nil {
		t.Fatal(err)
	}
	emb.vecs["completely unrelated wording"] = []float64{0.95, 0.1, 0}
	emb.vecs["green tea ritual each evening"] = []float64{0.9, 0.2, 0}
	setFactEmbedding(t, eng, a.ID, []float64{0.95, 0.1, 0})
	setFactEmbedding(t, eng, b.ID, []float64{0.9, 0.2, 0})

	items, err := eng.Search(ctx, "green tea", SearchOpts{Mode: ModeHybrid})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d results, want 2", len(items))
	}
	if items[0].ID != b.ID {
		t.Errorf("top result = %s, want the dual-ranked fact %s", items[0].ID, b.ID)
	}

	// rank 1 in semantic + rank 0 in keyword
	wantTop := 1.0/62 + 1.0/61
	if math.Abs(items[0].Score-wantTop) > 1e-9 {
		t.Errorf("fused score = %v, want %v", items[0].Score, wantTop)
	}
}

func TestHybridDegradesToKeywordWithoutEmbedder(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.StoreFact(ctx, FactInput{Subject: "s", Predicate: "p", Content: "feed the goldfish at noon", Permanence: store.PermanenceStandard}); err != nil {
		t.Fatal(err)
	}

	items, err := eng.Search(ctx, "goldfish", SearchOpts{})
	if err != nil {
		t.Fatalf("hybrid without embedder should fall back, got %v", err)
	}
	if len(items) != 1 {
		t.Errorf("got %d results, want 1", len(items))
	}
}

// setFactEmbedding writes an embedding directly; the stub embedder only
// covers texts it knows, and facts created before the map entry landed hold
// zero vectors.
func setFactEmbedding(t *testing.T, eng *Engine, id string, vec []float64) {
	t.Helper()
	f, err := eng.DB.GetFact(id)
	if err != nil {
		t.Fatal(err)
	}
	f.Embedding = vec
	// reuse the outcome writer's column set via raw SQL to avoid a
	// dedicated test-only store method
	buf := make([]byte, 0)
	for _, v := range vec {
		b := math.Float64bits(v)
		buf = append(buf,
			byte(b), byte(b>>8), byte(b>>16), byte(b>>24),
			byte(b>>32), byte(b>>40), byte(b>>48), byte(b>>56))
	}
	if _, err := eng.DB.Exec("UPDATE facts SET embedding = ? WHERE id = ?", buf, id); err != nil {
		t.Fatal(err)
	}
}
