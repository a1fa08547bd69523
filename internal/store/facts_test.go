package store

import (
	"errors"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateFactDefaults(t *testing.T) {
	db := testDB(t)

	f := &Fact{
		Subject:    "user",
		Predicate:  "preferred-coffee",
		Content:    "User takes their coffee black",
		Permanence: PermanenceStandard,
	}
	if err := db.CreateFact(f); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	if f.ID == "" {
		t.Error("expected generated ID")
	}
	if f.Scope != ScopeGlobal {
		t.Errorf("Scope = %q, want global", f.Scope)
	}
	if f.Confidence != DefaultFactConfidence {
		t.Errorf("Confidence = %v, want %v", f.Confidence, DefaultFactConfidence)
	}
	if f.DecayRate != PermanenceStandard.DecayRate() {
		t.Errorf("DecayRate = %v, want %v", f.DecayRate, PermanenceStandard.DecayRate())
	}
	if f.Validity != ValidityActive {
		t.Errorf("Validity = %q, want active", f.Validity)
	}
	if f.LastConfirmedAt != f.CreatedAt {
		t.Error("LastConfirmedAt should start at CreatedAt")
	}
}

func TestCreateFactValidation(t *testing.T) {
	db := testDB(t)

	cases := []Fact{
		{Subject: "s", Predicate: "p", Content: "c", Permanence: "sometimes"},
		{Subject: "", Predicate: "p", Content: "c", Permanence: PermanenceStable},
		{Subject: "s", Predicate: "p", Content: "", Permanence: PermanenceStable},
		{Subject: "s", Predicate: "p", Content: "c", Permanence: PermanenceStable, Confidence: 1.5},
	}
	for i, f := range cases {
		err := db.CreateFact(&f)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestFactSupersession(t *testing.T) {
	db := testDB(t)

	first := &Fact{Subject: "alice", Predicate: "workplace", Content: "Alice works at Initech", Permanence: PermanenceStable}
	if err := db.CreateFact(first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	second := &Fact{Subject: "alice", Predicate: "workplace", Content: "Alice works at Initrode now", Permanence: PermanenceStable}
	if err := db.CreateFact(second); err != nil {
		t.Fatalf("create second: %v", err)
	}

	if second.SupersedesID != first.ID {
		t.Errorf("SupersedesID = %q, want %q", second.SupersedesID, first.ID)
	}

	old, err := db.GetFact(first.ID)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if old.Validity != ValiditySuperseded {
		t.Errorf("old fact validity = %q, want superseded", old.Validity)
	}

	// supersedes edge recorded
	links, err := db.LinksFrom(KindFact, second.ID)
	if err != nil {
		t.Fatalf("LinksFrom: %v", err)
	}
	found := false
	for _, l := range links {
		if l.Relation == RelationSupersedes && l.TargetID == first.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected supersedes link from new fact to old")
	}

	// only one live fact for the key
	live, err := db.LiveFacts("")
	if err != nil {
		t.Fatalf("LiveFacts: %v", err)
	}
	count := 0
	for _, f := range live {
		if f.Subject == "alice" && f.Predicate == "workplace" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("live facts for key = %d, want 1", count)
	}
}

func TestFactSupersessionChain(t *testing.T) {
	db := testDB(t)

	var prev string
	for i, content := range []string{"v1", "v2", "v3"} {
		f := &Fact{Subject: "home", Predicate: "thermostat", Content: content, Permanence: PermanenceVolatile}
		if err := db.CreateFact(f); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if f.SupersedesID != prev {
			t.Errorf("generation %d: SupersedesID = %q, want %q", i, f.SupersedesID, prev)
		}
		prev = f.ID
	}

	var superseded int
	if err := db.QueryRow("SELECT COUNT(*) FROM facts WHERE validity = 'superseded'").Scan(&superseded); err != nil {
		t.Fatal(err)
	}
	if superseded != 2 {
		t.Errorf("superseded count = %d, want 2", superseded)
	}
}

func TestLiveFactsScope(t *testing.T) {
	db := testDB(t)

	global := &Fact{Subject: "house", Predicate: "address", Content: "12 Elm St", Permanence: PermanencePermanent}
	kitchen := &Fact{Subject: "oven", Predicate: "quirk", Content: "Runs 10 degrees hot", Permanence: PermanenceStable, Scope: "kitchen"}
	garage := &Fact{Subject: "car", Predicate: "fuel", Content: "Takes diesel", Permanence: PermanenceStable, Scope: "garage"}
	for _, f := range []*Fact{global, kitchen, garage} {
		if err := db.CreateFact(f); err != nil {
			t.Fatal(err)
		}
	}

	live, err := db.LiveFacts("kitchen")
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Fatalf("LiveFacts(kitchen) = %d facts, want 2 (global + kitchen)", len(live))
	}
	for _, f := range live {
		if f.Scope == "garage" {
			t.Error("garage fact leaked into kitchen scope")
		}
	}
}

func TestConfirmRevivesFadingFact(t *testing.T) {
	db := testDB(t)

	f := &Fact{Subject: "s", Predicate: "p", Content: "c", Permanence: PermanenceStandard}
	if err := db.CreateFact(f); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFactValidity(f.ID, ValidityFading); err != nil {
		t.Fatal(err)
	}

	got, err := db.Confirm(KindFact, f.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got.(*Fact).Validity != ValidityActive {
		t.Errorf("validity after confirm = %q, want active", got.(*Fact).Validity)
	}
}

func TestConfirmSkipsSuperseded(t *testing.T) {
	db := testDB(t)

	f := &Fact{Subject: "s", Predicate: "p", Content: "c", Permanence: PermanenceStandard}
	if err := db.CreateFact(f); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFactValidity(f.ID, ValiditySuperseded); err != nil {
		t.Fatal(err)
	}

	_, err := db.Confirm(KindFact, f.ID)
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Errorf("expected NotFoundError confirming superseded fact, got %v", err)
	}
}

func TestTouchFact(t *testing.T) {
	db := testDB(t)

	f := &Fact{Subject: "s", Predicate: "p", Content: "c", Permanence: PermanenceStandard}
	if err := db.CreateFact(f); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchFact(f.ID); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetFact(f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RefCount != 1 {
		t.Errorf("RefCount = %d, want 1", got.RefCount)
	}
}
