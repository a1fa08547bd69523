package store

import (
	"errors"
	"testing"
)

func TestCreateLink(t *testing.T) {
	db := testDB(t)

	ep := &Episode{Scope: "kitchen", Content: "saw the user water the basil"}
	if err := db.CreateEpisode(ep); err != nil {
		t.Fatal(err)
	}
	f := &Fact{Subject: "basil", Predicate: "care", Content: "Basil gets watered daily", Permanence: PermanenceStable}
	if err := db.CreateFact(f); err != nil {
		t.Fatal(err)
	}

	l := &MemoryLink{
		SourceType: KindFact, SourceID: f.ID,
		TargetType: KindEpisode, TargetID: ep.ID,
		Relation: RelationDerivedFrom,
	}
	if err := db.CreateLink(l); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if l.CreatedAt == 0 {
		t.Error("CreatedAt not set")
	}

	links, err := db.LinksFrom(KindFact, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
	if links[0].Relation != RelationDerivedFrom || links[0].TargetID != ep.ID {
		t.Errorf("link = %+v", links[0])
	}
}

func TestCreateLinkDuplicateIsNoop(t *testing.T) {
	db := testDB(t)

	l := &MemoryLink{
		SourceType: KindFact, SourceID: "f1",
		TargetType: KindFact, TargetID: "f2",
		Relation: RelationSupports,
	}
	if err := db.CreateLink(l); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateLink(l); err != nil {
		t.Fatalf("duplicate link should be a no-op, got %v", err)
	}

	n, err := db.CountLinks()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountLinks = %d, want 1", n)
	}
}

func TestCreateLinkValidation(t *testing.T) {
	db := testDB(t)

	var ve *ValidationError
	cases := []*MemoryLink{
		{SourceType: "node", SourceID: "a", TargetType: KindFact, TargetID: "b", Relation: RelationSupports},
		{SourceType: KindFact, SourceID: "a", TargetType: KindFact, TargetID: "b", Relation: "mentions"},
		{SourceType: KindFact, SourceID: "", TargetType: KindFact, TargetID: "b", Relation: RelationSupports},
	}
	for i, l := range cases {
		if err := db.CreateLink(l); !errors.As(err, &ve) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestForgetAndConfirmEpisodeRejected(t *testing.T) {
	db := testDB(t)

	ep := &Episode{Scope: "kitchen", Content: "x"}
	if err := db.CreateEpisode(ep); err != nil {
		t.Fatal(err)
	}

	var ve *ValidationError
	if err := db.Forget(KindEpisode, ep.ID); !errors.As(err, &ve) {
		t.Errorf("Forget episode: expected ValidationError, got %v", err)
	}
	if _, err := db.Confirm(KindEpisode, ep.ID); !errors.As(err, &ve) {
		t.Errorf("Confirm episode: expected ValidationError, got %v", err)
	}
}

func TestGetBumpsRefCount(t *testing.T) {
	db := testDB(t)

	f := &Fact{Subject: "s", Predicate: "p", Content: "c", Permanence: PermanenceStandard}
	if err := db.CreateFact(f); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get(KindFact, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.(*Fact).RefCount != 1 {
		t.Errorf("RefCount = %d, want 1", got.(*Fact).RefCount)
	}

	var nfe *NotFoundError
	if _, err := db.Get(KindFact, "nope"); !errors.As(err, &nfe) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
	if _, err := db.Get("widget", "x"); !errors.As(err, &nfe) {
		t.Errorf("expected NotFoundError for unknown kind, got %v", err)
	}
}
