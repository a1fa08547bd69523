package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carsonhq/memoryd/internal/engine"
	"github.com/carsonhq/memoryd/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, engine.New(db, nil), "test", 100)
}

// do sends a request with an optional JSON body and decodes the JSON reply
// into out when out is non-nil.
func do(t *testing.T, s *Server, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if out != nil && w.Code < 300 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	var resp map[string]any
	w := do(t, s, "GET", "/api/health", nil, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["status"] != "ok" || resp["db"] != true {
		t.Errorf("health = %+v", resp)
	}
	if resp["embedder"] != "none" {
		t.Errorf("embedder = %v, want none", resp["embedder"])
	}
}

func TestCreateEpisode(t *testing.T) {
	s := newTestServer(t)

	var ep store.Episode
	w := do(t, s, "POST", "/api/episodes", map[string]string{
		"scope": "kitchen", "content": "coffee maker descaled", "source_session": "sess-1",
	}, &ep)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if ep.ID == "" || ep.Scope != "kitchen" || ep.SourceSession != "sess-1" {
		t.Errorf("episode = %+v", ep)
	}

	// the global scope is reserved for facts and rules
	w = do(t, s, "POST", "/api/episodes", map[string]string{"scope": "global", "content": "x"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("global scope status = %d, want 400", w.Code)
	}
}

func TestCreateFactSupersession(t *testing.T) {
	s := newTestServer(t)

	var first store.Fact
	w := do(t, s, "POST", "/api/facts", map[string]string{
		"subject": "user", "predicate": "coffee", "content": "drinks drip", "permanence": "standard",
	}, &first)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var second store.Fact
	do(t, s, "POST", "/api/facts", map[string]string{
		"subject": "user", "predicate": "coffee", "content": "drinks espresso", "permanence": "standard",
	}, &second)
	if second.SupersedesID != first.ID {
		t.Errorf("SupersedesID = %q, want %q", second.SupersedesID, first.ID)
	}

	var got store.Fact
	do(t, s, "GET", "/api/memory/fact/"+first.ID, nil, &got)
	if got.Validity != store.ValiditySuperseded {
		t.Errorf("old fact validity = %q, want superseded", got.Validity)
	}
}

func TestCreateFactBadPermanence(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "POST", "/api/facts", map[string]string{
		"subject": "s", "predicate": "p", "content": "c", "permanence": "eternal",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "error") {
		t.Errorf("body = %s, want error payload", w.Body)
	}
}

func TestGetMemoryNotFound(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/api/memory/fact/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestConfirmAndForget(t *testing.T) {
	s := newTestServer(t)

	var f store.Fact
	do(t, s, "POST", "/api/facts", map[string]string{
		"subject": "s", "predicate": "p", "content": "c", "permanence": "stable",
	}, &f)

	var confirmed store.Fact
	w := do(t, s, "POST", "/api/memory/fact/"+f.ID+"/confirm", nil, &confirmed)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm status = %d", w.Code)
	}
	if confirmed.LastConfirmedAt < f.LastConfirmedAt {
		t.Error("confirm did not advance the confirmation clock")
	}

	w = do(t, s, "DELETE", "/api/memory/fact/"+f.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("forget status = %d", w.Code)
	}
	w = do(t, s, "POST", "/api/memory/fact/"+f.ID+"/confirm", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("confirm after forget status = %d, want 404", w.Code)
	}
}

func TestForgetEpisodeRejected(t *testing.T) {
	s := newTestServer(t)

	var ep store.Episode
	do(t, s, "POST", "/api/episodes", map[string]string{"scope": "den", "content": "x"}, &ep)

	w := do(t, s, "DELETE", "/api/memory/episode/"+ep.ID, nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (episodes expire, they are not forgotten)", w.Code)
	}
}

func TestRuleFeedback(t *testing.T) {
	s := newTestServer(t)

	var r store.Rule
	do(t, s, "POST", "/api/rules", map[string]string{"content": "Dim lights after 10pm"}, &r)
	if r.Maturity != store.MaturityCandidate {
		t.Fatalf("new rule maturity = %q", r.Maturity)
	}

	var after store.Rule
	w := do(t, s, "POST", "/api/rules/"+r.ID+"/helpful", nil, &after)
	if w.Code != http.StatusOK {
		t.Fatalf("helpful status = %d", w.Code)
	}
	if after.SuccessCount != 1 || after.AppliedCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", after.SuccessCount, after.AppliedCount)
	}

	do(t, s, "POST", "/api/rules/"+r.ID+"/harmful", map[string]string{"reason": "woke the baby"}, &after)
	if after.HarmfulCount != 1 || len(after.HarmfulReasons) != 1 {
		t.Errorf("harmful = %d reasons %v", after.HarmfulCount, after.HarmfulReasons)
	}

	w = do(t, s, "POST", "/api/rules/nope/helpful", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown rule status = %d, want 404", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t)

	do(t, s, "POST", "/api/facts", map[string]string{
		"subject": "user", "predicate": "tea", "content": "prefers green tea in the afternoon", "permanence": "stable",
	}, nil)

	w := do(t, s, "GET", "/api/search", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", w.Code)
	}

	var resp struct {
		Count   int           `json:"count"`
		Results []engine.Item `json:"results"`
	}
	w = do(t, s, "GET", "/api/search?q=green+tea&mode=keyword", nil, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if resp.Count != 1 || resp.Results[0].Kind != store.KindFact {
		t.Errorf("resp = %+v", resp)
	}

	w = do(t, s, "GET", "/api/search?q=tea&kinds=widget", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d, want 400", w.Code)
	}
}

func TestRecallEndpoint(t *testing.T) {
	s := newTestServer(t)

	do(t, s, "POST", "/api/facts", map[string]string{
		"subject": "home", "predicate": "wifi", "content": "wifi password rotates monthly", "permanence": "standard",
	}, nil)

	w := do(t, s, "POST", "/api/recall", map[string]string{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing query status = %d, want 400", w.Code)
	}

	var resp struct {
		Count   int           `json:"count"`
		Results []engine.Item `json:"results"`
	}
	w = do(t, s, "POST", "/api/recall", map[string]any{
		"query": "wifi password",
		"weights": map[string]float64{
			"relevance": 0.7, "importance": 0.1, "recency": 0.1, "confidence": 0.1,
		},
	}, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}

	w = do(t, s, "POST", "/api/recall", map[string]any{
		"query":   "wifi",
		"weights": map[string]float64{"relevance": -1},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative weight status = %d, want 400", w.Code)
	}
}

func TestLinkEndpoint(t *testing.T) {
	s := newTestServer(t)

	var f store.Fact
	do(t, s, "POST", "/api/facts", map[string]string{
		"subject": "s", "predicate": "p", "content": "c", "permanence": "standard",
	}, &f)
	var r store.Rule
	do(t, s, "POST", "/api/rules", map[string]string{"content": "rule"}, &r)

	var link store.MemoryLink
	w := do(t, s, "POST", "/api/links", map[string]string{
		"source_type": "rule", "source_id": r.ID,
		"target_type": "fact", "target_id": f.ID,
		"relation": "derived_from",
	}, &link)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if link.CreatedAt == 0 {
		t.Error("CreatedAt not set")
	}

	w = do(t, s, "POST", "/api/links", map[string]string{
		"source_type": "rule", "source_id": r.ID,
		"target_type": "fact", "target_id": f.ID,
		"relation": "sideways",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad relation status = %d, want 400", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t)

	do(t, s, "POST", "/api/facts", map[string]string{
		"subject": "s", "predicate": "p", "content": "c", "permanence": "standard",
	}, nil)

	var stats store.Stats
	w := do(t, s, "GET", "/api/stats", nil, &stats)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if stats.FactsByValidity["active"] != 1 {
		t.Errorf("stats = %+v, want one active fact", stats)
	}
}

func TestJobEndpoints(t *testing.T) {
	s := newTestServer(t)

	var sweep engine.SweepResult
	w := do(t, s, "POST", "/api/jobs/decay", nil, &sweep)
	if w.Code != http.StatusOK {
		t.Errorf("decay status = %d", w.Code)
	}

	var cleanup engine.CleanupResult
	w = do(t, s, "POST", "/api/jobs/cleanup", nil, &cleanup)
	if w.Code != http.StatusOK {
		t.Errorf("cleanup status = %d", w.Code)
	}

	// no LLM configured
	w = do(t, s, "POST", "/api/jobs/consolidation", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("consolidation status = %d, want 400", w.Code)
	}
}

func TestContextEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/api/context", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing params status = %d, want 400", w.Code)
	}

	do(t, s, "POST", "/api/facts", map[string]string{
		"subject": "user", "predicate": "allergy", "content": "Allergic to peanuts", "permanence": "permanent",
	}, nil)
	do(t, s, "POST", "/api/rules", map[string]string{"content": "Check labels for peanuts"}, nil)

	var resp struct {
		Context string `json:"context"`
	}
	w = do(t, s, "GET", "/api/context?q=peanuts", nil, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	for _, want := range []string{"<memory>", "### Facts", "Allergic to peanuts", "### Guidelines", "Check labels"} {
		if !strings.Contains(resp.Context, want) {
			t.Errorf("context missing %q:\n%s", want, resp.Context)
		}
	}
}

func TestContextBudgetCutoff(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 10; i++ {
		do(t, s, "POST", "/api/facts", map[string]string{
			"subject": fmt.Sprintf("topic-%d", i), "predicate": "note",
			"content":    fmt.Sprintf("garden note number %d with plenty of filler text to eat the budget", i),
			"permanence": "standard",
		}, nil)
	}

	var resp struct {
		Context string `json:"context"`
	}
	w := do(t, s, "GET", "/api/context?q=garden+note&budget=40", nil, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	lines := strings.Count(resp.Context, "garden note")
	if lines >= 10 {
		t.Errorf("budget did not trim output, %d lines", lines)
	}
}
