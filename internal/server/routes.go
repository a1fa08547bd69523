package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carsonhq/memoryd/internal/engine"
	"github.com/carsonhq/memoryd/internal/store"
)

func (s *Server) handleCreateEpisode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope         string `json:"scope"`
		Content       string `json:"content"`
		SourceSession string `json:"source_session"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, store.Validationf("invalid json: %v", err))
		return
	}

	ep, err := s.engine.StoreEpisode(r.Context(), req.Scope, req.Content, req.SourceSession)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) handleCreateFact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject         string   `json:"subject"`
		Predicate       string   `json:"predicate"`
		Content         string   `json:"content"`
		Permanence      string   `json:"permanence"`
		Scope           string   `json:"scope"`
		SourceEpisodeID string   `json:"source_episode_id"`
		Tags            []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, store.Validationf("invalid json: %v", err))
		return
	}

	f, err := s.engine.StoreFact(r.Context(), engine.FactInput{
		Subject:         req.Subject,
		Predicate:       req.Predicate,
		Content:         req.Content,
		Permanence:      store.Permanence(req.Permanence),
		Scope:           req.Scope,
		SourceEpisodeID: req.SourceEpisodeID,
		Tags:            req.Tags,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope   string   `json:"scope"`
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, store.Validationf("invalid json: %v", err))
		return
	}

	rule, err := s.engine.StoreRule(r.Context(), req.Scope, req.Content, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, store.Validationf("q parameter required"))
		return
	}

	opts := engine.SearchOpts{
		Scope: r.URL.Query().Get("scope"),
		Mode:  engine.Mode(r.URL.Query().Get("mode")),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if mc := r.URL.Query().Get("min_confidence"); mc != "" {
		f, err := strconv.ParseFloat(mc, 64)
		if err != nil {
			s.writeError(w, store.Validationf("invalid min_confidence %q", mc))
			return
		}
		opts.MinConfidence = f
	}
	if kinds := r.URL.Query().Get("kinds"); kinds != "" {
		for _, k := range strings.Split(kinds, ",") {
			kind := store.EntityKind(strings.TrimSpace(k))
			if !store.ValidKind(kind) {
				s.writeError(w, store.Validationf("unknown kind %q", k))
				return
			}
			opts.Kinds = append(opts.Kinds, kind)
		}
	}

	items, err := s.engine.Search(r.Context(), query, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(items),
		"results": items,
	})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query         string          `json:"query"`
		Scope         string          `json:"scope"`
		Limit         int             `json:"limit"`
		MinConfidence float64         `json:"min_confidence"`
		Weights       *engine.Weights `json:"weights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, store.Validationf("invalid json: %v", err))
		return
	}
	if req.Query == "" {
		s.writeError(w, store.Validationf("query required"))
		return
	}

	opts := engine.RecallOpts{
		Scope:         req.Scope,
		Limit:         req.Limit,
		MinConfidence: req.MinConfidence,
	}
	if req.Weights != nil {
		opts.Weights = *req.Weights
	}

	items, err := s.engine.Recall(r.Context(), req.Query, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"count":   len(items),
		"results": items,
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	kind := store.EntityKind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")

	entity, err := s.db.Get(kind, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entity)
}

func (s *Server) handleConfirmMemory(w http.ResponseWriter, r *http.Request) {
	kind := store.EntityKind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")

	entity, err := s.engine.Confirm(kind, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entity)
}

func (s *Server) handleForgetMemory(w http.ResponseWriter, r *http.Request) {
	kind := store.EntityKind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")

	if err := s.db.Forget(kind, id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "forgotten"})
}

func (s *Server) handleRuleHelpful(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := s.engine.MarkHelpful(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleRuleHarmful(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	rule, err := s.engine.MarkHarmful(r.Context(), id, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceType string `json:"source_type"`
		SourceID   string `json:"source_id"`
		TargetType string `json:"target_type"`
		TargetID   string `json:"target_id"`
		Relation   string `json:"relation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, store.Validationf("invalid json: %v", err))
		return
	}

	link := &store.MemoryLink{
		SourceType: store.EntityKind(req.SourceType),
		SourceID:   req.SourceID,
		TargetType: store.EntityKind(req.TargetType),
		TargetID:   req.TargetID,
		Relation:   store.Relation(req.Relation),
	}
	if err := s.db.CreateLink(link); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, link)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDecayJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunDecaySweep()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCleanupJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunEpisodeCleanup(s.maxEpisodes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConsolidationJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	res, err := s.engine.RunConsolidation(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
