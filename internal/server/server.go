package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/carsonhq/memoryd/internal/engine"
	"github.com/carsonhq/memoryd/internal/store"
)

// Server is the memoryd HTTP API server.
type Server struct {
	db          *store.DB
	engine      *engine.Engine
	router      chi.Router
	version     string
	started     time.Time
	maxEpisodes int
}

// New creates a new Server. maxEpisodes bounds the episode table during
// cleanup runs; zero disables the cap.
func New(db *store.DB, eng *engine.Engine, version string, maxEpisodes int) *Server {
	s := &Server{
		db:          db,
		engine:      eng,
		version:     version,
		started:     time.Now(),
		maxEpisodes: maxEpisodes,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/episodes", s.handleCreateEpisode)
		r.Post("/facts", s.handleCreateFact)
		r.Post("/rules", s.handleCreateRule)

		r.Get("/search", s.handleSearch)
		r.Post("/recall", s.handleRecall)
		r.Get("/context", s.handleGetContext)

		r.Get("/memory/{kind}/{id}", s.handleGetMemory)
		r.Post("/memory/{kind}/{id}/confirm", s.handleConfirmMemory)
		r.Delete("/memory/{kind}/{id}", s.handleForgetMemory)

		r.Post("/rules/{id}/helpful", s.handleRuleHelpful)
		r.Post("/rules/{id}/harmful", s.handleRuleHarmful)

		r.Post("/links", s.handleCreateLink)
		r.Get("/stats", s.handleStats)

		r.Post("/jobs/decay", s.handleDecayJob)
		r.Post("/jobs/cleanup", s.handleCleanupJob)
		r.Post("/jobs/consolidation", s.handleConsolidationJob)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	embedder := "none"
	if s.engine != nil && s.engine.Embedder != nil {
		embedder = s.engine.Embedder.Model()
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"db":       dbOK,
		"db_path":  s.db.Path,
		"embedder": embedder,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes: bad input 400,
// unknown ids 404, lost write races 409, collaborator failures 502.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var ve *store.ValidationError
	var nfe *store.NotFoundError
	var ce *store.ConflictError
	var colle *engine.CollaboratorError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.As(err, &nfe):
		status = http.StatusNotFound
	case errors.As(err, &ce):
		status = http.StatusConflict
	case errors.As(err, &colle):
		status = http.StatusBadGateway
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
