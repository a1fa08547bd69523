package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/carsonhq/memoryd/internal/llm"
	"github.com/carsonhq/memoryd/internal/store"
)

// Engine ties the storage layer to the external collaborators (embedding
// model, proposal LLM) and hosts the decay, retrieval, maturity, and
// consolidation logic. It owns no timers: sweeps and consolidation run only
// when an external scheduler calls them.
type Engine struct {
	DB       *store.DB
	LLM      llm.Client
	Embedder Embedder

	// EpisodeTTL overrides the default episode lifetime when positive.
	EpisodeTTL time.Duration
}

// New creates a new Engine.
func New(db *store.DB, client llm.Client) *Engine {
	return &Engine{DB: db, LLM: client}
}

// SetEmbedder configures the embedding provider.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.Embedder = emb
}

// CollaboratorError wraps a failure of an external collaborator (embedding
// model or proposal LLM). Search and recall surface it; consolidation
// abandons the batch and retries next run.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s collaborator: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// embed derives content signals: the embedding vector (when an embedder is
// configured) and the lexical index. Recomputed whenever content changes.
func (e *Engine) embed(ctx context.Context, text string) ([]float64, map[string]float64, error) {
	lexical := LexicalIndex(text)
	if e.Embedder == nil {
		return nil, lexical, nil
	}
	vec, err := e.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, nil, &CollaboratorError{Op: "embed", Err: err}
	}
	return vec, lexical, nil
}

// StoreEpisode ingests a raw observation into the given scope.
func (e *Engine) StoreEpisode(ctx context.Context, scope, content, sourceSession string) (*store.Episode, error) {
	vec, lexical, err := e.embed(ctx, content)
	if err != nil {
		return nil, err
	}
	ep := &store.Episode{
		Scope:         scope,
		Content:       content,
		Embedding:     vec,
		Lexical:       lexical,
		SourceSession: sourceSession,
	}
	if e.EpisodeTTL > 0 {
		ep.ExpiresAt = time.Now().Add(e.EpisodeTTL).UnixMilli()
	}
	if err := e.DB.CreateEpisode(ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// FactInput carries the caller-supplied attributes of a new fact.
type FactInput struct {
	Subject         string
	Predicate       string
	Content         string
	Permanence      store.Permanence
	Scope           string
	SourceEpisodeID string
	Tags            []string
}

// StoreFact distills a fact into the store, superseding any live fact with
// the same (subject, predicate, scope) key.
func (e *Engine) StoreFact(ctx context.Context, in FactInput) (*store.Fact, error) {
	if !in.Permanence.Valid() {
		return nil, store.Validationf("unknown permanence %q (want permanent|stable|standard|volatile|ephemeral)", in.Permanence)
	}
	vec, lexical, err := e.embed(ctx, in.Content)
	if err != nil {
		return nil, err
	}
	f := &store.Fact{
		Subject:         in.Subject,
		Predicate:       in.Predicate,
		Content:         in.Content,
		Permanence:      in.Permanence,
		Scope:           in.Scope,
		SourceEpisodeID: in.SourceEpisodeID,
		Tags:            in.Tags,
		Embedding:       vec,
		Lexical:         lexical,
	}
	if err := e.DB.CreateFact(f); err != nil {
		return nil, err
	}
	if f.SourceEpisodeID != "" {
		e.DB.CreateLink(&store.MemoryLink{
			SourceType: store.KindFact, SourceID: f.ID,
			TargetType: store.KindEpisode, TargetID: f.SourceEpisodeID,
			Relation: store.RelationDerivedFrom,
		})
	}
	return f, nil
}

// StoreRule records a new behavioral rule. Every rule starts as a candidate.
func (e *Engine) StoreRule(ctx context.Context, scope, content string, tags []string) (*store.Rule, error) {
	vec, lexical, err := e.embed(ctx, content)
	if err != nil {
		return nil, err
	}
	r := &store.Rule{
		Content:   content,
		Scope:     scope,
		Tags:      tags,
		Embedding: vec,
		Lexical:   lexical,
	}
	if err := e.DB.CreateRule(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Confirm resets the decay clock on a fact or rule.
func (e *Engine) Confirm(kind store.EntityKind, id string) (any, error) {
	return e.DB.Confirm(kind, id)
}

// ageDays converts an elapsed millisecond span to fractional days.
func ageDays(from, to int64) float64 {
	if to <= from {
		return 0
	}
	return float64(to-from) / float64(24*time.Hour.Milliseconds())
}
