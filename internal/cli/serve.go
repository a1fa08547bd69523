package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/carsonhq/memoryd/internal/config"
	"github.com/carsonhq/memoryd/internal/engine"
	"github.com/carsonhq/memoryd/internal/llm"
	"github.com/carsonhq/memoryd/internal/server"
	"github.com/carsonhq/memoryd/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Env override beats the config file for the API key.
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.AnthropicKey = key
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var llmClient llm.Client
	llmClient, err = llm.NewClient(cfg.LLM)
	if err != nil {
		log.Warn("LLM not configured, consolidation disabled", "error", err)
		llmClient = nil
	} else {
		log.Info("llm ready", "provider", cfg.LLM.Provider)
	}

	eng := engine.New(db, llmClient)
	if cfg.Memory.EpisodeTTLDays > 0 {
		eng.EpisodeTTL = time.Duration(cfg.Memory.EpisodeTTLDays) * 24 * time.Hour
	}
	configureEmbedder(eng, cfg)

	srv := server.New(db, eng, VersionString(), cfg.Memory.EpisodeMaxEntries)
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("memoryd serving", "addr", addr, "db", db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

// openDB resolves the database path from config and opens the store.
func openDB(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// configureEmbedder probes Ollama and falls back to TF-IDF over the stored
// corpus when it is unreachable.
func configureEmbedder(eng *engine.Engine, cfg config.Config) {
	ollamaURL := cfg.LLM.OllamaURL
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	embeddingModel := cfg.Memory.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}

	if engine.ProbeOllama(ollamaURL, embeddingModel) {
		eng.SetEmbedder(engine.NewOllamaEmbedder(ollamaURL, embeddingModel, 768))
		log.Info("embedder ready", "provider", "ollama", "model", embeddingModel)
		return
	}

	emb, err := engine.NewTFIDFEmbedder(eng.DB, 512)
	if err != nil {
		log.Warn("tfidf embedder init failed, keyword search only", "error", err)
		return
	}
	eng.SetEmbedder(emb)
	log.Info("embedder ready", "provider", "tfidf fallback")
}
