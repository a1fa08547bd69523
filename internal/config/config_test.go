package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 38500 {
		t.Errorf("port = %d, want 38500", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", cfg.LLM.Provider)
	}
	if cfg.Memory.EpisodeTTLDays != 7 || cfg.Memory.EpisodeMaxEntries != 10000 {
		t.Errorf("memory defaults = %+v", cfg.Memory)
	}
	if cfg.ListenAddr() != "127.0.0.1:38500" {
		t.Errorf("addr = %q", cfg.ListenAddr())
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("missing file should yield defaults, got %+v", cfg.Server)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[server]
port = 9999

[llm]
provider = "ollama"
ollama_model = "mistral"

[memory]
episode_ttl_days = 3
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	// untouched keys keep their defaults
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("bind = %q, want default", cfg.Server.Bind)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.OllamaModel != "mistral" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Memory.EpisodeTTLDays != 3 {
		t.Errorf("ttl = %d, want 3", cfg.Memory.EpisodeTTLDays)
	}
	if cfg.Memory.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("embedding model = %q, want default", cfg.Memory.EmbeddingModel)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\nport ="), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
