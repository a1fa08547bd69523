package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/carsonhq/memoryd/internal/llm"
)

// Config holds all memoryd configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	LLM      llm.Config     `toml:"llm"`
	Memory   MemoryConfig   `toml:"memory"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// MemoryConfig tunes retention and the embedding fallback.
type MemoryConfig struct {
	EpisodeTTLDays    int    `toml:"episode_ttl_days"`
	EpisodeMaxEntries int    `toml:"episode_max_entries"`
	EmbeddingModel    string `toml:"embedding_model"` // e.g. "nomic-embed-text"
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38500,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: llm.Config{
			Provider:  "anthropic",
			OllamaURL: "http://localhost:11434",
		},
		Memory: MemoryConfig{
			EpisodeTTLDays:    7,
			EpisodeMaxEntries: 10000,
			EmbeddingModel:    "nomic-embed-text",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "memoryd.toml"
	}
	return filepath.Join(home, ".memoryd", "config.toml")
}

// Load reads a TOML config file, layered over defaults. A missing file is
// not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
