package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Session struct {
		IdleTimeoutSeconds int    `toml:"idle_timeout_seconds"`
		Orchestrator       bool   `toml:"orchestrator"`
		DefaultTitle       string `toml:"default_title"`
	} `toml:"session"`
	Providers struct {
		Anthropic struct {
			DefaultModel string `toml:"default_model"`
		} `toml:"anthropic"`
		OpenAI struct {
			DefaultModel string `toml:"default_model"`
			BaseURL      string `toml:"base_url"`
		} `toml:"openai"`
		Ollama struct {
			Host         string `toml:"host"`
			DefaultModel string `toml:"default_model"`
		} `toml:"ollama"`
	} `toml:"providers"`
	Debug bool `toml:"debug"`
}

func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cebus", "config.toml")
}

func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom applies defaults first, so a partial or missing file still yields
// a usable config.
func LoadFrom(path string) (*Config, error) {
	var cfg Config

	cfg.Session.IdleTimeoutSeconds = 120
	cfg.Session.Orchestrator = false
	cfg.Session.DefaultTitle = "chat"
	cfg.Providers.Anthropic.DefaultModel = "claude-sonnet-4-20250514"
	cfg.Providers.OpenAI.DefaultModel = "gpt-4o"
	cfg.Providers.OpenAI.BaseURL = "https://api.openai.com/v1"
	cfg.Providers.Ollama.Host = "http://localhost:11434"
	cfg.Providers.Ollama.DefaultModel = "llama3.1"

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &cfg, nil
	}
	_, err := toml.DecodeFile(path, &cfg)
	return &cfg, err
}

func (c *Config) IdleTimeout() time.Duration {
	if c.Session.IdleTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Session.IdleTimeoutSeconds) * time.Second
}

func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}
