// Package config handles salesagent configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/salesagent/config.yaml, /etc/salesagent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "salesagent", "config.yaml"))
	}

	paths = append(paths, "/etc/salesagent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all salesagent configuration.
type Config struct {
	Listen     ListenConfig            `yaml:"listen"`
	Models     ModelsConfig            `yaml:"models"`
	Catalog    CatalogConfig           `yaml:"catalog"`
	Index      IndexConfig             `yaml:"index"`
	Session    SessionConfig           `yaml:"session"`
	Agent      AgentConfig             `yaml:"agent"`
	Pricing    map[string]PricingEntry `yaml:"pricing"`
	FXSchedule string                  `yaml:"fx_schedule"`
	DataDir    string                  `yaml:"data_dir"`
	LogLevel   string                  `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines which models serve each role.
type ModelsConfig struct {
	// Agent is the tool-calling model that drives the reasoning loop.
	Agent string `yaml:"agent"`
	// Classifier is the cheap model that labels queries before the loop runs.
	Classifier string `yaml:"classifier"`
	// OllamaURL is the base URL of the reasoning/classification service.
	OllamaURL string `yaml:"ollama_url"`
}

// CatalogConfig defines the read-only relational source connection.
type CatalogConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN builds the MySQL driver connection string.
func (c CatalogConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&readTimeout=60s&writeTimeout=15s",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// IndexConfig defines the semantic index service connection.
type IndexConfig struct {
	URL string `yaml:"url"`
	// TopK is how many passages to retrieve per collection (default 2).
	TopK int `yaml:"top_k"`
}

// SessionConfig bounds per-user conversation storage.
type SessionConfig struct {
	// MaxMessages caps stored history per session (default 24).
	MaxMessages int `yaml:"max_messages"`
	// HistoryBudgetWords bounds the window handed to the reasoning loop
	// (default 800, counted in whitespace-separated words).
	HistoryBudgetWords int `yaml:"history_budget_words"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	// MaxIterations caps reason/tool cycles per exchange (default 40).
	MaxIterations int `yaml:"max_iterations"`
	// Timezone localizes order timestamps shown to users
	// (default America/Hermosillo).
	Timezone string `yaml:"timezone"`
}

// PricingEntry holds per-1K-token USD rates for one model.
type PricingEntry struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		Models: ModelsConfig{
			Agent:      "gpt-4.1",
			Classifier: "gemma3:12b",
			OllamaURL:  "http://localhost:11434",
		},
		Index: IndexConfig{
			URL:  "http://localhost:9300",
			TopK: 2,
		},
		Session: SessionConfig{
			MaxMessages:        24,
			HistoryBudgetWords: 800,
		},
		Agent: AgentConfig{
			MaxIterations: 40,
			Timezone:      "America/Hermosillo",
		},
		Pricing: map[string]PricingEntry{
			"gpt-4.5-preview": {InputPer1K: 0.075, OutputPer1K: 0.15},
			"gpt-4o":          {InputPer1K: 0.0025, OutputPer1K: 0.01},
			"gpt-4o-mini":     {InputPer1K: 0.00015, OutputPer1K: 0.0006},
			"gpt-4.1":         {InputPer1K: 0.002, OutputPer1K: 0.008},
		},
		FXSchedule: "@hourly",
		DataDir:    "data",
		LogLevel:   "info",
	}
}
