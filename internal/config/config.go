package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/classletter/newsletter-engine/internal/domain"
)

// Artifact backends accepted by storage.artifact_backend.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// StorageConfig selects where runs and artifacts live.
type StorageConfig struct {
	DBPath          string `json:"db_path" yaml:"db_path"`
	ArtifactBackend string `json:"artifact_backend" yaml:"artifact_backend"`
	ArtifactDir     string `json:"artifact_dir" yaml:"artifact_dir"`
	MongoURI        string `json:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase   string `json:"mongo_database" yaml:"mongo_database"`
	MongoCollection string `json:"mongo_collection" yaml:"mongo_collection"`
}

// ModelConfig configures one model-backed collaborator.
type ModelConfig struct {
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// LLMConfig holds provider credentials and per-collaborator model settings.
type LLMConfig struct {
	APIKeyEnv string      `json:"api_key_env" yaml:"api_key_env"`
	Planner   ModelConfig `json:"planner" yaml:"planner"`
	Generator ModelConfig `json:"generator" yaml:"generator"`
}

// SanitizerConfig overrides the sanitizer's tag and attribute lists.
// Empty lists fall back to the built-in newsletter policy.
type SanitizerConfig struct {
	AllowedTags         []string `json:"allowed_tags" yaml:"allowed_tags"`
	ForbiddenTags       []string `json:"forbidden_tags" yaml:"forbidden_tags"`
	ForbiddenAttributes []string `json:"forbidden_attributes" yaml:"forbidden_attributes"`
}

// MonitorConfig holds performance thresholds and ring buffer size.
type MonitorConfig struct {
	Capacity         int     `json:"capacity" yaml:"capacity"`
	SlowThresholdSec int     `json:"slow_threshold_sec" yaml:"slow_threshold_sec"`
	MemoryLimitMB    float64 `json:"memory_limit_mb" yaml:"memory_limit_mb"`
	CPULimitPercent  float64 `json:"cpu_limit_percent" yaml:"cpu_limit_percent"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	ListenAddr string          `json:"listen_addr" yaml:"listen_addr"`
	LogLevel   string          `json:"log_level" yaml:"log_level"`
	Storage    StorageConfig   `json:"storage" yaml:"storage"`
	LLM        LLMConfig       `json:"llm" yaml:"llm"`
	Sanitizer  SanitizerConfig `json:"sanitizer" yaml:"sanitizer"`
	Monitor    MonitorConfig   `json:"monitor" yaml:"monitor"`
}

// Load reads a YAML or JSON config file (chosen by extension), applies
// defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9810"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "newsletter.db"
	}
	if c.Storage.ArtifactBackend == "" {
		c.Storage.ArtifactBackend = BackendFS
	}
	if c.Storage.ArtifactDir == "" {
		c.Storage.ArtifactDir = "artifacts"
	}
	if c.Storage.MongoDatabase == "" {
		c.Storage.MongoDatabase = "newsletter"
	}
	if c.Storage.MongoCollection == "" {
		c.Storage.MongoCollection = "artifacts"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	defaultModel(&c.LLM.Planner, 2048, 0.2)
	defaultModel(&c.LLM.Generator, 8192, 0.4)
	if c.Monitor.Capacity == 0 {
		c.Monitor.Capacity = 1000
	}
	if c.Monitor.SlowThresholdSec == 0 {
		c.Monitor.SlowThresholdSec = 30
	}
	if c.Monitor.MemoryLimitMB == 0 {
		c.Monitor.MemoryLimitMB = 500
	}
	if c.Monitor.CPULimitPercent == 0 {
		c.Monitor.CPULimitPercent = 80
	}
}

func defaultModel(m *ModelConfig, maxTokens int, temperature float64) {
	if m.Model == "" {
		m.Model = "claude-sonnet-4-20250514"
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = maxTokens
	}
	if m.Temperature == 0 {
		m.Temperature = temperature
	}
}

func (c *Config) validate() error {
	var problems []string

	switch c.Storage.ArtifactBackend {
	case BackendFS, BackendSQLite:
	case BackendMongo:
		if c.Storage.MongoURI == "" {
			problems = append(problems, "storage.mongo_uri is required for the mongo backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.artifact_backend %q is not one of fs, sqlite, mongo", c.Storage.ArtifactBackend))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if c.Monitor.Capacity < 0 {
		problems = append(problems, "monitor.capacity must not be negative")
	}
	if c.Monitor.CPULimitPercent < 0 || c.Monitor.CPULimitPercent > 100 {
		problems = append(problems, "monitor.cpu_limit_percent must be within 0-100")
	}
	if c.LLM.Planner.MaxTokens < 0 || c.LLM.Generator.MaxTokens < 0 {
		problems = append(problems, "llm max_tokens must not be negative")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
