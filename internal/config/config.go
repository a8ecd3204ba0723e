package config

import (
	"errors"
	"io/fs"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Project struct {
		Root string `yaml:"root"`
		ID   string `yaml:"id"`
	} `yaml:"project"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Repos struct {
		Dir string `yaml:"dir"` // clones live in <dir>/<project>
	} `yaml:"repos"`
	AI struct {
		Provider     string `yaml:"provider"`
		Model        string `yaml:"model"`         // embedding model
		SummaryModel string `yaml:"summary_model"` // LLM model for summaries and explanations
		APIKey       string `yaml:"api_key"`
		Dimension    int    `yaml:"dimension"`
		BaseURL      string `yaml:"base_url"`
	} `yaml:"ai"`
	Sync struct {
		Workers   int  `yaml:"workers"`
		BatchSize int  `yaml:"batch_size"`
		Enrich    bool `yaml:"enrich"`
	} `yaml:"sync"`
	Risk RiskConfig `yaml:"risk"`
	Log  struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// RiskConfig holds the age thresholds (days) and score increments of the
// risk pass.
type RiskConfig struct {
	ActiveDays         int     `yaml:"active_days"`
	LegacyDays         int     `yaml:"legacy_days"`
	AgeGapDays         int     `yaml:"age_gap_days"`
	HighGapDays        int     `yaml:"high_gap_days"`
	StaleDays          int     `yaml:"stale_days"`
	MaxHops            int     `yaml:"max_hops"`
	SourceIncrement    float64 `yaml:"source_increment"`
	TargetIncrement    float64 `yaml:"target_increment"`
	StaleIncrement     float64 `yaml:"stale_increment"`
	ExplainConcurrency int     `yaml:"explain_concurrency"`
	ExplainRPS         float64 `yaml:"explain_rps"`
}

// DefaultRiskConfig returns the stock thresholds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		ActiveDays:         30,
		LegacyDays:         60,
		AgeGapDays:         80,
		HighGapDays:        150,
		StaleDays:          120,
		MaxHops:            3,
		SourceIncrement:    25,
		TargetIncrement:    10,
		StaleIncrement:     15,
		ExplainConcurrency: 4,
		ExplainRPS:         2,
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault is LoadConfig that treats a missing file as an empty one.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if apiKey := os.Getenv("CODETWIN_API_KEY"); apiKey != "" {
		c.AI.APIKey = apiKey
	}
	if provider := os.Getenv("CODETWIN_AI_PROVIDER"); provider != "" {
		c.AI.Provider = provider
	}
	if db := os.Getenv("CODETWIN_DB"); db != "" {
		c.Storage.Path = db
	}
	if level := os.Getenv("CODETWIN_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *Config) applyDefaults() {
	if c.Project.Root == "" {
		c.Project.Root = "."
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "codetwin.db"
	}
	if c.Repos.Dir == "" {
		c.Repos.Dir = "repos"
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = runtime.NumCPU()
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 200
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	d := DefaultRiskConfig()
	r := &c.Risk
	setInt(&r.ActiveDays, d.ActiveDays)
	setInt(&r.LegacyDays, d.LegacyDays)
	setInt(&r.AgeGapDays, d.AgeGapDays)
	setInt(&r.HighGapDays, d.HighGapDays)
	setInt(&r.StaleDays, d.StaleDays)
	setInt(&r.MaxHops, d.MaxHops)
	setInt(&r.ExplainConcurrency, d.ExplainConcurrency)
	setFloat(&r.SourceIncrement, d.SourceIncrement)
	setFloat(&r.TargetIncrement, d.TargetIncrement)
	setFloat(&r.StaleIncrement, d.StaleIncrement)
	setFloat(&r.ExplainRPS, d.ExplainRPS)
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}
