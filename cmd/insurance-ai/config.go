package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/engine"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Config holds all insurance-ai configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	Mode        string `json:"mode"`
	FixturesDir string `json:"fixtures_dir"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	BatchSize   int    `json:"batch_size"`
	RatedPolicy string `json:"rated_policy"`
	GateExpr    string `json:"gate_expr"`

	// Read from ANTHROPIC_API_KEY only, never from settings.json.
	APIKey string `json:"-"`
}

func defaultConfig() Config {
	return Config{
		Mode:        string(schema.ModeOffline),
		LogLevel:    "warn",
		LogFormat:   "text",
		BatchSize:   engine.DefaultBatchSize,
		RatedPolicy: string(engine.RatedDecline),
	}
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".insurance-ai"
	}
	return filepath.Join(home, ".insurance-ai")
}

func settingsPath() string {
	return filepath.Join(configDir(), "settings.json")
}

// loadConfig layers settings.json and the environment over the defaults.
// A missing settings file is fine; a malformed one is an error.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	// Layer 3: env vars override.
	if v := getenv("INSURANCE_AI_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := getenv("INSURANCE_AI_FIXTURES_DIR"); v != "" {
		cfg.FixturesDir = v
	}
	if v := getenv("INSURANCE_AI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("INSURANCE_AI_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("INSURANCE_AI_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("INSURANCE_AI_BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = n
	}
	if v := getenv("INSURANCE_AI_RATED_POLICY"); v != "" {
		cfg.RatedPolicy = v
	}
	if v := getenv("INSURANCE_AI_GATE_EXPR"); v != "" {
		cfg.GateExpr = v
	}
	cfg.APIKey = getenv("ANTHROPIC_API_KEY")

	return cfg, nil
}

// validate checks the fully layered configuration.
func (c Config) validate() error {
	mode, err := schema.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	if mode == schema.ModeOnline && strings.TrimSpace(c.APIKey) == "" {
		return schema.NewError(schema.ErrCodeValidation, "online mode requires ANTHROPIC_API_KEY")
	}
	if _, err := engine.ParseRatedPolicy(c.RatedPolicy); err != nil {
		return err
	}
	if c.BatchSize < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "batch size must be >= 0, got %d", c.BatchSize)
	}
	if c.FixturesDir != "" {
		info, err := os.Stat(c.FixturesDir)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "fixtures dir: %v", err)
		}
		if !info.IsDir() {
			return schema.NewErrorf(schema.ErrCodeValidation, "fixtures dir %s is not a directory", c.FixturesDir)
		}
	}
	return nil
}

// ExecutionMode returns the parsed mode. Call after validate.
func (c Config) ExecutionMode() schema.Mode {
	m, _ := schema.ParseMode(c.Mode)
	return m
}
