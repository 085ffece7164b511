package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/streamworks/recapd/pkg/cleanup"
	"github.com/streamworks/recapd/pkg/ingest"
	"github.com/streamworks/recapd/pkg/schedule"
	"github.com/streamworks/recapd/pkg/selector"
	"github.com/streamworks/recapd/pkg/worker"
)

// configFile is the single YAML file loaded from the config directory.
const configFile = "recapd.yaml"

// yamlConfig is the recapd.yaml file structure. Sections are pointers so
// an absent section leaves the built-in defaults untouched.
type yamlConfig struct {
	Server      *ServerConfig      `yaml:"server"`
	Storage     *StorageConfig     `yaml:"storage"`
	Redis       *RedisConfig       `yaml:"redis"`
	Twitch      *TwitchConfig      `yaml:"twitch"`
	Transcriber *TranscriberConfig `yaml:"transcriber"`
	Drafting    *DraftingConfig    `yaml:"drafting"`
	Selection   *selector.Config   `yaml:"selection"`
	Ingest      *ingest.Config     `yaml:"ingest"`
	Worker      *worker.Config     `yaml:"worker"`
	Schedule    *schedule.Config   `yaml:"schedule"`
	Retention   *cleanup.Config    `yaml:"retention"`
}

// Initialize loads, merges, and validates configuration. This is the
// primary entry point.
//
// Steps:
//  1. Read recapd.yaml from configDir
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate eagerly; a bad config never reaches the pipeline
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"bucket", cfg.Storage.Bucket,
		"workers", cfg.Worker.WorkerCount,
		"daily_at", cfg.Schedule.DailyAt)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{File: configFile, Err: fmt.Errorf("%w: %s", ErrConfigNotFound, path)}
		}
		return nil, &LoadError{File: configFile, Err: err}
	}

	data = ExpandEnv(data)

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, &LoadError{File: configFile, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}

	cfg := DefaultConfig()
	cfg.configDir = configDir
	if err := merge(cfg, &yc); err != nil {
		return nil, &LoadError{File: configFile, Err: err}
	}
	return cfg, nil
}

// merge overlays user-provided sections onto the defaults. Non-zero user
// values win; unset values keep their defaults.
func merge(cfg *Config, yc *yamlConfig) error {
	sections := []struct {
		name string
		fn   func() error
	}{
		{"server", func() error { return mergeSection(&cfg.Server, yc.Server) }},
		{"storage", func() error { return mergeSection(&cfg.Storage, yc.Storage) }},
		{"redis", func() error { return mergeSection(&cfg.Redis, yc.Redis) }},
		{"twitch", func() error { return mergeSection(&cfg.Twitch, yc.Twitch) }},
		{"transcriber", func() error { return mergeSection(&cfg.Transcriber, yc.Transcriber) }},
		{"drafting", func() error { return mergeSection(&cfg.Drafting, yc.Drafting) }},
		{"selection", func() error { return mergeSection(&cfg.Selection, yc.Selection) }},
		{"ingest", func() error { return mergeSection(&cfg.Ingest, yc.Ingest) }},
		{"worker", func() error { return mergeSection(&cfg.Worker, yc.Worker) }},
		{"schedule", func() error { return mergeSection(&cfg.Schedule, yc.Schedule) }},
		{"retention", func() error { return mergeSection(&cfg.Retention, yc.Retention) }},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("merge %s config: %w", s.name, err)
		}
	}
	return nil
}

func mergeSection[T any](dst *T, src *T) error {
	if src == nil {
		return nil
	}
	return mergo.Merge(dst, *src, mergo.WithOverride)
}
