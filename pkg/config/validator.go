package config

import (
	"errors"
	"fmt"
	"time"
)

// validate checks the merged configuration eagerly so a bad config fails
// at startup, not mid-pipeline. All findings are reported together.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Storage.Bucket == "" {
		errs = append(errs, &ValidationError{Section: "storage", Field: "bucket", Err: errors.New("is required")})
	}
	if cfg.Server.SecretEnv == "" {
		errs = append(errs, &ValidationError{Section: "server", Field: "secret_env", Err: errors.New("is required")})
	}
	if cfg.Redis.Addr == "" {
		errs = append(errs, &ValidationError{Section: "redis", Field: "addr", Err: errors.New("is required")})
	}

	if _, err := time.Parse("15:04", cfg.Schedule.DailyAt); err != nil {
		errs = append(errs, &ValidationError{Section: "schedule", Field: "daily_at", Err: fmt.Errorf("%q is not HH:MM", cfg.Schedule.DailyAt)})
	}
	if cfg.Schedule.TZ != "" {
		if _, err := time.LoadLocation(cfg.Schedule.TZ); err != nil {
			errs = append(errs, &ValidationError{Section: "schedule", Field: "tz", Err: fmt.Errorf("unknown timezone %q", cfg.Schedule.TZ)})
		}
	}

	w := cfg.Selection.Weights
	for name, value := range map[string]float64{
		"content_score":     w.ContentScore,
		"github_confidence": w.GitHubConfidence,
		"duration":          w.Duration,
		"views":             w.Views,
		"transcript_length": w.TranscriptLength,
	} {
		if value < 0 {
			errs = append(errs, &ValidationError{Section: "selection", Field: name, Err: errors.New("weight must be non-negative")})
		}
	}

	if cfg.Transcriber.Timeout < 0 {
		errs = append(errs, &ValidationError{Section: "transcriber", Field: "timeout", Err: errors.New("must be non-negative")})
	}
	if cfg.Worker.WorkerCount < 0 {
		errs = append(errs, &ValidationError{Section: "worker", Field: "worker_count", Err: errors.New("must be non-negative")})
	}
	if cfg.Ingest.Lookback < 0 {
		errs = append(errs, &ValidationError{Section: "ingest", Field: "lookback", Err: errors.New("must be non-negative")})
	}

	return errors.Join(errs...)
}
