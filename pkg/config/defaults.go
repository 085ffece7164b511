package config

import (
	"time"

	"github.com/streamworks/recapd/pkg/cleanup"
	"github.com/streamworks/recapd/pkg/draft"
	"github.com/streamworks/recapd/pkg/ingest"
	"github.com/streamworks/recapd/pkg/schedule"
	"github.com/streamworks/recapd/pkg/selector"
	"github.com/streamworks/recapd/pkg/worker"
)

// DefaultConfig returns the built-in defaults. User YAML is merged on
// top, so every zero-value field here is overridable.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			SecretEnv:        "ADMIN_HMAC_SECRET",
			WebhookSecretEnv: "GITHUB_WEBHOOK_SECRET",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Twitch: TwitchConfig{
			ClientIDEnv:     "TWITCH_CLIENT_ID",
			ClientSecretEnv: "TWITCH_CLIENT_SECRET",
		},
		Transcriber: TranscriberConfig{
			TokenEnv: "TRANSCRIBER_TOKEN",
			Timeout:  30 * time.Second,
		},
		Drafting: DraftingConfig{
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Params:    draft.DefaultParams(),
		},
		Selection: selector.DefaultConfig(),
		Ingest:    ingest.DefaultConfig(),
		Worker:    worker.DefaultConfig(),
		Schedule:  schedule.DefaultConfig(),
		Retention: cleanup.DefaultConfig(),
	}
}
