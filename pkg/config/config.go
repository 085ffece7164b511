// Package config loads and validates the recapd.yaml configuration:
// server settings, collaborator credentials (env-indirect), storage
// targets, and the tuning knobs of every pipeline component.
package config

import (
	"os"
	"time"

	"github.com/streamworks/recapd/pkg/cleanup"
	"github.com/streamworks/recapd/pkg/draft"
	"github.com/streamworks/recapd/pkg/ingest"
	"github.com/streamworks/recapd/pkg/schedule"
	"github.com/streamworks/recapd/pkg/selector"
	"github.com/streamworks/recapd/pkg/worker"
)

// Config is the resolved configuration returned by Initialize and used
// throughout the application. Secrets are never stored here: sections
// carry the names of environment variables and resolve them on access.
type Config struct {
	configDir string

	Server      ServerConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Twitch      TwitchConfig
	Transcriber TranscriberConfig
	Drafting    DraftingConfig
	Selection   selector.Config
	Ingest      ingest.Config
	Worker      worker.Config
	Schedule    schedule.Config
	Retention   cleanup.Config
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig holds the administrative HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// SecretEnv names the environment variable holding the HMAC secret
	// that signs the administrative request envelope.
	SecretEnv string `yaml:"secret_env"`

	// WebhookSecretEnv names the environment variable holding the
	// GitHub webhook signing secret.
	WebhookSecretEnv string `yaml:"webhook_secret_env"`

	// MaxBodyBytes caps request bodies. Zero means the server default.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Secret resolves the envelope signing secret.
func (s ServerConfig) Secret() string {
	return os.Getenv(s.SecretEnv)
}

// WebhookSecret resolves the webhook signing secret.
func (s ServerConfig) WebhookSecret() string {
	return os.Getenv(s.WebhookSecretEnv)
}

// StorageConfig points at the artifact store bucket.
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `yaml:"endpoint"`
}

// RedisConfig points at the queue and idempotency backend.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env"`
}

// Password resolves the redis password. Empty PasswordEnv means no auth.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// TwitchConfig holds the per-broadcaster platform credentials.
type TwitchConfig struct {
	ClientIDEnv     string `yaml:"client_id_env"`
	ClientSecretEnv string `yaml:"client_secret_env"`
	BroadcasterID   string `yaml:"broadcaster_id"`
}

// ClientID resolves the application client id.
func (t TwitchConfig) ClientID() string {
	return os.Getenv(t.ClientIDEnv)
}

// ClientSecret resolves the application client secret.
func (t TwitchConfig) ClientSecret() string {
	return os.Getenv(t.ClientSecretEnv)
}

// Enabled reports whether enough is configured to talk to the platform.
func (t TwitchConfig) Enabled() bool {
	return t.BroadcasterID != "" && t.ClientID() != "" && t.ClientSecret() != ""
}

// TranscriberConfig points at the transcription collaborator.
type TranscriberConfig struct {
	BaseURL  string        `yaml:"base_url"`
	TokenEnv string        `yaml:"token_env"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Token resolves the collaborator bearer token.
func (t TranscriberConfig) Token() string {
	return os.Getenv(t.TokenEnv)
}

// DraftingConfig holds the drafting model settings.
type DraftingConfig struct {
	APIKeyEnv string       `yaml:"api_key_env"`
	Params    draft.Params `yaml:"params"`
}

// APIKey resolves the model API key. Empty disables model drafting and
// the drafter falls back to deterministic generation.
func (d DraftingConfig) APIKey() string {
	return os.Getenv(d.APIKeyEnv)
}
