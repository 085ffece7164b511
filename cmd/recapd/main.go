// recapd server — ingests broadcast clips, correlates repository
// activity, and turns each day's selection into a reviewed article.
// Provides the signed administrative HTTP API, runs the scheduler and
// queue workers, and drives the generation pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/streamworks/recapd/pkg/api"
	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/cleanup"
	"github.com/streamworks/recapd/pkg/config"
	"github.com/streamworks/recapd/pkg/content"
	"github.com/streamworks/recapd/pkg/database"
	"github.com/streamworks/recapd/pkg/draft"
	"github.com/streamworks/recapd/pkg/ghevents"
	"github.com/streamworks/recapd/pkg/ingest"
	"github.com/streamworks/recapd/pkg/jobqueue"
	"github.com/streamworks/recapd/pkg/jobs"
	"github.com/streamworks/recapd/pkg/manifest"
	"github.com/streamworks/recapd/pkg/render"
	"github.com/streamworks/recapd/pkg/schedule"
	"github.com/streamworks/recapd/pkg/transcribe"
	"github.com/streamworks/recapd/pkg/twitch"
	"github.com/streamworks/recapd/pkg/version"
	"github.com/streamworks/recapd/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the worker identity for multi-replica
// coordination. Priority: POD_ID env > HOSTNAME env > "local".
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory before anything reads the
	// environment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	podID := resolvePodID()
	slog.Info("Starting recapd",
		"version", version.Full(),
		"pod_id", podID,
		"config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Job state store (PostgreSQL)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	jobStore := jobs.NewStore(dbClient.DB())
	slog.Info("Connected to PostgreSQL database")

	// 3. Job queue (Redis); the same client backs idempotency replay.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password(),
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	queue := jobqueue.New(rdb)
	if err := queue.Ping(ctx); err != nil {
		slog.Error("Failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to redis", "addr", cfg.Redis.Addr)

	// 4. Artifact store
	store, err := blob.NewS3StoreFromEnv(ctx, cfg.Storage.Bucket, cfg.Storage.Prefix, cfg.Storage.Endpoint)
	if err != nil {
		slog.Error("Failed to initialize artifact store", "bucket", cfg.Storage.Bucket, "error", err)
		os.Exit(1)
	}
	items := content.NewManager(store)
	events := ghevents.NewStore(store)

	// 5. External collaborators. Each is optional: an unconfigured
	// collaborator disables its endpoints and pipeline steps.
	var clips *twitch.Client
	if cfg.Twitch.Enabled() {
		clips = twitch.NewClient(ctx, twitch.Config{
			ClientID:      cfg.Twitch.ClientID(),
			ClientSecret:  cfg.Twitch.ClientSecret(),
			BroadcasterID: cfg.Twitch.BroadcasterID,
		})
		slog.Info("Twitch client initialized", "broadcaster_id", cfg.Twitch.BroadcasterID)
	} else {
		slog.Warn("Twitch credentials not configured, clip sync disabled")
	}

	var transcriber *transcribe.Service
	var transcriberPing func(ctx context.Context) error
	if cfg.Transcriber.BaseURL != "" {
		client := transcribe.NewClient(transcribe.ClientConfig{
			BaseURL: cfg.Transcriber.BaseURL,
			Token:   cfg.Transcriber.Token(),
			Timeout: cfg.Transcriber.Timeout,
		})
		transcriber = transcribe.NewService(store, client)
		transcriberPing = client.Ping
		slog.Info("Transcription client initialized", "base_url", cfg.Transcriber.BaseURL)
	} else {
		slog.Warn("Transcriber not configured, transcription disabled")
	}

	var messages draft.MessagesClient
	if key := cfg.Drafting.APIKey(); key != "" {
		ac := sdk.NewClient(option.WithAPIKey(key))
		messages = &ac.Messages
		slog.Info("Drafting model initialized", "model", cfg.Drafting.Params.Model)
	} else {
		slog.Warn("Drafting API key not configured, using deterministic fallback drafts")
	}
	drafter := draft.NewDrafter(messages, cfg.Drafting.Params)

	// 6. Pipeline. Interface vars keep nil pointers nil inside the
	// interfaces, so the service's optional-collaborator checks hold.
	var clipSource ingest.ClipSource
	if clips != nil {
		clipSource = clips
	}
	var itemTranscriber ingest.Transcriber
	if transcriber != nil {
		itemTranscriber = transcriber
	}
	enricher := ingest.NewService(clipSource, store, items, itemTranscriber, events, cfg.Ingest)
	builder := manifest.NewBuilder(items, store, cfg.Selection)
	renderer := render.NewRenderer(store)

	executor := worker.NewPipelineExecutor(jobStore, store, builder, drafter, renderer)
	executor.SetEnricher(enricher)

	// 7. Worker pool (before the HTTP server so queued jobs drain on boot)
	pool := worker.NewPool(podID, jobStore, queue, executor, cfg.Worker)
	pool.Start(ctx)

	// 8. Scheduler and retention
	var prober schedule.CredentialProber
	if clips != nil {
		prober = clips
	}
	scheduler, err := schedule.NewScheduler(cfg.Schedule, jobStore, queue, prober)
	if err != nil {
		slog.Error("Failed to initialize scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start(ctx)

	retention := cleanup.NewService(cfg.Retention, jobStore, store)
	retention.Start(ctx)

	// 9. HTTP server
	deps := api.Deps{
		Store:           store,
		Items:           items,
		Jobs:            jobStore,
		Queue:           queue,
		Pool:            pool,
		Executor:        executor,
		Events:          events,
		Redis:           rdb,
		TranscriberPing: transcriberPing,
	}
	if clips != nil {
		deps.Clips = clips
	}
	if transcriber != nil {
		deps.Transcriber = transcriber
	}
	server := api.NewServer(api.Config{
		Addr:          cfg.Server.Addr,
		Secret:        cfg.Server.Secret(),
		WebhookSecret: cfg.Server.WebhookSecret(),
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	}, deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx)
	}()

	slog.Info("recapd started",
		"addr", cfg.Server.Addr,
		"workers", cfg.Worker.WorkerCount,
		"daily_at", cfg.Schedule.DailyAt)

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
		stop()
	}

	// Graceful shutdown: stop producing work first, then drain.
	scheduler.Stop()
	retention.Stop()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(cfg.Worker.JobTimeout):
		slog.Warn("Shutdown timeout exceeded, in-flight jobs will be retried by the next run")
	}

	slog.Info("Shutdown complete")
}
