// Package api exposes the administrative HTTP surface: signed management
// endpoints, connectivity probes, and the GitHub webhook receiver.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/content"
	"github.com/streamworks/recapd/pkg/ghevents"
	"github.com/streamworks/recapd/pkg/jobs"
	"github.com/streamworks/recapd/pkg/transcribe"
	"github.com/streamworks/recapd/pkg/twitch"
	"github.com/streamworks/recapd/pkg/worker"
)

// Config holds the server settings.
type Config struct {
	Addr string `yaml:"addr"`

	// Secret signs the administrative request envelope.
	Secret string `yaml:"secret"`

	// WebhookSecret verifies GitHub webhook deliveries.
	WebhookSecret string `yaml:"webhook_secret"`

	// MaxBodyBytes caps request bodies. Zero means the 10 MiB default.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

const defaultMaxBodyBytes = 10 << 20

// JobStore is the job store surface the handlers use. Satisfied by
// *jobs.Store.
type JobStore interface {
	Create(ctx context.Context, requestData json.RawMessage, ttl time.Duration) (*jobs.Job, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	UpdateStatus(ctx context.Context, id string, u jobs.Update) (*jobs.Job, error)
	List(ctx context.Context, q jobs.ListQuery) (*jobs.Page, error)
	Stats(ctx context.Context, window time.Duration) (*jobs.Stats, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// JobQueue is the enqueue surface. Satisfied by *jobqueue.Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	Ping(ctx context.Context) error
}

// ClipSource lists clips from the broadcast platform. Satisfied by
// *twitch.Client.
type ClipSource interface {
	ListRecentClips(ctx context.Context, since time.Time, limit int) ([]twitch.Clip, error)
	ValidateCredentials(ctx context.Context) error
}

// Transcriber is the transcription surface. Satisfied by
// *transcribe.Service.
type Transcriber interface {
	TranscribeClip(ctx context.Context, clipID string) (*transcribe.Result, error)
	TranscribeBatch(ctx context.Context, clipIDs []string) []transcribe.BatchItem
}

// EventSink receives webhook deliveries. Satisfied by *ghevents.Store.
type EventSink interface {
	StoreEvent(ctx context.Context, deliveryID, eventType string, payload json.RawMessage, delivered time.Time) (*ghevents.Event, error)
}

// Deps collects the server's collaborators. Optional fields may be nil;
// the corresponding endpoints then report unavailability.
type Deps struct {
	Store       blob.Store
	Items       *content.Manager
	Jobs        JobStore
	Queue       JobQueue
	Pool        *worker.Pool
	Executor    worker.Executor
	Transcriber Transcriber
	Clips       ClipSource
	Events      EventSink

	// Redis backs idempotency-key replay detection. Nil disables it.
	Redis redis.UniversalClient

	// TranscriberPing probes the transcription collaborator.
	TranscriberPing func(ctx context.Context) error
}

// Server is the administrative HTTP server.
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	startedAt time.Time
}

// NewServer creates the server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Server{
		config:    cfg,
		deps:      deps,
		logger:    slog.Default(),
		startedAt: time.Now(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders(), s.bodyLimit())

	r.GET("/health", s.handleHealth)
	r.POST("/webhook/github", s.handleGitHubWebhook)

	signed := r.Group("/", s.envelopeAuth())
	signed.GET("/validate-twitch", s.handleValidateTwitch)
	signed.GET("/validate-storage", s.handleValidateStorage)
	signed.GET("/validate-transcriber", s.handleValidateTranscriber)

	clips := signed.Group("/api/twitch/clips")
	clips.GET("", s.handleListRecentClips)
	clips.POST("", s.idempotency(), s.handleStoreClips)
	clips.PUT("", s.idempotency(), s.handleUpdateClip)
	clips.GET("/stored", s.handleStoredClips)

	tr := signed.Group("/api/transcribe")
	tr.POST("/clip", s.idempotency(), s.handleTranscribeClip)
	tr.POST("/batch", s.idempotency(), s.handleTranscribeBatch)
	tr.GET("/status/:id", s.handleTranscribeStatus)

	dedup := signed.Group("/api/deduplication")
	dedup.POST("/check", s.handleDedupCheck)
	dedup.GET("/file-info/:id", s.handleDedupFileInfo)
	dedup.POST("/cleanup", s.idempotency(), s.handleDedupCleanup)

	signed.POST("/api/content/generate", s.idempotency(), s.handleGenerate)
	signed.GET("/api/content/status", s.handleContentStatus)
	signed.GET("/api/jobs", s.handleListJobs)
	signed.GET("/api/jobs/stats", s.handleJobStats)
	signed.GET("/api/jobs/:id/status", s.handleJobStatus)
	signed.POST("/api/jobs/cleanup", s.handleJobCleanup)

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
