// Package schedule runs the daily trigger: it spawns the generate job at
// the configured UTC time and probes collaborator credentials hourly.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamworks/recapd/pkg/jobs"
)

// JobCreator is the subset of the job store the scheduler uses. It is
// satisfied by *jobs.Store.
type JobCreator interface {
	Create(ctx context.Context, requestData json.RawMessage, ttl time.Duration) (*jobs.Job, error)
}

// JobEnqueuer is satisfied by *jobqueue.Queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// CredentialProber is the hourly connectivity check. Satisfied by
// *twitch.Client via ValidateCredentials.
type CredentialProber interface {
	ValidateCredentials(ctx context.Context) error
}

// Config tunes the scheduler.
type Config struct {
	// DailyAt is the UTC wall-clock time of the daily trigger, "HH:MM".
	DailyAt string `yaml:"daily_at"`

	// TZ is the timezone the spawned job computes its day window in.
	TZ string `yaml:"tz"`

	// ProbeInterval is how often credentials are probed. Zero disables
	// the probe.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// JobTTL is the expiry applied to spawned jobs.
	JobTTL time.Duration `yaml:"job_ttl"`
}

// DefaultConfig triggers at 23:30 UTC and probes hourly.
func DefaultConfig() Config {
	return Config{
		DailyAt:       "23:30",
		TZ:            "UTC",
		ProbeInterval: time.Hour,
		JobTTL:        jobs.DefaultTTL,
	}
}

// Scheduler owns the two background loops.
type Scheduler struct {
	config  Config
	store   JobCreator
	queue   JobEnqueuer
	prober  CredentialProber
	logger  *slog.Logger
	nowFunc func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. prober may be nil to disable the
// credential probe.
func NewScheduler(cfg Config, store JobCreator, queue JobEnqueuer, prober CredentialProber) (*Scheduler, error) {
	if cfg.DailyAt == "" {
		cfg.DailyAt = DefaultConfig().DailyAt
	}
	if _, err := time.Parse("15:04", cfg.DailyAt); err != nil {
		return nil, fmt.Errorf("schedule: invalid daily_at %q: %w", cfg.DailyAt, err)
	}
	if cfg.TZ == "" {
		cfg.TZ = "UTC"
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = jobs.DefaultTTL
	}
	return &Scheduler{
		config:  cfg,
		store:   store,
		queue:   queue,
		prober:  prober,
		logger:  slog.Default(),
		nowFunc: time.Now,
	}, nil
}

// Start launches the background loops. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("scheduler started",
		"daily_at", s.config.DailyAt,
		"tz", s.config.TZ,
		"probe_interval", s.config.ProbeInterval)
}

// Stop signals the loops to exit and waits for them to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	var probeCh <-chan time.Time
	if s.prober != nil && s.config.ProbeInterval > 0 {
		probeTicker := time.NewTicker(s.config.ProbeInterval)
		defer probeTicker.Stop()
		probeCh = probeTicker.C
	}

	dailyTimer := time.NewTimer(s.untilNextTrigger())
	defer dailyTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dailyTimer.C:
			s.spawnDailyJob(ctx)
			dailyTimer.Reset(s.untilNextTrigger())
		case <-probeCh:
			s.probeCredentials(ctx)
		}
	}
}

// untilNextTrigger computes the wait until the next daily_at instant in
// UTC.
func (s *Scheduler) untilNextTrigger() time.Duration {
	at, _ := time.Parse("15:04", s.config.DailyAt)

	now := s.nowFunc().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// spawnDailyJob creates and enqueues the generate job for the current day
// in the configured timezone.
func (s *Scheduler) spawnDailyJob(ctx context.Context) {
	loc, err := time.LoadLocation(s.config.TZ)
	if err != nil {
		s.logger.Error("daily trigger: bad timezone", "tz", s.config.TZ, "error", err)
		return
	}
	date := s.nowFunc().In(loc).Format("2006-01-02")

	req, err := json.Marshal(map[string]string{"date": date, "tz": s.config.TZ})
	if err != nil {
		s.logger.Error("daily trigger: encode request", "error", err)
		return
	}

	job, err := s.store.Create(ctx, req, s.config.JobTTL)
	if err != nil {
		s.logger.Error("daily trigger: create job failed", "date", date, "error", err)
		return
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		s.logger.Error("daily trigger: enqueue failed", "job_id", job.ID, "error", err)
		return
	}
	s.logger.Info("daily generate job spawned", "job_id", job.ID, "date", date)
}

func (s *Scheduler) probeCredentials(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.prober.ValidateCredentials(probeCtx); err != nil {
		s.logger.Error("credential probe failed", "error", err)
		return
	}
	s.logger.Debug("credential probe ok")
}
