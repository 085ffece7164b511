// Package cleanup provides data retention: expired job records and
// orphaned transcript fragments are removed periodically.
package cleanup

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/streamworks/recapd/pkg/blob"
)

// JobCleaner is the subset of the job store the service uses. Satisfied
// by *jobs.Store.
type JobCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Config tunes the retention loop.
type Config struct {
	// Interval between cleanup passes.
	Interval time.Duration `yaml:"interval"`

	// FragmentTTL is the age after which a transcript fragment without
	// its .ok marker counts as orphaned.
	FragmentTTL time.Duration `yaml:"fragment_ttl"`
}

// DefaultConfig runs hourly and treats fragments as orphaned after 6h.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Hour,
		FragmentTTL: 6 * time.Hour,
	}
}

// Service periodically enforces retention policies:
//   - Deletes expired job records.
//   - Removes transcript fragments whose .ok marker never appeared.
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config Config
	jobs   JobCleaner
	store  blob.Store
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service.
func NewService(cfg Config, jobs JobCleaner, store blob.Store) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.FragmentTTL <= 0 {
		cfg.FragmentTTL = DefaultConfig().FragmentTTL
	}
	return &Service{
		config: cfg,
		jobs:   jobs,
		store:  store,
		logger: slog.Default(),
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("cleanup service started",
		"interval", s.config.Interval,
		"fragment_ttl", s.config.FragmentTTL)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll executes one cleanup pass. Exposed for the admin cleanup
// endpoint.
func (s *Service) RunAll(ctx context.Context) {
	s.cleanupExpiredJobs(ctx)
	s.cleanupOrphanedFragments(ctx)
}

func (s *Service) cleanupExpiredJobs(ctx context.Context) {
	count, err := s.jobs.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("retention: expired job cleanup failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("retention: deleted expired jobs", "count", count)
	}
}

// cleanupOrphanedFragments deletes transcript artifacts that were written
// without a matching .ok marker and have aged past the TTL. A complete
// transcript write ends with the marker, so its absence after the TTL
// means the write was abandoned mid-flight.
func (s *Service) cleanupOrphanedFragments(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.FragmentTTL)

	complete := make(map[string]struct{})
	var fragments []blob.ObjectInfo

	cursor := ""
	for {
		page, err := s.store.List(ctx, blob.ListOptions{
			Prefix: "transcripts/",
			Cursor: cursor,
			Limit:  blob.DefaultListLimit,
		})
		if err != nil {
			s.logger.Error("retention: transcript listing failed", "error", err)
			return
		}
		for _, obj := range page.Objects {
			if strings.HasSuffix(obj.Key, ".ok") {
				complete[strings.TrimSuffix(obj.Key, ".ok")] = struct{}{}
				continue
			}
			fragments = append(fragments, obj)
		}
		if !page.Truncated {
			break
		}
		cursor = page.Cursor
	}

	removed := 0
	for _, obj := range fragments {
		root := fragmentRoot(obj.Key)
		if _, ok := complete[root]; ok {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			s.logger.Warn("retention: fragment delete failed", "key", obj.Key, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("retention: removed orphaned transcript fragments", "count", removed)
	}
}

// fragmentRoot strips the extension so transcripts/clip-1.json,
// .txt and .vtt all share the root transcripts/clip-1.
func fragmentRoot(key string) string {
	if i := strings.LastIndexByte(key, '.'); i > 0 {
		return key[:i]
	}
	return key
}
