// Package ingest pulls newly created clips from the broadcast platform
// and advances each clip's content item through the processing
// lifecycle: audio check, transcription, event correlation, scoring.
//
// Every step is idempotent and failure-isolated: a step that cannot
// complete records an error on the item and leaves its status at the
// last committed value, so the next scheduled run re-attempts exactly
// the missing work.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/content"
	"github.com/streamworks/recapd/pkg/ghevents"
	"github.com/streamworks/recapd/pkg/transcribe"
	"github.com/streamworks/recapd/pkg/twitch"
)

// ClipSource lists newly created clips. Satisfied by *twitch.Client.
type ClipSource interface {
	ListRecentClips(ctx context.Context, since time.Time, limit int) ([]twitch.Clip, error)
}

// Transcriber transcribes one stored clip. Satisfied by
// *transcribe.Service.
type Transcriber interface {
	TranscribeClip(ctx context.Context, clipID string) (*transcribe.Result, error)
}

// Correlator finds repository activity near a clip. Satisfied by
// *ghevents.Store.
type Correlator interface {
	FindEventsForClip(ctx context.Context, clipID string, clipCreatedAt time.Time, repo string, window time.Duration) (*ghevents.Context, error)
}

// Config tunes the ingestion pass.
type Config struct {
	// Lookback is how far back clips are pulled on each sync.
	Lookback time.Duration `yaml:"lookback"`

	// Repository narrows event correlation to one repository. Empty
	// correlates against all stored events.
	Repository string `yaml:"repository"`

	// Window is the correlation window either side of a clip's creation
	// time. Zero means the correlator default.
	Window time.Duration `yaml:"window"`

	// Parallelism bounds concurrent item enrichment.
	Parallelism int `yaml:"parallelism"`
}

// DefaultConfig looks back one day and enriches five items at a time.
func DefaultConfig() Config {
	return Config{
		Lookback:    24 * time.Hour,
		Parallelism: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	return c
}

// syncLimit caps how many clips one sync pulls from the platform.
const syncLimit = 100

// Service drives clip ingestion and item enrichment.
type Service struct {
	clips       ClipSource
	store       blob.Store
	items       *content.Manager
	transcriber Transcriber
	correlator  Correlator
	config      Config
	logger      *slog.Logger
}

// NewService creates an ingestion service. clips may be nil to skip the
// platform sync and enrich already-stored items only.
func NewService(clips ClipSource, store blob.Store, items *content.Manager, transcriber Transcriber, correlator Correlator, cfg Config) *Service {
	return &Service{
		clips:       clips,
		store:       store,
		items:       items,
		transcriber: transcriber,
		correlator:  correlator,
		config:      cfg.withDefaults(),
		logger:      slog.Default(),
	}
}

// Stats summarizes one ingestion pass.
type Stats struct {
	ClipsSeen    int `json:"clips_seen"`
	ClipsCreated int `json:"clips_created"`
	Enriched     int `json:"enriched"`
	Ready        int `json:"ready"`
	Failed       int `json:"failed"`
}

// EnrichWindow runs a full pass for one day window: sync new clips, then
// advance every unfinished item whose clip was created inside [from, to).
func (s *Service) EnrichWindow(ctx context.Context, from, to time.Time) error {
	stats := &Stats{}

	if s.clips != nil {
		if err := s.syncClips(ctx, from, stats); err != nil {
			// Sync failure is not fatal: already-stored items still
			// deserve enrichment this run.
			s.logger.Warn("clip sync failed", "error", err)
		}
	}

	if err := s.enrichRange(ctx, from, to, stats); err != nil {
		return err
	}

	s.logger.Info("ingestion pass complete",
		"clips_seen", stats.ClipsSeen,
		"clips_created", stats.ClipsCreated,
		"enriched", stats.Enriched,
		"ready", stats.Ready,
		"failed", stats.Failed)
	return nil
}

// syncClips pulls recent clips and creates pending items for the ones
// not seen before. The clip record itself is stored verbatim under
// clips/{id}.json; the item carries the fields the pipeline needs.
func (s *Service) syncClips(ctx context.Context, since time.Time, stats *Stats) error {
	clips, err := s.clips.ListRecentClips(ctx, since, syncLimit)
	if err != nil {
		return fmt.Errorf("list recent clips: %w", err)
	}
	stats.ClipsSeen = len(clips)

	for i := range clips {
		clip := &clips[i]
		if err := clip.Validate(); err != nil {
			s.logger.Warn("skipping invalid clip", "clip_id", clip.ID, "error", err)
			continue
		}
		created, err := s.ingestClip(ctx, clip)
		if err != nil {
			s.logger.Warn("clip ingestion failed", "clip_id", clip.ID, "error", err)
			continue
		}
		if created {
			stats.ClipsCreated++
		}
	}
	return nil
}

func (s *Service) ingestClip(ctx context.Context, clip *twitch.Clip) (bool, error) {
	if _, err := s.items.Get(ctx, clip.ID, clip.CreatedAt); err == nil {
		return false, nil
	} else if !errors.Is(err, content.ErrNotFound) {
		return false, err
	}

	key := blob.ClipKey(clip.ID)
	if _, err := s.store.Head(ctx, key); errors.Is(err, blob.ErrNotFound) {
		body, err := json.Marshal(clip)
		if err != nil {
			return false, fmt.Errorf("marshal clip %s: %w", clip.ID, err)
		}
		meta := map[string]string{
			"clip-id":    clip.ID,
			"created-at": clip.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := s.store.Put(ctx, key, body, "application/json", meta); err != nil {
			return false, fmt.Errorf("store clip %s: %w", clip.ID, err)
		}
	} else if err != nil {
		return false, err
	}

	item := &content.Item{
		ClipID:           clip.ID,
		ClipTitle:        clip.Title,
		ClipURL:          clip.URL,
		ClipEmbedURL:     clip.EmbedURL,
		ClipThumbnailURL: clip.ThumbnailURL,
		ClipDuration:     clip.DurationSeconds,
		ClipViewCount:    clip.ViewCount,
		ClipCreatedAt:    clip.CreatedAt.UTC(),
		Broadcaster:      clip.Broadcaster,
		Creator:          clip.Creator,
		ProcessingStatus: content.StatusPending,
	}
	if err := s.items.Store(ctx, item); err != nil {
		return false, err
	}
	return true, nil
}

// enrichRange advances unfinished items in the window with bounded
// fan-out. One failing item never aborts the pass.
func (s *Service) enrichRange(ctx context.Context, from, to time.Time, stats *Stats) error {
	var pending []content.Item
	cursor := ""
	for {
		page, err := s.items.List(ctx, content.Query{
			From:   from,
			To:     to,
			Cursor: cursor,
		})
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		for _, item := range page.Items {
			switch item.ProcessingStatus {
			case content.StatusReadyForContent, content.StatusFailed:
				continue
			}
			pending = append(pending, item)
		}
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}

	results := make([]enrichOutcome, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for i := range pending {
		g.Go(func() error {
			results[i] = s.enrichItem(gctx, &pending[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range results {
		if out.advanced {
			stats.Enriched++
		}
		if out.ready {
			stats.Ready++
		}
		if out.failed {
			stats.Failed++
		}
	}
	return nil
}

type enrichOutcome struct {
	advanced bool
	ready    bool
	failed   bool
}

// enrichItem walks one item as far forward as it can this run. Each step
// commits its own status transition, so a later failure never loses
// earlier progress.
func (s *Service) enrichItem(ctx context.Context, item *content.Item) enrichOutcome {
	out := enrichOutcome{}
	log := s.logger.With("clip_id", item.ClipID, "status", item.ProcessingStatus)

	for {
		if err := ctx.Err(); err != nil {
			return out
		}

		var (
			next *content.Item
			err  error
		)
		switch item.ProcessingStatus {
		case content.StatusPending:
			next, err = s.stepAudioCheck(ctx, item)
		case content.StatusAudioReady:
			next, err = s.stepTranscribe(ctx, item)
		case content.StatusTranscribed:
			next, err = s.stepCorrelate(ctx, item)
		case content.StatusEnhanced:
			next, err = s.stepScore(ctx, item)
		default:
			return out
		}

		if err != nil {
			log.Warn("enrichment step failed", "error", err)
			s.recordError(ctx, item, err)
			out.failed = true
			return out
		}
		if next == nil {
			// Step cannot advance yet (audio not extracted). Not an
			// error; the next run re-checks.
			return out
		}

		out.advanced = true
		item = next
		if item.ProcessingStatus == content.StatusReadyForContent {
			out.ready = true
			return out
		}
	}
}

// stepAudioCheck moves pending → audio_ready once the extracted audio
// artifact exists.
func (s *Service) stepAudioCheck(ctx context.Context, item *content.Item) (*content.Item, error) {
	_, err := s.store.Head(ctx, blob.AudioKey(item.ClipID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audio lookup: %w", err)
	}

	status := content.StatusAudioReady
	return s.items.Update(ctx, content.Update{
		ClipID:           item.ClipID,
		ClipCreatedAt:    item.ClipCreatedAt,
		ProcessingStatus: &status,
	})
}

// stepTranscribe moves audio_ready → transcribed via the transcription
// orchestrator. The orchestrator is idempotent, so a clip transcribed by
// an earlier interrupted run is picked up from its stored artifacts.
func (s *Service) stepTranscribe(ctx context.Context, item *content.Item) (*content.Item, error) {
	if s.transcriber == nil {
		return nil, nil
	}
	res, err := s.transcriber.TranscribeClip(ctx, item.ClipID)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	status := content.StatusTranscribed
	return s.items.Update(ctx, content.Update{
		ClipID:              item.ClipID,
		ClipCreatedAt:       item.ClipCreatedAt,
		ProcessingStatus:    &status,
		TranscriptURL:       &res.URL,
		TranscriptSummary:   &res.Summary,
		TranscriptSizeBytes: &res.SizeBytes,
	})
}

// stepCorrelate moves transcribed → enhanced. The correlation record is
// stored as its own artifact and referenced by URL; an empty correlation
// still advances the item so selection can proceed without GitHub
// context.
func (s *Service) stepCorrelate(ctx context.Context, item *content.Item) (*content.Item, error) {
	status := content.StatusEnhanced
	now := time.Now().UTC()
	u := content.Update{
		ClipID:           item.ClipID,
		ClipCreatedAt:    item.ClipCreatedAt,
		ProcessingStatus: &status,
		EnhancedAt:       &now,
	}

	if s.correlator != nil {
		gc, err := s.correlator.FindEventsForClip(ctx, item.ClipID, item.ClipCreatedAt, s.config.Repository, s.config.Window)
		if err != nil {
			return nil, fmt.Errorf("correlate: %w", err)
		}
		if gc.Total() > 0 {
			key := blob.GitHubContextKey(item.ClipID)
			body, err := json.Marshal(gc)
			if err != nil {
				return nil, fmt.Errorf("marshal github context: %w", err)
			}
			meta := map[string]string{
				"clip-id":    item.ClipID,
				"link-count": fmt.Sprintf("%d", gc.Total()),
			}
			if err := s.store.Put(ctx, key, body, "application/json", meta); err != nil {
				return nil, fmt.Errorf("store github context: %w", err)
			}
			summary := gc.Summary()
			u.GitHubContextURL = &key
			u.GitHubSummary = &summary
		}
	}

	return s.items.Update(ctx, u)
}

// stepScore moves enhanced → ready_for_content, attaching the judged
// quality score and category.
func (s *Service) stepScore(ctx context.Context, item *content.Item) (*content.Item, error) {
	score := scoreItem(item)
	category := categorize(item.ClipTitle, item.TranscriptSummary)
	status := content.StatusReadyForContent

	return s.items.Update(ctx, content.Update{
		ClipID:           item.ClipID,
		ClipCreatedAt:    item.ClipCreatedAt,
		ProcessingStatus: &status,
		ContentScore:     &score,
		ContentCategory:  &category,
	})
}

// recordError attaches the failure to the item without advancing its
// status.
func (s *Service) recordError(ctx context.Context, item *content.Item, stepErr error) {
	msg := stepErr.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if _, err := s.items.Update(ctx, content.Update{
		ClipID:        item.ClipID,
		ClipCreatedAt: item.ClipCreatedAt,
		Error:         &msg,
	}); err != nil {
		s.logger.Error("failed to record item error", "clip_id", item.ClipID, "error", err)
	}
}
