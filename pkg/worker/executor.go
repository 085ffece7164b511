package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/draft"
	"github.com/streamworks/recapd/pkg/jobs"
	"github.com/streamworks/recapd/pkg/manifest"
	"github.com/streamworks/recapd/pkg/render"
)

// Pipeline stage names, in execution order.
const (
	StageFetchingContentItems = "fetching_content_items"
	StageBuildingManifest     = "building_manifest"
	StageAIContentJudgment    = "ai_content_judgment"
	StagePreparingResponse    = "preparing_response"
	StageCompleting           = "completing"
)

const stageTotal = 5

// GenerateRequest is the request_data payload of a generate job.
type GenerateRequest struct {
	// Date is the recap day as YYYY-MM-DD. Empty means today in TZ.
	Date string `json:"date,omitempty"`

	// TZ is the IANA timezone the day window is computed in.
	TZ string `json:"tz,omitempty"`
}

// GenerateResults is the results payload of a completed generate job.
type GenerateResults struct {
	PostID       string `json:"post_id"`
	ManifestKey  string `json:"manifest_key"`
	ArticleKey   string `json:"article_key"`
	SectionCount int    `json:"section_count"`
	ClipCount    int    `json:"clip_count"`
	DraftReused  bool   `json:"draft_reused"`
}

// Enricher prepares the day's content items before selection: clip
// sync, transcription, correlation, scoring. Satisfied by
// *ingest.Service.
type Enricher interface {
	EnrichWindow(ctx context.Context, from, to time.Time) error
}

// PipelineExecutor drives the five-stage generation pipeline for one job.
type PipelineExecutor struct {
	jobs     JobStore
	store    blob.Store
	builder  *manifest.Builder
	drafter  *draft.Drafter
	renderer *render.Renderer
	enricher Enricher
	logger   *slog.Logger
}

// NewPipelineExecutor wires the pipeline stages.
func NewPipelineExecutor(jobStore JobStore, store blob.Store, builder *manifest.Builder, drafter *draft.Drafter, renderer *render.Renderer) *PipelineExecutor {
	return &PipelineExecutor{
		jobs:     jobStore,
		store:    store,
		builder:  builder,
		drafter:  drafter,
		renderer: renderer,
		logger:   slog.Default(),
	}
}

// SetEnricher attaches the ingestion service run during the first stage.
// Without one the pipeline selects from already-enriched items only.
func (e *PipelineExecutor) SetEnricher(enricher Enricher) {
	e.enricher = enricher
}

// Execute runs the pipeline, checking the job's status at every stage
// boundary so external cancellation is honored between stages.
func (e *PipelineExecutor) Execute(ctx context.Context, job *jobs.Job) *ExecutionResult {
	req, err := parseRequest(job.RequestData)
	if err != nil {
		return &ExecutionResult{Status: jobs.StatusFailed, Err: err}
	}

	loc, err := time.LoadLocation(req.TZ)
	if err != nil {
		return &ExecutionResult{Status: jobs.StatusFailed, Err: fmt.Errorf("load timezone %q: %w", req.TZ, err)}
	}
	day, err := recapDay(req.Date, loc)
	if err != nil {
		return &ExecutionResult{Status: jobs.StatusFailed, Err: err}
	}

	log := e.logger.With("job_id", job.ID, "post_id", day.Format("2006-01-02"))

	// Stage 1: bring the day's content items up to date, then resolve
	// any prior manifest for this post. A prior manifest's gen record
	// makes re-drafting idempotent.
	if err := e.checkpoint(ctx, job, StageFetchingContentItems, 1); err != nil {
		return interrupted(err)
	}
	if e.enricher != nil {
		if err := e.enricher.EnrichWindow(ctx, day, day.Add(24*time.Hour)); err != nil {
			return &ExecutionResult{Status: jobs.StatusFailed, Err: fmt.Errorf("enrich content items: %w", err)}
		}
	}
	prior := e.loadPriorManifest(ctx, day)
	if prior != nil {
		log.Info("prior manifest found, drafts may be reused")
	}

	// Stage 2: select content and assemble the manifest.
	if err := e.checkpoint(ctx, job, StageBuildingManifest, 2); err != nil {
		return interrupted(err)
	}
	m, err := e.builder.Build(ctx, day, req.TZ)
	if err != nil {
		return &ExecutionResult{Status: jobs.StatusFailed, Err: fmt.Errorf("build manifest: %w", err)}
	}
	if prior != nil {
		m.Gen = prior.Gen
		m.Draft = prior.Draft
		m.Judge = prior.Judge
	}

	// Stage 3: draft the prose.
	if err := e.checkpoint(ctx, job, StageAIContentJudgment, 3); err != nil {
		return interrupted(err)
	}
	dres, err := e.drafter.GenerateDraft(ctx, m)
	if err != nil {
		return &ExecutionResult{Status: jobs.StatusFailed, Err: fmt.Errorf("generate draft: %w", err)}
	}
	m.Draft = dres.Draft
	m.Gen = dres.Gen

	// Stage 4: persist the manifest and render the article.
	if err := e.checkpoint(ctx, job, StagePreparingResponse, 4); err != nil {
		return interrupted(err)
	}
	manifestKey, err := e.storeManifest(ctx, m, day)
	if err != nil {
		return &ExecutionResult{Status: jobs.StatusFailed, Err: err}
	}
	articleKey, err := e.renderer.Render(ctx, m)
	if err != nil {
		return &ExecutionResult{Status: jobs.StatusFailed, Err: fmt.Errorf("render article: %w", err)}
	}

	// Stage 5: assemble the results payload.
	if err := e.checkpoint(ctx, job, StageCompleting, 5); err != nil {
		return interrupted(err)
	}
	results, err := json.Marshal(GenerateResults{
		PostID:       m.PostID,
		ManifestKey:  manifestKey,
		ArticleKey:   articleKey,
		SectionCount: len(m.Sections),
		ClipCount:    len(m.ClipIDs),
		DraftReused:  dres.Reused,
	})
	if err != nil {
		return &ExecutionResult{Status: jobs.StatusFailed, Err: fmt.Errorf("encode results: %w", err)}
	}

	log.Info("pipeline complete", "manifest_key", manifestKey, "article_key", articleKey)
	return &ExecutionResult{Status: jobs.StatusCompleted, Results: results}
}

// checkpoint verifies the job is still live and records stage progress.
// A job that left the processing state aborts the pipeline.
func (e *PipelineExecutor) checkpoint(ctx context.Context, job *jobs.Job, step string, current int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j, err := e.jobs.Get(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJobInterrupted, err)
	}
	if j.Status != jobs.StatusProcessing {
		return fmt.Errorf("%w: status is %s", ErrJobInterrupted, j.Status)
	}

	if _, err := e.jobs.UpdateStatus(ctx, job.ID, jobs.Update{
		Status:   jobs.StatusProcessing,
		WorkerID: job.WorkerID,
		Progress: &jobs.Progress{Step: step, Current: current, Total: stageTotal},
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrJobInterrupted, err)
	}
	return nil
}

func interrupted(err error) *ExecutionResult {
	return &ExecutionResult{Status: jobs.StatusFailed, Err: err}
}

func parseRequest(raw json.RawMessage) (*GenerateRequest, error) {
	req := &GenerateRequest{TZ: "UTC"}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, fmt.Errorf("decode request data: %w", err)
		}
	}
	if req.TZ == "" {
		req.TZ = "UTC"
	}
	return req, nil
}

func recapDay(date string, loc *time.Location) (time.Time, error) {
	if date == "" {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return day, nil
}

// loadPriorManifest fetches a previously stored manifest for the day, if
// one exists. Absence is not an error.
func (e *PipelineExecutor) loadPriorManifest(ctx context.Context, day time.Time) *manifest.Manifest {
	// Local noon keeps the UTC-derived month bucket on the right day even
	// for timezones far from UTC.
	key := blob.ManifestKey(day.Add(12*time.Hour), day.Format("2006-01-02"))
	obj, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			e.logger.Warn("prior manifest lookup failed", "key", key, "error", err)
		}
		return nil
	}
	var m manifest.Manifest
	if err := json.Unmarshal(obj.Body, &m); err != nil {
		e.logger.Warn("prior manifest undecodable", "key", key, "error", err)
		return nil
	}
	return &m
}

func (e *PipelineExecutor) storeManifest(ctx context.Context, m *manifest.Manifest, day time.Time) (string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	key := blob.ManifestKey(day.Add(12*time.Hour), m.PostID)
	meta := map[string]string{
		"post-id":   m.PostID,
		"post-kind": string(m.PostKind),
		"status":    string(m.Status),
	}
	if err := e.store.Put(ctx, key, body, "application/json", meta); err != nil {
		return "", fmt.Errorf("store manifest %s: %w", key, err)
	}
	return key, nil
}
