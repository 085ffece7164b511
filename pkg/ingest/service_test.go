package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/content"
	"github.com/streamworks/recapd/pkg/ghevents"
	"github.com/streamworks/recapd/pkg/transcribe"
	"github.com/streamworks/recapd/pkg/twitch"
)

type stubClipSource struct {
	clips []twitch.Clip
	err   error
}

func (s *stubClipSource) ListRecentClips(_ context.Context, _ time.Time, _ int) ([]twitch.Clip, error) {
	return s.clips, s.err
}

type stubTranscriber struct {
	result *transcribe.Result
	err    error
	calls  int
}

func (s *stubTranscriber) TranscribeClip(_ context.Context, _ string) (*transcribe.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubCorrelator struct {
	gc  *ghevents.Context
	err error
}

func (s *stubCorrelator) FindEventsForClip(_ context.Context, clipID string, _ time.Time, _ string, _ time.Duration) (*ghevents.Context, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.gc != nil {
		return s.gc, nil
	}
	return &ghevents.Context{ClipID: clipID}, nil
}

func testClip(id string, createdAt time.Time) twitch.Clip {
	return twitch.Clip{
		ID:              id,
		Title:           "Fixing the flaky deploy",
		URL:             "https://clips.example/" + id,
		DurationSeconds: 45,
		ViewCount:       12,
		CreatedAt:       createdAt,
	}
}

func seedItem(t *testing.T, items *content.Manager, clipID string, createdAt time.Time, status content.Status) {
	t.Helper()
	ctx := context.Background()
	item := &content.Item{
		ClipID:           clipID,
		ClipTitle:        "Fixing the flaky deploy",
		ClipURL:          "https://clips.example/" + clipID,
		ClipDuration:     45,
		ClipViewCount:    12,
		ClipCreatedAt:    createdAt,
		ProcessingStatus: content.StatusPending,
	}
	require.NoError(t, items.Store(ctx, item))
	if status != content.StatusPending {
		st := status
		_, err := items.Update(ctx, content.Update{
			ClipID:           clipID,
			ClipCreatedAt:    createdAt,
			ProcessingStatus: &st,
		})
		require.NoError(t, err)
	}
}

func dayWindow(day time.Time) (time.Time, time.Time) {
	return day, day.Add(24 * time.Hour)
}

func TestSyncClips_CreatesPendingItems(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	items := content.NewManager(store)
	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)

	source := &stubClipSource{clips: []twitch.Clip{
		testClip("ClipA_01", createdAt),
		{ID: "../evil", Title: "bad", URL: "https://x", CreatedAt: createdAt},
	}}
	svc := NewService(source, store, items, nil, nil, Config{})

	from, to := dayWindow(createdAt.Truncate(24 * time.Hour))
	require.NoError(t, svc.EnrichWindow(ctx, from, to))

	// Valid clip stored and tracked; unsafe id skipped entirely.
	_, err := store.Head(ctx, blob.ClipKey("ClipA_01"))
	require.NoError(t, err)

	item, err := items.Get(ctx, "ClipA_01", createdAt)
	require.NoError(t, err)
	// No audio artifact yet, so the item waits at pending.
	assert.Equal(t, content.StatusPending, item.ProcessingStatus)

	_, err = store.Head(ctx, blob.ClipKey("../evil"))
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestSyncClips_IdempotentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	items := content.NewManager(store)
	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)

	source := &stubClipSource{clips: []twitch.Clip{testClip("ClipA_01", createdAt)}}
	svc := NewService(source, store, items, nil, nil, Config{})

	from, to := dayWindow(createdAt.Truncate(24 * time.Hour))
	require.NoError(t, svc.EnrichWindow(ctx, from, to))
	require.NoError(t, svc.EnrichWindow(ctx, from, to))

	page, err := items.List(ctx, content.Query{From: from, To: to})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestEnrich_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	items := content.NewManager(store)
	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)

	seedItem(t, items, "ClipA_01", createdAt, content.StatusPending)
	require.NoError(t, store.Put(ctx, blob.AudioKey("ClipA_01"), []byte("RIFF audio"), "audio/wav", nil))

	tr := &stubTranscriber{result: &transcribe.Result{
		URL:       blob.TranscriptKey("ClipA_01", "json"),
		Summary:   "walking through the deploy fix and the merged pull request",
		SizeBytes: 2048,
	}}
	corr := &stubCorrelator{gc: &ghevents.Context{
		ClipID: "ClipA_01",
		LinkedPRs: []ghevents.Link{{
			Title:       "Fix deploy race",
			URL:         "https://github.com/acme/recapd/pull/7",
			Timestamp:   createdAt.Add(-20 * time.Minute),
			Confidence:  ghevents.ConfidenceHigh,
			MatchReason: "temporal_proximity",
		}},
		ConfidenceScore: 0.8,
	}}

	svc := NewService(nil, store, items, tr, corr, Config{})
	from, to := dayWindow(createdAt.Truncate(24 * time.Hour))
	require.NoError(t, svc.EnrichWindow(ctx, from, to))

	item, err := items.Get(ctx, "ClipA_01", createdAt)
	require.NoError(t, err)
	assert.Equal(t, content.StatusReadyForContent, item.ProcessingStatus)
	assert.Equal(t, blob.TranscriptKey("ClipA_01", "json"), item.TranscriptURL)
	assert.Equal(t, int64(2048), item.TranscriptSizeBytes)
	assert.Equal(t, blob.GitHubContextKey("ClipA_01"), item.GitHubContextURL)
	assert.NotEmpty(t, item.GitHubSummary)
	assert.NotNil(t, item.EnhancedAt)
	require.NotNil(t, item.ContentScore)
	assert.Greater(t, *item.ContentScore, 0.5)
	assert.Equal(t, content.CategoryDevelopment, item.ContentCategory)

	// Correlation record persisted as its own artifact.
	_, err = store.Head(ctx, blob.GitHubContextKey("ClipA_01"))
	require.NoError(t, err)
}

func TestEnrich_AudioMissingLeavesPending(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	items := content.NewManager(store)
	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)

	seedItem(t, items, "ClipA_01", createdAt, content.StatusPending)

	svc := NewService(nil, store, items, &stubTranscriber{}, &stubCorrelator{}, Config{})
	from, to := dayWindow(createdAt.Truncate(24 * time.Hour))
	require.NoError(t, svc.EnrichWindow(ctx, from, to))

	item, err := items.Get(ctx, "ClipA_01", createdAt)
	require.NoError(t, err)
	assert.Equal(t, content.StatusPending, item.ProcessingStatus)
	assert.Empty(t, item.Error)
}

func TestEnrich_TranscribeFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	items := content.NewManager(store)
	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)

	seedItem(t, items, "ClipA_01", createdAt, content.StatusAudioReady)

	tr := &stubTranscriber{err: errors.New("transcription-failed")}
	svc := NewService(nil, store, items, tr, &stubCorrelator{}, Config{})
	from, to := dayWindow(createdAt.Truncate(24 * time.Hour))
	require.NoError(t, svc.EnrichWindow(ctx, from, to))

	item, err := items.Get(ctx, "ClipA_01", createdAt)
	require.NoError(t, err)
	// Status stays at its last committed value so the next run retries.
	assert.Equal(t, content.StatusAudioReady, item.ProcessingStatus)
	assert.Contains(t, item.Error, "transcription-failed")
}

func TestEnrich_EmptyCorrelationStillAdvances(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	items := content.NewManager(store)
	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)

	seedItem(t, items, "ClipA_01", createdAt, content.StatusTranscribed)

	svc := NewService(nil, store, items, &stubTranscriber{}, &stubCorrelator{}, Config{})
	from, to := dayWindow(createdAt.Truncate(24 * time.Hour))
	require.NoError(t, svc.EnrichWindow(ctx, from, to))

	item, err := items.Get(ctx, "ClipA_01", createdAt)
	require.NoError(t, err)
	assert.Equal(t, content.StatusReadyForContent, item.ProcessingStatus)
	assert.Empty(t, item.GitHubContextURL)

	_, err = store.Head(ctx, blob.GitHubContextKey("ClipA_01"))
	assert.ErrorIs(t, err, blob.ErrNotFound, "no context artifact for an empty correlation")
}

func TestEnrich_SkipsTerminalItems(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	items := content.NewManager(store)
	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)

	seedItem(t, items, "ClipA_01", createdAt, content.StatusTranscribed)
	st := content.StatusFailed
	_, err := items.Update(ctx, content.Update{
		ClipID:           "ClipA_01",
		ClipCreatedAt:    createdAt,
		ProcessingStatus: &st,
	})
	require.NoError(t, err)

	tr := &stubTranscriber{}
	svc := NewService(nil, store, items, tr, &stubCorrelator{}, Config{})
	from, to := dayWindow(createdAt.Truncate(24 * time.Hour))
	require.NoError(t, svc.EnrichWindow(ctx, from, to))

	assert.Zero(t, tr.calls)
}
