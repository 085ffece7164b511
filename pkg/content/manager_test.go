package content

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamworks/recapd/pkg/blob"
)

func newTestItem(clipID string, createdAt time.Time) *Item {
	return &Item{
		SchemaVersion:    SchemaVersion,
		ClipID:           clipID,
		ClipTitle:        "Debugging the ingest pipeline",
		ClipURL:          "https://clips.example/" + clipID,
		ClipDuration:     45,
		ClipViewCount:    10,
		ClipCreatedAt:    createdAt,
		ProcessingStatus: StatusPending,
	}
}

func strPtr(s string) *string    { return &s }
func statusPtr(s Status) *Status { return &s }
func f64Ptr(f float64) *float64  { return &f }
func i64Ptr(i int64) *int64      { return &i }

func TestStoreAndGet(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	m := NewManager(store)

	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	require.NoError(t, m.Store(ctx, newTestItem("ClipA_01", createdAt)))

	// Key derivation follows UTC year/month of clip_created_at.
	info, err := store.Head(ctx, "content-items/2024/05/ClipA_01.json")
	require.NoError(t, err)
	assert.Equal(t, "pending", info.Metadata["processing-status"])
	assert.Equal(t, "ClipA_01", info.Metadata["clip-id"])

	got, err := m.Get(ctx, "ClipA_01", createdAt)
	require.NoError(t, err)
	assert.Equal(t, "ClipA_01", got.ClipID)
	assert.False(t, got.StoredAt.IsZero(), "stored_at stamped server-side")
}

func TestStore_RejectsUnsafeClipID(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	m := NewManager(store)

	item := newTestItem("../foo", time.Now())
	assert.Error(t, m.Store(ctx, item))
	assert.Zero(t, store.Len(), "no artifact-store write after validation failure")

	item = newTestItem("a/b", time.Now())
	assert.Error(t, m.Store(ctx, item))
	assert.Zero(t, store.Len())
}

func TestGet_NotFound(t *testing.T) {
	m := NewManager(blob.NewMemoryStore())
	_, err := m.Get(context.Background(), "Nope", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_AdvancesStatus(t *testing.T) {
	ctx := context.Background()
	m := NewManager(blob.NewMemoryStore())

	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	require.NoError(t, m.Store(ctx, newTestItem("ClipA_01", createdAt)))

	updated, err := m.Update(ctx, Update{
		ClipID:              "ClipA_01",
		ClipCreatedAt:       createdAt,
		ProcessingStatus:    statusPtr(StatusTranscribed),
		TranscriptURL:       strPtr("transcripts/ClipA_01.json"),
		TranscriptSummary:   strPtr("hello world"),
		TranscriptSizeBytes: i64Ptr(1024),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusTranscribed, updated.ProcessingStatus)
	assert.Equal(t, "transcripts/ClipA_01.json", updated.TranscriptURL)

	// Immutables survive the round trip.
	assert.Equal(t, "Debugging the ingest pipeline", updated.ClipTitle)
	assert.Equal(t, createdAt, updated.ClipCreatedAt)
}

func TestUpdate_ForbidsRegression(t *testing.T) {
	ctx := context.Background()
	m := NewManager(blob.NewMemoryStore())

	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	item := newTestItem("ClipA_01", createdAt)
	item.ProcessingStatus = StatusTranscribed
	require.NoError(t, m.Store(ctx, item))

	_, err := m.Update(ctx, Update{
		ClipID:           "ClipA_01",
		ClipCreatedAt:    createdAt,
		ProcessingStatus: statusPtr(StatusPending),
	})
	assert.ErrorIs(t, err, ErrStatusRegression)
}

func TestUpdate_FailedIsTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewManager(blob.NewMemoryStore())

	createdAt := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	item := newTestItem("ClipA_01", createdAt)
	item.ProcessingStatus = StatusFailed
	require.NoError(t, m.Store(ctx, item))

	_, err := m.Update(ctx, Update{
		ClipID:           "ClipA_01",
		ClipCreatedAt:    createdAt,
		ProcessingStatus: statusPtr(StatusEnhanced),
	})
	assert.ErrorIs(t, err, ErrStatusRegression)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusAudioReady, true},
		{StatusPending, StatusReadyForContent, true},
		{StatusAudioReady, StatusTranscribed, true},
		{StatusTranscribed, StatusTranscribed, true},
		{StatusEnhanced, StatusFailed, true},
		{StatusTranscribed, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusReadyForContent, StatusEnhanced, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestList_ByStatusAndDateRange(t *testing.T) {
	ctx := context.Background()
	m := NewManager(blob.NewMemoryStore())

	may10 := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	may11 := time.Date(2024, 5, 11, 12, 0, 0, 0, time.UTC)
	jun01 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	a := newTestItem("clip-a", may10)
	a.ProcessingStatus = StatusTranscribed
	b := newTestItem("clip-b", may11)
	c := newTestItem("clip-c", jun01)
	c.ProcessingStatus = StatusTranscribed
	for _, it := range []*Item{a, b, c} {
		require.NoError(t, m.Store(ctx, it))
	}

	page, err := m.List(ctx, Query{
		From:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC),
		Status: StatusTranscribed,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "clip-a", page.Items[0].ClipID)
	assert.Equal(t, "clip-c", page.Items[1].ClipID)
	assert.False(t, page.HasMore)
}

func TestList_CursorPagination(t *testing.T) {
	ctx := context.Background()
	m := NewManager(blob.NewMemoryStore())

	created := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"clip-a", "clip-b", "clip-c"} {
		require.NoError(t, m.Store(ctx, newTestItem(id, created)))
	}

	page, err := m.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasMore)
	require.NotEmpty(t, page.Cursor)

	page2, err := m.List(ctx, Query{Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.Equal(t, "clip-c", page2.Items[0].ClipID)
	assert.False(t, page2.HasMore)
}

func TestStatusCounts(t *testing.T) {
	ctx := context.Background()
	m := NewManager(blob.NewMemoryStore())

	created := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	a := newTestItem("clip-a", created)
	b := newTestItem("clip-b", created)
	b.ProcessingStatus = StatusTranscribed
	c := newTestItem("clip-c", created)
	c.ProcessingStatus = StatusTranscribed
	for _, it := range []*Item{a, b, c} {
		require.NoError(t, m.Store(ctx, it))
	}

	counts, err := m.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 2, counts[StatusTranscribed])
}

func TestItemValidate(t *testing.T) {
	created := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	item := newTestItem("clip-a", created)
	item.ContentScore = f64Ptr(1.5)
	assert.Error(t, item.Validate())

	item = newTestItem("clip-a", created)
	item.ContentCategory = Category("music")
	assert.Error(t, item.Validate())

	item = newTestItem("clip-a", created)
	item.ContentCategory = CategoryDevelopment
	assert.NoError(t, item.Validate())
}
