package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamworks/recapd/pkg/blob"
)

type fakeJobCleaner struct {
	mu      sync.Mutex
	calls   int
	expired int64
	err     error
}

func (f *fakeJobCleaner) CleanupExpired(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.expired, f.err
}

func (f *fakeJobCleaner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func put(t *testing.T, store blob.Store, key string) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), key, []byte("x"), "application/octet-stream", nil))
}

func exists(t *testing.T, store blob.Store, key string) bool {
	t.Helper()
	_, err := store.Head(context.Background(), key)
	return err == nil
}

func TestCleanupOrphanedFragments(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	// Complete transcript: all fragments plus the marker.
	put(t, store, "transcripts/clip-done.json")
	put(t, store, "transcripts/clip-done.txt")
	put(t, store, "transcripts/clip-done.vtt")
	put(t, store, "transcripts/clip-done.ok")

	// Abandoned write: fragments with no marker.
	put(t, store, "transcripts/clip-orphan.json")
	put(t, store, "transcripts/clip-orphan.txt")

	svc := NewService(Config{Interval: time.Hour, FragmentTTL: time.Nanosecond}, &fakeJobCleaner{}, store)
	time.Sleep(5 * time.Millisecond) // age the fragments past the TTL
	svc.cleanupOrphanedFragments(ctx)

	assert.True(t, exists(t, store, "transcripts/clip-done.json"))
	assert.True(t, exists(t, store, "transcripts/clip-done.ok"))
	assert.False(t, exists(t, store, "transcripts/clip-orphan.json"))
	assert.False(t, exists(t, store, "transcripts/clip-orphan.txt"))
}

func TestCleanupOrphanedFragments_RespectsTTL(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	put(t, store, "transcripts/clip-young.json")

	svc := NewService(Config{Interval: time.Hour, FragmentTTL: time.Hour}, &fakeJobCleaner{}, store)
	svc.cleanupOrphanedFragments(ctx)

	assert.True(t, exists(t, store, "transcripts/clip-young.json"),
		"fresh fragments stay until the TTL passes")
}

func TestRunAll(t *testing.T) {
	cleaner := &fakeJobCleaner{expired: 3}
	svc := NewService(DefaultConfig(), cleaner, blob.NewMemoryStore())

	svc.RunAll(context.Background())
	assert.Equal(t, 1, cleaner.count())
}

func TestService_Lifecycle(t *testing.T) {
	cleaner := &fakeJobCleaner{}
	svc := NewService(Config{Interval: 20 * time.Millisecond, FragmentTTL: time.Hour}, cleaner, blob.NewMemoryStore())

	svc.Stop() // not started: no-op
	svc.Start(context.Background())
	svc.Start(context.Background()) // duplicate Start is a no-op

	// One pass at startup, then ticks.
	require.Eventually(t, func() bool {
		return cleaner.count() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	svc.Stop()
}

func TestFragmentRoot(t *testing.T) {
	assert.Equal(t, "transcripts/clip-1", fragmentRoot("transcripts/clip-1.json"))
	assert.Equal(t, "transcripts/clip-1", fragmentRoot("transcripts/clip-1.vtt"))
	assert.Equal(t, "transcripts/noext", fragmentRoot("transcripts/noext"))
}
