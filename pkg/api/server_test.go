package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/jobs"
	"github.com/streamworks/recapd/pkg/transcribe"
	"github.com/streamworks/recapd/pkg/twitch"
	"github.com/streamworks/recapd/pkg/worker"
)

const (
	testSecret        = "test-envelope-secret"
	testWebhookSecret = "test-webhook-secret"
)

// fakeJobStore is an in-memory JobStore honoring the transition rules the
// real store enforces.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*jobs.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*jobs.Job)}
}

func (f *fakeJobStore) Create(_ context.Context, requestData json.RawMessage, ttl time.Duration) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	job := &jobs.Job{
		ID:          jobs.NewID(),
		Status:      jobs.StatusQueued,
		RequestData: requestData,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	f.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (f *fakeJobStore) Get(_ context.Context, id string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return cloneJob(job), nil
}

func (f *fakeJobStore) UpdateStatus(_ context.Context, id string, u jobs.Update) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	switch {
	case u.Status == jobs.StatusProcessing && job.Status == jobs.StatusQueued:
		now := time.Now().UTC()
		job.Status = jobs.StatusProcessing
		job.WorkerID = u.WorkerID
		job.StartedAt = &now
	case u.Status == jobs.StatusProcessing && job.Status == jobs.StatusProcessing:
		if job.WorkerID != u.WorkerID {
			return nil, jobs.ErrAlreadyClaimed
		}
		if u.Progress != nil {
			job.Progress = *u.Progress
		}
	case u.Status == jobs.StatusProcessing:
		return nil, jobs.ErrAlreadyClaimed
	case u.Status.Terminal() && job.Status == jobs.StatusProcessing:
		now := time.Now().UTC()
		job.Status = u.Status
		job.Results = u.Results
		job.Error = u.Error
		job.CompletedAt = &now
	default:
		return nil, jobs.ErrInvalidTransition
	}
	return cloneJob(job), nil
}

func (f *fakeJobStore) List(_ context.Context, q jobs.ListQuery) (*jobs.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := &jobs.Page{}
	for _, job := range f.jobs {
		if q.Status != "" && job.Status != q.Status {
			continue
		}
		page.Jobs = append(page.Jobs, cloneJob(job))
	}
	return page, nil
}

func (f *fakeJobStore) Stats(_ context.Context, window time.Duration) (*jobs.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &jobs.Stats{Window: window, ByStatus: make(map[jobs.Status]int)}
	for _, job := range f.jobs {
		stats.Total++
		stats.ByStatus[job.Status]++
	}
	return stats, nil
}

func (f *fakeJobStore) CleanupExpired(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, job := range f.jobs {
		if job.ExpiresAt.Before(time.Now()) {
			delete(f.jobs, id)
			n++
		}
	}
	return n, nil
}

func cloneJob(j *jobs.Job) *jobs.Job {
	c := *j
	return &c
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	pingErr  error
}

func (f *fakeQueue) Enqueue(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func (f *fakeQueue) Ping(_ context.Context) error { return f.pingErr }

type fakeClipSource struct {
	clips       []twitch.Clip
	listErr     error
	validateErr error
}

func (f *fakeClipSource) ListRecentClips(_ context.Context, _ time.Time, limit int) ([]twitch.Clip, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.clips) > limit {
		return f.clips[:limit], nil
	}
	return f.clips, nil
}

func (f *fakeClipSource) ValidateCredentials(_ context.Context) error { return f.validateErr }

type testServer struct {
	server *Server
	router *gin.Engine
	store  *blob.MemoryStore
	jobs   *fakeJobStore
	queue  *fakeQueue
}

func newTestServer(t *testing.T, mutate ...func(*Deps)) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := blob.NewMemoryStore()
	jobStore := newFakeJobStore()
	queue := &fakeQueue{}

	deps := Deps{
		Store: store,
		Jobs:  jobStore,
		Queue: queue,
		Redis: rdb,
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv := NewServer(Config{
		Secret:        testSecret,
		WebhookSecret: testWebhookSecret,
	}, deps)

	return &testServer{
		server: srv,
		router: srv.Router(),
		store:  store,
		jobs:   jobStore,
		queue:  queue,
	}
}

// signedRequest builds a request carrying a valid envelope.
func signedRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := fmt.Sprintf("nonce-%d", time.Now().UnixNano())
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, Sign(testSecret, body, timestamp, nonce))
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func doRequest(ts *testServer, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func testClip(id string) twitch.Clip {
	return twitch.Clip{
		ID:              id,
		Title:           "Debugging the queue",
		URL:             "https://clips.twitch.tv/" + id,
		EmbedURL:        "https://clips.twitch.tv/embed?clip=" + id,
		DurationSeconds: 45,
		ViewCount:       12,
		CreatedAt:       time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC),
		Broadcaster:     "streamdev",
		Creator:         "clipper",
	}
}

// mustClipJSON returns the JSON encoding of a valid test clip.
func mustClipJSON(t *testing.T, id string) string {
	t.Helper()
	body, err := json.Marshal(testClip(id))
	require.NoError(t, err)
	return string(body)
}

// putClip seeds one stored clip record.
func putClip(t *testing.T, store blob.Store, clip twitch.Clip) {
	t.Helper()
	body, err := json.Marshal(clip)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), blob.ClipKey(clip.ID), body,
		"application/json", blob.Metadata{"clip-id": clip.ID}))
}

var _ worker.Executor = (*fakeExecutor)(nil)

type fakeExecutor struct {
	mu     sync.Mutex
	calls  int
	result *worker.ExecutionResult
}

func (f *fakeExecutor) Execute(_ context.Context, _ *jobs.Job) *worker.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

type fakeTranscriber struct {
	results map[string]*transcribe.Result
	err     error
}

func (f *fakeTranscriber) TranscribeClip(_ context.Context, clipID string) (*transcribe.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[clipID]; ok {
		return res, nil
	}
	return nil, blob.ErrNotFound
}

func (f *fakeTranscriber) TranscribeBatch(ctx context.Context, clipIDs []string) []transcribe.BatchItem {
	items := make([]transcribe.BatchItem, 0, len(clipIDs))
	for _, id := range clipIDs {
		res, err := f.TranscribeClip(ctx, id)
		items = append(items, transcribe.BatchItem{ClipID: id, Result: res, Err: err})
	}
	return items
}
