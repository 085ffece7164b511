package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamworks/recapd/pkg/jobs"
	"github.com/streamworks/recapd/pkg/worker"
)

func TestGenerate_Async(t *testing.T) {
	ts := newTestServer(t)

	w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/content/generate",
		[]byte(`{"date":"2024-05-10","tz":"UTC"}`)))

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	jobID := body["job_id"].(string)
	assert.Equal(t, "queued", body["status"])

	require.Len(t, ts.queue.enqueued, 1)
	assert.Equal(t, jobID, ts.queue.enqueued[0])

	job, err := ts.jobs.Get(t.Context(), jobID)
	require.NoError(t, err)
	var req worker.GenerateRequest
	require.NoError(t, json.Unmarshal(job.RequestData, &req))
	assert.Equal(t, "2024-05-10", req.Date)
}

func TestGenerate_Sync(t *testing.T) {
	exec := &fakeExecutor{result: &worker.ExecutionResult{
		Status:  jobs.StatusCompleted,
		Results: json.RawMessage(`{"post_id":"2024-05-10"}`),
	}}
	ts := newTestServer(t, func(d *Deps) { d.Executor = exec })

	w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/content/generate",
		[]byte(`{"date":"2024-05-10","sync":true}`)))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, 1, exec.calls)
	// Sync runs never touch the queue.
	assert.Empty(t, ts.queue.enqueued)

	job, err := ts.jobs.Get(t.Context(), body["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.JSONEq(t, `{"post_id":"2024-05-10"}`, string(job.Results))
}

func TestGenerate_SyncFailure(t *testing.T) {
	exec := &fakeExecutor{result: &worker.ExecutionResult{
		Status: jobs.StatusFailed,
		Err:    assert.AnError,
	}}
	ts := newTestServer(t, func(d *Deps) { d.Executor = exec })

	w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/content/generate",
		[]byte(`{"sync":true}`)))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, false, body["success"])
}

func TestGenerate_ValidatesRequest(t *testing.T) {
	ts := newTestServer(t)

	for name, body := range map[string]string{
		"bad date": `{"date":"05/10/2024"}`,
		"bad tz":   `{"tz":"Mars/Olympus"}`,
	} {
		w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/content/generate", []byte(body)))
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestJobStatus(t *testing.T) {
	ts := newTestServer(t)
	job, err := ts.jobs.Create(t.Context(), json.RawMessage(`{}`), jobs.DefaultTTL)
	require.NoError(t, err)

	w := doRequest(ts, signedRequest(t, http.MethodGet, "/api/jobs/"+job.ID+"/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody(t, w)["job"].(map[string]any)
	assert.Equal(t, job.ID, got["job_id"])
	assert.Equal(t, "queued", got["status"])
}

func TestJobStatus_NotFound(t *testing.T) {
	ts := newTestServer(t)

	w := doRequest(ts, signedRequest(t, http.MethodGet, "/api/jobs/nope/status", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs_StatusFilter(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.jobs.Create(t.Context(), json.RawMessage(`{}`), jobs.DefaultTTL)
	require.NoError(t, err)

	w := doRequest(ts, signedRequest(t, http.MethodGet, "/api/jobs?status=queued", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])

	w = doRequest(ts, signedRequest(t, http.MethodGet, "/api/jobs?status=completed", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeBody(t, w)["count"])
}

func TestListJobs_ValidatesQuery(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/api/jobs?status=sideways",
		"/api/jobs?order=upside-down",
		"/api/jobs?limit=0",
		"/api/jobs?limit=101",
	} {
		w := doRequest(ts, signedRequest(t, http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestJobStats(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.jobs.Create(t.Context(), json.RawMessage(`{}`), jobs.DefaultTTL)
	require.NoError(t, err)

	w := doRequest(ts, signedRequest(t, http.MethodGet, "/api/jobs/stats?window_hours=1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["window_hours"])
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total"])
}

func TestJobCleanup(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.jobs.Create(t.Context(), json.RawMessage(`{}`), -time.Hour)
	require.NoError(t, err)

	w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/jobs/cleanup", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["deleted"])
}
