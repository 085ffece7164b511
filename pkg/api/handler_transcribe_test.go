package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/transcribe"
)

func TestTranscribeClip(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Transcriber = &fakeTranscriber{results: map[string]*transcribe.Result{
			"clip-a": {URL: "transcripts/clip-a.json", Summary: "hello world", SizeBytes: 42},
		}}
	})

	w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/transcribe/clip",
		[]byte(`{"clip_id":"clip-a"}`)))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	transcript := body["transcript"].(map[string]any)
	assert.Equal(t, "hello world", transcript["summary"])
}

func TestTranscribeClip_UnknownClip(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Transcriber = &fakeTranscriber{}
	})

	w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/transcribe/clip",
		[]byte(`{"clip_id":"clip-missing"}`)))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTranscribeClip_RejectsUnsafeID(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Transcriber = &fakeTranscriber{}
	})

	for _, id := range []string{"../foo", "a/b", ""} {
		raw, err := json.Marshal(map[string]string{"clip_id": id})
		require.NoError(t, err)
		w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/transcribe/clip", raw))
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
}

func TestTranscribeBatch_PerClipOutcomes(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Transcriber = &fakeTranscriber{results: map[string]*transcribe.Result{
			"clip-a": {URL: "transcripts/clip-a.json", Summary: "ok"},
		}}
	})

	w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/transcribe/batch",
		[]byte(`{"clip_ids":["clip-a","clip-missing"]}`)))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["requested"])
	assert.Equal(t, float64(1), body["succeeded"])
	assert.Equal(t, float64(1), body["failed"])

	results := body["results"].([]any)
	require.Len(t, results, 2)
	second := results[1].(map[string]any)
	assert.Equal(t, "clip not found", second["error"])
}

func TestTranscribeBatch_CapsBatchSize(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Transcriber = &fakeTranscriber{}
	})

	ids := make([]string, 51)
	for i := range ids {
		ids[i] = "clip-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
	}
	raw, err := json.Marshal(map[string]any{"clip_ids": ids})
	require.NoError(t, err)

	w := doRequest(ts, signedRequest(t, http.MethodPost, "/api/transcribe/batch", raw))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscribeStatus(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	transcript := transcribe.Transcript{
		ClipID:    "clip-a",
		CreatedAt: time.Now().UTC(),
		Model:     "whisper-1",
		Language:  "en",
		Text:      "hello world",
		Redacted:  true,
	}
	raw, err := json.Marshal(transcript)
	require.NoError(t, err)
	require.NoError(t, ts.store.Put(ctx, blob.TranscriptKey("clip-a", "json"), raw, "application/json", nil))
	require.NoError(t, ts.store.Put(ctx, blob.TranscriptKey("clip-a", "ok"), []byte("ok"), "text/plain", nil))

	w := doRequest(ts, signedRequest(t, http.MethodGet, "/api/transcribe/status/clip-a", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "completed", body["status"])
	got := body["transcript"].(map[string]any)
	assert.Equal(t, "hello world", got["text"])
}

func TestTranscribeStatus_InFlightFragment(t *testing.T) {
	ts := newTestServer(t)

	raw, err := json.Marshal(transcribe.Transcript{ClipID: "clip-a", Text: "partial"})
	require.NoError(t, err)
	require.NoError(t, ts.store.Put(context.Background(),
		blob.TranscriptKey("clip-a", "json"), raw, "application/json", nil))

	w := doRequest(ts, signedRequest(t, http.MethodGet, "/api/transcribe/status/clip-a", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "processing", body["status"])
	// In-flight transcripts are not exposed.
	assert.NotContains(t, body, "transcript")
}

func TestTranscribeStatus_NotFound(t *testing.T) {
	ts := newTestServer(t)

	w := doRequest(ts, signedRequest(t, http.MethodGet, "/api/transcribe/status/clip-nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
