package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeAuth_ValidSignature(t *testing.T) {
	ts := newTestServer(t)

	w := doRequest(ts, signedRequest(t, http.MethodGet, "/api/jobs", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnvelopeAuth_RejectsEveryFailureIdentically(t *testing.T) {
	ts := newTestServer(t)

	tamper := map[string]func(*http.Request){
		"missing signature": func(r *http.Request) {
			r.Header.Del(HeaderSignature)
		},
		"missing timestamp": func(r *http.Request) {
			r.Header.Del(HeaderTimestamp)
		},
		"missing nonce": func(r *http.Request) {
			r.Header.Del(HeaderNonce)
		},
		"garbage timestamp": func(r *http.Request) {
			r.Header.Set(HeaderTimestamp, "not-a-unix-time")
		},
		"stale timestamp": func(r *http.Request) {
			stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
			r.Header.Set(HeaderTimestamp, stale)
		},
		"future timestamp": func(r *http.Request) {
			future := strconv.FormatInt(time.Now().Add(10*time.Minute).Unix(), 10)
			r.Header.Set(HeaderTimestamp, future)
		},
		"wrong signature": func(r *http.Request) {
			r.Header.Set(HeaderSignature, strings.Repeat("ab", 32))
		},
		"authorization header present": func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer sneaky")
		},
	}

	var canonical []byte
	for name, mutate := range tamper {
		t.Run(name, func(t *testing.T) {
			req := signedRequest(t, http.MethodGet, "/api/jobs", nil)
			mutate(req)

			w := doRequest(ts, req)

			require.Equal(t, http.StatusUnauthorized, w.Code)
			if canonical == nil {
				canonical = w.Body.Bytes()
				return
			}
			// Every rejection must be byte-identical: the response may not
			// leak which check failed.
			assert.Equal(t, string(canonical), w.Body.String())
		})
	}
}

func TestEnvelopeAuth_UnsignedRequestRejected(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := doRequest(ts, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unauthorized", body["error"])
}

func TestEnvelopeAuth_SignatureCoversBody(t *testing.T) {
	ts := newTestServer(t)

	req := signedRequest(t, http.MethodPost, "/api/jobs/cleanup", []byte(`{"a":1}`))
	// Swap the body after signing.
	req.Body = http.NoBody
	req.ContentLength = 0

	w := doRequest(ts, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth_DoesNotRequireSignature(t *testing.T) {
	ts := newTestServer(t)

	w := doRequest(ts, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "recapd", body["service"])
}

func TestHealth_UnhealthyQueue(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Queue = &fakeQueue{pingErr: assert.AnError}
	})

	w := doRequest(ts, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	w := doRequest(ts, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestIdempotency_ReplayReturnsFirstStatus(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"clips":[` + mustClipJSON(t, "clip-idem") + `]}`)

	first := signedRequest(t, http.MethodPost, "/api/twitch/clips", body)
	first.Header.Set(HeaderIdempotencyKey, "key-1")
	w1 := doRequest(ts, first)
	require.Equal(t, http.StatusCreated, w1.Code)

	replay := signedRequest(t, http.MethodPost, "/api/twitch/clips", body)
	replay.Header.Set(HeaderIdempotencyKey, "key-1")
	w2 := doRequest(ts, replay)

	// The replay reports the stored first-response status without
	// re-executing the handler.
	assert.Equal(t, http.StatusCreated, w2.Code)
	assert.Equal(t, false, decodeBody(t, w2)["success"])
}

func TestIdempotency_DistinctKeysExecuteIndependently(t *testing.T) {
	ts := newTestServer(t)

	first := signedRequest(t, http.MethodPost, "/api/twitch/clips",
		[]byte(`{"clips":[`+mustClipJSON(t, "clip-a")+`]}`))
	first.Header.Set(HeaderIdempotencyKey, "key-a")
	require.Equal(t, http.StatusCreated, doRequest(ts, first).Code)

	second := signedRequest(t, http.MethodPost, "/api/twitch/clips",
		[]byte(`{"clips":[`+mustClipJSON(t, "clip-b")+`]}`))
	second.Header.Set(HeaderIdempotencyKey, "key-b")
	assert.Equal(t, http.StatusCreated, doRequest(ts, second).Code)
}

func TestSign_MatchesManualHMAC(t *testing.T) {
	body := []byte(`{"x":1}`)
	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write(body)
	mac.Write([]byte("123"))
	mac.Write([]byte("n"))

	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), Sign("s", body, "123", "n"))
}
