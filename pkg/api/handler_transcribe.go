package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/transcribe"
)

const maxTranscribeBatch = 50

type transcribeClipRequest struct {
	ClipID string `json:"clip_id"`
}

// handleTranscribeClip serves POST /api/transcribe/clip: transcribes one
// stored clip. Re-requests for an already transcribed clip return the
// existing transcript.
func (s *Server) handleTranscribeClip(c *gin.Context) {
	if s.deps.Transcriber == nil {
		respondError(c, http.StatusServiceUnavailable, "transcriber not configured")
		return
	}

	var req transcribeClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := blob.ValidateID(req.ClipID); err != nil {
		respondError(c, http.StatusBadRequest, "invalid clip_id")
		return
	}

	res, err := s.deps.Transcriber.TranscribeClip(c.Request.Context(), req.ClipID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			respondError(c, http.StatusNotFound, "clip not found")
			return
		}
		s.logger.Error("transcription failed", "clip_id", req.ClipID, "error", err)
		respondError(c, http.StatusBadGateway, "transcription failed")
		return
	}
	respond(c, http.StatusOK, gin.H{"clip_id": req.ClipID, "transcript": res})
}

type transcribeBatchRequest struct {
	ClipIDs []string `json:"clip_ids"`
}

type transcribeBatchItem struct {
	ClipID     string             `json:"clip_id"`
	Transcript *transcribe.Result `json:"transcript,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// handleTranscribeBatch serves POST /api/transcribe/batch: transcribes up
// to 50 clips with per-clip outcomes. One failing clip never fails the
// batch.
func (s *Server) handleTranscribeBatch(c *gin.Context) {
	if s.deps.Transcriber == nil {
		respondError(c, http.StatusServiceUnavailable, "transcriber not configured")
		return
	}

	var req transcribeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ClipIDs) == 0 {
		respondError(c, http.StatusBadRequest, "clip_ids is required")
		return
	}
	if len(req.ClipIDs) > maxTranscribeBatch {
		respondError(c, http.StatusBadRequest, "at most 50 clips per batch")
		return
	}
	for _, id := range req.ClipIDs {
		if err := blob.ValidateID(id); err != nil {
			respondError(c, http.StatusBadRequest, "invalid clip id: "+id)
			return
		}
	}

	items := s.deps.Transcriber.TranscribeBatch(c.Request.Context(), req.ClipIDs)

	results := make([]transcribeBatchItem, 0, len(items))
	succeeded := 0
	for _, item := range items {
		out := transcribeBatchItem{ClipID: item.ClipID, Transcript: item.Result}
		if item.Err != nil {
			out.Error = "transcription failed"
			if errors.Is(item.Err, blob.ErrNotFound) {
				out.Error = "clip not found"
			}
		} else {
			succeeded++
		}
		results = append(results, out)
	}

	respond(c, http.StatusOK, gin.H{
		"results":   results,
		"requested": len(req.ClipIDs),
		"succeeded": succeeded,
		"failed":    len(req.ClipIDs) - succeeded,
	})
}

// handleTranscribeStatus serves GET /api/transcribe/status/:id.
//
// Status is derived from the transcript artifacts themselves: a stored
// transcript whose .ok marker exists is completed, a transcript without
// its marker is an in-flight fragment, and neither means the clip was
// never submitted (or the fragments were already reaped).
func (s *Server) handleTranscribeStatus(c *gin.Context) {
	id := c.Param("id")
	if err := blob.ValidateID(id); err != nil {
		respondError(c, http.StatusBadRequest, "invalid clip id")
		return
	}
	ctx := c.Request.Context()

	obj, err := s.deps.Store.Get(ctx, blob.TranscriptKey(id, "json"))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			respondError(c, http.StatusNotFound, "no transcript for clip")
			return
		}
		s.logger.Error("transcript lookup failed", "clip_id", id, "error", err)
		respondError(c, http.StatusBadGateway, "storage unavailable")
		return
	}

	status := "completed"
	if _, err := s.deps.Store.Head(ctx, blob.TranscriptKey(id, "ok")); err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			s.logger.Error("transcript marker lookup failed", "clip_id", id, "error", err)
			respondError(c, http.StatusBadGateway, "storage unavailable")
			return
		}
		status = "processing"
	}

	var transcript transcribe.Transcript
	if err := json.Unmarshal(obj.Body, &transcript); err != nil {
		respondError(c, http.StatusInternalServerError, "internal server error")
		return
	}

	payload := gin.H{
		"clip_id": id,
		"status":  status,
	}
	if status == "completed" {
		payload["transcript"] = transcript
	}
	respond(c, http.StatusOK, payload)
}
