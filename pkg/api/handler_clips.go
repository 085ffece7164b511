package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/twitch"
)

const (
	maxClipBatch      = 100
	storedClipsCap    = 100
	clipFetchParallel = 10
)

// handleListRecentClips serves GET /api/twitch/clips: recent clips from
// the broadcast platform.
func (s *Server) handleListRecentClips(c *gin.Context) {
	if s.deps.Clips == nil {
		respondError(c, http.StatusServiceUnavailable, "twitch client not configured")
		return
	}

	sinceHours := 24
	if raw := c.Query("since_hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 168 {
			respondError(c, http.StatusBadRequest, "since_hours must be 1..168")
			return
		}
		sinceHours = n
	}
	limit := storedClipsCap
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > storedClipsCap {
			respondError(c, http.StatusBadRequest, "limit must be 1..100")
			return
		}
		limit = n
	}

	since := time.Now().Add(-time.Duration(sinceHours) * time.Hour)
	clips, err := s.deps.Clips.ListRecentClips(c.Request.Context(), since, limit)
	if err != nil {
		s.logger.Error("recent clips listing failed", "error", err)
		respondError(c, http.StatusBadGateway, "clip listing failed")
		return
	}
	respond(c, http.StatusOK, gin.H{"clips": clips, "count": len(clips)})
}

type storeClipsRequest struct {
	Clips []twitch.Clip `json:"clips"`
}

// handleStoreClips serves POST /api/twitch/clips: stores a batch of
// clips. Duplicate ids, in the batch or already stored, reject the whole
// batch.
func (s *Server) handleStoreClips(c *gin.Context) {
	var req storeClipsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Clips) == 0 {
		respondError(c, http.StatusBadRequest, "clips is required")
		return
	}
	if len(req.Clips) > maxClipBatch {
		respondError(c, http.StatusBadRequest, "at most 100 clips per batch")
		return
	}

	seen := make(map[string]struct{}, len(req.Clips))
	for i := range req.Clips {
		clip := &req.Clips[i]
		if err := clip.Validate(); err != nil {
			respondError(c, http.StatusBadRequest, "invalid clip: "+err.Error())
			return
		}
		if _, dup := seen[clip.ID]; dup {
			respondError(c, http.StatusBadRequest, "duplicate clip id in batch: "+clip.ID)
			return
		}
		seen[clip.ID] = struct{}{}

		if _, err := s.deps.Store.Head(c.Request.Context(), blob.ClipKey(clip.ID)); err == nil {
			respondError(c, http.StatusConflict, "clip already stored: "+clip.ID)
			return
		} else if !errors.Is(err, blob.ErrNotFound) {
			s.logger.Error("clip lookup failed", "clip_id", clip.ID, "error", err)
			respondError(c, http.StatusBadGateway, "storage unavailable")
			return
		}
	}

	stored := make([]string, 0, len(req.Clips))
	for i := range req.Clips {
		clip := &req.Clips[i]
		body, err := json.Marshal(clip)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "internal server error")
			return
		}
		meta := map[string]string{
			"clip-id":    clip.ID,
			"created-at": clip.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := s.deps.Store.Put(c.Request.Context(), blob.ClipKey(clip.ID), body, "application/json", meta); err != nil {
			s.logger.Error("clip store failed", "clip_id", clip.ID, "error", err)
			respondError(c, http.StatusBadGateway, "clip store failed")
			return
		}
		stored = append(stored, clip.ID)
	}

	respond(c, http.StatusCreated, gin.H{"stored": stored, "count": len(stored)})
}

type updateClipRequest struct {
	ID           string  `json:"clip_id"`
	Title        *string `json:"title,omitempty"`
	ViewCount    *int    `json:"view_count,omitempty"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
}

// handleUpdateClip serves PUT /api/twitch/clips: updates one stored clip.
// Only the whitelisted fields (title, view_count, thumbnail_url) change;
// everything else on the record is immutable.
func (s *Server) handleUpdateClip(c *gin.Context) {
	var req updateClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := blob.ValidateID(req.ID); err != nil {
		respondError(c, http.StatusBadRequest, "invalid clip_id")
		return
	}
	if req.Title == nil && req.ViewCount == nil && req.ThumbnailURL == nil {
		respondError(c, http.StatusBadRequest, "no updatable fields supplied")
		return
	}

	key := blob.ClipKey(req.ID)
	obj, err := s.deps.Store.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			respondError(c, http.StatusNotFound, "clip not found")
			return
		}
		s.logger.Error("clip fetch failed", "clip_id", req.ID, "error", err)
		respondError(c, http.StatusBadGateway, "storage unavailable")
		return
	}

	var clip twitch.Clip
	if err := json.Unmarshal(obj.Body, &clip); err != nil {
		s.logger.Error("stored clip undecodable", "clip_id", req.ID, "error", err)
		respondError(c, http.StatusInternalServerError, "internal server error")
		return
	}

	if req.Title != nil {
		clip.Title = *req.Title
	}
	if req.ViewCount != nil {
		clip.ViewCount = *req.ViewCount
	}
	if req.ThumbnailURL != nil {
		clip.ThumbnailURL = *req.ThumbnailURL
	}
	if err := clip.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "invalid update: "+err.Error())
		return
	}

	body, err := json.Marshal(&clip)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := s.deps.Store.Put(c.Request.Context(), key, body, "application/json", obj.Metadata); err != nil {
		s.logger.Error("clip update failed", "clip_id", req.ID, "error", err)
		respondError(c, http.StatusBadGateway, "clip update failed")
		return
	}
	respond(c, http.StatusOK, gin.H{"clip": clip})
}

// handleStoredClips serves GET /api/twitch/clips/stored[?id=]: one clip
// by id, or a paginated listing with bodies fetched in parallel.
func (s *Server) handleStoredClips(c *gin.Context) {
	ctx := c.Request.Context()

	if id := c.Query("id"); id != "" {
		if err := blob.ValidateID(id); err != nil {
			respondError(c, http.StatusBadRequest, "invalid clip id")
			return
		}
		obj, err := s.deps.Store.Get(ctx, blob.ClipKey(id))
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				respondError(c, http.StatusNotFound, "clip not found")
				return
			}
			s.logger.Error("stored clip fetch failed", "clip_id", id, "error", err)
			respondError(c, http.StatusBadGateway, "storage unavailable")
			return
		}
		var clip twitch.Clip
		if err := json.Unmarshal(obj.Body, &clip); err != nil {
			respondError(c, http.StatusInternalServerError, "internal server error")
			return
		}
		respond(c, http.StatusOK, gin.H{"clip": clip})
		return
	}

	limit := storedClipsCap
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > storedClipsCap {
			respondError(c, http.StatusBadRequest, "limit must be 1..100")
			return
		}
		limit = n
	}

	page, err := s.deps.Store.List(ctx, blob.ListOptions{
		Prefix: "clips/",
		Cursor: c.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		s.logger.Error("stored clip listing failed", "error", err)
		respondError(c, http.StatusBadGateway, "storage unavailable")
		return
	}

	clips, err := s.fetchClips(ctx, page.Objects)
	if err != nil {
		s.logger.Error("stored clip batch fetch failed", "error", err)
		respondError(c, http.StatusBadGateway, "storage unavailable")
		return
	}

	payload := gin.H{"clips": clips, "count": len(clips), "has_more": page.Truncated}
	if page.Truncated {
		payload["cursor"] = page.Cursor
	}
	respond(c, http.StatusOK, payload)
}

// fetchClips fetches and decodes clip bodies with bounded parallelism,
// preserving listing order.
func (s *Server) fetchClips(ctx context.Context, objects []blob.ObjectInfo) ([]twitch.Clip, error) {
	clips := make([]twitch.Clip, len(objects))
	var mu sync.Mutex
	undecodable := make(map[int]struct{})

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(clipFetchParallel)
	for i, info := range objects {
		g.Go(func() error {
			obj, err := s.deps.Store.Get(ctx, info.Key)
			if err != nil {
				return err
			}
			var clip twitch.Clip
			if err := json.Unmarshal(obj.Body, &clip); err != nil {
				s.logger.Warn("skipping undecodable clip", "key", info.Key, "error", err)
				mu.Lock()
				undecodable[i] = struct{}{}
				mu.Unlock()
				return nil
			}
			clips[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(undecodable) == 0 {
		return clips, nil
	}
	kept := clips[:0]
	for i := range clips {
		if _, skip := undecodable[i]; !skip {
			kept = append(kept, clips[i])
		}
	}
	return kept, nil
}
