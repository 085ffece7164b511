package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/streamworks/recapd/pkg/blob"
)

var sha256Pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

type dedupCheckRequest struct {
	Hash string `json:"hash"`
}

type dedupMatch struct {
	ClipID       string    `json:"clip_id"`
	Key          string    `json:"key"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// handleDedupCheck serves POST /api/deduplication/check: reports stored
// audio artifacts whose content hash matches the supplied SHA-256. Hashes
// are cached on the object metadata after first computation so repeated
// checks stay cheap.
func (s *Server) handleDedupCheck(c *gin.Context) {
	var req dedupCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Hash = strings.ToLower(strings.TrimSpace(req.Hash))
	if !sha256Pattern.MatchString(req.Hash) {
		respondError(c, http.StatusBadRequest, "hash must be a lowercase hex sha-256")
		return
	}

	matches, err := s.findAudioByHash(c.Request.Context(), req.Hash)
	if err != nil {
		s.logger.Error("dedup check failed", "error", err)
		respondError(c, http.StatusBadGateway, "storage unavailable")
		return
	}
	respond(c, http.StatusOK, gin.H{
		"hash":      req.Hash,
		"duplicate": len(matches) > 0,
		"matches":   matches,
	})
}

// findAudioByHash scans the audio keyspace comparing content hashes, with
// bounded parallel body fetches for objects whose hash is not yet cached
// on metadata.
func (s *Server) findAudioByHash(ctx context.Context, hash string) ([]dedupMatch, error) {
	var (
		mu      sync.Mutex
		matches []dedupMatch
	)
	cursor := ""
	for {
		page, err := s.deps.Store.List(ctx, blob.ListOptions{
			Prefix:       "audio/",
			Cursor:       cursor,
			WithMetadata: true,
		})
		if err != nil {
			return nil, err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(clipFetchParallel)
		for _, info := range page.Objects {
			g.Go(func() error {
				sum := info.Metadata["content-sha256"]
				if sum == "" {
					obj, err := s.deps.Store.Get(gctx, info.Key)
					if err != nil {
						return err
					}
					raw := sha256.Sum256(obj.Body)
					sum = hex.EncodeToString(raw[:])
				}
				if sum != hash {
					return nil
				}
				mu.Lock()
				matches = append(matches, dedupMatch{
					ClipID:       clipIDFromKey(info.Key),
					Key:          info.Key,
					SizeBytes:    info.Size,
					LastModified: info.LastModified,
				})
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if !page.Truncated {
			return matches, nil
		}
		cursor = page.Cursor
	}
}

// handleDedupFileInfo serves GET /api/deduplication/file-info/:id: the
// stored artifacts for one clip with the audio content hash.
func (s *Server) handleDedupFileInfo(c *gin.Context) {
	id := c.Param("id")
	if err := blob.ValidateID(id); err != nil {
		respondError(c, http.StatusBadRequest, "invalid clip id")
		return
	}
	ctx := c.Request.Context()

	artifacts := gin.H{}
	for name, key := range map[string]string{
		"clip":       blob.ClipKey(id),
		"audio":      blob.AudioKey(id),
		"transcript": blob.TranscriptKey(id, "json"),
	} {
		info, err := s.deps.Store.Head(ctx, key)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				continue
			}
			s.logger.Error("file info lookup failed", "key", key, "error", err)
			respondError(c, http.StatusBadGateway, "storage unavailable")
			return
		}
		artifacts[name] = gin.H{
			"key":           key,
			"size_bytes":    info.Size,
			"content_type":  info.ContentType,
			"last_modified": info.LastModified.UTC().Format(time.RFC3339),
		}
	}
	if len(artifacts) == 0 {
		respondError(c, http.StatusNotFound, "no artifacts for clip")
		return
	}

	if audio, ok := artifacts["audio"].(gin.H); ok {
		obj, err := s.deps.Store.Get(ctx, blob.AudioKey(id))
		if err != nil {
			s.logger.Error("audio fetch failed", "clip_id", id, "error", err)
			respondError(c, http.StatusBadGateway, "storage unavailable")
			return
		}
		raw := sha256.Sum256(obj.Body)
		audio["sha256"] = hex.EncodeToString(raw[:])
	}

	respond(c, http.StatusOK, gin.H{"clip_id": id, "artifacts": artifacts})
}

// handleDedupCleanup serves POST /api/deduplication/cleanup: deletes
// audio artifacts whose clip record is gone. Orphaned audio accumulates
// when a clip is rejected after its audio upload.
func (s *Server) handleDedupCleanup(c *gin.Context) {
	ctx := c.Request.Context()

	deleted := make([]string, 0)
	cursor := ""
	for {
		page, err := s.deps.Store.List(ctx, blob.ListOptions{Prefix: "audio/", Cursor: cursor})
		if err != nil {
			s.logger.Error("dedup cleanup listing failed", "error", err)
			respondError(c, http.StatusBadGateway, "storage unavailable")
			return
		}

		for _, info := range page.Objects {
			clipID := clipIDFromKey(info.Key)
			if clipID == "" {
				continue
			}
			_, err := s.deps.Store.Head(ctx, blob.ClipKey(clipID))
			if err == nil {
				continue
			}
			if !errors.Is(err, blob.ErrNotFound) {
				s.logger.Error("dedup cleanup lookup failed", "clip_id", clipID, "error", err)
				respondError(c, http.StatusBadGateway, "storage unavailable")
				return
			}
			if err := s.deps.Store.Delete(ctx, info.Key); err != nil {
				s.logger.Warn("orphaned audio delete failed", "key", info.Key, "error", err)
				continue
			}
			deleted = append(deleted, info.Key)
		}

		if !page.Truncated {
			break
		}
		cursor = page.Cursor
	}

	s.logger.Info("dedup cleanup finished", "deleted", len(deleted))
	respond(c, http.StatusOK, gin.H{"deleted": deleted, "count": len(deleted)})
}

// clipIDFromKey extracts the clip id from an "audio/{id}.wav" key.
func clipIDFromKey(key string) string {
	name := strings.TrimPrefix(key, "audio/")
	name = strings.TrimSuffix(name, ".wav")
	if strings.ContainsAny(name, "/.") {
		return ""
	}
	return name
}
