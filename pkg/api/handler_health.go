package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamworks/recapd/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// handleHealth serves GET /health: a minimal unauthenticated liveness
// response. Only the service's own components are checked; external
// collaborators have dedicated validate endpoints.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := gin.H{}

	if s.deps.Queue != nil {
		if err := s.deps.Queue.Ping(ctx); err != nil {
			status = healthStatusUnhealthy
			checks["queue"] = healthStatusUnhealthy
		} else {
			checks["queue"] = healthStatusHealthy
		}
	}
	if s.deps.Pool != nil {
		if h := s.deps.Pool.Health(ctx); !h.IsHealthy {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["worker_pool"] = healthStatusDegraded
		} else {
			checks["worker_pool"] = healthStatusHealthy
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "recapd",
		"version":   version.GitCommit,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"checks":    checks,
	})
}

// handleValidateTwitch probes the broadcast platform credentials.
func (s *Server) handleValidateTwitch(c *gin.Context) {
	if s.deps.Clips == nil {
		respondError(c, http.StatusServiceUnavailable, "twitch client not configured")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := s.deps.Clips.ValidateCredentials(ctx); err != nil {
		s.logger.Error("twitch validation failed", "error", err)
		respondError(c, http.StatusBadGateway, "twitch credential validation failed")
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "twitch credentials valid"})
}

// handleValidateStorage round-trips a probe object through the store.
func (s *Server) handleValidateStorage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	key := "probes/storage-" + time.Now().UTC().Format("20060102T150405") + ".txt"
	if err := s.deps.Store.Put(ctx, key, []byte("ok"), "text/plain", nil); err != nil {
		s.logger.Error("storage probe write failed", "error", err)
		respondError(c, http.StatusBadGateway, "storage write failed")
		return
	}
	if _, err := s.deps.Store.Get(ctx, key); err != nil {
		s.logger.Error("storage probe read failed", "error", err)
		respondError(c, http.StatusBadGateway, "storage read failed")
		return
	}
	if err := s.deps.Store.Delete(ctx, key); err != nil {
		s.logger.Warn("storage probe cleanup failed", "key", key, "error", err)
	}
	respond(c, http.StatusOK, gin.H{"message": "storage reachable"})
}

// handleValidateTranscriber probes the transcription collaborator.
func (s *Server) handleValidateTranscriber(c *gin.Context) {
	if s.deps.TranscriberPing == nil {
		respondError(c, http.StatusServiceUnavailable, "transcriber not configured")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := s.deps.TranscriberPing(ctx); err != nil {
		s.logger.Error("transcriber validation failed", "error", err)
		respondError(c, http.StatusBadGateway, "transcriber unreachable")
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "transcriber reachable"})
}
