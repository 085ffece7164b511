package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamworks/recapd/pkg/jobs"
	"github.com/streamworks/recapd/pkg/worker"
)

type generateRequest struct {
	Date string `json:"date,omitempty"`
	TZ   string `json:"tz,omitempty"`
	Sync bool   `json:"sync,omitempty"`
}

// handleGenerate serves POST /api/content/generate: creates a recap
// generation job. Async (the default) enqueues and returns 202 with the
// job id; sync claims the job in-request and runs the pipeline to
// completion before responding.
func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Date != "" {
		if _, err := time.Parse("2006-01-02", req.Date); err != nil {
			respondError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}
	if req.TZ != "" {
		if _, err := time.LoadLocation(req.TZ); err != nil {
			respondError(c, http.StatusBadRequest, "unknown tz")
			return
		}
	}

	requestData, err := json.Marshal(worker.GenerateRequest{Date: req.Date, TZ: req.TZ})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal server error")
		return
	}

	job, err := s.deps.Jobs.Create(c.Request.Context(), requestData, jobs.DefaultTTL)
	if err != nil {
		s.logger.Error("job create failed", "error", err)
		respondError(c, http.StatusBadGateway, "job creation failed")
		return
	}

	if req.Sync {
		s.runGenerateSync(c, job)
		return
	}

	if err := s.deps.Queue.Enqueue(c.Request.Context(), job.ID); err != nil {
		s.logger.Error("job enqueue failed", "job_id", job.ID, "error", err)
		respondError(c, http.StatusBadGateway, "job enqueue failed")
		return
	}
	respond(c, http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

// runGenerateSync claims the job under a request-scoped worker identity
// and runs the pipeline inline. The job record still moves through the
// normal lifecycle so observers see the same states either way.
func (s *Server) runGenerateSync(c *gin.Context, job *jobs.Job) {
	if s.deps.Executor == nil {
		respondError(c, http.StatusServiceUnavailable, "executor not configured")
		return
	}
	ctx := c.Request.Context()
	workerID := "api-" + jobs.NewID()

	claimed, err := s.deps.Jobs.UpdateStatus(ctx, job.ID, jobs.Update{
		Status:   jobs.StatusProcessing,
		WorkerID: workerID,
	})
	if err != nil {
		s.logger.Error("sync claim failed", "job_id", job.ID, "error", err)
		respondError(c, http.StatusBadGateway, "job claim failed")
		return
	}

	res := s.deps.Executor.Execute(ctx, claimed)
	if res == nil {
		res = &worker.ExecutionResult{Status: jobs.StatusFailed, Err: errors.New("executor returned no result")}
	}

	update := jobs.Update{Status: res.Status, WorkerID: workerID, Results: res.Results}
	if res.Err != nil {
		update.Error = res.Err.Error()
	}
	final, err := s.deps.Jobs.UpdateStatus(ctx, job.ID, update)
	if err != nil {
		s.logger.Error("sync finalize failed", "job_id", job.ID, "error", err)
		respondError(c, http.StatusBadGateway, "job finalize failed")
		return
	}

	if final.Status == jobs.StatusFailed {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error":   final.Error,
			"job_id":  final.ID,
			"status":  final.Status,
		})
		return
	}
	respond(c, http.StatusOK, gin.H{
		"job_id":  final.ID,
		"status":  final.Status,
		"results": final.Results,
	})
}

// handleJobStatus serves GET /api/jobs/:id/status.
func (s *Server) handleJobStatus(c *gin.Context) {
	job, err := s.deps.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			respondError(c, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job lookup failed", "job_id", c.Param("id"), "error", err)
		respondError(c, http.StatusBadGateway, "job store unavailable")
		return
	}
	respond(c, http.StatusOK, gin.H{"job": job})
}

// handleListJobs serves GET /api/jobs with cursor pagination, optional
// status filter, and order=asc|desc (desc default).
func (s *Server) handleListJobs(c *gin.Context) {
	q := jobs.ListQuery{
		Cursor:     c.Query("cursor"),
		Descending: true,
	}

	if raw := c.Query("status"); raw != "" {
		status := jobs.Status(raw)
		if !status.Valid() {
			respondError(c, http.StatusBadRequest, "unknown status")
			return
		}
		q.Status = status
	}
	switch c.Query("order") {
	case "", "desc":
	case "asc":
		q.Descending = false
	default:
		respondError(c, http.StatusBadRequest, "order must be asc or desc")
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			respondError(c, http.StatusBadRequest, "limit must be 1..100")
			return
		}
		q.Limit = n
	}

	page, err := s.deps.Jobs.List(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("job listing failed", "error", err)
		respondError(c, http.StatusBadGateway, "job store unavailable")
		return
	}

	payload := gin.H{"jobs": page.Jobs, "count": len(page.Jobs), "has_more": page.HasMore}
	if page.HasMore {
		payload["cursor"] = page.Cursor
	}
	respond(c, http.StatusOK, payload)
}

// handleJobStats serves GET /api/jobs/stats over a recent window
// (default 24h, window_hours 1..168).
func (s *Server) handleJobStats(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("window_hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 168 {
			respondError(c, http.StatusBadRequest, "window_hours must be 1..168")
			return
		}
		window = time.Duration(n) * time.Hour
	}

	stats, err := s.deps.Jobs.Stats(c.Request.Context(), window)
	if err != nil {
		s.logger.Error("job stats failed", "error", err)
		respondError(c, http.StatusBadGateway, "job store unavailable")
		return
	}
	respond(c, http.StatusOK, gin.H{
		"window_hours": int(window / time.Hour),
		"stats":        stats,
	})
}

// handleJobCleanup serves POST /api/jobs/cleanup: deletes expired job
// records immediately instead of waiting for the retention sweep.
func (s *Server) handleJobCleanup(c *gin.Context) {
	n, err := s.deps.Jobs.CleanupExpired(c.Request.Context())
	if err != nil {
		s.logger.Error("job cleanup failed", "error", err)
		respondError(c, http.StatusBadGateway, "job store unavailable")
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": n})
}
