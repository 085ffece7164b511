package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleContentStatus serves GET /api/content/status: the lifecycle
// tally of every stored content item, computed from listing metadata
// without fetching bodies.
func (s *Server) handleContentStatus(c *gin.Context) {
	if s.deps.Items == nil {
		respondError(c, http.StatusServiceUnavailable, "content manager not configured")
		return
	}

	counts, err := s.deps.Items.StatusCounts(c.Request.Context())
	if err != nil {
		s.logger.Error("status counts failed", "error", err)
		respondError(c, http.StatusBadGateway, "storage unavailable")
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	respond(c, http.StatusOK, gin.H{"counts": counts, "total": total})
}
