package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GitHub webhook delivery headers.
const (
	headerHubSignature = "X-Hub-Signature-256"
	headerGitHubEvent  = "X-GitHub-Event"
	headerGitHubDelivy = "X-GitHub-Delivery"
)

// handleGitHubWebhook serves POST /webhook/github. Deliveries are
// verified against the webhook secret, stored raw, and acknowledged;
// correlation happens later in the pipeline, never in the request path.
func (s *Server) handleGitHubWebhook(c *gin.Context) {
	if s.config.WebhookSecret == "" || s.deps.Events == nil {
		respondError(c, http.StatusServiceUnavailable, "webhook receiver not configured")
		return
	}

	body, err := readBody(c)
	if err != nil || len(body) == 0 {
		respondError(c, http.StatusBadRequest, "empty request body")
		return
	}

	if !verifyHubSignature(s.config.WebhookSecret, body, c.GetHeader(headerHubSignature)) {
		unauthorized(c)
		return
	}

	eventType := c.GetHeader(headerGitHubEvent)
	deliveryID := c.GetHeader(headerGitHubDelivy)
	if eventType == "" || deliveryID == "" {
		respondError(c, http.StatusBadRequest, "missing delivery headers")
		return
	}
	if !json.Valid(body) {
		respondError(c, http.StatusBadRequest, "payload is not valid json")
		return
	}

	event, err := s.deps.Events.StoreEvent(c.Request.Context(), deliveryID, eventType,
		json.RawMessage(body), time.Now().UTC())
	if err != nil {
		s.logger.Error("webhook store failed",
			"delivery_id", deliveryID, "event_type", eventType, "error", err)
		respondError(c, http.StatusBadGateway, "event store failed")
		return
	}

	s.logger.Info("webhook stored",
		"delivery_id", deliveryID, "event_type", eventType, "repository", event.Repository)
	respond(c, http.StatusOK, gin.H{"delivery_id": deliveryID, "event_type": eventType})
}

// verifyHubSignature checks GitHub's "sha256=<hex>" body signature.
func verifyHubSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) != len(prefix)+sha256.Size*2 || header[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := prefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
