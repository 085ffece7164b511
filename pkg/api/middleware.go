package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Envelope header names.
const (
	HeaderSignature      = "X-Request-Signature"
	HeaderTimestamp      = "X-Request-Timestamp"
	HeaderNonce          = "X-Request-Nonce"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// timestampWindow is the accepted clock skew for signed requests.
const timestampWindow = 5 * time.Minute

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// bodyLimit caps request body size.
func (s *Server) bodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes)
		}
		c.Next()
	}
}

// Sign computes the envelope signature over body || timestamp || nonce.
// Exported for clients and tests.
func Sign(secret string, body []byte, timestamp, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// envelopeAuth verifies the administrative request envelope. Every
// failure mode returns the same generic 401: callers learn nothing about
// which check failed. Administrative routes reject the Authorization
// header outright; bearer tokens have no business on this surface.
func (s *Server) envelopeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.Secret == "" {
			unauthorized(c)
			return
		}
		if c.GetHeader("Authorization") != "" {
			unauthorized(c)
			return
		}

		signature := c.GetHeader(HeaderSignature)
		timestamp := c.GetHeader(HeaderTimestamp)
		nonce := c.GetHeader(HeaderNonce)
		if signature == "" || timestamp == "" || nonce == "" {
			unauthorized(c)
			return
		}

		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			unauthorized(c)
			return
		}
		if skew := time.Since(time.Unix(ts, 0)); skew > timestampWindow || skew < -timestampWindow {
			unauthorized(c)
			return
		}

		body, err := readBody(c)
		if err != nil {
			unauthorized(c)
			return
		}

		expected := Sign(s.config.Secret, body, timestamp, nonce)
		if !hmac.Equal([]byte(expected), []byte(signature)) {
			unauthorized(c)
			return
		}

		c.Next()
	}
}

// idempotency replays duplicate state-changing requests from the stored
// first-response status instead of re-executing them. Requests without a
// key pass through; absence of redis disables the check.
func (s *Server) idempotency() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || s.deps.Redis == nil {
			c.Next()
			return
		}

		redisKey := "recapd:idempotency:" + key
		set, err := s.deps.Redis.SetNX(c.Request.Context(), redisKey, "pending", 24*time.Hour).Result()
		if err != nil {
			s.logger.Error("idempotency check failed", "error", err)
			respondError(c, http.StatusServiceUnavailable, "idempotency check unavailable")
			return
		}
		if !set {
			status := http.StatusConflict
			if stored, err := s.deps.Redis.Get(c.Request.Context(), redisKey).Result(); err == nil {
				if n, err := strconv.Atoi(stored); err == nil {
					status = n
				}
			}
			respondError(c, status, "duplicate request (idempotency key replay)")
			return
		}

		c.Next()

		// Record the first response's status for replays.
		if err := s.deps.Redis.Set(c.Request.Context(), redisKey,
			strconv.Itoa(c.Writer.Status()), 24*time.Hour).Err(); err != nil {
			s.logger.Warn("idempotency record failed", "key", key, "error", err)
		}
	}
}

// readBody consumes and restores the request body so both the signature
// check and the handler can read it.
func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
