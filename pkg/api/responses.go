package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// respond emits the success envelope: {success: true, ...payload}.
func respond(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// respondError emits the failure envelope. Messages must already be safe
// for clients; internal detail stays in the logs.
func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message})
}

// unauthorized emits the deliberately generic 401. Every authentication
// failure looks identical to the caller.
func unauthorized(c *gin.Context) {
	respondError(c, http.StatusUnauthorized, "unauthorized")
}
