// Package auth guards the /api routes with a shared key.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	queryName  = "api_key"
)

// credential returns the key presented by the client. <img> tags and browser
// WebSocket clients cannot set headers, so the api_key query parameter is
// accepted as a last resort.
func credential(c *gin.Context) string {
	if key := c.GetHeader(headerName); key != "" {
		return key
	}
	if key, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(key)
	}
	return c.Query(queryName)
}

// RequireKey rejects requests that do not present apiKey. An empty apiKey
// disables the check.
func RequireKey(apiKey string) gin.HandlerFunc {
	want := []byte(apiKey)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}

		key := credential(c)
		switch {
		case key == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
		case subtle.ConstantTimeCompare([]byte(key), want) != 1:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
		default:
			c.Next()
		}
	}
}
