package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig controls which browser origins may call the HTTP endpoints
type CORSConfig struct {
	AllowOrigins     []string // "*" allows any origin
	AllowCredentials bool
}

// DefaultCORSConfig allows any origin with credentials
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
	}
}

var (
	corsAllowMethods  = strings.Join([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, ", ")
	corsAllowHeaders  = strings.Join([]string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "Mcp-Session-Id", "Mcp-Protocol-Version"}, ", ")
	corsExposeHeaders = strings.Join([]string{"Content-Length", "Content-Type", "Mcp-Session-Id"}, ", ")
)

// CORSMiddleware answers preflight requests and sets CORS headers for
// allowed origins. A nil config uses DefaultCORSConfig.
func CORSMiddleware(cfg *CORSConfig) gin.HandlerFunc {
	if cfg == nil {
		cfg = DefaultCORSConfig()
	}
	wildcard := false
	allowed := make(map[string]bool, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowOrigin := ""
		switch {
		case wildcard && origin != "" && cfg.AllowCredentials:
			// Browsers reject "*" on credentialed requests
			allowOrigin = origin
		case wildcard:
			allowOrigin = "*"
		case origin != "" && allowed[origin]:
			allowOrigin = origin
		}

		if allowOrigin != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allowOrigin)
			if allowOrigin != "*" {
				h.Add("Vary", "Origin")
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			h.Set("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
