package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vidlink-backend/pkg/env"
)

// AllowedOrigins returns the origin allow-list shared by the CORS middleware
// and the WebSocket upgrader: local development defaults plus anything in
// CORS_ALLOWED_ORIGINS (comma-separated)
func AllowedOrigins() map[string]bool {
	origins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	for _, origin := range strings.Split(env.GetString("CORS_ALLOWED_ORIGINS", ""), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins[origin] = true
		}
	}

	return origins
}

// CORSMiddleware reflects allowed origins and answers preflight requests.
// Requests carrying a disallowed origin are rejected outright.
func CORSMiddleware() gin.HandlerFunc {
	allowed := AllowedOrigins()

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case origin == "":
			// Same-origin and non-browser clients carry no Origin header
		case allowed[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		default:
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
