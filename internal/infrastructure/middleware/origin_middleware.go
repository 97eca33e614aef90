package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginAllowlistMiddleware rejects requests whose Origin header is not
// on the configured allowlist. Browser beacons always carry an Origin;
// requests without one (curl, server-to-server) pass through so the
// endpoint stays usable from shutdown hooks.
func OriginAllowlistMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[strings.ToLower(strings.TrimSuffix(origin, "/"))] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll || origin == "" {
			c.Next()
			return
		}
		key := strings.ToLower(strings.TrimSuffix(origin, "/"))
		if _, ok := set[key]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "origin not allowed",
			})
			return
		}
		c.Next()
	}
}
