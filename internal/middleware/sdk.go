package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyValidator checks SDK keys.
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (bool, error)
}

func SDKAuthMiddleware(repo APIKeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		ok, err := repo.ValidateAPIKey(c.Request.Context(), apiKey)
		if err != nil || !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Next()
	}
}
