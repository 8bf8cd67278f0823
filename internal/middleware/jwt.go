package middleware

import (
	"net/http"
	"slices"
	"strings"

	"featuregate/internal/resolver"
	"featuregate/internal/service"

	"github.com/gin-gonic/gin"
)

// SubjectKey holds the resolver.Subject of the request in the gin context.
const SubjectKey = "subject"

// TokenParser verifies bearer tokens.
type TokenParser interface {
	ParseAccess(token string) (*service.UserClaims, error)
}

// JWTMiddleware authenticates the caller. With devPass enabled the
// X-Dev-Pass header injects an operator without a token.
func JWTMiddleware(parser TokenParser, devPass bool, devRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if devPass && c.GetHeader("X-Dev-Pass") == "true" {
			ctx := service.WithIdentity(c.Request.Context(), &service.Identity{
				UserID: "00000000-0000-0000-0000-000000009999",
				Name:   "dev-admin",
				Role:   devRole,
				IP:     c.ClientIP(),
			})
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		// EventSource cannot set headers
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}

		claims, err := parser.ParseAccess(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}

		id := claims.Identity()
		id.IP = c.ClientIP()
		c.Request = c.Request.WithContext(service.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequireRole lets through callers holding one of roles.
func RequireRole(roles []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := service.GetIdentity(c.Request.Context())
		if id == nil || !slices.Contains(roles, id.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// RequireSubject rejects callers whose token does not name a user, organization and user type.
func RequireSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := service.GetIdentity(c.Request.Context()).Subject()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not identify a subject"})
			return
		}
		c.Set(SubjectKey, sub)
		c.Next()
	}
}

// GetSubject returns the subject stored by RequireSubject.
func GetSubject(c *gin.Context) (resolver.Subject, bool) {
	v, ok := c.Get(SubjectKey)
	if !ok {
		return resolver.Subject{}, false
	}
	sub, ok := v.(resolver.Subject)
	return sub, ok
}
