package middleware

import (
	"fmt"
	"net/http"
	"time"

	"featuregate/pkg/logger"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func GinZapLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		cost := time.Since(start)
		status := c.Writer.Status()

		logger.Info("http_request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("trace_id", c.GetString("TraceID")),
			zap.Duration("latency", cost),
		)
	}
}

// GinZapRecovery logs panics and reports them to Sentry when a client is configured.
func GinZapRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				if hub := sentry.CurrentHub(); hub.Client() != nil {
					hub.WithScope(func(scope *sentry.Scope) {
						scope.SetTag("path", c.FullPath())
						scope.SetTag("trace_id", c.GetString("TraceID"))
						scope.SetRequest(c.Request)
						hub.CaptureException(fmt.Errorf("panic: %v", err))
					})
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := uuid.New().String()
		c.Set("request_id", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}
