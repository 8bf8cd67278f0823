package middleware

import (
	"strconv"
	"time"

	"featuregate/internal/metrics"

	"github.com/gin-gonic/gin"
)

func HttpMiddleware(observer metrics.HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		observer.ObserveHTTP(c.FullPath(), c.Request.Method, status, duration)
	}
}
