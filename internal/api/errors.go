package api

import (
	"errors"
	"net/http"

	"featuregate/internal/service"
	"featuregate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotToggleable),
		errors.Is(err, service.ErrInvalidWindow),
		errors.Is(err, service.ErrInvalidSubject),
		errors.Is(err, service.ErrAuditNotMatch),
		errors.Is(err, service.ErrNothingToRollback):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrFlagNotFound),
		errors.Is(err, service.ErrPackageNotFound),
		errors.Is(err, service.ErrSubscriptionNotFound),
		errors.Is(err, service.ErrOverrideNotFound),
		errors.Is(err, service.ErrAuditNotFound),
		errors.Is(err, service.ErrNotInPackage):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateKey):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", c.GetString("TraceID")),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
