package api

import (
	"io"
	"net/http"

	"featuregate/internal/dto/req"
	"featuregate/internal/dto/resp"
	"featuregate/internal/service"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"
	"featuregate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StreamProvider interface {
	GetCompensation(lastRev int64) ([]v1.Message, bool)
	Snapshot() ([]v1.FlagDocument, int64)
}

// StreamHandler serves the raw change feed to SDKs and dashboards.
type StreamHandler struct {
	service StreamProvider
	hub     *service.Hub
}

func NewStreamHandler(service StreamProvider, hub *service.Hub) *StreamHandler {
	return &StreamHandler{
		service: service,
		hub:     hub,
	}
}

func sseHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
}

// WatchFeature replays what the client missed since last_rev, then streams
// live changes. A "reset" event asks the client to reload the snapshot.
func (h *StreamHandler) WatchFeature(c *gin.Context) {
	var q req.WatchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	sseHeaders(c)

	client := &service.Client{Send: make(chan v1.Message, 128)}
	if !h.hub.Join(client) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}
	defer h.hub.Leave(client)

	logger.Info("sdk client connected", zap.Int64("last_rev", q.LastRev), zap.String("ip", c.ClientIP()))

	// registered before reading history so nothing falls between the two
	maxSentRev := q.LastRev
	if q.LastRev > 0 {
		messages, ok := h.service.GetCompensation(q.LastRev)
		if ok {
			for _, msg := range messages {
				c.SSEvent("message", msg)
				maxSentRev = msg.Revision
			}
		} else {
			c.SSEvent("reset", "revision_too_old")
		}
		c.Writer.Flush()
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return false
			}
			if msg.Type == constraints.MessagePing {
				c.SSEvent("ping", "pong")
				return true
			}
			// already replayed from the buffer
			if msg.Revision <= maxSentRev {
				return true
			}
			c.SSEvent("message", msg)
			maxSentRev = msg.Revision
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *StreamHandler) DashboardWatch(c *gin.Context) {
	sseHeaders(c)

	logger.Info("dashboard client connected",
		zap.String("operator", service.GetOperator(c.Request.Context())),
		zap.String("ip", c.ClientIP()),
	)

	client := &service.Client{Send: make(chan v1.Message, 128)}
	if !h.hub.Join(client) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}
	defer h.hub.Leave(client)

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return false
			}
			if msg.Type == constraints.MessagePing {
				c.SSEvent("ping", "pong")
				return true
			}
			c.SSEvent("message", msg)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *StreamHandler) FetchAll(c *gin.Context) {
	docs, rev := h.service.Snapshot()
	c.JSON(http.StatusOK, resp.SnapshotResponse{
		Data:     docs,
		Revision: rev,
	})
}
