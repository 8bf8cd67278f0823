package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"featuregate/internal/dto/req"
	"featuregate/internal/dto/resp"
	"featuregate/internal/middleware"
	"featuregate/internal/resolver"
	"featuregate/internal/service"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"
	"featuregate/pkg/logger"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FeatureProvider interface {
	Resolve(ctx context.Context, sub resolver.Subject, key string) (v1.FeatureCheck, error)
	ResolveAll(ctx context.Context, sub resolver.Subject, filter resolver.Filter) ([]v1.ResolvedFeature, error)
	SetPreference(ctx context.Context, sub resolver.Subject, key string, enabled bool) error
	UpgradeOptions(ctx context.Context, sub resolver.Subject, key string) ([]resp.PackageItem, error)
	RecordEvent(ctx context.Context, sub resolver.Subject, key, eventType string, props map[string]any) error
}

// FeatureHandler serves the subject-facing resolution endpoints.
type FeatureHandler struct {
	service FeatureProvider
	hub     *service.Hub
}

func NewFeatureHandler(service FeatureProvider, hub *service.Hub) *FeatureHandler {
	return &FeatureHandler{
		service: service,
		hub:     hub,
	}
}

// subject is set by middleware.RequireSubject on every route of this handler.
func subject(c *gin.Context) (resolver.Subject, bool) {
	sub, ok := middleware.GetSubject(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "token does not identify a subject"})
	}
	return sub, ok
}

// Resolved returns every visible feature. The body is tagged with an ETag so
// polling clients get 304 while nothing changed.
func (h *FeatureHandler) Resolved(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	var q req.ResolveQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	features, err := h.service.ResolveAll(c.Request.Context(), sub, resolver.Filter{
		Category:    q.Category,
		EnabledOnly: q.EnabledOnly,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	body, err := json.Marshal(resp.ResolvedResponse{Data: features})
	if err != nil {
		writeError(c, err)
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, no-cache")
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *FeatureHandler) Check(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	var uri req.FeatureKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	check, err := h.service.Resolve(c.Request.Context(), sub, uri.Key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (h *FeatureHandler) SetPreference(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	var uri req.FeatureKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	var body req.SetPreferenceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.service.SetPreference(c.Request.Context(), sub, uri.Key, *body.Enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.PreferenceResponse{Key: uri.Key, Enabled: *body.Enabled})
}

func (h *FeatureHandler) UpgradeOptions(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	var uri req.FeatureKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	pkgs, err := h.service.UpgradeOptions(c.Request.Context(), sub, uri.Key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.UpgradeOptionsResponse{Key: uri.Key, Packages: pkgs})
}

func (h *FeatureHandler) RecordEvent(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	var uri req.FeatureKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	var body req.RecordEventRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.service.RecordEvent(c.Request.Context(), sub, uri.Key, body.EventType, body.Properties); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Stream tells a subject which flags changed for it. Clients refetch the
// resolved set on every "changed" event.
func (h *FeatureHandler) Stream(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	scopes := map[string]string{
		constraints.ScopeUser:         sub.UserID.String(),
		constraints.ScopeOrganization: sub.OrgID.String(),
	}
	if sub.RoleID != uuid.Nil {
		scopes[constraints.ScopeRole] = sub.RoleID.String()
	}
	client := &service.Client{
		Send:   make(chan v1.Message, 64),
		Scopes: scopes,
	}
	if !h.hub.Join(client) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}
	defer h.hub.Leave(client)

	logger.Debug("subject stream connected", zap.String("user_id", sub.UserID.String()))
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
			c.SSEvent("changed", gin.H{"key": msg.Key, "revision": msg.Revision})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
