package api

import (
	"context"
	"net/http"

	"featuregate/internal/dto/req"
	"featuregate/internal/dto/resp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AdminProvider interface {
	ListFlags(ctx context.Context, search string) ([]resp.FlagItem, error)
	GetFlag(ctx context.Context, key string) (*resp.FlagDetail, error)
	CreateFlag(ctx context.Context, in req.CreateFlagRequest) (*resp.FlagItem, error)
	UpdateFlag(ctx context.Context, key string, in req.UpdateFlagRequest) (int, error)
	RollbackFlag(ctx context.Context, key string, auditID int64) (int, error)
	UpsertAccess(ctx context.Context, key string, in req.UpsertAccessRequest) (int, error)
	SetOverride(ctx context.Context, key, scopeType string, scopeID uuid.UUID, enabled bool) (int, error)
	ClearOverride(ctx context.Context, key, scopeType string, scopeID uuid.UUID) (int, error)
	UpsertDescriptor(ctx context.Context, key string, in req.DescriptorRequest) (int, error)
	ListAudits(ctx context.Context, key string) ([]resp.AuditLogItem, error)
	Stats(ctx context.Context, key string) (*resp.StatsResponse, error)

	CreatePackage(ctx context.Context, in req.CreatePackageRequest) (*resp.PackageItem, error)
	ListPackages(ctx context.Context) ([]resp.PackageItem, error)
	AddFlagToPackage(ctx context.Context, pkgKey, flagKey string) (int, error)
	RemoveFlagFromPackage(ctx context.Context, pkgKey, flagKey string) (int, error)
	Subscribe(ctx context.Context, in req.SubscribeRequest) (*resp.SubscriptionItem, error)
	CancelSubscription(ctx context.Context, id uuid.UUID) error
	ListSubscriptions(ctx context.Context, orgID uuid.UUID) ([]resp.SubscriptionItem, error)

	Health(ctx context.Context) error
}

// AdminHandler serves the control plane.
type AdminHandler struct {
	service AdminProvider
}

func NewAdminHandler(service AdminProvider) *AdminHandler {
	return &AdminHandler{service: service}
}

func (h *AdminHandler) ListFlags(c *gin.Context) {
	var q req.ListFlagsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	flags, err := h.service.ListFlags(c.Request.Context(), q.Search)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, flags)
}

func (h *AdminHandler) GetFlag(c *gin.Context) {
	var uri req.FeatureKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	detail, err := h.service.GetFlag(c.Request.Context(), uri.Key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *AdminHandler) CreateFlag(c *gin.Context) {
	var body req.CreateFlagRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.service.CreateFlag(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// mutation binds the flag key from the path and body into T, runs fn and
// answers with the new flag version.
func mutation[T any](c *gin.Context, fn func(ctx context.Context, key string, body T) (int, error)) {
	var uri req.FeatureKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	var body T
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	version, err := fn(c.Request.Context(), uri.Key, body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.MutationResponse{Version: version})
}

func (h *AdminHandler) UpdateFlag(c *gin.Context) {
	mutation(c, h.service.UpdateFlag)
}

func (h *AdminHandler) UpsertAccess(c *gin.Context) {
	mutation(c, h.service.UpsertAccess)
}

func (h *AdminHandler) UpsertDescriptor(c *gin.Context) {
	mutation(c, h.service.UpsertDescriptor)
}

func (h *AdminHandler) RollbackFlag(c *gin.Context) {
	mutation(c, func(ctx context.Context, key string, body req.RollbackFlagRequest) (int, error) {
		return h.service.RollbackFlag(ctx, key, body.AuditID)
	})
}

func (h *AdminHandler) SetOverride(c *gin.Context) {
	mutation(c, func(ctx context.Context, key string, body req.SetOverrideRequest) (int, error) {
		return h.service.SetOverride(ctx, key, body.ScopeType, uuid.MustParse(body.ScopeID), *body.IsEnabled)
	})
}

func (h *AdminHandler) ClearOverride(c *gin.Context) {
	var uri req.FeatureKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	var q req.ClearOverrideQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	version, err := h.service.ClearOverride(c.Request.Context(), uri.Key, q.ScopeType, uuid.MustParse(q.ScopeID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.MutationResponse{Version: version})
}

func (h *AdminHandler) ListAudits(c *gin.Context) {
	var uri req.FeatureKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	audits, err := h.service.ListAudits(c.Request.Context(), uri.Key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, audits)
}

func (h *AdminHandler) Stats(c *gin.Context) {
	var uri req.FeatureKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), uri.Key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AdminHandler) ListPackages(c *gin.Context) {
	pkgs, err := h.service.ListPackages(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pkgs)
}

func (h *AdminHandler) CreatePackage(c *gin.Context) {
	var body req.CreatePackageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	pkg, err := h.service.CreatePackage(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pkg)
}

func (h *AdminHandler) AddPackageFlag(c *gin.Context) {
	h.packageFlag(c, h.service.AddFlagToPackage)
}

func (h *AdminHandler) RemovePackageFlag(c *gin.Context) {
	h.packageFlag(c, h.service.RemoveFlagFromPackage)
}

func (h *AdminHandler) packageFlag(c *gin.Context, fn func(ctx context.Context, pkgKey, flagKey string) (int, error)) {
	var uri req.PackageFlagURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	version, err := fn(c.Request.Context(), uri.Package, uri.Key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.MutationResponse{Version: version})
}

func (h *AdminHandler) Subscribe(c *gin.Context) {
	var body req.SubscribeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	sub, err := h.service.Subscribe(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *AdminHandler) CancelSubscription(c *gin.Context) {
	var uri req.SubscriptionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.service.CancelSubscription(c.Request.Context(), uuid.MustParse(uri.ID)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) ListSubscriptions(c *gin.Context) {
	var uri req.OrganizationURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, err)
		return
	}
	subs, err := h.service.ListSubscriptions(c.Request.Context(), uuid.MustParse(uri.OrgID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, subs)
}

func (h *AdminHandler) HealthCheck(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
