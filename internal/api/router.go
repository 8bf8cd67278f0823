package api

import (
	"net/http"

	"featuregate/internal/metrics"
	"featuregate/internal/middleware"
	"featuregate/internal/repository"

	"github.com/gin-gonic/gin"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Features   *FeatureHandler
	Admin      *AdminHandler
	Streams    *StreamHandler
	Auth       *AuthHandler
	Tokens     middleware.TokenParser
	SDKKeys    repository.SDKRepository
	Limiter    *middleware.RateLimiter
	HTTPMetric metrics.HTTPObserver
	Metrics    http.Handler
	AdminRoles []string
	DevPass    bool
}

func RegisterRoutes(d Deps) *gin.Engine {
	r := gin.New()
	if d.HTTPMetric == nil {
		d.HTTPMetric = metrics.Nop{}
	}

	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.TraceMiddleware(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(d.HTTPMetric),
	)
	r.SetTrustedProxies(nil)

	// Public Routes
	r.GET("/health", d.Admin.HealthCheck)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	devRole := "admin"
	if len(d.AdminRoles) > 0 {
		devRole = d.AdminRoles[0]
	}
	authenticated := middleware.JWTMiddleware(d.Tokens, d.DevPass, devRole)
	writeLimiter := d.Limiter.Middleware()

	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", writeLimiter, d.Auth.Login)
		auth.POST("/refresh", d.Auth.Refresh)
		auth.GET("/me", authenticated, d.Auth.GetProfile)
		auth.POST("/logout", authenticated, d.Auth.Logout)
	}

	features := r.Group("/v1/features")
	features.Use(authenticated, middleware.RequireSubject())
	{
		features.GET("/resolved", d.Features.Resolved)
		features.GET("/stream", d.Features.Stream)
		features.GET("/:key/check", d.Features.Check)
		features.POST("/:key/preference", writeLimiter, d.Features.SetPreference)
		features.GET("/:key/upgrade-options", d.Features.UpgradeOptions)
		features.POST("/:key/events", d.Features.RecordEvent)
	}

	stream := r.Group("/v1/stream")
	stream.Use(middleware.SDKAuthMiddleware(d.SDKKeys))
	{
		stream.GET("/watch", d.Streams.WatchFeature)
		stream.GET("/snapshot", d.Streams.FetchAll)
	}

	admin := r.Group("/v1/admin")
	admin.Use(authenticated, middleware.RequireRole(d.AdminRoles))
	{
		admin.GET("/stream", d.Streams.DashboardWatch)

		admin.GET("/features", d.Admin.ListFlags)
		admin.POST("/features", writeLimiter, d.Admin.CreateFlag)
		admin.GET("/features/:key", d.Admin.GetFlag)
		admin.PATCH("/features/:key", writeLimiter, d.Admin.UpdateFlag)
		admin.PUT("/features/:key/access", writeLimiter, d.Admin.UpsertAccess)
		admin.PUT("/features/:key/overrides", writeLimiter, d.Admin.SetOverride)
		admin.DELETE("/features/:key/overrides", writeLimiter, d.Admin.ClearOverride)
		admin.PUT("/features/:key/descriptor", writeLimiter, d.Admin.UpsertDescriptor)
		admin.GET("/features/:key/audits", d.Admin.ListAudits)
		admin.POST("/features/:key/rollback", writeLimiter, d.Admin.RollbackFlag)
		admin.GET("/features/:key/stats", d.Admin.Stats)

		admin.GET("/packages", d.Admin.ListPackages)
		admin.POST("/packages", writeLimiter, d.Admin.CreatePackage)
		admin.PUT("/packages/:pkg/features/:key", writeLimiter, d.Admin.AddPackageFlag)
		admin.DELETE("/packages/:pkg/features/:key", writeLimiter, d.Admin.RemovePackageFlag)

		admin.POST("/subscriptions", writeLimiter, d.Admin.Subscribe)
		admin.DELETE("/subscriptions/:id", writeLimiter, d.Admin.CancelSubscription)
		admin.GET("/organizations/:org/subscriptions", d.Admin.ListSubscriptions)
	}
	return r
}
