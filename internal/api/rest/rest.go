package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/ledgerkit/bank-sync/internal/api/middleware"
)

// SetupRoutes configures all REST API routes.
// OAuth callbacks and provider webhooks carry their own verification
// (signed state, HMAC signature) and stay outside the auth middleware.
func SetupRoutes(router *gin.Engine, h Handler, authCfg middleware.AuthConfig) {
	router.GET("/health", h.HealthCheck)

	v1 := router.Group("/api/v1")

	authed := v1.Group("")
	authed.Use(middleware.Auth(authCfg))
	{
		// the :id segment doubles as the provider name on the sync route
		authed.POST("/connections/:id/sync", h.TriggerSync)
		authed.GET("/connections", h.ListConnections)
		authed.GET("/connections/:id", h.GetConnection)
		authed.GET("/connections/:id/health", h.GetConnectionHealth)
		authed.GET("/jobs/:id", h.GetJob)
		authed.GET("/connect/:provider", h.Connect)
	}

	v1.GET("/callback/:provider", h.Callback)
	v1.POST("/webhooks/:provider", h.Webhook)
}
