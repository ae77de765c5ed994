package main

import (
	"peersupport-platform/internal/httpapi"
	"peersupport-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Token issuance (public).
	// NOTE: Login accepts a self-declared identity; real credential validation
	// belongs to the account system, which is out of scope for this service.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CALL routes. Only the two calling roles may place or act on calls;
		// every handler additionally checks session membership.
		callRoutes := v1.Group("/calls")
		callRoutes.Use(rbac.RequireCallParticipant())
		{
			callRoutes.POST("", h.CreateCall)
			callRoutes.GET("/:id", h.GetCall)
			callRoutes.POST("/:id/status", h.SetCallStatus)
			callRoutes.POST("/:id/accept", h.AcceptCall)
			callRoutes.POST("/:id/signals", h.PushSignal)
			callRoutes.GET("/:id/watch", h.WatchCall)
			callRoutes.GET("/:id/signals/watch", h.WatchSignals)
		}

		// The incoming feed lives outside /calls because gin cannot mix a
		// static segment with the :id wildcard at the same position.
		v1.GET("/incoming-calls/watch", rbac.RequireCallParticipant(), h.WatchIncoming)

		// DEVICE routes: any authenticated user manages their own tokens.
		devices := v1.Group("/devices")
		{
			devices.POST("", h.RegisterDevice)
			devices.DELETE("/:token", h.RemoveDevice)
		}

		// THREAD routes
		threads := v1.Group("/threads")
		threads.Use(rbac.RequireCallParticipant())
		{
			threads.POST("/:user_id/messages", h.SendMessage)
			threads.GET("/:user_id/messages", h.ThreadHistory)
		}
	}
}
