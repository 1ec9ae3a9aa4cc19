package main

import (
	"net/http"

	"voice-relay/internal/auth"
	"voice-relay/internal/httpapi"
	"voice-relay/internal/rbac"
	"voice-relay/internal/relay"
	"voice-relay/internal/telephony"
	"voice-relay/pkg/telemetry"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth     *auth.Manager
	api      httpapi.Handlers
	webhooks telephony.WebhookHandler
	relay    *relay.Relay
	metrics  *telemetry.Metrics
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.api

	// public
	r.GET("/", h.Root)
	r.GET("/status", h.Status)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", d.metrics.Handler())

	// Carrier webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	r.Any(telephony.InboundCallPath, d.webhooks.HandleInboundCall)
	r.Any(telephony.OutboundTwiMLPath, d.webhooks.HandleOutboundTwiML)
	r.POST(telephony.CallStatusPath, d.webhooks.HandleCallStatus)

	// Media streams
	r.GET(telephony.InboundStreamPath, d.relay.HandleInbound)
	r.GET(telephony.OutboundStreamPath, d.relay.HandleOutbound)

	adminMW := []gin.HandlerFunc{auth.RequireAdminToken(d.auth), rbac.RequireAnyRole(rbac.RoleAdmin)}

	r.POST("/transfer-call", append(adminMW, h.TransferCall)...)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/verify", h.VerifyToken)
	}

	// Tenant self-service
	secure := r.Group("/secure")
	secure.Use(auth.RequireClientToken(d.auth), rbac.RequireTenant(), rbac.RequireAnyRole(rbac.RoleClient))
	{
		secure.GET("/me", h.Me)
		secure.GET("/calls", h.MyCalls)
		secure.GET("/metrics", h.MyMetrics)
		secure.POST("/get-info", h.GetInfo)
		secure.GET("/get-availability", h.MyAvailability)
		secure.POST("/book-appointment", h.MyBook)
		secure.POST("/make-outbound-call", h.MyOutboundCall)
	}

	admin := r.Group("/admin")
	admin.Use(adminMW...)
	{
		admin.GET("/dashboard", h.Dashboard)
		admin.GET("/activity", h.Activity)
		admin.GET("/audit", h.AuditLog)
		admin.POST("/tool-token", h.ToolToken)

		clients := admin.Group("/clients")
		clients.GET("", h.ListClients)
		clients.POST("", h.CreateClient)
		clients.GET("/:id", h.GetClient)
		clients.PUT("/:id", h.UpdateClient)
		clients.DELETE("/:id", h.DeleteClient)
		clients.POST("/:id/reset-secret", h.ResetSecret)
		clients.GET("/:id/calls", h.ClientCalls)
		clients.POST("/:id/make-call", h.MakeCall)
		clients.POST("/:id/refresh-ghl-token", h.RefreshCRMToken)
		clients.GET("/:id/ghl-token-status", h.CRMTokenStatus)

		clients.GET("/:id/agents", h.ListAgents)
		clients.POST("/:id/agents", h.AddAgent)
		clients.PUT("/:id/agents/:agentId", h.UpdateAgent)
		clients.DELETE("/:id/agents/:agentId", h.RemoveAgent)

		reports := admin.Group("/reports")
		reports.GET("/agent-metrics", h.AgentMetrics)
		reports.POST("/sync-elevenlabs", h.SyncVoiceAI)
		reports.POST("/sync-ghl-appointments", h.SyncAppointments)
		reports.GET("/combined-metrics", h.CombinedMetrics)
		reports.GET("/compare-metrics", h.CompareMetrics)
		reports.POST("/recalculate-metrics", h.RecalculateMetrics)
	}

	// Voice agent tool webhooks
	tools := r.Group("/tools")
	tools.Use(adminMW...)
	{
		tools.POST("/discover-client", h.DiscoverClient)
		tools.POST("/get-availability", h.ToolAvailability)
		tools.POST("/book-appointment", h.ToolBook)
		tools.POST("/get-client-info", h.ToolClientInfo)
		tools.GET("/get-time", h.GetTime)
	}
}
