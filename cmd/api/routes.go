package main

import (
	"context"

	"callcenter-platform/internal/agents"
	"callcenter-platform/internal/auth"
	"callcenter-platform/internal/bridge"
	"callcenter-platform/internal/config"
	"callcenter-platform/internal/dialer"
	"callcenter-platform/internal/httpapi"
	"callcenter-platform/internal/rbac"
	"callcenter-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg          config.Config
	auth         *auth.Manager
	registry     *dialer.Registry
	bridge       *bridge.Server
	associations agents.Associations
	handlers     httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Telephony media stream. The provider connects here once the call is
	// answered; authentication is the unguessable stream URL handed out at
	// dial time.
	r.GET("/media-stream", d.bridge.HandleMediaStream)

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	{
		status := telephony.StatusCallbackHandler{Router: d.registry}
		r.POST("/webhooks/twilio/status", status.Handle)

		inbound := telephony.InboundVoiceHandler{
			StreamURL: d.cfg.StreamURL(),
			AssociateCall: func(ctx context.Context, callSID, agentID string) error {
				return d.associations.Associate(ctx, callSID, agentID, 0)
			},
		}
		r.POST("/webhooks/twilio/inbound", inbound.Handle)
	}

	h := d.handlers

	// AUTH routes (token issuance).
	// NOTE: Login is a placeholder that issues tokens without credential
	// validation; real identity verification belongs to a separate service.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		// CAMPAIGN control
		campaigns := v1.Group("/campaigns")
		campaigns.Use(rbac.RequireAnyRole(rbac.RoleOperator))
		{
			campaigns.POST("/:campaign_id/start", h.StartCampaign)
			campaigns.POST("/:campaign_id/pause", h.PauseCampaign)
			campaigns.POST("/:campaign_id/resume", h.ResumeCampaign)
			campaigns.POST("/:campaign_id/stop", h.StopCampaign)
			campaigns.GET("/:campaign_id/status", h.CampaignStatus)
			campaigns.GET("/:campaign_id/report", h.GetCampaignReport)
			campaigns.GET("/:campaign_id/leads", h.GetCampaignLeads)
		}

		// USAGE routes
		v1.GET("/usage/balance", h.GetUsageBalance)
		v1.GET("/usage/summary", h.GetUsageSummary)

		// CALL history
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer))
		{
			calls.GET("/:call_sid/events", h.GetCallEvents)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/usage/credit", h.AdminCreditMinutes)
		}
	}
}
