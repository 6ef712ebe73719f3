package main

import (
	"log/slog"
	"net/http"

	"telecom-platform/internal/admission"
	"telecom-platform/internal/audit"
	"telecom-platform/internal/auth"
	"telecom-platform/internal/callengine"
	"telecom-platform/internal/config"
	"telecom-platform/internal/eventbus"
	"telecom-platform/internal/ingestapi"
	"telecom-platform/internal/rbac"
	"telecom-platform/internal/recovery"
	"telecom-platform/internal/store"
	"telecom-platform/internal/supervisor"
	"telecom-platform/internal/telephony"
	"telecom-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// routerDeps collects everything newRouter needs to wire handlers,
// mirroring the teacher's dependency-struct-per-router convention rather
// than a global service locator.
type routerDeps struct {
	log         *slog.Logger
	engine      *callengine.Engine
	bus         *eventbus.Bus
	store       store.Store
	admission   *admission.Controller
	authManager *auth.Manager
	auditSvc    *audit.Service
	cfg         config.Config
}

// newRouter wires HTTP routes to handlers. Keep this file free of
// business logic; every handler delegates to an internal package.
func newRouter(deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(deps.log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider ingress: webhook admits/rejects, media-stream carries packets.
	streamURLFor := func(callID string) string {
		return deps.cfg.App.PublicBaseURL + "/v1/media-stream/" + callID
	}
	webhookHandler := telephony.NewWebhookHandler(telephony.NewTwilioProvider(deps.admission, streamURLFor))
	r.POST("/webhooks/twilio/voice", webhookHandler.HandleInboundCall)

	mediaStreamHandler := telephony.NewMediaStreamHandler(deps.engine)
	r.GET("/v1/media-stream/:call_id", mediaStreamHandler.HandleStream)

	// Core ingest façade.
	ingestHandlers := ingestapi.New(deps.engine)
	v1 := r.Group("/v1/calls")
	v1.POST("/:call_id/packets", ingestHandlers.IngestPacket)
	v1.POST("/:call_id/complete", ingestHandlers.CompleteCall)

	// External observer feed.
	supervisorHub := supervisor.New(deps.bus, deps.authManager)
	r.GET("/v1/stream", supervisorHub.Stream)

	// Operator-only recovery, behind auth + the hidden operator role.
	recoverySvc := recovery.New(deps.store, deps.bus, deps.auditSvc)
	recoveryHandler := recovery.NewHandler(recoverySvc)
	admin := r.Group("/v1/admin")
	admin.Use(auth.RequireAccessToken(deps.authManager))
	admin.Use(rbac.RequireAnyRole(rbac.RoleOperator))
	admin.POST("/calls/:call_id/recover", recoveryHandler.Recover)

	return r
}
