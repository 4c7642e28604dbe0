package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"homeproject-backend/internal/middleware"
)

type Router struct {
	Health      Pinger
	Auth        gin.HandlerFunc
	Projects    *ProjectsHandler
	Process     *ProcessHandler
	Status      *StatusHandler
	Profiles    *ProfilesHandler
	Scans       *ScansHandler
	Suggestions *SuggestionsHandler
	Webhook     *WebhookHandler
	Logger      zerolog.Logger
}

// Engine builds the gin engine with every route registered.
func (r Router) Engine() *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(r.Logger))
	router.Use(middleware.RequestLogger(r.Logger))
	router.Use(middleware.PrometheusMiddleware())

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check (no auth)
	router.GET("/health", HealthHandler(r.Health))

	// Webhook (no auth, uses Stripe signature)
	router.POST("/api/v1/webhooks/stripe", r.Webhook.HandleStripe)

	// API routes
	api := router.Group("/api/v1")
	api.Use(r.Auth)

	api.GET("/me/entitlement", r.Profiles.GetEntitlement)

	// Project routes
	api.POST("/projects", r.Projects.CreateProject)
	api.GET("/projects", r.Projects.ListProjects)
	api.GET("/projects/:project_id", r.Projects.GetProject)
	api.DELETE("/projects/:project_id", r.Projects.DeleteProject)
	api.POST("/projects/:project_id/image", r.Projects.AttachImage)

	// Status
	api.GET("/projects/:project_id/status", r.Status.GetStatus)

	// Preview, plan and build
	api.POST("/projects/:project_id/preview", r.Process.RequestPreview)
	api.POST("/projects/:project_id/preview/skip", r.Process.SkipPreview)
	api.POST("/projects/:project_id/plan", r.Process.RequestPlan)
	api.POST("/projects/:project_id/build", r.Process.StartBuild)
	api.PUT("/projects/:project_id/progress", r.Process.UpdateProgress)

	// Room scans
	api.POST("/projects/:project_id/scans", r.Scans.CreateScan)
	api.GET("/projects/:project_id/scans", r.Scans.ListScans)
	api.GET("/scans/:scan_id", r.Scans.GetScan)
	api.PATCH("/scans/:scan_id", r.Scans.UpdateScan)

	api.GET("/suggestions", r.Suggestions.GetSuggestions)

	return router
}
