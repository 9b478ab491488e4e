package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jroosing/lernadns/internal/api/handlers"
	"github.com/jroosing/lernadns/internal/api/middleware"
	"github.com/jroosing/lernadns/internal/config"
)

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	api := r.Group("/api/v1")

	// Health stays reachable without a key for liveness probes.
	api.GET("/health", h.Health)

	// Optional API key protection for everything else.
	if cfg != nil && cfg.API.APIKey != "" {
		api.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	api.GET("/stats", h.Stats)
	api.POST("/cache/flush", h.FlushCache)

	api.GET("/trustanchors", h.ListTrustAnchors)
	api.POST("/trustanchors", h.AddTrustAnchor)
	api.DELETE("/trustanchors/:name", h.DeleteTrustAnchor)

	api.GET("/records", h.ListRecords)
	api.POST("/records", h.AddRecord)
	api.DELETE("/records/:name", h.DeleteRecords)
}
