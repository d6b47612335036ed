package exportmodule

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all export module routes
func RegisterRoutes(r *gin.Engine, handler *APIHandler) {
	api := r.Group("/api/export")
	{
		// Session management
		api.POST("", handler.HandleStartExport)
		api.GET("/sessions", handler.HandleListSessions)
		api.GET("/session/:sessionId", handler.HandleGetSession)
		api.DELETE("/session/:sessionId", handler.HandleCancelSession)

		// Output and progress
		api.GET("/session/:sessionId/download", handler.HandleDownload)
		api.GET("/session/:sessionId/ws", handler.HandleProgressSocket)

		// Presets and health
		api.GET("/presets", handler.HandleListPresets)
		api.GET("/health", handler.HandleHealthCheck)

		// Cleanup endpoints
		api.POST("/cleanup/run", handler.HandleManualCleanup)
		api.GET("/cleanup/stats", handler.HandleCleanupStats)
	}
}
