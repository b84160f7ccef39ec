package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tandem/internal/handlers"
)

func registerMonitoringRoutes(admin *gin.RouterGroup, handler *handlers.MonitoringHandler) {
	if admin == nil || handler == nil {
		return
	}

	admin.GET("/monitoring/summary", handler.Summary)
}
