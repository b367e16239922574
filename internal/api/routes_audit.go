package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/handlers"
)

func registerAuditRoutes(api *gin.RouterGroup, handler *handlers.RegistryHandler) {
	api.GET("/audit", handler.AuditTrail)
}
