package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/handlers"
)

func registerSecurityRoutes(api *gin.RouterGroup, handler *handlers.SecurityHandler) {
	api.GET("/security/audit", handler.Audit)
}
