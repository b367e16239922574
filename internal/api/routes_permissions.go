package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/handlers"
)

func registerOperationRoutes(api *gin.RouterGroup, handler *handlers.RegistryHandler) {
	api.GET("/operations", handler.Operations)
}
