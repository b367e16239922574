package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/handlers"
)

func registerSettingsRoutes(api *gin.RouterGroup, handler *handlers.RegistryHandler) {
	settings := api.Group("/settings")
	{
		settings.GET("", handler.Settings)
		settings.PUT("/timer-limit", handler.SetTimerLimit)
		settings.PUT("/max-calls-per-user", handler.SetMaxCallsPerUser)
	}
}
