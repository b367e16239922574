package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/handlers"
)

func registerParamRoutes(api *gin.RouterGroup, handler *handlers.RegistryHandler) {
	params := api.Group("/params")
	{
		params.GET("/:key", handler.GetParam)
		params.PUT("/:key", handler.WhitelistParam)
		params.GET("/:key/whitelisted", handler.IsParamWhitelisted)
		params.GET("/:key/available", handler.IsParamTimeAvailable)
		params.POST("/:key/usage", handler.LogParamUsage)
	}
}

func registerManagerRoutes(api *gin.RouterGroup, handler *handlers.RegistryHandler) {
	managers := api.Group("/managers")
	{
		managers.GET("/:principal", handler.IsManager)
		managers.PUT("/:principal", handler.EditManager)
	}
	api.GET("/controller", handler.IsController)
	api.GET("/whoami", handler.WhoAmI)
}
