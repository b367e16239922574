package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/app"
	iauth "github.com/charlesng35/sponsor/internal/auth"
	"github.com/charlesng35/sponsor/internal/handlers"
	"github.com/charlesng35/sponsor/internal/middleware"
	"github.com/charlesng35/sponsor/internal/relay"
)

// NewRelayRouter builds the engine for the caller-side relay service.
func NewRelayRouter(jwt *iauth.JWTService, client *relay.Client, cfg *app.Config) (*gin.Engine, error) {
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	handler, err := handlers.NewRelayHandler(client, cfg.Relay)
	if err != nil {
		return nil, err
	}

	r := newEngine(jwt)
	r.GET("/health", handlers.Health(nil))
	registerMetricsRoute(r, cfg.Monitoring.Prometheus)

	api := r.Group("/api")
	{
		api.GET("/greet", handler.Greet)
		api.GET("/whoami", handler.WhoAmI)
		api.GET("/targets", handler.Targets)
	}

	// Calls below act on targets with the relay's own identity.
	relayed := api.Group("/relay", middleware.RequirePrincipal(cfg.Relay.CallerPrincipals()))
	{
		relayed.POST("/:target/verify", handler.Verify)
		relayed.POST("/:target/usage/:key", handler.LogUsage)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
