package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/sponsor/internal/app"
	iauth "github.com/charlesng35/sponsor/internal/auth"
	"github.com/charlesng35/sponsor/internal/handlers"
	"github.com/charlesng35/sponsor/internal/middleware"
	"github.com/charlesng35/sponsor/internal/security"
	"github.com/charlesng35/sponsor/internal/services"
)

// NewRouter builds the registry Gin engine, wires middleware and registers every registry route.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, registry *services.Registry, auditor *security.Auditor, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry must be provided")
	}
	if auditor == nil {
		return nil, fmt.Errorf("security auditor must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	registryHandler, err := handlers.NewRegistryHandler(registry)
	if err != nil {
		return nil, err
	}

	securityHandler, err := handlers.NewSecurityHandler(auditor, registry)
	if err != nil {
		return nil, err
	}

	r := newEngine(jwt)
	registerHealthRoutes(r, db, cfg)

	api := r.Group("/api")
	registerParamRoutes(api, registryHandler)
	registerManagerRoutes(api, registryHandler)
	registerSettingsRoutes(api, registryHandler)
	registerAuditRoutes(api, registryHandler)
	registerOperationRoutes(api, registryHandler)
	registerSecurityRoutes(api, securityHandler)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

// newEngine returns an engine with the shared middleware chain. Paths are
// matched on their raw form so keys may carry an escaped '/'.
func newEngine(jwt *iauth.JWTService) *gin.Engine {
	r := gin.New()
	r.UseRawPath = true
	r.UnescapePathValues = true

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Identity(jwt))

	return r
}
