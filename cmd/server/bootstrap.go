package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/sponsor/internal/api"
	"github.com/charlesng35/sponsor/internal/app"
	"github.com/charlesng35/sponsor/internal/app/maintenance"
	iauth "github.com/charlesng35/sponsor/internal/auth"
	"github.com/charlesng35/sponsor/internal/database"
	"github.com/charlesng35/sponsor/internal/permissions"
	"github.com/charlesng35/sponsor/internal/security"
	"github.com/charlesng35/sponsor/internal/services"
	"github.com/charlesng35/sponsor/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Registry *services.Registry
	AuditSvc *services.AuditService
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, registry services, maintenance jobs and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	params, err := services.NewGormParamStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise param store: %w", err)
	}

	state, err := services.NewSettingsAdminStateStore(stack.DB, cfg.Sponsor.AdminStateDefaults())
	if err != nil {
		return nil, fmt.Errorf("initialise admin state store: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	authority := permissions.NewStaticAuthority(cfg.Sponsor.ControllerPrincipals())
	guard, err := permissions.NewGuard(authority)
	if err != nil {
		return nil, fmt.Errorf("initialise guard: %w", err)
	}

	stack.Registry, err = services.NewRegistry(params, state, guard,
		services.WithAuditService(stack.AuditSvc),
		services.WithControllerLister(authority.Controllers),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise registry: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.DB, stack.AuditSvc, state,
		maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays),
		maintenance.WithAuditSchedule(cfg.Audit.Schedule),
		maintenance.WithStatsSchedule(cfg.Audit.StatsSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	auditor := security.NewAuditor(state, cfg)
	for _, check := range auditor.Run(ctx).Checks {
		if check.Status != security.StatusPass {
			log.Warn("posture check", zap.String("id", check.ID), zap.String("status", string(check.Status)), zap.String("message", check.Message))
		}
	}

	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, stack.Registry, auditor, cfg)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown run failed", zap.Error(err))
		}
		s.Cleaner = nil
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
		s.DB = nil
	}
}

func initialiseDatabase(ctx context.Context, cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Ping(ctx, db); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	var host app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite", "sqlite3":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		host = cfg.Database.Postgres
	case "mysql":
		host = cfg.Database.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(host.Host)
	dbCfg.Port = host.Port
	dbCfg.Name = strings.TrimSpace(host.Database)
	dbCfg.User = strings.TrimSpace(host.Username)
	dbCfg.Password = strings.TrimSpace(host.Password)
	dbCfg.Options = host.Options
	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
