package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/sponsor/internal/models"
	"github.com/charlesng35/sponsor/internal/services"
	"github.com/charlesng35/sponsor/pkg/logger"
	"github.com/charlesng35/sponsor/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultAuditSpec          = "@daily"
	defaultStatsSpec          = "@every 1m"

	jobAuditRetention = "audit_retention"
	jobRegistryStats  = "registry_stats"
)

// Cleaner coordinates background maintenance: pruning stale audit logs and
// refreshing the registry gauges.
type Cleaner struct {
	db        *gorm.DB
	audit     *services.AuditService
	state     services.AdminStateStore
	cron      *cron.Cron
	log       *zap.Logger
	enabled   bool
	retention int

	auditSchedule string
	statsSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithStatsSchedule overrides the cron specification for the registry gauges.
func WithStatsSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.statsSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil audit service
// skips retention; a nil db or state store skips the gauges.
func NewCleaner(db *gorm.DB, audit *services.AuditService, state services.AdminStateStore, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:            db,
		audit:         audit,
		state:         state,
		retention:     defaultAuditRetentionDays,
		auditSchedule: defaultAuditSpec,
		statsSchedule: defaultStatsSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.audit != nil || cleaner.statsEnabled()

	return cleaner
}

// Start registers jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if err := c.pruneAudit(context.Background()); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", jobAuditRetention, err)
		}
	}

	if c.statsEnabled() {
		if _, err := c.cron.AddFunc(c.statsSchedule, func() {
			if err := c.refreshStats(context.Background()); err != nil {
				c.log.Warn("registry stats refresh failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", jobRegistryStats, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially. Used in tests and during
// graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.audit != nil && c.retention > 0 {
		errs = multierr.Append(errs, c.pruneAudit(ctx))
	}
	if c.statsEnabled() {
		errs = multierr.Append(errs, c.refreshStats(ctx))
	}

	return errs
}

func (c *Cleaner) statsEnabled() bool {
	return c.db != nil && c.state != nil
}

func (c *Cleaner) pruneAudit(ctx context.Context) error {
	removed, err := c.audit.CleanupOlderThan(ctx, c.retention)
	recordRun(jobAuditRetention, err)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("audit logs pruned", zap.Int64("removed", removed), zap.Int("retention_days", c.retention))
	}
	return nil
}

func (c *Cleaner) refreshStats(ctx context.Context) error {
	stats, err := CollectRegistryStats(ctx, c.db, c.state)
	recordRun(jobRegistryStats, err)
	if err != nil {
		return err
	}
	metrics.RegistryParams.Set(float64(stats.Params))
	metrics.TrustedManagers.Set(float64(stats.TrustedManagers))
	return nil
}

func recordRun(job string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()
}

// RegistryStats summarises the registry for the gauges.
type RegistryStats struct {
	Params          int64
	TrustedManagers int
}

// CollectRegistryStats counts stored params and currently trusted managers.
func CollectRegistryStats(ctx context.Context, db *gorm.DB, state services.AdminStateStore) (RegistryStats, error) {
	if db == nil || state == nil {
		return RegistryStats{}, errors.New("registry stats: db and state store are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var stats RegistryStats
	var errs error

	if err := db.WithContext(ctx).Model(&models.ParamEntry{}).Count(&stats.Params).Error; err != nil {
		errs = multierr.Append(errs, fmt.Errorf("registry stats: count params: %w", err))
	}

	current, err := state.Load(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("registry stats: load admin state: %w", err))
	} else {
		for _, trusted := range current.Managers {
			if trusted {
				stats.TrustedManagers++
			}
		}
	}

	return stats, errs
}
