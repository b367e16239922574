package maintenance

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	testutil "github.com/charlesng35/sponsor/internal/database/testutil"
	"github.com/charlesng35/sponsor/internal/models"
	"github.com/charlesng35/sponsor/internal/services"
	"github.com/charlesng35/sponsor/pkg/metrics"
)

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	state, err := services.NewSettingsAdminStateStore(db, models.DefaultAdminState())
	require.NoError(t, err)
	require.NoError(t, state.Save(ctx, models.AdminState{
		Managers: map[string]bool{"svc-A": true, "svc-B": false, "svc-C": true},
	}))

	params, err := services.NewGormParamStore(db)
	require.NoError(t, err)
	for _, key := range []string{"gpu-quota", "disk-quota"} {
		_, _, err := params.Put(ctx, key, models.ParamRecord{IsWhitelisted: true})
		require.NoError(t, err)
	}

	require.NoError(t, auditSvc.Log(ctx, services.AuditEntry{
		Principal: "root-admin",
		Action:    "param.whitelist",
		Resource:  "gpu-quota",
		Result:    "success",
	}))
	require.NoError(t, auditSvc.Log(ctx, services.AuditEntry{
		Principal: "root-admin",
		Action:    "param.whitelist",
		Resource:  "disk-quota",
		Result:    "success",
	}))
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("resource = ?", "gpu-quota").
		Update("created_at", time.Now().AddDate(0, 0, -10)).Error)

	c := NewCleaner(db, auditSvc, state,
		WithAuditRetentionDays(7),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, c.RunOnce(ctx))

	var remaining []models.AuditLog
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "disk-quota", remaining[0].Resource)

	require.Equal(t, float64(2), gaugeValue(t, metrics.RegistryParams))
	require.Equal(t, float64(2), gaugeValue(t, metrics.TrustedManagers))
}

func TestCleanerRunOnceAggregatesFailures(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)
	state, err := services.NewSettingsAdminStateStore(db, models.DefaultAdminState())
	require.NoError(t, err)

	// no migrations: every job hits a missing table
	c := NewCleaner(db, auditSvc, state, WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))))
	err = c.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "audit service: cleanup logs")
	require.Contains(t, err.Error(), "registry stats: count params")
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	c := NewCleaner(db, auditSvc, nil,
		WithAuditSchedule("not a schedule"),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	err = c.Start()
	require.Error(t, err)
	require.Contains(t, err.Error(), jobAuditRetention)
}

func TestCleanerWithoutJobsIsNoop(t *testing.T) {
	c := NewCleaner(nil, nil, nil)
	require.NoError(t, c.Start())
	require.NoError(t, c.RunOnce(context.Background()))
	<-c.Stop().Done()
}

func TestCollectRegistryStatsRequiresDependencies(t *testing.T) {
	_, err := CollectRegistryStats(context.Background(), nil, nil)
	require.Error(t, err)
}

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}
