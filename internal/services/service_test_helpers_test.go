package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/sponsor/internal/database/testutil"
	"github.com/charlesng35/sponsor/internal/models"
	"github.com/charlesng35/sponsor/internal/permissions"
)

const testController = "root-admin"

// fakeClock is a settable time source shared with the registry under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type registryFixture struct {
	db       *gorm.DB
	registry *Registry
	params   *GormParamStore
	state    *SettingsAdminStateStore
	audit    *AuditService
	clock    *fakeClock
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	params, err := NewGormParamStore(db)
	require.NoError(t, err)
	state, err := NewSettingsAdminStateStore(db, models.DefaultAdminState())
	require.NoError(t, err)
	audit, err := NewAuditService(db)
	require.NoError(t, err)

	authority := permissions.NewStaticAuthority([]string{testController})
	guard, err := permissions.NewGuard(authority)
	require.NoError(t, err)

	clock := newFakeClock()
	registry, err := NewRegistry(params, state, guard,
		WithClock(clock.Now),
		WithAuditService(audit),
		WithControllerLister(authority.Controllers),
	)
	require.NoError(t, err)

	return &registryFixture{
		db:       db,
		registry: registry,
		params:   params,
		state:    state,
		audit:    audit,
		clock:    clock,
	}
}
