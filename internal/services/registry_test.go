package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sponsor/internal/auditctx"
	"github.com/charlesng35/sponsor/internal/models"
	"github.com/charlesng35/sponsor/internal/permissions"
	apperrors "github.com/charlesng35/sponsor/pkg/errors"
)

func TestNewRegistryRequiresDependencies(t *testing.T) {
	f := newRegistryFixture(t)
	guard, err := permissions.NewGuard(permissions.NewStaticAuthority(nil))
	require.NoError(t, err)

	_, err = NewRegistry(nil, f.state, guard)
	require.Error(t, err)
	_, err = NewRegistry(f.params, nil, guard)
	require.Error(t, err)
	_, err = NewRegistry(f.params, f.state, nil)
	require.Error(t, err)
}

func TestUnknownKeysAreNotWhitelisted(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	for _, key := range []string{"never", "gpu-quota", "a/b", ""} {
		rec, err := f.registry.GetParam(ctx, key)
		require.NoError(t, err)
		require.Nil(t, rec)

		ok, err := f.registry.IsParamWhitelisted(ctx, key)
		require.NoError(t, err)
		require.False(t, ok)

		available, err := f.registry.IsParamTimeAvailable(ctx, key)
		require.NoError(t, err)
		require.False(t, available)
	}
}

func TestWhitelistParamByController(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	first := models.ParamRecord{IsWhitelisted: true, IsPrincipal: true, LastUse: 9, Count: 4}
	prev, err := f.registry.WhitelistParam(ctx, testController, "k", first)
	require.NoError(t, err)
	require.Nil(t, prev)

	got, err := f.registry.GetParam(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, &first, got)

	ok, err := f.registry.IsParamWhitelisted(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	second := models.ParamRecord{IsWhitelisted: false}
	prev, err = f.registry.WhitelistParam(ctx, testController, "k", second)
	require.NoError(t, err)
	require.Equal(t, &first, prev)

	ok, err = f.registry.IsParamWhitelisted(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWhitelistParamDeniedLeavesStoreUnchanged(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	original := models.ParamRecord{IsWhitelisted: true}
	_, err := f.registry.WhitelistParam(ctx, testController, "k", original)
	require.NoError(t, err)

	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))

	for _, caller := range []string{"svc-A", "anonymous", "intruder"} {
		_, err := f.registry.WhitelistParam(ctx, caller, "k", models.ParamRecord{Count: 99})
		require.ErrorIs(t, err, apperrors.ErrAccessDenied, caller)

		_, err = f.registry.WhitelistParam(ctx, caller, "new-key", models.ParamRecord{IsWhitelisted: true})
		require.ErrorIs(t, err, apperrors.ErrAccessDenied, caller)
	}

	got, err := f.registry.GetParam(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, &original, got)

	missing, err := f.registry.GetParam(ctx, "new-key")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestWhitelistParamKeyTooLong(t *testing.T) {
	f := newRegistryFixture(t)

	key := string(make([]byte, models.MaxParamKeyBytes+1))
	_, err := f.registry.WhitelistParam(context.Background(), testController, key, models.ParamRecord{})
	require.ErrorIs(t, err, apperrors.ErrSizeExceeded)
}

func TestEditManagerCanisterToggles(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	ok, err := f.registry.IsManagerCanister(ctx, "svc-A")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))
	ok, err = f.registry.IsManagerCanister(ctx, "svc-A")
	require.NoError(t, err)
	require.True(t, ok)

	// idempotent
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))

	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", false))
	ok, err = f.registry.IsManagerCanister(ctx, "svc-A")
	require.NoError(t, err)
	require.False(t, ok)

	// revoked entries stay recorded
	state, err := f.state.Load(ctx)
	require.NoError(t, err)
	trusted, present := state.Managers["svc-A"]
	require.True(t, present)
	require.False(t, trusted)
}

func TestEditManagerCanisterRequiresController(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	err := f.registry.EditManagerCanister(ctx, "svc-A", "svc-A", true)
	require.ErrorIs(t, err, apperrors.ErrAccessDenied)

	ok, err := f.registry.IsManagerCanister(ctx, "svc-A")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLogParamUsageRequiresManager(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	original := models.ParamRecord{IsWhitelisted: true, LastUse: 1, Count: 1}
	_, err := f.registry.WhitelistParam(ctx, testController, "k", original)
	require.NoError(t, err)
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "revoked", true))
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "revoked", false))

	// the controller itself is not a manager
	for _, caller := range []string{testController, "revoked", "stranger", "anonymous"} {
		_, err := f.registry.LogParamUsage(ctx, caller, "k")
		require.ErrorIs(t, err, apperrors.ErrAccessDenied, caller)
	}

	got, err := f.registry.GetParam(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, &original, got)
}

func TestLogParamUsageUnknownParam(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, testController, true))

	for _, caller := range []string{"svc-A", testController} {
		_, err := f.registry.LogParamUsage(ctx, caller, "missing")
		require.ErrorIs(t, err, apperrors.ErrParamNotDefined)
	}

	rec, err := f.registry.GetParam(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestLogParamUsageIncrementsAndIsMonotonic(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.registry.WhitelistParam(ctx, testController, "k", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))

	// rapid repeated calls at the same instant are never rejected
	var prev models.ParamRecord
	for i := 0; i < 5; i++ {
		rec, err := f.registry.LogParamUsage(ctx, "svc-A", "k")
		require.NoError(t, err)
		require.Equal(t, prev.Count+1, rec.Count)
		require.GreaterOrEqual(t, rec.LastUse, prev.LastUse)
		prev = rec
	}

	// a clock that moves backwards never rewinds last_use
	highWater := prev.LastUse
	f.clock.Advance(-time.Hour)
	rec, err := f.registry.LogParamUsage(ctx, "svc-A", "k")
	require.NoError(t, err)
	require.Equal(t, highWater, rec.LastUse)
	require.Equal(t, uint32(6), rec.Count)
}

func TestLogParamUsageIgnoresCooldown(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.registry.WhitelistParam(ctx, testController, "k", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))
	require.NoError(t, f.registry.SetTimerLimit(ctx, testController, uint64(time.Hour)))

	_, err = f.registry.LogParamUsage(ctx, "svc-A", "k")
	require.NoError(t, err)
	rec, err := f.registry.LogParamUsage(ctx, "svc-A", "k")
	require.NoError(t, err)
	require.Equal(t, uint32(2), rec.Count)
}

func TestLogParamUsageCountExhausted(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	full := models.ParamRecord{IsWhitelisted: true, LastUse: 1, Count: math.MaxUint32}
	_, err := f.registry.WhitelistParam(ctx, testController, "k", full)
	require.NoError(t, err)
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))

	_, err = f.registry.LogParamUsage(ctx, "svc-A", "k")
	require.ErrorIs(t, err, apperrors.ErrCountExhausted)

	got, err := f.registry.GetParam(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, &full, got)
}

func TestIsParamTimeAvailable(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	limit := 10 * time.Second
	_, err := f.registry.WhitelistParam(ctx, testController, "k", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))
	require.NoError(t, f.registry.SetTimerLimit(ctx, testController, uint64(limit)))

	_, err = f.registry.LogParamUsage(ctx, "svc-A", "k")
	require.NoError(t, err)

	available, err := f.registry.IsParamTimeAvailable(ctx, "k")
	require.NoError(t, err)
	require.False(t, available)

	// exactly timer_limit elapsed is not enough
	f.clock.Advance(limit)
	available, err = f.registry.IsParamTimeAvailable(ctx, "k")
	require.NoError(t, err)
	require.False(t, available)

	f.clock.Advance(time.Nanosecond)
	available, err = f.registry.IsParamTimeAvailable(ctx, "k")
	require.NoError(t, err)
	require.True(t, available)
}

func TestIsParamTimeAvailableWithFutureLastUse(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	future := uint64(f.clock.Now().Add(time.Hour).UnixNano())
	_, err := f.registry.WhitelistParam(ctx, testController, "k", models.ParamRecord{IsWhitelisted: true, LastUse: future})
	require.NoError(t, err)

	// zero elapsed and a zero limit is still not available
	available, err := f.registry.IsParamTimeAvailable(ctx, "k")
	require.NoError(t, err)
	require.False(t, available)
}

func TestIsParamTimeAvailableZeroLimit(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.registry.WhitelistParam(ctx, testController, "k", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)

	available, err := f.registry.IsParamTimeAvailable(ctx, "k")
	require.NoError(t, err)
	require.True(t, available)
}

func TestIsController(t *testing.T) {
	f := newRegistryFixture(t)

	ok, err := f.registry.IsController(context.Background(), testController)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.registry.IsController(context.Background(), "svc-A")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSettingsAndMaxCallsPerUser(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.registry.Settings(ctx, "svc-A")
	require.ErrorIs(t, err, apperrors.ErrAccessDenied)
	require.ErrorIs(t, f.registry.SetTimerLimit(ctx, "svc-A", 5), apperrors.ErrAccessDenied)
	require.ErrorIs(t, f.registry.SetMaxCallsPerUser(ctx, "svc-A", 5), apperrors.ErrAccessDenied)

	require.NoError(t, f.registry.SetTimerLimit(ctx, testController, 42))
	require.NoError(t, f.registry.SetMaxCallsPerUser(ctx, testController, 3))
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-B", true))
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-C", false))

	settings, err := f.registry.Settings(ctx, testController)
	require.NoError(t, err)
	require.Equal(t, uint64(42), settings.TimerLimit)
	require.Equal(t, uint16(3), settings.MaxCallPerUser)
	require.Equal(t, []string{"svc-A", "svc-B"}, settings.Managers)
	require.Equal(t, []string{testController}, settings.Controllers)
}

func TestMaxCallsPerUserIsNotEnforced(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.registry.WhitelistParam(ctx, testController, "k", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))
	require.NoError(t, f.registry.SetMaxCallsPerUser(ctx, testController, 1))

	for i := 0; i < 3; i++ {
		_, err := f.registry.LogParamUsage(ctx, "svc-A", "k")
		require.NoError(t, err)
	}
}

func TestAuditTrailRecordsSuccessfulMutationsOnly(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{RequestID: "req-1"})

	_, err := f.registry.WhitelistParam(ctx, testController, "k", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))
	_, err = f.registry.LogParamUsage(ctx, "svc-A", "k")
	require.NoError(t, err)

	// denials leave no trace
	_, err = f.registry.LogParamUsage(ctx, "intruder", "k")
	require.Error(t, err)
	_, err = f.registry.WhitelistParam(ctx, "intruder", "k", models.ParamRecord{})
	require.Error(t, err)

	_, _, err = f.registry.AuditTrail(ctx, "svc-A", AuditListOptions{})
	require.ErrorIs(t, err, apperrors.ErrAccessDenied)

	logs, total, err := f.registry.AuditTrail(ctx, testController, AuditListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
		require.Equal(t, "req-1", entry.RequestID)
		require.Equal(t, auditResultSuccess, entry.Result)
	}
	require.ElementsMatch(t, []string{
		permissions.OpWhitelistParam,
		permissions.OpEditManager,
		permissions.OpLogParamUsage,
	}, actions)

	filtered, total, err := f.registry.AuditTrail(ctx, testController, AuditListOptions{
		Filters: AuditFilters{Principal: "svc-A"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "k", filtered[0].Resource)
}

func TestConcurrentUsageLogsAreSerialised(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.registry.WhitelistParam(ctx, testController, "k", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)
	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.registry.LogParamUsage(ctx, "svc-A", "k"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := f.registry.GetParam(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, uint32(workers), rec.Count)
}

func TestGpuQuotaScenario(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	prev, err := f.registry.WhitelistParam(ctx, testController, "gpu-quota", models.ParamRecord{
		IsWhitelisted: true,
		IsPrincipal:   false,
		LastUse:       0,
		Count:         0,
	})
	require.NoError(t, err)
	require.Nil(t, prev)

	require.NoError(t, f.registry.EditManagerCanister(ctx, testController, "svc-A", true))

	var last models.ParamRecord
	var thirdCall uint64
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Millisecond)
		thirdCall = uint64(f.clock.Now().UnixNano())
		last, err = f.registry.LogParamUsage(ctx, "svc-A", "gpu-quota")
		require.NoError(t, err)
	}

	require.Equal(t, uint32(3), last.Count)
	require.Equal(t, thirdCall, last.LastUse)

	stored, err := f.registry.GetParam(ctx, "gpu-quota")
	require.NoError(t, err)
	require.Equal(t, last, *stored)
}

func TestStateStoreFailureIsNotDenial(t *testing.T) {
	f := newRegistryFixture(t)
	guard, err := permissions.NewGuard(permissions.NewStaticAuthority([]string{testController}))
	require.NoError(t, err)

	boom := errors.New("state unavailable")
	registry, err := NewRegistry(f.params, failingStateStore{err: boom}, guard)
	require.NoError(t, err)

	_, err = registry.LogParamUsage(context.Background(), "svc-A", "k")
	require.ErrorIs(t, err, boom)
	require.False(t, errors.Is(err, apperrors.ErrAccessDenied))
}

type failingStateStore struct{ err error }

func (f failingStateStore) Load(context.Context) (models.AdminState, error) {
	return models.AdminState{}, f.err
}

func (f failingStateStore) Save(context.Context, models.AdminState) error { return f.err }
