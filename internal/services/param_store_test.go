package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sponsor/internal/database/testutil"
	"github.com/charlesng35/sponsor/internal/models"
	apperrors "github.com/charlesng35/sponsor/pkg/errors"
)

func TestGormParamStoreGetPut(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGormParamStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "gpu-quota")
	require.NoError(t, err)
	require.False(t, ok)

	first := models.ParamRecord{IsWhitelisted: true, LastUse: 5, Count: 1}
	_, existed, err := store.Put(ctx, "gpu-quota", first)
	require.NoError(t, err)
	require.False(t, existed)

	got, ok, err := store.Get(ctx, "gpu-quota")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, got)

	second := models.ParamRecord{IsWhitelisted: false, IsPrincipal: true}
	prior, existed, err := store.Put(ctx, "gpu-quota", second)
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, first, prior)

	got, _, err = store.Get(ctx, "gpu-quota")
	require.NoError(t, err)
	require.Equal(t, second, got)

	var rows int64
	require.NoError(t, db.Model(&models.ParamEntry{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)
}

func TestGormParamStoreKeysCompareExactly(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGormParamStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	keys := []string{"GPU", "gpu", "gpu "}
	for i, key := range keys {
		_, existed, err := store.Put(ctx, key, models.ParamRecord{IsWhitelisted: true, Count: uint32(i + 1)})
		require.NoError(t, err)
		require.False(t, existed, key)
	}

	for i, key := range keys {
		got, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok, key)
		require.Equal(t, uint32(i+1), got.Count, key)
	}

	var rows int64
	require.NoError(t, db.Model(&models.ParamEntry{}).Count(&rows).Error)
	require.Equal(t, int64(len(keys)), rows)
}

func TestGormParamStoreKeyBound(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGormParamStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	limit := strings.Repeat("k", models.MaxParamKeyBytes)
	_, _, err = store.Put(ctx, limit, models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)

	tooLong := limit + "k"
	_, _, err = store.Put(ctx, tooLong, models.ParamRecord{IsWhitelisted: true})
	require.ErrorIs(t, err, apperrors.ErrSizeExceeded)

	// multi-byte runes are counted in bytes
	wide := strings.Repeat("é", models.MaxParamKeyBytes/2+1)
	_, _, err = store.Put(ctx, wide, models.ParamRecord{})
	require.ErrorIs(t, err, apperrors.ErrSizeExceeded)

	_, ok, err := store.Get(ctx, tooLong)
	require.ErrorIs(t, err, apperrors.ErrSizeExceeded)
	require.False(t, ok)

	var rows int64
	require.NoError(t, db.Model(&models.ParamEntry{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)
}

func TestGormParamStoreUpdateAbortsOnError(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGormParamStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	original := models.ParamRecord{IsWhitelisted: true, Count: 2}
	_, _, err = store.Put(ctx, "k", original)
	require.NoError(t, err)

	_, err = store.Update(ctx, "k", func(current models.ParamRecord, exists bool) (models.ParamRecord, error) {
		require.True(t, exists)
		current.Count = 100
		return current, apperrors.ErrCountExhausted
	})
	require.ErrorIs(t, err, apperrors.ErrCountExhausted)

	got, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, original, got)

	updated, err := store.Update(ctx, "k", func(current models.ParamRecord, _ bool) (models.ParamRecord, error) {
		current.Count++
		return current, nil
	})
	require.NoError(t, err)
	require.Equal(t, uint32(3), updated.Count)
}

func TestGormParamStoreRejectsCorruptValue(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGormParamStore(db)
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.ParamEntry{Key: "broken", Value: []byte{42}}).Error)

	_, _, err = store.Get(context.Background(), "broken")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestSettingsAdminStateStore(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewSettingsAdminStateStore(db, models.AdminState{TimerLimit: 30})
	require.NoError(t, err)
	ctx := context.Background()

	state, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(30), state.TimerLimit)
	require.Empty(t, state.Managers)

	// callers cannot mutate the seeded defaults through a loaded copy
	state.Managers["leak"] = true
	again, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, again.Managers)

	saved := models.AdminState{
		Managers:       map[string]bool{"svc-A": true, "svc-B": false},
		TimerLimit:     1_000,
		MaxCallPerUser: 7,
	}
	require.NoError(t, store.Save(ctx, saved))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, saved, loaded)

	var setting models.SystemSetting
	require.NoError(t, db.Where(&models.SystemSetting{Key: models.AdminStateSettingKey}).Take(&setting).Error)
	require.NotEmpty(t, setting.Value)
}
