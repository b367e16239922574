package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/sponsor/internal/codec"
	"github.com/charlesng35/sponsor/internal/database"
	"github.com/charlesng35/sponsor/internal/models"
)

// AdminStateStore persists the administrative singleton.
type AdminStateStore interface {
	// Load returns the persisted state, or the defaults when nothing was saved yet.
	Load(ctx context.Context) (models.AdminState, error)
	Save(ctx context.Context, state models.AdminState) error
}

// SettingsAdminStateStore keeps the encoded AdminState in system_settings.
type SettingsAdminStateStore struct {
	db       *gorm.DB
	defaults models.AdminState
}

// NewSettingsAdminStateStore constructs the store. defaults seeds the state
// returned before the first Save.
func NewSettingsAdminStateStore(db *gorm.DB, defaults models.AdminState) (*SettingsAdminStateStore, error) {
	if db == nil {
		return nil, errors.New("admin state store: db is required")
	}
	if defaults.Managers == nil {
		defaults.Managers = map[string]bool{}
	}
	return &SettingsAdminStateStore{db: db, defaults: defaults.Clone()}, nil
}

// Load implements AdminStateStore.
func (s *SettingsAdminStateStore) Load(ctx context.Context) (models.AdminState, error) {
	raw, err := database.GetSystemSetting(ensureContext(ctx), s.db, models.AdminStateSettingKey)
	if err != nil {
		return models.AdminState{}, fmt.Errorf("admin state store: %w", err)
	}
	if raw == "" {
		return s.defaults.Clone(), nil
	}

	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return models.AdminState{}, fmt.Errorf("admin state store: decode base64: %w", err)
	}

	state, err := codec.DecodeAdminState(payload)
	if err != nil {
		return models.AdminState{}, fmt.Errorf("admin state store: %w", err)
	}
	return state, nil
}

// Save implements AdminStateStore.
func (s *SettingsAdminStateStore) Save(ctx context.Context, state models.AdminState) error {
	encoded := base64.StdEncoding.EncodeToString(codec.EncodeAdminState(state))
	if err := database.UpsertSystemSetting(ensureContext(ctx), s.db, models.AdminStateSettingKey, encoded); err != nil {
		return fmt.Errorf("admin state store: %w", err)
	}
	return nil
}
