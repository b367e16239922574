package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/sponsor/internal/codec"
	"github.com/charlesng35/sponsor/internal/models"
	apperrors "github.com/charlesng35/sponsor/pkg/errors"
)

// ParamStore is the durable key -> ParamRecord map. Records are never deleted.
type ParamStore interface {
	// Get returns the stored record and whether it exists.
	Get(ctx context.Context, key string) (models.ParamRecord, bool, error)
	// Put inserts or replaces a record, returning the prior value when one existed.
	Put(ctx context.Context, key string, rec models.ParamRecord) (models.ParamRecord, bool, error)
	// Update applies fn to the current record atomically and persists its result.
	Update(ctx context.Context, key string, fn ParamUpdateFunc) (models.ParamRecord, error)
}

// ParamUpdateFunc receives the current record and whether it exists. Returning
// an error aborts the update without writing.
type ParamUpdateFunc func(current models.ParamRecord, exists bool) (models.ParamRecord, error)

// GormParamStore persists encoded records in the param_entries table.
type GormParamStore struct {
	db *gorm.DB
}

// NewGormParamStore constructs a ParamStore using the provided database handle.
func NewGormParamStore(db *gorm.DB) (*GormParamStore, error) {
	if db == nil {
		return nil, errors.New("param store: db is required")
	}
	return &GormParamStore{db: db}, nil
}

// Get implements ParamStore.
func (s *GormParamStore) Get(ctx context.Context, key string) (models.ParamRecord, bool, error) {
	if err := validateParamKey(key); err != nil {
		return models.ParamRecord{}, false, err
	}
	return s.load(s.db.WithContext(ensureContext(ctx)), key, false)
}

// Put implements ParamStore.
func (s *GormParamStore) Put(ctx context.Context, key string, rec models.ParamRecord) (models.ParamRecord, bool, error) {
	var (
		prior   models.ParamRecord
		existed bool
	)

	err := s.transact(ctx, key, func(tx *gorm.DB) error {
		var err error
		prior, existed, err = s.load(tx, key, true)
		if err != nil {
			return err
		}
		return s.save(tx, key, rec)
	})
	if err != nil {
		return models.ParamRecord{}, false, err
	}
	return prior, existed, nil
}

// Update implements ParamStore.
func (s *GormParamStore) Update(ctx context.Context, key string, fn ParamUpdateFunc) (models.ParamRecord, error) {
	var updated models.ParamRecord

	err := s.transact(ctx, key, func(tx *gorm.DB) error {
		current, exists, err := s.load(tx, key, true)
		if err != nil {
			return err
		}
		updated, err = fn(current, exists)
		if err != nil {
			return err
		}
		return s.save(tx, key, updated)
	})
	if err != nil {
		return models.ParamRecord{}, err
	}
	return updated, nil
}

func (s *GormParamStore) transact(ctx context.Context, key string, fn func(tx *gorm.DB) error) error {
	if err := validateParamKey(key); err != nil {
		return err
	}
	return s.db.WithContext(ensureContext(ctx)).Transaction(fn)
}

func (s *GormParamStore) load(tx *gorm.DB, key string, forUpdate bool) (models.ParamRecord, bool, error) {
	query := tx.Where(keyEquals(key))
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var entry models.ParamEntry
	err := query.Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ParamRecord{}, false, nil
	}
	if err != nil {
		return models.ParamRecord{}, false, fmt.Errorf("param store: load %q: %w", key, err)
	}

	rec, err := codec.DecodeParam(entry.Value)
	if err != nil {
		return models.ParamRecord{}, false, fmt.Errorf("param store: decode %q: %w", key, err)
	}
	return rec, true, nil
}

func (s *GormParamStore) save(tx *gorm.DB, key string, rec models.ParamRecord) error {
	value, err := codec.EncodeParam(rec)
	if err != nil {
		if errors.Is(err, codec.ErrTooLarge) {
			return apperrors.ErrSizeExceeded.WithInternal(err)
		}
		return fmt.Errorf("param store: encode %q: %w", key, err)
	}

	entry := models.ParamEntry{Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("param store: save %q: %w", key, err)
	}
	return nil
}

func keyEquals(key string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

func validateParamKey(key string) error {
	if len(key) > models.MaxParamKeyBytes {
		return apperrors.ErrSizeExceeded.WithInternal(
			fmt.Errorf("param key is %d bytes, limit %d", len(key), models.MaxParamKeyBytes),
		)
	}
	return nil
}
