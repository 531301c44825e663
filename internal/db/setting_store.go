// Package db provides GORM-based database operations for roboprep.
package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingStore provides key/value setting operations. Values are opaque
// JSON-serialized blobs; the only write semantics is upsert-by-key.
type SettingStore struct {
	db *gorm.DB
}

// NewSettingStore creates a new setting store.
func NewSettingStore(store *Store) *SettingStore {
	return &SettingStore{db: store.DB}
}

// Get returns the value for a key. Returns ("", nil) when the key is absent.
func (s *SettingStore) Get(ctx context.Context, key string) (string, error) {
	var setting Setting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// Put upserts a setting by key.
func (s *SettingStore) Put(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&Setting{Key: key, Value: value}).Error
}
