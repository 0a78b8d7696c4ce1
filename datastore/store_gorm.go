package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/flow-hydraulics/credential-vault/datastore/lib"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db}
}

func (s *GormStore) Get(ctx context.Context, collection, id string, out interface{}) (int64, error) {
	d := Document{}
	err := s.db.WithContext(ctx).First(&d, "collection = ? AND doc_id = ?", collection, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	if out != nil {
		if err := d.Decode(out); err != nil {
			return 0, err
		}
	}

	return d.Version, nil
}

func (s *GormStore) Set(ctx context.Context, collection, id string, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return lib.GormTransaction(ctx, s.db, func(tx *gorm.DB) error {
		existing := Document{}
		err := tx.Select("version").First(&existing, "collection = ? AND doc_id = ?", collection, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&Document{Collection: collection, DocID: id, Data: datatypes.JSON(b), Version: 1}).Error
		}
		if err != nil {
			return err
		}

		return tx.Model(&Document{}).
			Where("collection = ? AND doc_id = ?", collection, id).
			Updates(map[string]interface{}{
				"data":       datatypes.JSON(b),
				"version":    existing.Version + 1,
				"updated_at": time.Now(),
			}).Error
	})
}

func (s *GormStore) Update(ctx context.Context, collection, id string, expectedVersion int64, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	db := s.db.WithContext(ctx)

	if expectedVersion == 0 {
		err := db.Create(&Document{Collection: collection, DocID: id, Data: datatypes.JSON(b), Version: 1}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return err
	}

	res := db.Model(&Document{}).
		Where("collection = ? AND doc_id = ? AND version = ?", collection, id, expectedVersion).
		Updates(map[string]interface{}{
			"data":       datatypes.JSON(b),
			"version":    expectedVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}

	return nil
}

func (s *GormStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		Delete(&Document{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) QueryWhere(ctx context.Context, collection, field string, value interface{}) (dd []Document, err error) {
	err = s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Where(datatypes.JSONQuery("data").Equals(value, field)).
		Order("created_at asc").
		Find(&dd).Error
	return
}

func (s *GormStore) List(ctx context.Context, collection string) (dd []Document, err error) {
	err = s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("created_at asc").
		Find(&dd).Error
	return
}
