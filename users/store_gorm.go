package users

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db}
}

func (s *GormStore) User(ctx context.Context, id string) (*User, error) {
	u := &User{}
	err := s.db.WithContext(ctx).First(u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Register inserts a new user.
func (s *GormStore) Register(ctx context.Context, u *User) error {
	log.WithFields(log.Fields{"userId": u.ID, "registered": u.IsRegistered}).Debug("Registering user")
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *GormStore) SetKeyID(ctx context.Context, id, keyID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ? AND (kms_key_id = '' OR kms_key_id IS NULL)", id).
		Update("kms_key_id", keyID)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Either the user is missing or another key was recorded first
	if _, err := s.User(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *GormStore) SetConnected(ctx context.Context, id string, svc Service, connected bool) error {
	column, err := connectedColumn(svc)
	if err != nil {
		return err
	}
	return s.update(ctx, id, column, connected)
}

func (s *GormStore) update(ctx context.Context, id, column string, value interface{}) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
