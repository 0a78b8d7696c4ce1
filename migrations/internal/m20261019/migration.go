package m20261019

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const ID = "20261019"

type User struct {
	ID                string `gorm:"column:id;primaryKey;size:128"`
	Email             string `gorm:"column:email;index"`
	IsRegistered      bool   `gorm:"column:is_registered;default:false"`
	KMSKeyID          string `gorm:"column:kms_key_id"`
	ConnectedToGoogle bool   `gorm:"column:connected_to_google;default:false"`
	ConnectedToPlaid  bool   `gorm:"column:connected_to_plaid;default:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (User) TableName() string {
	return "users"
}

type Document struct {
	Collection string         `gorm:"column:collection;primaryKey;size:64"`
	DocID      string         `gorm:"column:doc_id;primaryKey;size:255"`
	Data       datatypes.JSON `gorm:"column:data"`
	Version    int64          `gorm:"column:version;not null;default:1"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Document) TableName() string {
	return "documents"
}

func Migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&User{}); err != nil {
		return err
	}

	if err := tx.AutoMigrate(&Document{}); err != nil {
		return err
	}

	return nil
}

func Rollback(tx *gorm.DB) error {
	if err := tx.Migrator().DropTable(&Document{}); err != nil {
		return err
	}

	if err := tx.Migrator().DropTable(&User{}); err != nil {
		return err
	}

	return nil
}
