// Package gorm opens the vault database and applies its migrations.
package gorm

import (
	"github.com/flow-hydraulics/credential-vault/configs"
	"github.com/flow-hydraulics/credential-vault/migrations"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func New(cfg *configs.Config) (*gorm.DB, error) {
	gormCfg, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(gormCfg.Dialector, gormCfg.Options)
	if err != nil {
		return nil, err
	}

	if err := migrations.Run(db); err != nil {
		Close(db)
		return nil, err
	}

	log.WithFields(log.Fields{"type": cfg.DatabaseType}).Debug("Database ready")

	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("Unable to close database")
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("Unable to close database")
	}
}
