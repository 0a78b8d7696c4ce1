// Package migrations lists the schema migrations of the vault database.
package migrations

import (
	"github.com/flow-hydraulics/credential-vault/migrations/internal/m20261019"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func List() []*gormigrate.Migration {
	ms := []*gormigrate.Migration{
		{
			ID:       m20261019.ID,
			Migrate:  m20261019.Migrate,
			Rollback: m20261019.Rollback,
		},
	}
	return ms
}

// Run applies every pending migration.
func Run(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, List())
	return m.Migrate()
}
