package test

import (
	"testing"

	"github.com/flow-hydraulics/credential-vault/configs"
	"github.com/flow-hydraulics/credential-vault/datastore/gorm"
	upstreamgorm "gorm.io/gorm"
)

func GetDatabase(t *testing.T, cfg *configs.Config) *upstreamgorm.DB {
	t.Helper()

	db, err := gorm.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	dbClose := func() { gorm.Close(db) }
	dbClean := func() {
		m := db.Migrator()
		tables, err := m.GetTables()
		if err != nil {
			t.Logf("error while cleaning test database: %s", err)
		}
		for _, table := range tables {
			if err := m.DropTable(table); err != nil {
				t.Logf("error while cleaning test database: %s", err)
			}
		}
	}
	t.Cleanup(dbClose)
	t.Cleanup(dbClean)

	return db
}
