package lib

import (
	"context"

	"gorm.io/gorm"
)

// GormTransaction performs a function on a gorm database transaction instance
// when using something else than sqlite as the dialector (mysql or psql).
// When using sqlite it will fallback to regular gorm database instance.
func GormTransaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	db = db.WithContext(ctx)

	if db.Config.Dialector.Name() == "sqlite" {
		return fn(db)
	}

	return db.Transaction(fn)
}
