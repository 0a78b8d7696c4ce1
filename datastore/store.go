// Package datastore provides a keyed JSON document store with
// compare-and-swap updates.
package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"gorm.io/datatypes"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document was modified concurrently")
)

// Document is a single JSON record addressed by (collection, id).
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

// Decode unmarshals the document data into out.
func (d *Document) Decode(out interface{}) error {
	if err := json.Unmarshal(d.Data, out); err != nil {
		return &vaulterrors.EncodingError{Err: err}
	}
	return nil
}

// Store is the document store used by the credential stores.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get decodes the document into out and returns its version.
	// Returns ErrNotFound if the document does not exist.
	Get(ctx context.Context, collection, id string, out interface{}) (int64, error)

	// Set creates or replaces the document unconditionally.
	Set(ctx context.Context, collection, id string, data interface{}) error

	// Update replaces the document only if its stored version equals
	// expectedVersion; expectedVersion 0 creates the document only if it is
	// absent. Returns ErrConflict otherwise.
	Update(ctx context.Context, collection, id string, expectedVersion int64, data interface{}) error

	// Delete removes the document and reports whether it existed.
	Delete(ctx context.Context, collection, id string) (bool, error)

	// QueryWhere lists documents whose top level JSON field equals value.
	QueryWhere(ctx context.Context, collection, field string, value interface{}) ([]Document, error)

	// List returns every document of a collection, oldest first.
	List(ctx context.Context, collection string) ([]Document, error)
}
