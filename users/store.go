package users

import "context"

// Directory resolves users and records their key and connection state.
type Directory interface {
	// User returns ErrNotFound if no user has the given id.
	User(ctx context.Context, id string) (*User, error)
	// SetKeyID records keyID unless the user already has a key. It reports
	// whether keyID was recorded.
	SetKeyID(ctx context.Context, id, keyID string) (bool, error)
	SetConnected(ctx context.Context, id string, s Service, connected bool) error
}
