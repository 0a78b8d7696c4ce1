// Package oauthstate issues and redeems the short lived state tokens that
// bind a pending OAuth connection to a user.
package oauthstate

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a state is unknown, already
// consumed or superseded.
var ErrNotFound = errors.New("oauth state not found")

// State is a pending connection attempt.
type State struct {
	State       string     `json:"state"`
	UserID      string     `json:"userId"`
	Service     string     `json:"service"`
	RedirectURI string     `json:"redirectUri"`
	CreatedAt   time.Time  `json:"createdAt"`
	ConsumedAt  *time.Time `json:"consumedAt,omitempty"`
}

// Store persists state records.
type Store interface {
	// Insert saves s and invalidates every earlier unconsumed state of the
	// same user and service.
	Insert(ctx context.Context, s *State) error

	// Consume marks the state consumed and returns it. A state can be
	// consumed at most once. Returns ErrNotFound otherwise.
	Consume(ctx context.Context, service, state string, at time.Time) (*State, error)

	// Prune deletes records that are consumed or were created before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}
