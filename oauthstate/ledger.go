package oauthstate

import (
	"context"
	"errors"
	"time"

	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/users"
	log "github.com/sirupsen/logrus"
)

const DefaultTTL = 10 * time.Minute

// Ledger issues state tokens and redeems each of them at most once within
// its time to live.
type Ledger struct {
	store    Store
	provider Provider
	ttl      time.Duration
	now      func() time.Time
}

type LedgerOption func(*Ledger)

// WithClock overrides the clock used for issuing and expiring states.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

func NewLedger(store Store, provider Provider, ttl time.Duration, opts ...LedgerOption) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	l := &Ledger{
		store:    store,
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Begin issues a new state for the user. Earlier pending states of the same
// user and service stop being redeemable.
func (l *Ledger) Begin(ctx context.Context, userID string, svc users.Service, redirectURI string) (string, error) {
	st := &State{
		State:       l.provider.NewState(),
		UserID:      userID,
		Service:     svc.String(),
		RedirectURI: redirectURI,
		CreatedAt:   l.now().UTC(),
	}

	if err := l.store.Insert(ctx, st); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{"userId": userID, "service": st.Service}).Debug("Issued oauth state")

	return st.State, nil
}

// Redeem consumes the state. It fails with *errors.InvalidStateError if the
// state is unknown, already redeemed, superseded or at least TTL old.
func (l *Ledger) Redeem(ctx context.Context, svc users.Service, state string) (*State, error) {
	if state == "" {
		return nil, &vaulterrors.InvalidStateError{Reason: "empty state"}
	}

	now := l.now().UTC()

	st, err := l.store.Consume(ctx, svc.String(), state, now)
	if errors.Is(err, ErrNotFound) {
		return nil, &vaulterrors.InvalidStateError{Reason: "unknown or already used"}
	}
	if err != nil {
		return nil, err
	}

	if !st.CreatedAt.After(now.Add(-l.ttl)) {
		return nil, &vaulterrors.InvalidStateError{Reason: "expired"}
	}

	return st, nil
}

// Prune deletes consumed and expired states.
func (l *Ledger) Prune(ctx context.Context) (int, error) {
	n, err := l.store.Prune(ctx, l.now().UTC().Add(-l.ttl))
	if err != nil {
		return n, err
	}

	log.WithFields(log.Fields{"pruned": n}).Info("Pruned oauth states")

	return n, nil
}
