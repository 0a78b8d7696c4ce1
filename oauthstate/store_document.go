package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flow-hydraulics/credential-vault/datastore"
	log "github.com/sirupsen/logrus"
)

const (
	collection        = "oauth_states"
	pendingCollection = "oauth_pending"

	maxInsertAttempts = 5
)

// pending points at the latest state issued to a user for a service.
type pending struct {
	State   string `json:"state"`
	UserID  string `json:"userId"`
	Service string `json:"service"`
}

// DocumentStore keeps state records in the shared document store, one
// document per state plus a pointer per user and service.
type DocumentStore struct {
	db datastore.Store
}

var _ Store = (*DocumentStore)(nil)

func NewDocumentStore(db datastore.Store) *DocumentStore {
	return &DocumentStore{db}
}

func (s *DocumentStore) Insert(ctx context.Context, st *State) error {
	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		won, err := s.insert(ctx, st)
		if err != nil {
			return err
		}
		if won {
			return nil
		}
		log.WithFields(log.Fields{"userId": st.UserID, "service": st.Service, "attempt": attempt}).Debug("Concurrent oauth state issued, retrying")
	}
	return fmt.Errorf("oauth state for user %s kept being superseded", st.UserID)
}

// insert stores st and moves the pending pointer to it. It reports false if
// another state took the pointer first, in which case st is removed again.
func (s *DocumentStore) insert(ctx context.Context, st *State) (bool, error) {
	id := st.Service + ":" + st.UserID

	prev := pending{}
	version, err := s.db.Get(ctx, pendingCollection, id, &prev)
	if err != nil && !errors.Is(err, datastore.ErrNotFound) {
		return false, err
	}

	if err := s.db.Update(ctx, collection, st.State, 0, st); err != nil {
		if errors.Is(err, datastore.ErrConflict) {
			return false, fmt.Errorf("oauth state collision")
		}
		return false, err
	}

	next := pending{State: st.State, UserID: st.UserID, Service: st.Service}
	if err := s.db.Update(ctx, pendingCollection, id, version, next); err != nil {
		if _, derr := s.db.Delete(ctx, collection, st.State); derr != nil {
			return false, derr
		}
		if errors.Is(err, datastore.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	if prev.State != "" && prev.State != st.State {
		if _, err := s.db.Delete(ctx, collection, prev.State); err != nil {
			return false, err
		}
		log.WithFields(log.Fields{"userId": st.UserID, "service": st.Service}).Debug("Superseded pending oauth state")
	}

	return true, nil
}

func (s *DocumentStore) Consume(ctx context.Context, service, state string, at time.Time) (*State, error) {
	st := &State{}
	version, err := s.db.Get(ctx, collection, state, st)
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if st.Service != service || st.ConsumedAt != nil {
		return nil, ErrNotFound
	}

	st.ConsumedAt = &at
	if err := s.db.Update(ctx, collection, state, version, st); err != nil {
		// Lost the race against a concurrent redeem
		if errors.Is(err, datastore.ErrConflict) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return st, nil
}

func (s *DocumentStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	dd, err := s.db.List(ctx, collection)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, d := range dd {
		st := State{}
		if err := d.Decode(&st); err != nil {
			return pruned, err
		}
		if st.ConsumedAt == nil && st.CreatedAt.After(cutoff) {
			continue
		}
		deleted, err := s.db.Delete(ctx, collection, d.DocID)
		if err != nil {
			return pruned, err
		}
		if deleted {
			pruned++
		}
	}

	return pruned, nil
}
