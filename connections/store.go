package connections

import (
	"context"
	"errors"
	"time"

	"github.com/flow-hydraulics/credential-vault/datastore"
	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/keys"
	"github.com/flow-hydraulics/credential-vault/keys/encryption"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	requestCollection = "plaid_requests"
	tokenCollection   = "plaid_tokens"
)

// Store keeps one Document and at most one Request per user.
type Store struct {
	db    datastore.Store
	codec encryption.Codec
	now   func() time.Time
	newID func() string
}

type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(db datastore.Store, codec encryption.Codec, opts ...StoreOption) *Store {
	s := &Store{
		db:    db,
		codec: codec,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginConnection records a link request. An existing request is returned
// unchanged.
func (s *Store) BeginConnection(ctx context.Context, userID, redirectURI string) (*Request, error) {
	if r, err := s.request(ctx, userID); err == nil || !errors.Is(err, datastore.ErrNotFound) {
		return r, err
	}

	r := &Request{UserID: userID, RedirectURI: redirectURI, CreatedAt: s.now().UTC()}
	err := s.db.Update(ctx, requestCollection, userID, 0, r)
	if errors.Is(err, datastore.ErrConflict) {
		return s.request(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"userId": userID}).Debug("Created plaid link request")

	return r, nil
}

// AddConnection seals the credentials of a newly linked institution and
// appends it. It requires a prior BeginConnection.
func (s *Store) AddConnection(ctx context.Context, userID string, key *keys.Ref, subAccounts []SubAccount, authToken, itemID, bankName string) (*Entry, error) {
	req, err := s.request(ctx, userID)
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, &vaulterrors.InvalidRequestError{UserID: userID}
	}
	if err != nil {
		return nil, err
	}

	sealedToken, err := s.codec.Encrypt(ctx, key, []byte(authToken))
	if err != nil {
		return nil, err
	}
	sealedItem, err := s.codec.Encrypt(ctx, key, []byte(itemID))
	if err != nil {
		return nil, err
	}

	doc, version, err := s.load(ctx, userID)
	if errors.Is(err, datastore.ErrNotFound) {
		doc = &Document{UserID: userID, RedirectURI: req.RedirectURI, CreatedAt: s.now().UTC()}
	} else if err != nil {
		return nil, err
	}

	if subAccounts == nil {
		subAccounts = []SubAccount{}
	}

	entry := Entry{
		ID:                 s.newID(),
		BankName:           bankName,
		EncryptedAuthToken: string(sealedToken),
		EncryptedItemID:    string(sealedItem),
		SubAccounts:        subAccounts,
		Valid:              true,
	}
	doc.Tokens = append(doc.Tokens, entry)

	if err := s.db.Update(ctx, tokenCollection, userID, version, doc); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"userId": userID, "entryId": entry.ID, "connections": len(doc.Tokens)}).Info("Added plaid connection")

	return &entry, nil
}

// ListAccounts returns one summary per valid connection.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]Summary, error) {
	doc, _, err := s.load(ctx, userID)
	if errors.Is(err, datastore.ErrNotFound) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, err
	}

	valid := doc.valid()
	out := make([]Summary, 0, len(valid))
	for _, e := range valid {
		out = append(out, Summary{ID: e.ID, BankName: e.BankName, SubAccounts: e.SubAccounts})
	}
	return out, nil
}

// DecryptedEntries opens the credentials of every valid connection.
func (s *Store) DecryptedEntries(ctx context.Context, userID string, key *keys.Ref) ([]Credentials, error) {
	doc, _, err := s.load(ctx, userID)
	if errors.Is(err, datastore.ErrNotFound) {
		return []Credentials{}, nil
	}
	if err != nil {
		return nil, err
	}

	valid := doc.valid()
	out := make([]Credentials, 0, len(valid))
	for _, e := range valid {
		authToken, err := s.codec.Decrypt(ctx, key, []byte(e.EncryptedAuthToken))
		if err != nil {
			return nil, err
		}
		itemID, err := s.codec.Decrypt(ctx, key, []byte(e.EncryptedItemID))
		if err != nil {
			return nil, err
		}
		out = append(out, Credentials{
			ID:          e.ID,
			BankName:    e.BankName,
			AuthToken:   string(authToken),
			ItemID:      string(itemID),
			SubAccounts: e.SubAccounts,
		})
	}
	return out, nil
}

// DeleteAccount removes a connection and reports how many valid ones remain.
func (s *Store) DeleteAccount(ctx context.Context, userID, entryID string) (bool, int, error) {
	doc, version, err := s.load(ctx, userID)
	if errors.Is(err, datastore.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	kept := doc.Tokens[:0]
	deleted := false
	for _, e := range doc.Tokens {
		if e.ID == entryID {
			deleted = true
			continue
		}
		kept = append(kept, e)
	}
	doc.Tokens = kept

	if !deleted {
		return false, len(doc.valid()), nil
	}

	if err := s.db.Update(ctx, tokenCollection, userID, version, doc); err != nil {
		return false, 0, err
	}

	remaining := len(doc.valid())
	log.WithFields(log.Fields{"userId": userID, "entryId": entryID, "remaining": remaining}).Info("Deleted plaid connection")

	return true, remaining, nil
}

// ResetAll deletes every connection and the pending request of the user.
// It reports whether any connections were stored.
func (s *Store) ResetAll(ctx context.Context, userID string) (bool, error) {
	existed, err := s.db.Delete(ctx, tokenCollection, userID)
	if err != nil {
		return false, err
	}

	if _, err := s.db.Delete(ctx, requestCollection, userID); err != nil {
		return existed, err
	}

	log.WithFields(log.Fields{"userId": userID, "existed": existed}).Info("Reset plaid connections")

	return existed, nil
}

func (s *Store) request(ctx context.Context, userID string) (*Request, error) {
	r := &Request{}
	if _, err := s.db.Get(ctx, requestCollection, userID, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) load(ctx context.Context, userID string) (*Document, int64, error) {
	doc := &Document{}
	version, err := s.db.Get(ctx, tokenCollection, userID, doc)
	if err != nil {
		return nil, 0, err
	}
	return doc, version, nil
}
