package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flow-hydraulics/credential-vault/datastore"
	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/keys"
	"github.com/flow-hydraulics/credential-vault/keys/encryption"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const collection = "google_tokens"

var ErrMissingEmail = errors.New("account email is required")

// Store keeps one GoogleDocument per user in the document store.
type Store struct {
	db    datastore.Store
	codec encryption.Codec
	now   func() time.Time
}

type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(db datastore.Store, codec encryption.Codec, opts ...StoreOption) *Store {
	s := &Store{db: db, codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Document returns the accounts of the user, or nil if none were ever
// connected.
func (s *Store) Document(ctx context.Context, userID string) (*GoogleDocument, error) {
	doc, _, err := s.load(ctx, userID)
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

// Merge seals token under key and stores it for the account. A new account
// becomes the default only if the user has none. For a known account only
// the token is replaced.
func (s *Store) Merge(ctx context.Context, userID string, key *keys.Ref, redirectURI string, info AccountInfo, token *oauth2.Token) (*GoogleAccount, error) {
	if info.Email == "" {
		return nil, ErrMissingEmail
	}

	payload, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}

	sealed, err := s.codec.Encrypt(ctx, key, payload)
	if err != nil {
		return nil, err
	}

	doc, version, err := s.load(ctx, userID)
	if errors.Is(err, datastore.ErrNotFound) {
		doc = &GoogleDocument{
			UserID:    userID,
			CreatedAt: s.now().UTC(),
			Accounts:  map[string]*GoogleAccount{},
		}
	} else if err != nil {
		return nil, err
	}

	if redirectURI != "" {
		doc.RedirectURI = redirectURI
	}

	entry, exists := doc.Accounts[info.Email]
	if exists {
		entry.EncryptedToken = string(sealed)
	} else {
		entry = &GoogleAccount{
			Email:          info.Email,
			Name:           info.Name,
			Picture:        info.Picture,
			CreatedAt:      s.now().UTC(),
			EncryptedToken: string(sealed),
			IsDefault:      doc.Default() == nil,
		}
		doc.Accounts[info.Email] = entry
	}

	if err := s.db.Update(ctx, collection, userID, version, doc); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"userId":    userID,
		"accounts":  len(doc.Accounts),
		"isNew":     !exists,
		"isDefault": entry.IsDefault,
	}).Info("Merged google account")

	return entry, nil
}

// DefaultCredentials opens the token of the default account. It returns nil
// when the user has no default account.
func (s *Store) DefaultCredentials(ctx context.Context, userID string, key *keys.Ref) (*oauth2.Token, error) {
	doc, err := s.Document(ctx, userID)
	if err != nil || doc == nil {
		return nil, err
	}

	a := doc.Default()
	if a == nil {
		return nil, nil
	}

	payload, err := s.codec.Decrypt(ctx, key, []byte(a.EncryptedToken))
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{}
	if err := json.Unmarshal(payload, token); err != nil {
		return nil, &vaulterrors.EncodingError{Err: fmt.Errorf("google token of %s: %w", a.Email, err)}
	}

	return token, nil
}

func (s *Store) ListAccountEmails(ctx context.Context, userID string) ([]string, error) {
	doc, err := s.Document(ctx, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return []string{}, nil
	}
	return doc.Emails(), nil
}

// RemoveAccount deletes an account and reports how many remain. Removing the
// default account elects the oldest remaining one.
func (s *Store) RemoveAccount(ctx context.Context, userID, email string) (bool, int, error) {
	doc, version, err := s.load(ctx, userID)
	if errors.Is(err, datastore.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	removed, ok := doc.Accounts[email]
	if !ok {
		return false, len(doc.Accounts), nil
	}
	delete(doc.Accounts, email)

	fields := log.Fields{"userId": userID, "accounts": len(doc.Accounts)}
	if removed.IsDefault {
		if elected := doc.electDefault(); elected != nil {
			fields["default"] = elected.Email
		}
	}

	if err := s.db.Update(ctx, collection, userID, version, doc); err != nil {
		return false, 0, err
	}

	log.WithFields(fields).Info("Removed google account")

	return true, len(doc.Accounts), nil
}

func (s *Store) load(ctx context.Context, userID string) (*GoogleDocument, int64, error) {
	doc := &GoogleDocument{}
	version, err := s.db.Get(ctx, collection, userID, doc)
	if err != nil {
		return nil, 0, err
	}
	if doc.Accounts == nil {
		doc.Accounts = map[string]*GoogleAccount{}
	}
	return doc, version, nil
}
