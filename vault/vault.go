// Package vault stores third party credentials of users, sealed under a key
// owned by each user.
package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/flow-hydraulics/credential-vault/accounts"
	"github.com/flow-hydraulics/credential-vault/analytics"
	"github.com/flow-hydraulics/credential-vault/connections"
	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/keys"
	"github.com/flow-hydraulics/credential-vault/oauthstate"
	"github.com/flow-hydraulics/credential-vault/users"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var ErrNoGoogleProvider = errors.New("no google oauth provider configured")

type Service struct {
	users       users.Directory
	keys        *keys.Provisioner
	ledger      *oauthstate.Ledger
	accounts    *accounts.Store
	connections *connections.Store
	sink        analytics.Sink
	google      GoogleProvider
}

func NewService(
	dir users.Directory,
	provisioner *keys.Provisioner,
	ledger *oauthstate.Ledger,
	acc *accounts.Store,
	conns *connections.Store,
	opts ...ServiceOption,
) *Service {
	svc := &Service{
		users:       dir,
		keys:        provisioner,
		ledger:      ledger,
		accounts:    acc,
		connections: conns,
		sink:        analytics.NopSink{},
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

// BeginGoogleConnection issues the state the OAuth callback has to present.
func (svc *Service) BeginGoogleConnection(ctx context.Context, userID, redirectURI string) (string, error) {
	if _, err := svc.user(ctx, userID); err != nil {
		return "", err
	}
	return svc.ledger.Begin(ctx, userID, users.Google, redirectURI)
}

// GoogleAuthURL issues a state and returns the consent page URL carrying it.
func (svc *Service) GoogleAuthURL(ctx context.Context, userID, redirectURI string) (string, error) {
	if svc.google == nil {
		return "", ErrNoGoogleProvider
	}

	state, err := svc.BeginGoogleConnection(ctx, userID, redirectURI)
	if err != nil {
		return "", err
	}

	return svc.google.AuthCodeURL(state, redirectURI), nil
}

// CompleteGoogleConnection redeems the state and stores the token of the
// account it was issued for.
//
// The state is consumed before anything is stored, so a completion that
// fails later still uses it up. The authorization code it came with is
// single use too and the user has to start a new connection either way.
func (svc *Service) CompleteGoogleConnection(ctx context.Context, state string, token *oauth2.Token, info accounts.AccountInfo) (*accounts.GoogleAccount, error) {
	st, err := svc.ledger.Redeem(ctx, users.Google, state)
	if err != nil {
		return nil, err
	}

	u, err := svc.user(ctx, st.UserID)
	if err != nil {
		return nil, err
	}

	key, err := svc.writeKey(ctx, u)
	if err != nil {
		return nil, err
	}

	a, err := svc.accounts.Merge(ctx, u.ID, key, st.RedirectURI, info, token)
	if err != nil {
		return nil, err
	}

	if err := svc.connected(ctx, u, users.Google); err != nil {
		return nil, err
	}

	return a, nil
}

// GetDefaultGoogleCredentials returns the token of the default account, or
// nil if the user has not connected any.
func (svc *Service) GetDefaultGoogleCredentials(ctx context.Context, userID string) (*oauth2.Token, error) {
	u, err := svc.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return svc.accounts.DefaultCredentials(ctx, u.ID, svc.keys.Ref(u))
}

// GoogleTokenSource returns a token source refreshing the default
// credentials, or nil if the user has not connected any account.
func (svc *Service) GoogleTokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	if svc.google == nil {
		return nil, ErrNoGoogleProvider
	}

	t, err := svc.GetDefaultGoogleCredentials(ctx, userID)
	if err != nil || t == nil {
		return nil, err
	}

	return svc.google.TokenSource(ctx, t), nil
}

func (svc *Service) ListGoogleAccountEmails(ctx context.Context, userID string) ([]string, error) {
	return svc.accounts.ListAccountEmails(ctx, userID)
}

// RemoveGoogleAccount disconnects one Google account. The user is flagged
// as disconnected once no account is left.
func (svc *Service) RemoveGoogleAccount(ctx context.Context, userID, email string) (bool, error) {
	u, err := svc.user(ctx, userID)
	if err != nil {
		return false, err
	}

	removed, remaining, err := svc.accounts.RemoveAccount(ctx, u.ID, email)
	if err != nil || !removed {
		return removed, err
	}

	if remaining == 0 {
		if err := svc.disconnected(ctx, u, users.Google); err != nil {
			return true, err
		}
	}

	return true, nil
}

// BeginPlaidConnection records a link request. Repeated calls return the
// pending request.
func (svc *Service) BeginPlaidConnection(ctx context.Context, userID, redirectURI string) (*connections.Request, error) {
	if _, err := svc.user(ctx, userID); err != nil {
		return nil, err
	}
	return svc.connections.BeginConnection(ctx, userID, redirectURI)
}

func (svc *Service) AddPlaidConnection(ctx context.Context, userID string, subAccounts []connections.SubAccount, authToken, itemID, bankName string) (*connections.Entry, error) {
	u, err := svc.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	key, err := svc.writeKey(ctx, u)
	if err != nil {
		return nil, err
	}

	e, err := svc.connections.AddConnection(ctx, u.ID, key, subAccounts, authToken, itemID, bankName)
	if err != nil {
		return nil, err
	}

	if err := svc.connected(ctx, u, users.Plaid); err != nil {
		return nil, err
	}

	return e, nil
}

func (svc *Service) ListPlaidAccounts(ctx context.Context, userID string) ([]connections.Summary, error) {
	return svc.connections.ListAccounts(ctx, userID)
}

// PlaidCredentials opens the credentials of every linked institution.
func (svc *Service) PlaidCredentials(ctx context.Context, userID string) ([]connections.Credentials, error) {
	u, err := svc.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return svc.connections.DecryptedEntries(ctx, u.ID, svc.keys.Ref(u))
}

// DeletePlaidAccount removes one linked institution. The user is flagged as
// disconnected once none is left.
func (svc *Service) DeletePlaidAccount(ctx context.Context, userID, entryID string) (bool, error) {
	u, err := svc.user(ctx, userID)
	if err != nil {
		return false, err
	}

	deleted, remaining, err := svc.connections.DeleteAccount(ctx, u.ID, entryID)
	if err != nil || !deleted {
		return deleted, err
	}

	if remaining == 0 {
		if err := svc.disconnected(ctx, u, users.Plaid); err != nil {
			return true, err
		}
	}

	return true, nil
}

// ResetPlaidAccounts removes every linked institution of the user.
func (svc *Service) ResetPlaidAccounts(ctx context.Context, userID string) (bool, error) {
	u, err := svc.user(ctx, userID)
	if err != nil {
		return false, err
	}

	existed, err := svc.connections.ResetAll(ctx, u.ID)
	if err != nil {
		return false, err
	}

	if u.ConnectedToPlaid {
		if err := svc.disconnected(ctx, u, users.Plaid); err != nil {
			return existed, err
		}
	}

	return existed, nil
}

// PruneStates deletes used and expired OAuth states.
func (svc *Service) PruneStates(ctx context.Context) (int, error) {
	return svc.ledger.Prune(ctx)
}

func (svc *Service) user(ctx context.Context, userID string) (*users.User, error) {
	u, err := svc.users.User(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return nil, &vaulterrors.InvalidUserError{UserID: userID, Reason: "no such user"}
	}
	if err != nil {
		return nil, fmt.Errorf("error while resolving user %s: %w", userID, err)
	}
	return u, nil
}

// writeKey returns the key new secrets of u are sealed with. Outside of
// local mode only registered users can store secrets.
func (svc *Service) writeKey(ctx context.Context, u *users.User) (*keys.Ref, error) {
	key, err := svc.keys.EnsureKey(ctx, u)
	if err != nil {
		return nil, err
	}
	if key == nil && !svc.keys.Local() {
		return nil, &vaulterrors.InvalidUserError{UserID: u.ID, Reason: "user is not registered"}
	}
	return key, nil
}

func (svc *Service) connected(ctx context.Context, u *users.User, s users.Service) error {
	if err := svc.users.SetConnected(ctx, u.ID, s, true); err != nil {
		return err
	}

	if err := svc.sink.TrackConnected(ctx, u, s); err != nil {
		log.WithFields(log.Fields{"userId": u.ID, "service": s.String(), "error": err}).Warn("Failed to track connection")
	}

	return nil
}

func (svc *Service) disconnected(ctx context.Context, u *users.User, s users.Service) error {
	if err := svc.users.SetConnected(ctx, u.ID, s, false); err != nil {
		return err
	}

	if err := svc.sink.TrackDisconnected(ctx, u, s); err != nil {
		log.WithFields(log.Fields{"userId": u.ID, "service": s.String(), "error": err}).Warn("Failed to track disconnection")
	}

	return nil
}
