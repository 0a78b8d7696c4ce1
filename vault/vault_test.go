package vault_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flow-hydraulics/credential-vault/accounts"
	"github.com/flow-hydraulics/credential-vault/analytics"
	"github.com/flow-hydraulics/credential-vault/configs"
	"github.com/flow-hydraulics/credential-vault/connections"
	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/internal/test"
	"github.com/flow-hydraulics/credential-vault/users"
	"github.com/flow-hydraulics/credential-vault/vault"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

func register(t *testing.T, v *test.Vault, id string, registered bool) {
	t.Helper()
	if err := v.Users.Register(context.Background(), &users.User{ID: id, Email: id + "@x.com", IsRegistered: registered}); err != nil {
		t.Fatal(err)
	}
}

func getUser(t *testing.T, v *test.Vault, id string) *users.User {
	t.Helper()
	u, err := v.Users.User(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func connectGoogle(t *testing.T, v *test.Vault, userID, email, access string) *accounts.GoogleAccount {
	t.Helper()
	ctx := context.Background()

	state, err := v.BeginGoogleConnection(ctx, userID, "https://x/cb")
	if err != nil {
		t.Fatal(err)
	}

	v.Clock.Advance(time.Minute)

	a, err := v.CompleteGoogleConnection(ctx, state, &oauth2.Token{AccessToken: access, RefreshToken: "r-" + access}, accounts.AccountInfo{Email: email})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestGoogleConnections(t *testing.T) {
	ctx := context.Background()
	v := test.GetVault(t, test.LoadConfig(t))
	register(t, v, "userA", true)

	// Scenario 6: nothing connected yet
	creds, err := v.GetDefaultGoogleCredentials(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	if creds != nil {
		t.Fatalf("expected no credentials, got %+v", creds)
	}

	// Scenario 1: first account becomes default
	a := connectGoogle(t, v, "userA", "a@x.com", "token1")
	if !a.IsDefault {
		t.Fatal("expected first account to be default")
	}

	u := getUser(t, v, "userA")
	if !u.ConnectedToGoogle {
		t.Fatal("expected user to be connected to google")
	}
	if u.KMSKeyID == "" {
		t.Fatal("expected a key to be provisioned")
	}
	keyID := u.KMSKeyID

	// Scenario 2: second account is not default
	b := connectGoogle(t, v, "userA", "b@x.com", "token2")
	if b.IsDefault {
		t.Fatal("expected second account not to be default")
	}

	// Scenario 3: reconnecting replaces the token only
	before, err := v.Accounts.Document(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	a3 := connectGoogle(t, v, "userA", "a@x.com", "token3")
	after, err := v.Accounts.Document(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	if len(after.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(after.Accounts))
	}
	if !a3.IsDefault || a3.EncryptedToken == before.Accounts["a@x.com"].EncryptedToken {
		t.Fatalf("unexpected account after reconnect: %+v", a3)
	}

	creds, err = v.GetDefaultGoogleCredentials(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "token3" {
		t.Fatalf("expected token3, got %q", creds.AccessToken)
	}

	// The key is created once
	if u := getUser(t, v, "userA"); u.KMSKeyID != keyID {
		t.Fatalf("key changed from %s to %s", keyID, u.KMSKeyID)
	}

	emails, err := v.ListGoogleAccountEmails(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a@x.com", "b@x.com"}, emails); diff != "" {
		t.Fatalf("unexpected emails (-want +got):\n%s", diff)
	}

	if len(v.Sink.Events) != 3 {
		t.Fatalf("expected 3 analytics events, got %d", len(v.Sink.Events))
	}
}

func TestGoogleStateExpiry(t *testing.T) {
	ctx := context.Background()
	v := test.GetVault(t, test.LoadConfig(t))
	register(t, v, "userA", true)

	state, err := v.BeginGoogleConnection(ctx, "userA", "https://x/cb")
	if err != nil {
		t.Fatal(err)
	}

	// Scenario 4
	v.Clock.Advance(11 * time.Minute)

	_, err = v.CompleteGoogleConnection(ctx, state, &oauth2.Token{AccessToken: "t"}, accounts.AccountInfo{Email: "a@x.com"})
	if !vaulterrors.IsInvalidState(err) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	if u := getUser(t, v, "userA"); u.ConnectedToGoogle || u.KMSKeyID != "" {
		t.Fatal("expected no side effects of a failed connection")
	}
}

func TestGoogleStateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	v := test.GetVault(t, test.LoadConfig(t))
	register(t, v, "userA", true)

	state, err := v.BeginGoogleConnection(ctx, "userA", "https://x/cb")
	if err != nil {
		t.Fatal(err)
	}

	token := &oauth2.Token{AccessToken: "t"}
	if _, err := v.CompleteGoogleConnection(ctx, state, token, accounts.AccountInfo{Email: "a@x.com"}); err != nil {
		t.Fatal(err)
	}

	_, err = v.CompleteGoogleConnection(ctx, state, token, accounts.AccountInfo{Email: "a@x.com"})
	if !vaulterrors.IsInvalidState(err) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestRemoveGoogleAccount(t *testing.T) {
	ctx := context.Background()
	v := test.GetVault(t, test.LoadConfig(t))
	register(t, v, "userA", true)

	connectGoogle(t, v, "userA", "a@x.com", "token1")
	connectGoogle(t, v, "userA", "b@x.com", "token2")

	removed, err := v.RemoveGoogleAccount(ctx, "userA", "a@x.com")
	if err != nil || !removed {
		t.Fatalf("unexpected result %v, %v", removed, err)
	}

	creds, err := v.GetDefaultGoogleCredentials(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "token2" {
		t.Fatalf("expected b@x.com to become default, got %q", creds.AccessToken)
	}
	if !getUser(t, v, "userA").ConnectedToGoogle {
		t.Fatal("expected user to stay connected")
	}

	if _, err := v.RemoveGoogleAccount(ctx, "userA", "b@x.com"); err != nil {
		t.Fatal(err)
	}
	if getUser(t, v, "userA").ConnectedToGoogle {
		t.Fatal("expected user to be disconnected")
	}

	last := v.Sink.Events[len(v.Sink.Events)-1]
	if last.Event != analytics.EventDisconnected || last.Service != users.Google {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestPlaidConnections(t *testing.T) {
	ctx := context.Background()
	v := test.GetVault(t, test.LoadConfig(t))
	register(t, v, "userA", true)

	if _, err := v.AddPlaidConnection(ctx, "userA", nil, "access-a", "item-a", "Bank A"); !vaulterrors.IsInvalidRequest(err) {
		t.Fatalf("expected invalid request, got %v", err)
	}

	if _, err := v.BeginPlaidConnection(ctx, "userA", "https://x/cb"); err != nil {
		t.Fatal(err)
	}

	// Scenario 5
	sub := []connections.SubAccount{{Name: "Checking", Mask: "0000"}}
	bankA, err := v.AddPlaidConnection(ctx, "userA", sub, "access-a", "item-a", "Bank A")
	if err != nil {
		t.Fatal(err)
	}
	bankB, err := v.AddPlaidConnection(ctx, "userA", nil, "access-b", "item-b", "Bank B")
	if err != nil {
		t.Fatal(err)
	}
	if !getUser(t, v, "userA").ConnectedToPlaid {
		t.Fatal("expected user to be connected to plaid")
	}

	creds, err := v.PlaidCredentials(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 2 || creds[0].AuthToken != "access-a" || creds[1].ItemID != "item-b" {
		t.Fatalf("unexpected credentials %+v", creds)
	}

	deleted, err := v.DeletePlaidAccount(ctx, "userA", bankA.ID)
	if err != nil || !deleted {
		t.Fatalf("unexpected result %v, %v", deleted, err)
	}

	list, err := v.ListPlaidAccounts(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != bankB.ID {
		t.Fatalf("expected only bank B, got %+v", list)
	}
	if !getUser(t, v, "userA").ConnectedToPlaid {
		t.Fatal("expected user to stay connected")
	}

	deleted, err = v.DeletePlaidAccount(ctx, "userA", bankB.ID)
	if err != nil || !deleted {
		t.Fatalf("unexpected result %v, %v", deleted, err)
	}

	list, err = v.ListPlaidAccounts(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no accounts, got %+v", list)
	}
	if getUser(t, v, "userA").ConnectedToPlaid {
		t.Fatal("expected user to be disconnected")
	}

	deleted, err = v.DeletePlaidAccount(ctx, "userA", "missing")
	if err != nil || deleted {
		t.Fatalf("unexpected result %v, %v", deleted, err)
	}
}

func TestResetPlaidAccounts(t *testing.T) {
	ctx := context.Background()
	v := test.GetVault(t, test.LoadConfig(t))
	register(t, v, "userA", true)

	if _, err := v.BeginPlaidConnection(ctx, "userA", "https://x/cb"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.AddPlaidConnection(ctx, "userA", nil, "access-a", "item-a", "Bank A"); err != nil {
		t.Fatal(err)
	}

	existed, err := v.ResetPlaidAccounts(ctx, "userA")
	if err != nil || !existed {
		t.Fatalf("unexpected result %v, %v", existed, err)
	}
	if getUser(t, v, "userA").ConnectedToPlaid {
		t.Fatal("expected user to be disconnected")
	}

	existed, err = v.ResetPlaidAccounts(ctx, "userA")
	if err != nil || existed {
		t.Fatalf("unexpected result %v, %v", existed, err)
	}
}

func TestInvalidUsers(t *testing.T) {
	ctx := context.Background()
	v := test.GetVault(t, test.LoadConfig(t))
	register(t, v, "guest", false)

	if _, err := v.BeginGoogleConnection(ctx, "nobody", "https://x/cb"); !vaulterrors.IsInvalidUser(err) {
		t.Fatalf("expected invalid user, got %v", err)
	}

	// Unregistered users have no key and cannot store secrets
	state, err := v.BeginGoogleConnection(ctx, "guest", "https://x/cb")
	if err != nil {
		t.Fatal(err)
	}
	_, err = v.CompleteGoogleConnection(ctx, state, &oauth2.Token{AccessToken: "t"}, accounts.AccountInfo{Email: "g@x.com"})
	if !vaulterrors.IsInvalidUser(err) {
		t.Fatalf("expected invalid user, got %v", err)
	}

	// A failed completion still used up the state
	_, err = v.CompleteGoogleConnection(ctx, state, &oauth2.Token{AccessToken: "t"}, accounts.AccountInfo{Email: "g@x.com"})
	if !vaulterrors.IsInvalidState(err) {
		t.Fatalf("expected invalid state on retry, got %v", err)
	}

	if _, err := v.BeginPlaidConnection(ctx, "guest", "https://x/cb"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.AddPlaidConnection(ctx, "guest", nil, "a", "i", "Bank"); !vaulterrors.IsInvalidUser(err) {
		t.Fatalf("expected invalid user, got %v", err)
	}
}

func TestLocalMode(t *testing.T) {
	ctx := context.Background()
	cfg := test.LoadConfig(t)
	cfg.DeploymentMode = configs.DeploymentModeLocal

	v := test.GetVault(t, cfg)
	register(t, v, "userA", false)

	connectGoogle(t, v, "userA", "a@x.com", "token1")

	creds, err := v.GetDefaultGoogleCredentials(ctx, "userA")
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "token1" {
		t.Fatalf("unexpected credentials %+v", creds)
	}

	if u := getUser(t, v, "userA"); u.KMSKeyID != "" {
		t.Fatal("expected no key in local mode")
	}
}

func TestAnalyticsFailureDoesNotFailOperation(t *testing.T) {
	v := test.GetVault(t, test.LoadConfig(t))
	v.Sink.Err = errors.New("sink down")
	register(t, v, "userA", true)

	connectGoogle(t, v, "userA", "a@x.com", "token1")

	if !getUser(t, v, "userA").ConnectedToGoogle {
		t.Fatal("expected user to be connected")
	}
}

func TestGoogleAuthURLRequiresProvider(t *testing.T) {
	v := test.GetVault(t, test.LoadConfig(t))
	register(t, v, "userA", true)

	if _, err := v.GoogleAuthURL(context.Background(), "userA", "https://x/cb"); !errors.Is(err, vault.ErrNoGoogleProvider) {
		t.Fatalf("expected ErrNoGoogleProvider, got %v", err)
	}
}
