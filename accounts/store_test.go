package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/flow-hydraulics/credential-vault/accounts"
	"github.com/flow-hydraulics/credential-vault/datastore"
	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/internal/test"
	"github.com/flow-hydraulics/credential-vault/keys"
	"github.com/flow-hydraulics/credential-vault/keys/encryption"
	"github.com/flow-hydraulics/credential-vault/keys/local"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newStore(t *testing.T) (*accounts.Store, *keys.Ref, datastore.Store) {
	t.Helper()

	cfg := test.LoadConfig(t)
	db := datastore.NewGormStore(test.GetDatabase(t, cfg))

	kms, err := local.NewKMS([]byte(cfg.EncryptionKey))
	if err != nil {
		t.Fatal(err)
	}

	c := &clock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	key := &keys.Ref{Project: "p", Location: "global", KeyRing: "r", KeyID: "user-key"}

	return accounts.NewStore(db, encryption.NewKMSCodec(kms), accounts.WithClock(c.now)), key, db
}

func token(access string) *oauth2.Token {
	return &oauth2.Token{AccessToken: access, RefreshToken: "refresh-" + access, TokenType: "Bearer"}
}

func countDefaults(doc *accounts.GoogleDocument) int {
	n := 0
	for _, a := range doc.Accounts {
		if a.IsDefault {
			n++
		}
	}
	return n
}

func TestMergeDefaultUniqueness(t *testing.T) {
	ctx := context.Background()
	store, key, _ := newStore(t)

	emails := []string{"a@x.com", "b@x.com", "c@x.com", "a@x.com", "d@x.com"}
	for i, email := range emails {
		a, err := store.Merge(ctx, "u1", key, "https://x/cb", accounts.AccountInfo{Email: email}, token(email))
		if err != nil {
			t.Fatal(err)
		}
		if email == "a@x.com" && !a.IsDefault {
			t.Fatalf("merge %d: first account should stay default", i)
		}

		doc, err := store.Document(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if n := countDefaults(doc); n != 1 {
			t.Fatalf("merge %d: expected exactly one default, got %d", i, n)
		}
	}

	got, err := store.ListAccountEmails(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"}, got); diff != "" {
		t.Fatalf("unexpected emails (-want +got):\n%s", diff)
	}
}

func TestMergeUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	store, key, _ := newStore(t)

	info := accounts.AccountInfo{Email: "a@x.com", Name: "A", Picture: "https://x/a.png"}
	if _, err := store.Merge(ctx, "u1", key, "", info, token("first")); err != nil {
		t.Fatal(err)
	}

	before, err := store.Document(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	changed := accounts.AccountInfo{Email: "a@x.com", Name: "Other", Picture: "https://x/other.png"}
	if _, err := store.Merge(ctx, "u1", key, "", changed, token("second")); err != nil {
		t.Fatal(err)
	}

	after, err := store.Document(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	if len(after.Accounts) != 1 {
		t.Fatalf("expected one account, got %d", len(after.Accounts))
	}

	b, a := before.Accounts["a@x.com"], after.Accounts["a@x.com"]
	if a.EncryptedToken == b.EncryptedToken {
		t.Fatal("expected the token to be replaced")
	}

	a.EncryptedToken = b.EncryptedToken
	if diff := cmp.Diff(b, a); diff != "" {
		t.Fatalf("fields other than the token changed (-before +after):\n%s", diff)
	}

	creds, err := store.DefaultCredentials(ctx, "u1", key)
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "second" || creds.RefreshToken != "refresh-second" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestDefaultCredentialsAbsence(t *testing.T) {
	ctx := context.Background()
	store, key, db := newStore(t)

	creds, err := store.DefaultCredentials(ctx, "nobody", key)
	if err != nil {
		t.Fatal(err)
	}
	if creds != nil {
		t.Fatalf("expected no credentials, got %+v", creds)
	}

	// Present but empty document
	if err := db.Set(ctx, "google_tokens", "empty", accounts.GoogleDocument{UserID: "empty"}); err != nil {
		t.Fatal(err)
	}
	creds, err = store.DefaultCredentials(ctx, "empty", key)
	if err != nil || creds != nil {
		t.Fatalf("expected no credentials, got %+v, %v", creds, err)
	}

	emails, err := store.ListAccountEmails(ctx, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if len(emails) != 0 {
		t.Fatalf("expected no emails, got %v", emails)
	}
}

func TestDefaultCredentialsMalformed(t *testing.T) {
	ctx := context.Background()
	store, key, db := newStore(t)

	doc := accounts.GoogleDocument{
		UserID: "u1",
		Accounts: map[string]*accounts.GoogleAccount{
			"a@x.com": {Email: "a@x.com", EncryptedToken: "###", IsDefault: true},
		},
	}
	if err := db.Set(ctx, "google_tokens", "u1", doc); err != nil {
		t.Fatal(err)
	}

	_, err := store.DefaultCredentials(ctx, "u1", key)
	if !vaulterrors.IsEncoding(err) {
		t.Fatalf("expected encoding error, got %v", err)
	}
}

func TestRemoveAccountReelectsDefault(t *testing.T) {
	ctx := context.Background()
	store, key, _ := newStore(t)

	for _, email := range []string{"a@x.com", "c@x.com", "b@x.com"} {
		if _, err := store.Merge(ctx, "u1", key, "", accounts.AccountInfo{Email: email}, token(email)); err != nil {
			t.Fatal(err)
		}
	}

	removed, remaining, err := store.RemoveAccount(ctx, "u1", "nope@x.com")
	if err != nil || removed || remaining != 3 {
		t.Fatalf("unexpected result %v %d %v", removed, remaining, err)
	}

	removed, remaining, err = store.RemoveAccount(ctx, "u1", "a@x.com")
	if err != nil || !removed || remaining != 2 {
		t.Fatalf("unexpected result %v %d %v", removed, remaining, err)
	}

	doc, err := store.Document(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	// c@x.com was connected before b@x.com
	if !doc.Accounts["c@x.com"].IsDefault || countDefaults(doc) != 1 {
		t.Fatalf("expected c@x.com to become default, got %+v", doc.Accounts)
	}

	creds, err := store.DefaultCredentials(ctx, "u1", key)
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "c@x.com" {
		t.Fatalf("unexpected default credentials %+v", creds)
	}

	for _, email := range []string{"c@x.com", "b@x.com"} {
		if _, _, err := store.RemoveAccount(ctx, "u1", email); err != nil {
			t.Fatal(err)
		}
	}

	creds, err = store.DefaultCredentials(ctx, "u1", key)
	if err != nil || creds != nil {
		t.Fatalf("expected no credentials, got %+v, %v", creds, err)
	}
}

func TestMergeRequiresEmail(t *testing.T) {
	store, key, _ := newStore(t)
	if _, err := store.Merge(context.Background(), "u1", key, "", accounts.AccountInfo{}, token("x")); err != accounts.ErrMissingEmail {
		t.Fatalf("expected ErrMissingEmail, got %v", err)
	}
}
