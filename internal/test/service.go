package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flow-hydraulics/credential-vault/accounts"
	"github.com/flow-hydraulics/credential-vault/analytics"
	"github.com/flow-hydraulics/credential-vault/configs"
	"github.com/flow-hydraulics/credential-vault/connections"
	"github.com/flow-hydraulics/credential-vault/datastore"
	"github.com/flow-hydraulics/credential-vault/keys"
	"github.com/flow-hydraulics/credential-vault/keys/basic"
	"github.com/flow-hydraulics/credential-vault/keys/encryption"
	"github.com/flow-hydraulics/credential-vault/oauthstate"
	"github.com/flow-hydraulics/credential-vault/users"
	"github.com/flow-hydraulics/credential-vault/vault"
	"go.uber.org/goleak"
	"go.uber.org/ratelimit"
	"golang.org/x/oauth2"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// RecordedEvent is an analytics event captured by RecordingSink.
type RecordedEvent struct {
	Event   string
	UserID  string
	Service users.Service
}

// RecordingSink keeps every tracked event in memory.
type RecordingSink struct {
	mu     sync.Mutex
	Events []RecordedEvent
	Err    error
}

func (s *RecordingSink) TrackConnected(ctx context.Context, u *users.User, svc users.Service) error {
	return s.record(analytics.EventConnected, u, svc)
}

func (s *RecordingSink) TrackDisconnected(ctx context.Context, u *users.User, svc users.Service) error {
	return s.record(analytics.EventDisconnected, u, svc)
}

func (s *RecordingSink) record(event string, u *users.User, svc users.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, RecordedEvent{Event: event, UserID: u.ID, Service: svc})
	return s.Err
}

type stateProvider struct{}

func (stateProvider) NewState() string {
	return oauth2.GenerateVerifier()
}

func (stateProvider) AuthCodeURL(state, redirectURI string) string {
	return redirectURI + "?state=" + state
}

// Vault is a fully wired vault backed by sqlite and the in-process KMS.
type Vault struct {
	*vault.Service

	Users    *users.GormStore
	Store    datastore.Store
	Accounts *accounts.Store
	Sink     *RecordingSink
	Clock    *Clock
}

func GetVault(t *testing.T, cfg *configs.Config) *Vault {
	t.Helper()

	t.Cleanup(func() {
		goleak.VerifyNone(t,
			goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		)
	})

	ctx := context.Background()
	db := GetDatabase(t, cfg)
	clock := NewClock()
	sink := &RecordingSink{}

	kms, closeKMS, err := basic.NewKMS(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(closeKMS)

	codec := encryption.NewCodec(cfg.IsLocal(), kms, encryption.WithRateLimiter(ratelimit.NewUnlimited()))

	userStore := users.NewGormStore(db)
	store := datastore.NewGormStore(db)
	acc := accounts.NewStore(store, codec, accounts.WithClock(clock.Now))
	conns := connections.NewStore(store, codec, connections.WithClock(clock.Now))
	ledger := oauthstate.NewLedger(
		oauthstate.NewDocumentStore(store),
		stateProvider{},
		cfg.OAuthStateTTL,
		oauthstate.WithClock(clock.Now),
	)

	svc := vault.NewService(
		userStore,
		keys.NewProvisioner(cfg, kms, userStore),
		ledger,
		acc,
		conns,
		vault.WithAnalytics(sink),
	)

	return &Vault{
		Service:  svc,
		Users:    userStore,
		Store:    store,
		Accounts: acc,
		Sink:     sink,
		Clock:    clock,
	}
}
