package keys

import (
	"context"
	"fmt"
	"time"

	"github.com/flow-hydraulics/credential-vault/configs"
	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/users"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// UserKeyStore persists the key id of a user.
type UserKeyStore interface {
	User(ctx context.Context, id string) (*users.User, error)
	// SetKeyID records keyID unless the user already has a key and reports
	// whether it did.
	SetKeyID(ctx context.Context, userID, keyID string) (bool, error)
}

// Provisioner makes sure every registered user owns exactly one key.
type Provisioner struct {
	kms      KMS
	store    UserKeyStore
	local    bool
	project  string
	location string
	keyRing  string
	newKeyID func() string
}

type ProvisionerOption func(*Provisioner)

// WithKeyIDGenerator overrides how new key ids are generated.
func WithKeyIDGenerator(fn func() string) ProvisionerOption {
	return func(p *Provisioner) {
		p.newKeyID = fn
	}
}

func NewProvisioner(cfg *configs.Config, kms KMS, store UserKeyStore, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		kms:      kms,
		store:    store,
		local:    cfg.IsLocal(),
		project:  cfg.KMSProjectID,
		location: cfg.KMSLocationID,
		keyRing:  cfg.KMSKeyRingID,
		newKeyID: func() string {
			return fmt.Sprintf("vault-user-key-%s", uuid.New().String())
		},
	}

	if p.location == "" {
		p.location = "global"
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Local reports whether secrets are stored without a key.
func (p *Provisioner) Local() bool {
	return p.local
}

// Ref returns the key reference of the user without creating one.
// It returns nil in local mode and for users without a key.
func (p *Provisioner) Ref(u *users.User) *Ref {
	if p.local || u.KMSKeyID == "" {
		return nil
	}
	return p.ref(u.KMSKeyID)
}

// EnsureKey returns the key of the user, creating it on first use.
// Local mode and unregistered users never get a key and yield nil.
func (p *Provisioner) EnsureKey(ctx context.Context, u *users.User) (*Ref, error) {
	if p.local || !u.IsRegistered {
		return nil, nil
	}

	if u.KMSKeyID != "" {
		return p.ref(u.KMSKeyID), nil
	}

	ref := p.ref(p.newKeyID())

	start := time.Now()
	if err := p.kms.CreateKeyHSM(ctx, *ref); err != nil {
		if vaulterrors.IsKeyManagement(err) {
			return nil, err
		}
		return nil, &vaulterrors.KeyManagementError{Op: "create", Key: ref.ResourceName(), Err: err}
	}

	// Only record the key once it exists
	recorded, err := p.store.SetKeyID(ctx, u.ID, ref.KeyID)
	if err != nil {
		return nil, err
	}
	if !recorded {
		return p.storedRef(ctx, u, ref)
	}
	u.KMSKeyID = ref.KeyID

	log.
		WithFields(log.Fields{"userId": u.ID, "key": ref.ResourceName(), "took": time.Since(start)}).
		Info("Created user encryption key")

	return ref, nil
}

// storedRef adopts the key another request recorded for u first. The key
// created by this request is left unused.
func (p *Provisioner) storedRef(ctx context.Context, u *users.User, orphan *Ref) (*Ref, error) {
	stored, err := p.store.User(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if stored.KMSKeyID == "" {
		return nil, fmt.Errorf("key of user %s was not recorded", u.ID)
	}

	log.
		WithFields(log.Fields{"userId": u.ID, "key": orphan.ResourceName(), "stored": stored.KMSKeyID}).
		Warn("User key was created concurrently, leaving orphaned key unused")

	u.KMSKeyID = stored.KMSKeyID
	return p.ref(stored.KMSKeyID), nil
}

func (p *Provisioner) ref(keyID string) *Ref {
	return &Ref{
		Project:  p.project,
		Location: p.location,
		KeyRing:  p.keyRing,
		KeyID:    keyID,
	}
}
