// Package keys provides per-user key provisioning in a key management service.
package keys

import (
	"context"
	"fmt"
)

// Ref identifies a symmetric key held by a key management service.
type Ref struct {
	Project  string `json:"project"`
	Location string `json:"location"`
	KeyRing  string `json:"keyRing"`
	KeyID    string `json:"keyId"`
}

// KeyRingName returns the resource name of the key ring holding the key.
func (r Ref) KeyRingName() string {
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s", r.Project, r.Location, r.KeyRing)
}

// ResourceName returns the full resource name of the key.
func (r Ref) ResourceName() string {
	return fmt.Sprintf("%s/cryptoKeys/%s", r.KeyRingName(), r.KeyID)
}

func (r Ref) String() string {
	return r.ResourceName()
}

// KMS is the key management service the vault encrypts with.
// Implementations return *errors.KeyManagementError on failure.
type KMS interface {
	// CreateKeyHSM creates a new HSM protected symmetric key.
	CreateKeyHSM(ctx context.Context, ref Ref) error
	EncryptSymmetric(ctx context.Context, ref Ref, plaintext []byte) ([]byte, error)
	DecryptSymmetric(ctx context.Context, ref Ref, ciphertext []byte) ([]byte, error)
}
