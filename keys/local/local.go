// Package local implements an in-process key management service. Per-key
// material is derived from a single master key, so keys need no storage.
package local

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/keys"
	"github.com/flow-hydraulics/credential-vault/keys/encryption"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

const keySize = 32

type KMS struct {
	master []byte
}

var _ keys.KMS = (*KMS)(nil)

func NewKMS(masterKey []byte) (*KMS, error) {
	if len(masterKey) != keySize {
		return nil, fmt.Errorf("local kms requires a %d byte master key, got %d", keySize, len(masterKey))
	}
	log.Warn("Using the in-process KMS, user keys are derived from a single master key")
	return &KMS{master: masterKey}, nil
}

// CreateKeyHSM is a no-op since key material is derived on demand.
func (k *KMS) CreateKeyHSM(ctx context.Context, ref keys.Ref) error {
	return nil
}

func (k *KMS) EncryptSymmetric(ctx context.Context, ref keys.Ref, plaintext []byte) ([]byte, error) {
	c, err := k.crypter(ref)
	if err != nil {
		return nil, &vaulterrors.KeyManagementError{Op: "encrypt", Key: ref.ResourceName(), Err: err}
	}
	out, err := c.Encrypt(plaintext)
	if err != nil {
		return nil, &vaulterrors.KeyManagementError{Op: "encrypt", Key: ref.ResourceName(), Err: err}
	}
	return out, nil
}

func (k *KMS) DecryptSymmetric(ctx context.Context, ref keys.Ref, ciphertext []byte) ([]byte, error) {
	c, err := k.crypter(ref)
	if err != nil {
		return nil, &vaulterrors.KeyManagementError{Op: "decrypt", Key: ref.ResourceName(), Err: err}
	}
	out, err := c.Decrypt(ciphertext)
	if err != nil {
		return nil, &vaulterrors.KeyManagementError{Op: "decrypt", Key: ref.ResourceName(), Err: err}
	}
	return out, nil
}

func (k *KMS) crypter(ref keys.Ref) (encryption.Crypter, error) {
	derived := make([]byte, keySize)
	r := hkdf.New(sha256.New, k.master, nil, []byte(ref.ResourceName()))
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, err
	}
	return encryption.NewAESCrypter(derived)
}
