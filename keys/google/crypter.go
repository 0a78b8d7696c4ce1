// Package google implements the vault KMS on Google Cloud KMS.
package google

import (
	"context"
	"fmt"
	"hash/crc32"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/flow-hydraulics/credential-vault/keys"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// KMS talks to Google Cloud KMS through a single long-lived client.
type KMS struct {
	client      *kms.KeyManagementClient
	waitTimeout time.Duration
}

var _ keys.KMS = (*KMS)(nil)

func NewKMS(ctx context.Context, waitTimeout time.Duration) (*KMS, error) {
	c, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create kms client: %w", err)
	}
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Minute
	}
	return &KMS{client: c, waitTimeout: waitTimeout}, nil
}

// Close releases the client connection to avoid leaking goroutines.
func (k *KMS) Close() error {
	return k.client.Close()
}

// EncryptSymmetric encrypts plaintext with the given key, verifying
// CRC32C checksums in both directions.
func (k *KMS) EncryptSymmetric(ctx context.Context, ref keys.Ref, plaintext []byte) ([]byte, error) {
	name := ref.ResourceName()

	result, err := k.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:            name,
		Plaintext:       plaintext,
		PlaintextCrc32C: wrapperspb.Int64(int64(crc32c(plaintext))),
	})
	if err != nil {
		return nil, classify("encrypt", name, err)
	}

	// https://cloud.google.com/kms/docs/data-integrity-guidelines
	if !result.VerifiedPlaintextCrc32C {
		return nil, classify("encrypt", name, fmt.Errorf("request corrupted in-transit"))
	}
	if int64(crc32c(result.Ciphertext)) != result.CiphertextCrc32C.GetValue() {
		return nil, classify("encrypt", name, fmt.Errorf("response corrupted in-transit"))
	}

	return result.Ciphertext, nil
}

func (k *KMS) DecryptSymmetric(ctx context.Context, ref keys.Ref, ciphertext []byte) ([]byte, error) {
	name := ref.ResourceName()

	result, err := k.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:             name,
		Ciphertext:       ciphertext,
		CiphertextCrc32C: wrapperspb.Int64(int64(crc32c(ciphertext))),
	})
	if err != nil {
		return nil, classify("decrypt", name, err)
	}

	if int64(crc32c(result.Plaintext)) != result.PlaintextCrc32C.GetValue() {
		return nil, classify("decrypt", name, fmt.Errorf("response corrupted in-transit"))
	}

	return result.Plaintext, nil
}

func crc32c(data []byte) uint32 {
	t := crc32.MakeTable(crc32.Castagnoli)
	return crc32.Checksum(data, t)
}
